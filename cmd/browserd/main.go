package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/browser"
	"github.com/joestump/browserd/internal/config"
	"github.com/joestump/browserd/internal/mcpserver"
	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/session"
	"github.com/joestump/browserd/internal/solver"
	"github.com/joestump/browserd/internal/store"
	"github.com/joestump/browserd/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "browserd",
		Short: "Browser session orchestration service for agents",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("port", 8377, "HTTP listen port")
	f.String("bind-host", "127.0.0.1", "HTTP bind address")
	f.String("auth-token", "", "bearer token required on API requests (empty disables auth)")
	f.String("profile-dir", defaultDir("profiles"), "root directory for saved profiles")
	f.String("state-dir", defaultDir("state"), "directory for the metadata database")
	f.Int("idle-ttl", 3600, "seconds before an idle session is reaped")
	f.Int("sweep-interval", 60, "seconds between idle sweeps")
	f.Int("max-response-bytes", 100000, "serialized response size cap")
	f.Int("max-tier", 3, "highest launchable stealth tier (1-3)")
	f.Bool("evaluate-enabled", false, "allow the evaluate action (arbitrary JS)")
	f.Bool("humanize", false, "humanize input timing by default")
	f.Bool("webmcp", false, "enable WebMCP tool discovery on pages")
	f.String("geo-profile", "us", "fingerprint locale (us/uk/de/fr/jp/au/br/in)")
	f.String("proxy-server", "", "proxy server URL")
	f.String("proxy-user", "", "proxy username")
	f.String("proxy-password", "", "proxy password")
	f.String("capsolver-api-key", "", "CapSolver API key")
	f.String("twocaptcha-api-key", "", "2Captcha API key")
	f.String("browser-bin", "", "Chromium binary path (empty autodetects)")
	f.Bool("headful", false, "run browsers with a visible window")
	f.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the BROWSERD_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("bind_host", "bind-host")
	bindFlag("auth_token", "auth-token")
	bindFlag("profile_dir", "profile-dir")
	bindFlag("state_dir", "state-dir")
	bindFlag("idle_ttl", "idle-ttl")
	bindFlag("sweep_interval", "sweep-interval")
	bindFlag("max_response_bytes", "max-response-bytes")
	bindFlag("max_tier", "max-tier")
	bindFlag("evaluate_enabled", "evaluate-enabled")
	bindFlag("humanize", "humanize")
	bindFlag("webmcp", "webmcp")
	bindFlag("geo_profile", "geo-profile")
	bindFlag("proxy_server", "proxy-server")
	bindFlag("proxy_user", "proxy-user")
	bindFlag("proxy_password", "proxy-password")
	bindFlag("capsolver_api_key", "capsolver-api-key")
	bindFlag("twocaptcha_api_key", "twocaptcha-api-key")
	bindFlag("browser_bin", "browser-bin")
	bindFlag("headful", "headful")
	bindFlag("mcp", "mcp")

	viper.SetEnvPrefix("BROWSERD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	mcpMode := viper.GetBool("mcp")

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	db, err := store.Open(filepath.Join(cfg.StateDir, "browserd.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	profiles, err := profile.NewStore(cfg.ProfileDir)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}

	tiers := map[int]session.Tier{}
	for _, tier := range browser.NewTiers(browser.Config{
		Headless:      !viper.GetBool("headful"),
		BrowserBin:    cfg.BrowserBin,
		ProxyServer:   cfg.ProxyServer,
		ProxyUser:     cfg.ProxyUser,
		ProxyPassword: cfg.ProxyPassword,
		Geo:           cfg.GeoProfile,
		WebMCP:        cfg.WebMCPEnabled,
		Fingerprints:  db,
	}) {
		if tier.Number() <= cfg.MaxTier {
			tiers[tier.Number()] = tier
		}
	}

	manager := session.NewManager(session.Options{
		Tiers:         tiers,
		Profiles:      profiles,
		DB:            db,
		IdleTTL:       time.Duration(cfg.IdleTTL) * time.Second,
		SweepInterval: time.Duration(cfg.SweepInterval) * time.Second,
		Humanize:      cfg.HumanizeDefault,
	})

	dispatch := actions.NewDispatcher(actions.DispatcherOptions{
		Manager:         manager,
		Solver:          solver.New(cfg.CapSolverKey, cfg.TwoCaptchaKey),
		EvaluateEnabled: cfg.EvaluateEnabled,
		WebMCPEnabled:   cfg.WebMCPEnabled,
	})

	if mcpMode {
		return mcpserver.NewServer(manager, dispatch).Run()
	}

	fmt.Printf("browserd %s starting\n", config.Version)
	fmt.Printf("  Listen: %s:%d\n", cfg.BindHost, cfg.Port)
	fmt.Printf("  Profiles: %s\n", cfg.ProfileDir)
	fmt.Printf("  State: %s\n", cfg.StateDir)
	fmt.Printf("  Max tier: %d\n", cfg.MaxTier)
	fmt.Printf("  Idle TTL: %ds\n", cfg.IdleTTL)
	fmt.Printf("  Evaluate: %t\n", cfg.EvaluateEnabled)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down...", sig)
		cancel()
	}()

	go manager.Run(ctx)

	srv := web.New(cfg, manager, dispatch, profiles)
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("web server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("web server shutdown: %v", err)
	}
	manager.Shutdown(shutdownCtx)

	return nil
}

func defaultDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "browserd", sub)
	}
	return filepath.Join(home, ".browserd", sub)
}
