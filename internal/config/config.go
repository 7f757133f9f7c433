package config

import "github.com/spf13/viper"

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for browserd.
type Config struct {
	Port             int
	BindHost         string
	AuthToken        string
	ProfileDir       string
	StateDir         string
	IdleTTL          int // seconds before an idle session is reaped
	SweepInterval    int // seconds between sweeper passes
	MaxResponseBytes int
	MaxTier          int

	EvaluateEnabled bool
	HumanizeDefault bool
	WebMCPEnabled   bool
	GeoProfile      string

	ProxyServer   string
	ProxyUser     string
	ProxyPassword string

	CapSolverKey  string
	TwoCaptchaKey string

	BrowserBin string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/browserd).
func Load() Config {
	return Config{
		Port:             viper.GetInt("port"),
		BindHost:         viper.GetString("bind_host"),
		AuthToken:        viper.GetString("auth_token"),
		ProfileDir:       viper.GetString("profile_dir"),
		StateDir:         viper.GetString("state_dir"),
		IdleTTL:          viper.GetInt("idle_ttl"),
		SweepInterval:    viper.GetInt("sweep_interval"),
		MaxResponseBytes: viper.GetInt("max_response_bytes"),
		MaxTier:          viper.GetInt("max_tier"),
		EvaluateEnabled:  viper.GetBool("evaluate_enabled"),
		HumanizeDefault:  viper.GetBool("humanize"),
		WebMCPEnabled:    viper.GetBool("webmcp"),
		GeoProfile:       viper.GetString("geo_profile"),
		ProxyServer:      viper.GetString("proxy_server"),
		ProxyUser:        viper.GetString("proxy_user"),
		ProxyPassword:    viper.GetString("proxy_password"),
		CapSolverKey:     viper.GetString("capsolver_api_key"),
		TwoCaptchaKey:    viper.GetString("twocaptcha_api_key"),
		BrowserBin:       viper.GetString("browser_bin"),
	}
}
