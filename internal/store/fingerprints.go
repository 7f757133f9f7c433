package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fingerprint is a persistent browser identity for a domain. Detection
// systems flag randomization as suspicious; a consistent identity per
// domain draws less attention than a fresh one on every visit.
type Fingerprint struct {
	ID             string `json:"fingerprint_id"`
	Domain         string `json:"domain"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	Platform       string `json:"platform"`
	Geo            string `json:"geo"`
	CreatedAt      string `json:"created_at"`
	LastUsedAt     string `json:"last_used_at"`
	UseCount       int    `json:"use_count"`
	BlockedCount   int    `json:"blocked_count"`
	SuccessCount   int    `json:"success_count"`
}

// BlockRate is the fraction of uses that ended blocked.
func (f *Fingerprint) BlockRate() float64 {
	total := f.SuccessCount + f.BlockedCount
	if total == 0 {
		return 0
	}
	return float64(f.BlockedCount) / float64(total)
}

// Rotation thresholds.
const (
	blockRateThreshold    = 0.3
	maxBlocksBeforeRotate = 5
	maxAgeDays            = 30
)

// Browser market share by region, used to weight identity selection.
var browserMarketShare = map[string]map[string]float64{
	"us": {"chrome": 0.65, "safari": 0.20, "edge": 0.10, "firefox": 0.05},
	"uk": {"chrome": 0.60, "safari": 0.25, "edge": 0.10, "firefox": 0.05},
	"de": {"chrome": 0.50, "firefox": 0.25, "safari": 0.15, "edge": 0.10},
	"fr": {"chrome": 0.55, "firefox": 0.20, "safari": 0.15, "edge": 0.10},
	"jp": {"chrome": 0.70, "safari": 0.15, "edge": 0.10, "firefox": 0.05},
	"au": {"chrome": 0.60, "safari": 0.25, "edge": 0.10, "firefox": 0.05},
	"br": {"chrome": 0.75, "edge": 0.15, "firefox": 0.07, "safari": 0.03},
	"in": {"chrome": 0.80, "edge": 0.10, "firefox": 0.07, "safari": 0.03},
}

var browserVersions = map[string][]string{
	"chrome":  {"141", "142", "143", "144"},
	"firefox": {"134", "135", "136"},
	"safari":  {"17", "18"},
	"edge":    {"139", "140", "141"},
}

var platformsByBrowser = map[string][]string{
	"chrome":  {"Win32", "Linux x86_64", "MacIntel"},
	"firefox": {"Win32", "Linux x86_64", "MacIntel"},
	"safari":  {"MacIntel"},
	"edge":    {"Win32"},
}

var acceptLanguageByGeo = map[string]string{
	"us": "en-US,en;q=0.9",
	"uk": "en-GB,en;q=0.9",
	"de": "de-DE,de;q=0.9,en;q=0.8",
	"fr": "fr-FR,fr;q=0.9,en;q=0.8",
	"jp": "ja-JP,ja;q=0.9,en;q=0.8",
	"au": "en-AU,en;q=0.9",
	"br": "pt-BR,pt;q=0.9,en;q=0.8",
	"in": "en-IN,en;q=0.9,hi;q=0.8",
}

// GetFingerprint returns the most recently used fingerprint for a domain,
// or nil when none exists.
func (s *Store) GetFingerprint(domain string) (*Fingerprint, error) {
	domain = NormalizeDomain(domain)
	row := s.conn.QueryRow(
		`SELECT fingerprint_id, domain, browser, browser_version, user_agent,
		        accept_language, platform, geo, created_at, last_used_at,
		        use_count, blocked_count, success_count
		 FROM fingerprints WHERE domain = ? ORDER BY last_used_at DESC LIMIT 1`,
		domain,
	)
	var f Fingerprint
	err := row.Scan(&f.ID, &f.Domain, &f.Browser, &f.BrowserVersion, &f.UserAgent,
		&f.AcceptLanguage, &f.Platform, &f.Geo, &f.CreatedAt, &f.LastUsedAt,
		&f.UseCount, &f.BlockedCount, &f.SuccessCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint for %s: %w", domain, err)
	}
	return &f, nil
}

// GetOrCreateFingerprint returns the domain's fingerprint, rotating it if
// it is stale or burned, or creating a fresh one.
func (s *Store) GetOrCreateFingerprint(domain, geo string) (*Fingerprint, error) {
	domain = NormalizeDomain(domain)
	if i := strings.Index(geo, "-"); i > 0 {
		geo = geo[:i]
	}

	existing, err := s.GetFingerprint(domain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.shouldRotate() {
			return s.RotateFingerprint(existing.ID)
		}
		return existing, nil
	}
	return s.createFingerprint(domain, geo)
}

// RecordFingerprintUsage bumps the success or blocked counter.
func (s *Store) RecordFingerprintUsage(id string, success bool) error {
	col := "blocked_count"
	if success {
		col = "success_count"
	}
	_, err := s.conn.Exec(
		`UPDATE fingerprints SET `+col+` = `+col+` + 1, use_count = use_count + 1,
		 last_used_at = ? WHERE fingerprint_id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("record fingerprint usage: %w", err)
	}
	return nil
}

// RotateFingerprint discards a burned fingerprint and creates a fresh
// identity for the same domain and geo.
func (s *Store) RotateFingerprint(id string) (*Fingerprint, error) {
	var domain, geo string
	err := s.conn.QueryRow(
		`SELECT domain, geo FROM fingerprints WHERE fingerprint_id = ?`, id,
	).Scan(&domain, &geo)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fingerprint %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate fingerprint: %w", err)
	}
	if _, err := s.conn.Exec(`DELETE FROM fingerprints WHERE fingerprint_id = ?`, id); err != nil {
		return nil, fmt.Errorf("rotate fingerprint: %w", err)
	}
	return s.createFingerprint(domain, geo)
}

// DeleteFingerprint removes a fingerprint row.
func (s *Store) DeleteFingerprint(id string) error {
	_, err := s.conn.Exec(`DELETE FROM fingerprints WHERE fingerprint_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

// CleanupFingerprints deletes fingerprints unused for maxAge days and
// returns how many were removed.
func (s *Store) CleanupFingerprints(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	res, err := s.conn.Exec(`DELETE FROM fingerprints WHERE last_used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup fingerprints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (f *Fingerprint) shouldRotate() bool {
	if created, err := time.Parse(time.RFC3339, f.CreatedAt); err == nil {
		if time.Since(created) > maxAgeDays*24*time.Hour {
			return true
		}
	}
	total := f.BlockedCount + f.SuccessCount
	if total >= 10 && f.BlockRate() > blockRateThreshold {
		return true
	}
	if f.BlockedCount >= maxBlocksBeforeRotate && f.SuccessCount == 0 {
		return true
	}
	return false
}

func (s *Store) createFingerprint(domain, geo string) (*Fingerprint, error) {
	browser := pickBrowser(geo)
	versions := browserVersions[browser]
	version := versions[rand.Intn(len(versions))]
	platforms := platformsByBrowser[browser]
	platform := platforms[rand.Intn(len(platforms))]

	lang, ok := acceptLanguageByGeo[geo]
	if !ok {
		lang = acceptLanguageByGeo["us"]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	f := &Fingerprint{
		ID:             uuid.NewString(),
		Domain:         domain,
		Browser:        browser,
		BrowserVersion: version,
		UserAgent:      userAgent(browser, version, platform),
		AcceptLanguage: lang,
		Platform:       platform,
		Geo:            geo,
		CreatedAt:      now,
		LastUsedAt:     now,
	}

	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO fingerprints
		 (fingerprint_id, domain, browser, browser_version, user_agent,
		  accept_language, platform, geo, created_at, last_used_at,
		  use_count, blocked_count, success_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		f.ID, f.Domain, f.Browser, f.BrowserVersion, f.UserAgent,
		f.AcceptLanguage, f.Platform, f.Geo, f.CreatedAt, f.LastUsedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert fingerprint: %w", err)
	}
	return f, nil
}

func pickBrowser(geo string) string {
	shares, ok := browserMarketShare[geo]
	if !ok {
		shares = browserMarketShare["us"]
	}
	r := rand.Float64()
	acc := 0.0
	// Iterate in a stable order so the cumulative walk is deterministic
	// for a given random draw.
	for _, b := range []string{"chrome", "safari", "edge", "firefox"} {
		acc += shares[b]
		if r < acc {
			return b
		}
	}
	return "chrome"
}

func userAgent(browser, version, platform string) string {
	switch browser {
	case "chrome":
		switch platform {
		case "Win32":
			return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", version)
		case "MacIntel":
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", version)
		default:
			return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", version)
		}
	case "firefox":
		switch platform {
		case "Win32":
			return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%s.0) Gecko/20100101 Firefox/%s.0", version, version)
		case "MacIntel":
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:%s.0) Gecko/20100101 Firefox/%s.0", version, version)
		default:
			return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64; rv:%s.0) Gecko/20100101 Firefox/%s.0", version, version)
		}
	case "safari":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s.0 Safari/605.1.15", version)
	case "edge":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36 Edg/%s.0.0.0", version, version)
	}
	return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", version)
}

// NormalizeDomain reduces a URL or host to a bare lowercase domain.
func NormalizeDomain(domainOrURL string) string {
	d := domainOrURL
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Host
		}
	}
	if i := strings.Index(d, ":"); i > 0 {
		d = d[:i]
	}
	d = strings.ToLower(d)
	return strings.TrimPrefix(d, "www.")
}
