// Package detect profiles site protection (Cloudflare, DataDome, Akamai,
// PerimeterX) from URL patterns, response headers, and HTML content, and
// recommends a minimum stealth tier. It also carries the quick block-page
// check run after every action.
package detect

import (
	"net/url"
	"regexp"
	"strings"
)

// SiteProfile describes a site's protection and the recommended approach.
type SiteProfile struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`

	Antibot           string  `json:"antibot,omitempty"`
	AntibotConfidence float64 `json:"antibot_confidence"`

	// Transport-layer (JA4T) fingerprinting.
	UsesJA4T       bool    `json:"uses_ja4t"`
	JA4TConfidence float64 `json:"ja4t_confidence"`

	HasStaticData     bool   `json:"has_static_data"`
	DetectedFramework string `json:"detected_framework,omitempty"`

	RecommendedTier int  `json:"recommended_tier"`
	NeedsProxy      bool `json:"needs_proxy"`
	NeedsSticky     bool `json:"needs_sticky"`

	DetectedVia    string `json:"detected_via,omitempty"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

type siteConfig struct {
	antibot       string
	tier          int
	proxy         bool
	sticky        bool
	ja4t          bool
	ja4tSuspected bool
}

// siteProfiles maps domain substrings to known protection configs. Order
// does not matter; the first matching pattern wins per lookup pass.
var siteProfiles = map[string]siteConfig{
	// E-commerce
	"amazon.":  {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
	"ebay.":    {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"walmart.": {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"target.":  {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"bestbuy.": {antibot: "akamai", tier: 3, proxy: true, ja4t: true},

	// Social media
	"linkedin.":  {antibot: "datadome", tier: 3, proxy: true, sticky: true, ja4t: true},
	"twitter.":   {antibot: "cloudflare", tier: 2, proxy: true},
	"x.com":      {antibot: "cloudflare", tier: 2, proxy: true},
	"facebook.":  {antibot: "custom", tier: 3, proxy: true, ja4t: true},
	"instagram.": {antibot: "custom", tier: 3, proxy: true, ja4t: true},

	// Tech and reviews
	"g2.com":      {antibot: "datadome", tier: 3, proxy: true, ja4t: true},
	"trustpilot.": {antibot: "cloudflare", tier: 2, proxy: true},
	"glassdoor.":  {antibot: "cloudflare", tier: 2, proxy: true},

	// Travel
	"booking.com": {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"airbnb.":     {antibot: "akamai", tier: 3, proxy: true, ja4t: true},
	"expedia.":    {antibot: "akamai", tier: 3, proxy: true, ja4t: true},

	// Real estate
	"zillow.":  {antibot: "perimeterx", tier: 3, proxy: true, ja4t: true},
	"redfin.":  {antibot: "cloudflare", tier: 2, proxy: true},
	"realtor.": {antibot: "akamai", tier: 3, proxy: true},

	// Job boards
	"indeed.":  {antibot: "cloudflare", tier: 2, proxy: true},
	"monster.": {antibot: "cloudflare", tier: 2, proxy: true},

	// News
	"nytimes.":   {antibot: "cloudflare", tier: 2},
	"wsj.":       {antibot: "akamai", tier: 2},
	"bloomberg.": {antibot: "cloudflare", tier: 2},

	// Google services
	"google.":  {antibot: "custom", tier: 2, proxy: true, ja4tSuspected: true},
	"youtube.": {antibot: "custom", tier: 2, proxy: true, ja4tSuspected: true},

	// Financial
	"paypal.":        {antibot: "custom", tier: 3, proxy: true, sticky: true, ja4t: true},
	"chase.":         {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
	"bankofamerica.": {antibot: "akamai", tier: 3, proxy: true, sticky: true, ja4t: true},
}

// ja4tSites are sites with confirmed or suspected transport fingerprinting.
var ja4tSites = map[string]float64{
	"linkedin.":   0.95,
	"amazon.":     0.90,
	"google.":     0.70,
	"facebook.":   0.85,
	"booking.com": 0.90,
	"zillow.":     0.85,
	"walmart.":    0.85,
}

// antibotHeaders maps response header name substrings to vendors.
var antibotHeaders = map[string]string{
	"cf-ray":              "cloudflare",
	"cf-cache-status":     "cloudflare",
	"x-datadome":          "datadome",
	"x-datadome-cid":      "datadome",
	"x-akamai-transformed": "akamai",
	"akamai-grn":          "akamai",
	"x-px-":               "perimeterx",
}

var antibotHTMLPatterns = map[string][]*regexp.Regexp{
	"cloudflare": compileAll(
		`cf-browser-verification`,
		`cdn-cgi/challenge-platform`,
		`__cf_chl_`,
		`Cloudflare Ray ID`,
		`Just a moment\.\.\.`,
	),
	"cloudflare_uam": compileAll(
		`Checking your browser before accessing`,
		`This process is automatic`,
		`Please Wait\.\.\. \| Cloudflare`,
	),
	"datadome": compileAll(
		`datadome\.co`,
		`dd\.js`,
		`window\.ddjskey`,
	),
	"akamai": compileAll(
		`_abck`,
		`bm_sz`,
		`ak_bmsc`,
	),
	"perimeterx": compileAll(
		`_px3`,
		`_pxff_`,
		`px-captcha`,
	),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Detect builds a SiteProfile from the URL, with optional HTML content and
// response headers for deeper inspection. Known-site patterns win over
// header and HTML signals.
func Detect(rawURL, html string, headers map[string]string) SiteProfile {
	domain := ""
	if u, err := url.Parse(rawURL); err == nil {
		domain = strings.ToLower(u.Host)
	}
	profile := SiteProfile{URL: rawURL, Domain: domain, RecommendedTier: 1}

	for pattern, cfg := range siteProfiles {
		if !strings.Contains(domain, pattern) {
			continue
		}
		profile.Antibot = cfg.antibot
		profile.RecommendedTier = cfg.tier
		profile.NeedsProxy = cfg.proxy
		profile.NeedsSticky = cfg.sticky
		profile.AntibotConfidence = 0.9
		profile.MatchedPattern = pattern
		if cfg.ja4t {
			profile.UsesJA4T = true
			profile.JA4TConfidence = 0.9
		} else if cfg.ja4tSuspected {
			profile.UsesJA4T = true
			profile.JA4TConfidence = 0.6
		}
		break
	}

	for pattern, confidence := range ja4tSites {
		if strings.Contains(domain, pattern) {
			profile.UsesJA4T = true
			if confidence > profile.JA4TConfidence {
				profile.JA4TConfidence = confidence
			}
			break
		}
	}

	if profile.Antibot == "" && len(headers) > 0 {
	headerScan:
		for header, vendor := range antibotHeaders {
			for name := range headers {
				if strings.Contains(strings.ToLower(name), header) {
					profile.Antibot = vendor
					profile.AntibotConfidence = 0.7
					profile.DetectedVia = "headers"
					break headerScan
				}
			}
		}
	}

	if profile.Antibot == "" && html != "" {
	htmlScan:
		for vendor, patterns := range antibotHTMLPatterns {
			for _, re := range patterns {
				if re.MatchString(html) {
					profile.Antibot = vendor
					profile.AntibotConfidence = 0.8
					profile.DetectedVia = "html"
					break htmlScan
				}
			}
		}
	}

	if html != "" {
		profile.HasStaticData = hasStaticData(html)
		profile.DetectedFramework = detectFramework(html)
	}

	switch profile.Antibot {
	case "":
	case "akamai", "datadome", "perimeterx", "cloudflare_uam":
		profile.RecommendedTier = 3
		profile.NeedsProxy = true
	case "cloudflare":
		profile.RecommendedTier = 2
		profile.NeedsProxy = true
	default:
		profile.RecommendedTier = 2
	}

	if profile.UsesJA4T && profile.JA4TConfidence > 0.5 {
		if profile.RecommendedTier < 2 {
			profile.RecommendedTier = 2
		}
		profile.NeedsProxy = true
	}

	return profile
}

// CheckBlocked inspects the page title, URL, and a small visible-text sample
// for block/challenge pages. It returns the protection type, or "" when the
// page looks fine. Run after every action; keep it cheap.
func CheckBlocked(title, pageURL, contentSample string) string {
	title = strings.ToLower(title)
	pageURL = strings.ToLower(pageURL)

	if strings.Contains(title, "just a moment") || strings.Contains(title, "attention required") {
		return "cloudflare"
	}
	if strings.Contains(title, "datadome") {
		return "datadome"
	}
	if strings.Contains(title, "access denied") || strings.Contains(pageURL, "px-captcha") {
		return "perimeterx"
	}
	for _, s := range []string{"access denied", "403 forbidden", "blocked"} {
		if strings.Contains(title, s) {
			return "generic"
		}
	}

	content := strings.ToLower(contentSample)
	if strings.Contains(content, "captcha") || strings.Contains(content, "verify you are human") {
		return "captcha"
	}
	return ""
}

// TrackerPatterns are request URL globs hijacked and aborted on stealth
// tiers. Blocking analytics and fingerprinting scripts reduces the signal
// surface available to detectors.
var TrackerPatterns = []string{
	"*/analytics.js",
	"*/gtag/js*",
	"*/ga.js",
	"*/fingerprint*.js",
	"*/fp.js",
	"*/tracking*.js",
	"*/pixel*.js",
	"*/beacon*.js",
	"*/collect*",
	"*/_vercel/insights/*",
	"*/clarity.js",
	"*/hotjar*.js",
	"*/hj-*.js",
	"*/fullstory*.js",
	"*/mouseflow*.js",
	"*cdn.segment.com/*",
	"*cdn.amplitude.com/*",
	"*cdn.mxpnl.com/*",
	"*sentry.io/*",
	"*browser-intake-datadoghq.com/*",
	"*google-analytics.com/*",
	"*googletagmanager.com/*",
	"*connect.facebook.net/*",
	"*googlesyndication.com/*",
	"*doubleclick.net/*",
}

func hasStaticData(html string) bool {
	for _, indicator := range []string{
		"__NEXT_DATA__",
		"__NUXT__",
		"application/ld+json",
		"__APOLLO_STATE__",
		"__INITIAL_STATE__",
		"__PRELOADED_STATE__",
	} {
		if strings.Contains(html, indicator) {
			return true
		}
	}
	return false
}

func detectFramework(html string) string {
	switch {
	case strings.Contains(html, "__NEXT_DATA__"):
		return "nextjs"
	case strings.Contains(html, "__NUXT__"):
		return "nuxt"
	case strings.Contains(html, "__remixContext"):
		return "remix"
	case strings.Contains(html, "__GATSBY"):
		return "gatsby"
	case strings.Contains(html, "ng-version"):
		return "angular"
	case strings.Contains(html, "data-reactroot"), strings.Contains(html, "data-react-"):
		return "react"
	}
	return ""
}
