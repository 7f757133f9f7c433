// Package solver integrates CAPTCHA solving services. CapSolver is tried
// first (AI-based, usually under 10s), then 2Captcha (human workers,
// slower but broadest coverage). The sitekey is extracted from the page,
// sent to the service, and the returned token is injected back.
//
// Supported: reCAPTCHA v2/v3, hCaptcha, Cloudflare Turnstile.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Evaluator is the slice of a page the solver needs: run JS and report the
// current URL.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	URL() string
}

// Result reports the outcome of a solve attempt.
type Result struct {
	Success     bool    `json:"success"`
	CaptchaType string  `json:"captcha_type,omitempty"`
	Solver      string  `json:"solver,omitempty"`
	SolveTimeS  float64 `json:"solve_time_s,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Solver holds API credentials and tunables. Zero keys disable the
// corresponding backend.
type Solver struct {
	CapSolverKey  string
	TwoCaptchaKey string

	// Overridable for tests.
	HTTPClient      *http.Client
	CapSolverURL    string
	TwoCaptchaURL   string
	PollInterval    time.Duration
	InitialWait     time.Duration
	MaxCapSolverTry int
	MaxTwoCaptchaTry int
}

// New returns a Solver with production endpoints and poll timings.
func New(capsolverKey, twocaptchaKey string) *Solver {
	return &Solver{
		CapSolverKey:     capsolverKey,
		TwoCaptchaKey:    twocaptchaKey,
		HTTPClient:       &http.Client{Timeout: 15 * time.Second},
		CapSolverURL:     "https://api.capsolver.com",
		TwoCaptchaURL:    "https://2captcha.com",
		PollInterval:     2 * time.Second,
		InitialWait:      10 * time.Second,
		MaxCapSolverTry:  60,
		MaxTwoCaptchaTry: 34,
	}
}

// Configured reports whether at least one backend has a key.
func (s *Solver) Configured() bool {
	return s.CapSolverKey != "" || s.TwoCaptchaKey != ""
}

// Solve detects and solves a CAPTCHA on the page. On success the token has
// already been injected and any widget callback fired.
func (s *Solver) Solve(ctx context.Context, page Evaluator) Result {
	start := time.Now()

	raw, err := page.Eval(ctx, extractSitekeyJS)
	if err != nil {
		return Result{Error: fmt.Sprintf("failed to extract CAPTCHA info: %v", err)}
	}
	var info struct {
		Type    string `json:"type"`
		Sitekey string `json:"sitekey"`
		Action  string `json:"action"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return Result{Error: fmt.Sprintf("bad CAPTCHA info: %v", err)}
	}
	if info.Type == "" || info.Sitekey == "" {
		return Result{Error: "no CAPTCHA detected on page (no sitekey found); page may use a non-standard challenge"}
	}

	pageURL := page.URL()
	token := ""
	solverUsed := ""

	if s.CapSolverKey != "" {
		token, err = s.solveCapSolver(ctx, info.Type, info.Sitekey, pageURL, info.Action)
		if err == nil && token != "" {
			solverUsed = "capsolver"
		}
	}
	if token == "" && s.TwoCaptchaKey != "" {
		token, err = s.solveTwoCaptcha(ctx, info.Type, info.Sitekey, pageURL, info.Action)
		if err == nil && token != "" {
			solverUsed = "2captcha"
		}
	}

	if token == "" {
		if !s.Configured() {
			return Result{Error: "no CAPTCHA solver API keys configured; set BROWSERD_CAPSOLVER_API_KEY or BROWSERD_TWOCAPTCHA_API_KEY"}
		}
		var tried []string
		if s.CapSolverKey != "" {
			tried = append(tried, "capsolver")
		}
		if s.TwoCaptchaKey != "" {
			tried = append(tried, "2captcha")
		}
		key := info.Sitekey
		if len(key) > 16 {
			key = key[:16] + "..."
		}
		return Result{
			CaptchaType: info.Type,
			Error:       fmt.Sprintf("all solvers failed for %s (sitekey: %s), tried: %s", info.Type, key, strings.Join(tried, ", ")),
		}
	}

	if js, ok := injectTokenJS[info.Type]; ok {
		if _, err := page.Eval(ctx, js, token); err != nil {
			return Result{
				CaptchaType: info.Type,
				Solver:      solverUsed,
				Error:       fmt.Sprintf("token obtained but injection failed: %v", err),
			}
		}
	}

	return Result{
		Success:     true,
		CaptchaType: info.Type,
		Solver:      solverUsed,
		SolveTimeS:  float64(int(time.Since(start).Seconds()*10)) / 10,
	}
}

// capSolverTaskTypes maps captcha types to CapSolver proxyless task names.
var capSolverTaskTypes = map[string]string{
	"recaptcha_v2": "ReCaptchaV2TaskProxyLess",
	"recaptcha_v3": "ReCaptchaV3TaskProxyLess",
	"hcaptcha":     "HCaptchaTaskProxyLess",
	"turnstile":    "AntiTurnstileTaskProxyLess",
}

func (s *Solver) solveCapSolver(ctx context.Context, captchaType, sitekey, pageURL, action string) (string, error) {
	taskType, ok := capSolverTaskTypes[captchaType]
	if !ok {
		return "", fmt.Errorf("unsupported captcha type %q", captchaType)
	}

	task := map[string]any{
		"type":       taskType,
		"websiteURL": pageURL,
		"websiteKey": sitekey,
	}
	if captchaType == "recaptcha_v3" {
		if action == "" {
			action = "verify"
		}
		task["pageAction"] = action
		task["minScore"] = 0.7
	}

	var created struct {
		ErrorID  int    `json:"errorId"`
		TaskID   string `json:"taskId"`
		Status   string `json:"status"`
		Solution struct {
			GRecaptchaResponse string `json:"gRecaptchaResponse"`
			Token              string `json:"token"`
		} `json:"solution"`
	}
	err := s.postJSON(ctx, s.CapSolverURL+"/createTask",
		map[string]any{"clientKey": s.CapSolverKey, "task": task}, &created)
	if err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("capsolver createTask error %d", created.ErrorID)
	}
	if t := firstNonEmpty(created.Solution.GRecaptchaResponse, created.Solution.Token); t != "" {
		return t, nil
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("capsolver returned no task id")
	}

	for i := 0; i < s.MaxCapSolverTry; i++ {
		if err := sleepCtx(ctx, s.PollInterval); err != nil {
			return "", err
		}
		var res struct {
			ErrorID  int    `json:"errorId"`
			Status   string `json:"status"`
			Solution struct {
				GRecaptchaResponse string `json:"gRecaptchaResponse"`
				Token              string `json:"token"`
			} `json:"solution"`
		}
		err := s.postJSON(ctx, s.CapSolverURL+"/getTaskResult",
			map[string]any{"clientKey": s.CapSolverKey, "taskId": created.TaskID}, &res)
		if err != nil {
			return "", err
		}
		if res.Status == "ready" {
			return firstNonEmpty(res.Solution.GRecaptchaResponse, res.Solution.Token), nil
		}
		if res.Status == "failed" || res.ErrorID != 0 {
			return "", fmt.Errorf("capsolver task failed (error %d)", res.ErrorID)
		}
	}
	return "", fmt.Errorf("capsolver timed out after %d polls", s.MaxCapSolverTry)
}

func (s *Solver) solveTwoCaptcha(ctx context.Context, captchaType, sitekey, pageURL, action string) (string, error) {
	params := url.Values{}
	params.Set("key", s.TwoCaptchaKey)
	params.Set("json", "1")

	switch captchaType {
	case "recaptcha_v2", "recaptcha_v3":
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", sitekey)
		params.Set("pageurl", pageURL)
		if captchaType == "recaptcha_v3" {
			if action == "" {
				action = "verify"
			}
			params.Set("version", "v3")
			params.Set("action", action)
			params.Set("min_score", "0.7")
		}
	case "hcaptcha":
		params.Set("method", "hcaptcha")
		params.Set("sitekey", sitekey)
		params.Set("pageurl", pageURL)
	case "turnstile":
		params.Set("method", "turnstile")
		params.Set("sitekey", sitekey)
		params.Set("pageurl", pageURL)
	default:
		return "", fmt.Errorf("unsupported captcha type %q", captchaType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.TwoCaptchaURL+"/in.php", strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var submitted struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	if err := s.doJSON(req, &submitted); err != nil {
		return "", err
	}
	if submitted.Status != 1 || submitted.Request == "" {
		return "", fmt.Errorf("2captcha submit rejected: %s", submitted.Request)
	}

	// Workers need a head start before the first poll.
	if err := sleepCtx(ctx, s.InitialWait); err != nil {
		return "", err
	}
	for i := 0; i < s.MaxTwoCaptchaTry; i++ {
		if err := sleepCtx(ctx, s.PollInterval); err != nil {
			return "", err
		}
		pollURL := fmt.Sprintf("%s/res.php?key=%s&action=get&id=%s&json=1",
			s.TwoCaptchaURL, url.QueryEscape(s.TwoCaptchaKey), url.QueryEscape(submitted.Request))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", err
		}
		var res struct {
			Status  int    `json:"status"`
			Request string `json:"request"`
		}
		if err := s.doJSON(req, &res); err != nil {
			return "", err
		}
		if res.Status == 1 {
			return res.Request, nil
		}
		if res.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha error: %s", res.Request)
		}
	}
	return "", fmt.Errorf("2captcha timed out after %d polls", s.MaxTwoCaptchaTry)
}

func (s *Solver) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(req, out)
}

func (s *Solver) doJSON(req *http.Request, out any) error {
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", req.URL.Host, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
