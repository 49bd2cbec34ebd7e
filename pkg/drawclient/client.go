package drawclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Client struct {
	baseURL string
	http    *http.Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 40 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ---- Wire format ----

type timedOutResp struct {
	Reason           string `json:"reason,omitempty"`
	RecommendedRetry int64  `json:"recommended_retry_ms,omitempty"`
}

type drawResp struct {
	DrawResult
	timedOutResp
}

type confirmReq struct {
	WinnerID   string `json:"winner_id"`
	OperatorID string `json:"operator_id"`
}

type confirmResp struct {
	ConfirmResult
	timedOutResp
}

type pendingResp struct {
	DrawType string   `json:"draw_type"`
	Pending  []Winner `json:"pending"`
}

type forceReleaseReq struct {
	MaxHoldSeconds int64 `json:"max_hold_seconds"`
}

type forceReleaseResp struct {
	Released []string `json:"released"`
}

// ---- Operations ----

// RunDraw triggers one draw. TIMED_OUT comes back as *TimedOutError.
func (c *Client) RunDraw(ctx context.Context, drawType string) (DrawResult, error) {
	if drawType == "" {
		return DrawResult{}, fmt.Errorf("drawType required")
	}
	path := fmt.Sprintf("%s/v1/draws/%s/run", c.baseURL, url.PathEscape(drawType))

	var out drawResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	if err != nil {
		return DrawResult{}, err
	}
	switch {
	case code == http.StatusOK:
		return out.DrawResult, nil
	case code == http.StatusConflict && out.Reason == "TIMED_OUT":
		return DrawResult{}, &TimedOutError{Op: "run", DrawType: drawType, RecommendedRetry: out.RecommendedRetry}
	}
	return DrawResult{}, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
}

// Confirm records an operator's manual payment. NOT_FOUND is a result, not
// an error.
func (c *Client) Confirm(ctx context.Context, drawType, winnerID, operatorID string) (ConfirmResult, error) {
	if drawType == "" || winnerID == "" || operatorID == "" {
		return ConfirmResult{}, fmt.Errorf("drawType, winnerID and operatorID required")
	}
	path := fmt.Sprintf("%s/v1/draws/%s/confirm", c.baseURL, url.PathEscape(drawType))

	var out confirmResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, confirmReq{WinnerID: winnerID, OperatorID: operatorID}, &out)
	if err != nil {
		return ConfirmResult{}, err
	}
	switch {
	case code == http.StatusOK:
		return out.ConfirmResult, nil
	case code == http.StatusNotFound && out.Outcome == "NOT_FOUND":
		return out.ConfirmResult, nil
	case code == http.StatusConflict && out.Reason == "TIMED_OUT":
		return ConfirmResult{}, &TimedOutError{Op: "confirm", DrawType: drawType, RecommendedRetry: out.RecommendedRetry}
	}
	return ConfirmResult{}, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
}

func (c *Client) Pending(ctx context.Context, drawType string) ([]Winner, error) {
	path := fmt.Sprintf("%s/v1/draws/%s/pending", c.baseURL, url.PathEscape(drawType))

	var out pendingResp
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out.Pending, nil
}

func (c *Client) Diagnostics(ctx context.Context) (Diagnostics, error) {
	path := c.baseURL + "/v1/admin/locks"

	var out Diagnostics
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return Diagnostics{}, err
	}
	if code != http.StatusOK {
		return Diagnostics{}, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out, nil
}

// ForceReleaseStale asks the server to free locks held longer than maxHold.
func (c *Client) ForceReleaseStale(ctx context.Context, maxHold time.Duration) ([]string, error) {
	if maxHold < time.Second {
		return nil, fmt.Errorf("maxHold must be at least 1s")
	}
	path := c.baseURL + "/v1/admin/locks/force-release"

	var out forceReleaseResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, forceReleaseReq{MaxHoldSeconds: int64(maxHold / time.Second)}, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.Released, nil
}

func (c *Client) Backup(ctx context.Context) (string, error) {
	path := c.baseURL + "/v1/admin/backup"

	var out struct {
		Path string `json:"path"`
	}
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.Path, nil
}

// doJSON sends JSON (when req is non-nil) and decodes the JSON response.
// Returns status code and raw body (trimmed) for debugging.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(b))

	if resp != nil && len(b) > 0 {
		_ = json.Unmarshal(b, resp) // tolerate non-JSON error bodies
	}
	return rsp.StatusCode, raw, nil
}

// ---- Retry wrappers ----

// RunDrawWithRetry retries RunDraw while the server reports TIMED_OUT.
func (c *Client) RunDrawWithRetry(ctx context.Context, drawType string, opt RetryOptions) (DrawResult, error) {
	var res DrawResult
	err := c.retry(ctx, opt, func() error {
		var err error
		res, err = c.RunDraw(ctx, drawType)
		return err
	})
	return res, err
}

// ConfirmWithRetry retries Confirm while the server reports TIMED_OUT.
// Safe because a repeated confirmation returns ALREADY_CONFIRMED.
func (c *Client) ConfirmWithRetry(ctx context.Context, drawType, winnerID, operatorID string, opt RetryOptions) (ConfirmResult, error) {
	var res ConfirmResult
	err := c.retry(ctx, opt, func() error {
		var err error
		res, err = c.Confirm(ctx, drawType, winnerID, operatorID)
		return err
	})
	return res, err
}

func (c *Client) retry(ctx context.Context, opt RetryOptions, call func() error) error {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 20
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 50 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 2 * time.Second
	}
	if opt.JitterFrac < 0 {
		opt.JitterFrac = 0
	}

	start := time.Now()
	var lastTO *TimedOutError

	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		if opt.MaxTotalWait > 0 && time.Since(start) > opt.MaxTotalWait {
			if lastTO != nil {
				return lastTO
			}
			return context.DeadlineExceeded
		}

		err := call()
		to, ok := err.(*TimedOutError)
		if !ok {
			return err
		}
		lastTO = to

		// Backoff: honor server recommended retry if present; clamp and add jitter.
		sleep := time.Duration(to.RecommendedRetry) * time.Millisecond
		if sleep <= 0 {
			sleep = time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		}
		if sleep < opt.MinRetry {
			sleep = opt.MinRetry
		}
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		sleep = c.addJitter(sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastTO
}

func (c *Client) addJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	c.rngMu.Lock()
	f := c.rng.Float64()
	c.rngMu.Unlock()

	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (f*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
