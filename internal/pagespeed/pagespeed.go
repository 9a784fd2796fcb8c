// Package pagespeed implements the performance scoring stage against a
// PageSpeed-style scoring API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
)

// Config controls the scoring client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout is the hard per-call bound; scoring routinely takes tens of
	// seconds upstream.
	Timeout time.Duration
	Retry   backoff.Config
}

// Client implements audit.PerformanceScorer.
type Client struct {
	cfg     Config
	http    *http.Client
	retrier *backoff.Executor
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		retrier: backoff.New(cfg.Retry, logger),
		logger:  logger,
	}
}

// Wire shapes, decoded strictly at the boundary. The upstream envelope
// carries more than these fields; unknown siblings of the ones we consume
// are tolerated at the envelope level but each audit entry must be complete.
type apiResponse struct {
	LighthouseResult lighthouseResult `json:"lighthouseResult"`
}

type lighthouseResult struct {
	Categories categories          `json:"categories"`
	Audits     map[string]apiAudit `json:"audits"`
}

type categories struct {
	Performance scoredCategory `json:"performance"`
}

type scoredCategory struct {
	Score *float64 `json:"score"`
}

type apiAudit struct {
	DisplayValue string   `json:"displayValue"`
	NumericValue *float64 `json:"numericValue"`
}

// The five audits the payload reports.
const (
	auditFCP = "first-contentful-paint"
	auditSI  = "speed-index"
	auditLCP = "largest-contentful-paint"
	auditTBT = "total-blocking-time"
	auditCLS = "cumulative-layout-shift"
)

// Score measures the target for the given device strategy.
func (c *Client) Score(ctx context.Context, targetURL, strategy string) (audit.PerformancePayload, error) {
	return backoff.Do(ctx, c.retrier, "performance score", func(ctx context.Context) (audit.PerformancePayload, error) {
		return c.scoreOnce(ctx, targetURL, strategy)
	})
}

func (c *Client) scoreOnce(ctx context.Context, targetURL, strategy string) (audit.PerformancePayload, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return audit.PerformancePayload{}, fmt.Errorf("parse pagespeed base URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", targetURL)
	query.Set("strategy", strategy)
	query.Set("category", "performance")
	if c.cfg.APIKey != "" {
		query.Set("key", c.cfg.APIKey)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return audit.PerformancePayload{}, fmt.Errorf("build pagespeed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return audit.PerformancePayload{}, fmt.Errorf("call pagespeed API: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close pagespeed response body", zap.Error(closeErr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return audit.PerformancePayload{}, audit.NewRateLimitError("pagespeed quota exceeded")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audit.PerformancePayload{}, fmt.Errorf("pagespeed API status %d: %s", resp.StatusCode, string(body))
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return audit.PerformancePayload{}, fmt.Errorf("decode pagespeed response: %w", err)
	}
	return buildPayload(decoded)
}

func buildPayload(decoded apiResponse) (audit.PerformancePayload, error) {
	score := decoded.LighthouseResult.Categories.Performance.Score
	if score == nil {
		return audit.PerformancePayload{}, fmt.Errorf("decode pagespeed response: missing performance score")
	}

	payload := audit.PerformancePayload{
		Score: int(math.Round(*score * 100)),
	}
	for _, entry := range []struct {
		key    string
		target *audit.Metric
	}{
		{auditFCP, &payload.FirstContentfulPaint},
		{auditSI, &payload.SpeedIndex},
		{auditLCP, &payload.LargestContentfulPaint},
		{auditTBT, &payload.TotalBlockingTime},
		{auditCLS, &payload.CumulativeLayoutShift},
	} {
		raw, ok := decoded.LighthouseResult.Audits[entry.key]
		if !ok || raw.NumericValue == nil {
			return audit.PerformancePayload{}, fmt.Errorf("decode pagespeed response: missing audit %q", entry.key)
		}
		*entry.target = audit.Metric{
			DisplayValue: raw.DisplayValue,
			NumericValue: *raw.NumericValue,
		}
	}
	if payload.Score < 0 || payload.Score > 100 {
		return audit.PerformancePayload{}, fmt.Errorf("decode pagespeed response: score %d out of range", payload.Score)
	}
	return payload, nil
}
