// Package detector implements the technology fingerprinting stage against an
// external stack-detection API.
package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
)

// Config controls the fingerprinting client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   backoff.Config
}

// Client implements audit.TechnologyDetector over the fingerprinting API.
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
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		retrier: backoff.New(cfg.Retry, logger),
		logger:  logger,
	}
}

// apiResponse is the upstream wire shape, decoded strictly at the boundary.
type apiResponse struct {
	Domain       string          `json:"domain"`
	Technologies []apiTechnology `json:"technologies"`
}

type apiTechnology struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	FirstDetected string `json:"first_detected"`
	LastDetected  string `json:"last_detected"`
}

// Detect fingerprints the target's technology stack. An empty result is a
// valid success; upstream faults and malformed responses are stage errors.
func (c *Client) Detect(ctx context.Context, targetURL string) (audit.TechnologyPayload, error) {
	return backoff.Do(ctx, c.retrier, "technology detect", func(ctx context.Context) (audit.TechnologyPayload, error) {
		return c.detectOnce(ctx, targetURL)
	})
}

func (c *Client) detectOnce(ctx context.Context, targetURL string) (audit.TechnologyPayload, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return audit.TechnologyPayload{}, fmt.Errorf("parse detector base URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", targetURL)
	query.Set("key", c.cfg.APIKey)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return audit.TechnologyPayload{}, fmt.Errorf("build detector request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return audit.TechnologyPayload{}, fmt.Errorf("call detector API: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close detector response body", zap.Error(closeErr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return audit.TechnologyPayload{}, audit.NewRateLimitError("technology detection quota exceeded")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audit.TechnologyPayload{}, fmt.Errorf("detector API status %d: %s", resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.DisallowUnknownFields()
	var decoded apiResponse
	if err := decoder.Decode(&decoded); err != nil {
		return audit.TechnologyPayload{}, fmt.Errorf("decode detector response: %w", err)
	}

	payload := audit.TechnologyPayload{Technologies: make([]audit.Technology, 0, len(decoded.Technologies))}
	for _, tech := range decoded.Technologies {
		if tech.Name == "" {
			return audit.TechnologyPayload{}, fmt.Errorf("decode detector response: technology entry missing name")
		}
		payload.Technologies = append(payload.Technologies, audit.Technology{
			Name:          tech.Name,
			Category:      tech.Category,
			FirstDetected: tech.FirstDetected,
			LastDetected:  tech.LastDetected,
		})
	}
	payload.GroupByCategory()
	return payload, nil
}
