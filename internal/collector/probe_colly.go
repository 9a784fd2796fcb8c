package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// collyProbe fetches a single page with a plain HTTP client via Colly.
type collyProbe struct {
	baseCollector *colly.Collector
}

func newCollyProbe(cfg Config) (*collyProbe, error) {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)
	return &collyProbe{baseCollector: base}, nil
}

// Fetch retrieves the page body and status for a single URL.
func (p *collyProbe) Fetch(ctx context.Context, rawURL string) (page, error) {
	collector := p.baseCollector.Clone()
	resultCh := make(chan probeResult, 1)
	var once sync.Once
	send := func(res probeResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(probeResult{page: page{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode > 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		send(probeResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return page{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return page{}, err
		}
		return res.page, res.err
	default:
		return page{}, errors.New("probe fetch produced no result")
	}
}

type probeResult struct {
	page page
	err  error
}
