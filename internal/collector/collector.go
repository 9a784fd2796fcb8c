// Package collector implements the content collection stage: it fetches the
// target page, promotes to headless rendering when the page needs JavaScript,
// extracts structural content, and stores a visual snapshot.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
)

// Config controls collection behavior.
type Config struct {
	UserAgent string
	// ProbeTimeout bounds the plain HTTP fetch.
	ProbeTimeout time.Duration
	// NavigationTimeout bounds the headless render.
	NavigationTimeout time.Duration
	// MaxParallelRenders caps concurrent headless sessions across runs.
	MaxParallelRenders int
	// SnapshotPrefix is the blob-path prefix for stored snapshots.
	SnapshotPrefix string
	// HeadlessEnabled gates promotion to the browser renderer.
	HeadlessEnabled bool
}

// page is a fetched document, from either the probe or the renderer.
type page struct {
	FinalURL   string
	StatusCode int
	Body       []byte
	Screenshot []byte
}

type prober interface {
	Fetch(ctx context.Context, rawURL string) (page, error)
}

type renderer interface {
	Render(ctx context.Context, rawURL string) (page, error)
}

// Collector implements audit.ContentCollector.
type Collector struct {
	cfg       Config
	probe     prober
	renderer  renderer
	heuristic *heuristic
	blobs     audit.BlobStore
	logger    *zap.Logger
}

// New constructs a Collector. The renderer is optional; without it pages are
// never promoted. blobs is optional; without it no snapshot is stored.
func New(cfg Config, probe prober, r renderer, blobs audit.BlobStore, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	return &Collector{
		cfg:       cfg,
		probe:     probe,
		renderer:  r,
		heuristic: newHeuristic(),
		blobs:     blobs,
		logger:    logger,
	}
}

// NewDefault wires the colly probe and, when enabled, the chromedp renderer.
func NewDefault(cfg Config, blobs audit.BlobStore, logger *zap.Logger) (*Collector, error) {
	probe, err := newCollyProbe(cfg)
	if err != nil {
		return nil, fmt.Errorf("build probe fetcher: %w", err)
	}
	var r renderer
	if cfg.HeadlessEnabled {
		chromeRenderer, err := newChromedpRenderer(cfg)
		if err != nil {
			return nil, fmt.Errorf("build headless renderer: %w", err)
		}
		r = chromeRenderer
	}
	return New(cfg, probe, r, blobs, logger), nil
}

// Collect fetches the target and returns the extracted content payload.
func (c *Collector) Collect(ctx context.Context, targetURL string) (audit.ContentPayload, error) {
	probed, err := c.probe.Fetch(ctx, targetURL)
	if err != nil {
		// A dead probe is not fatal when a renderer is available; some
		// sites block plain clients but serve browsers.
		if c.renderer == nil {
			return audit.ContentPayload{}, fmt.Errorf("fetch %s: %w", targetURL, err)
		}
		c.logger.Warn("probe fetch failed, falling back to headless",
			zap.String("url", targetURL), zap.Error(err))
		probed = page{}
	}

	final := probed
	renderedHeadless := false
	if c.renderer != nil && (len(probed.Body) == 0 || c.heuristic.needsJS(probed.Body)) {
		rendered, renderErr := c.renderer.Render(ctx, targetURL)
		switch {
		case renderErr != nil && len(probed.Body) == 0:
			return audit.ContentPayload{}, fmt.Errorf("render %s: %w", targetURL, renderErr)
		case renderErr != nil:
			c.logger.Warn("headless render failed, using probe body",
				zap.String("url", targetURL), zap.Error(renderErr))
		default:
			final = rendered
			renderedHeadless = true
		}
	}

	if final.StatusCode >= 400 {
		return audit.ContentPayload{}, fmt.Errorf("fetch %s: status %d", targetURL, final.StatusCode)
	}

	payload, err := extractContent(targetURL, final.Body)
	if err != nil {
		return audit.ContentPayload{}, fmt.Errorf("extract content from %s: %w", targetURL, err)
	}
	payload.RenderedHeadless = renderedHeadless
	payload.SnapshotURI = c.storeSnapshot(ctx, targetURL, final)
	return payload, nil
}

// storeSnapshot persists the screenshot (preferred) or raw HTML. Snapshot
// failures only cost the reference, never the stage.
func (c *Collector) storeSnapshot(ctx context.Context, targetURL string, p page) string {
	if c.blobs == nil {
		return ""
	}
	data := p.Screenshot
	contentType := "image/png"
	extension := "png"
	if len(data) == 0 {
		data = p.Body
		contentType = "text/html; charset=utf-8"
		extension = "html"
	}
	if len(data) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s-%d.%s", c.cfg.SnapshotPrefix, slugForURL(targetURL), time.Now().UnixNano(), extension)
	uri, err := c.blobs.PutObject(ctx, path, contentType, bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("snapshot store failed", zap.String("url", targetURL), zap.Error(err))
		return ""
	}
	return uri
}
