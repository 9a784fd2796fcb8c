package audit

import (
	"context"
	"io"
	"time"
)

// ContentCollector navigates the target URL and extracts structural content.
type ContentCollector interface {
	Collect(ctx context.Context, targetURL string) (ContentPayload, error)
}

// TechnologyDetector fingerprints the technology stack behind the target.
// "No technologies found" is a valid empty success, not an error.
type TechnologyDetector interface {
	Detect(ctx context.Context, targetURL string) (TechnologyPayload, error)
}

// PerformanceScorer measures page performance for the given device strategy
// (for example "mobile" or "desktop").
type PerformanceScorer interface {
	Score(ctx context.Context, targetURL, strategy string) (PerformancePayload, error)
}

// InsightGenerator produces the conversion report from the collected data.
// A nil technologies slice is substituted with an empty set by callers.
type InsightGenerator interface {
	Generate(ctx context.Context, content ContentPayload, technologies []Technology, performance PerformancePayload) (InsightPayload, error)
}

// BlobStore persists opaque artifacts (page snapshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher emits terminal-state events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints analysis identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
