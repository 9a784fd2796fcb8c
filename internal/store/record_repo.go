// Package store declares the persistence contract for analysis records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/convertlab/siteaudit/internal/audit"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("analysis record not found")

// RecordRepository persists analysis records and their incremental stage
// results. The orchestrator is the only writer for a given id; the API layer
// only reads.
type RecordRepository interface {
	// Create inserts a new record. The record's status, request, and
	// CreatedAt must already be populated.
	Create(ctx context.Context, record audit.AnalysisRecord) error

	// Get loads a record by id or returns ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (audit.AnalysisRecord, error)

	// SaveContent persists the content stage payload.
	SaveContent(ctx context.Context, id uuid.UUID, payload audit.ContentPayload) error
	// SaveTechnologies persists the technology stage payload.
	SaveTechnologies(ctx context.Context, id uuid.UUID, payload audit.TechnologyPayload) error
	// SavePerformance persists the performance stage payload.
	SavePerformance(ctx context.Context, id uuid.UUID, payload audit.PerformancePayload) error
	// SaveInsights persists the insight stage payload.
	SaveInsights(ctx context.Context, id uuid.UUID, payload audit.InsightPayload) error

	// SaveStageError records the failure note for a stage that produced no
	// payload. It does not change the record status.
	SaveStageError(ctx context.Context, id uuid.UUID, stage audit.Stage, message string) error

	// Complete marks the record completed and stamps CompletedAt.
	Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	// Fail marks the record as terminally errored with a public message.
	Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error
}
