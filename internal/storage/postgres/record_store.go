// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/store"
)

// Querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordStore implements store.RecordRepository on Postgres. The four stage
// payloads and the stage-error map live in independently nullable JSONB
// columns so partial progress survives without all four being present.
type RecordStore struct {
	db Querier
}

// NewRecordStore creates a RecordStore over an existing pool.
func NewRecordStore(db Querier) *RecordStore {
	return &RecordStore{db: db}
}

// Connect opens a pgx pool and wraps it in a RecordStore.
func Connect(ctx context.Context, dsn string) (*RecordStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return NewRecordStore(pool), pool, nil
}

// Create inserts a new analysis record.
func (s *RecordStore) Create(ctx context.Context, record audit.AnalysisRecord) error {
	request, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	query := `
		INSERT INTO analysis_records (id, status, request, created_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.db.Exec(ctx, query, record.ID, record.Status, request, record.CreatedAt); err != nil {
		return fmt.Errorf("insert analysis record: %w", err)
	}
	return nil
}

// Get loads a record by id or returns store.ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, id uuid.UUID) (audit.AnalysisRecord, error) {
	query := `
		SELECT id, status, request, content, technologies, performance, insights,
		       stage_errors, error_message, created_at, completed_at
		FROM analysis_records
		WHERE id = $1;
	`
	var (
		record       audit.AnalysisRecord
		request      []byte
		content      []byte
		technologies []byte
		performance  []byte
		insights     []byte
		stageErrors  []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.Status,
		&request,
		&content,
		&technologies,
		&performance,
		&insights,
		&stageErrors,
		&record.ErrorMessage,
		&record.CreatedAt,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.AnalysisRecord{}, store.ErrNotFound
		}
		return audit.AnalysisRecord{}, fmt.Errorf("select analysis record: %w", err)
	}

	if err := json.Unmarshal(request, &record.Request); err != nil {
		return audit.AnalysisRecord{}, fmt.Errorf("decode request: %w", err)
	}
	if err := decodeSlot(content, &record.Content); err != nil {
		return audit.AnalysisRecord{}, fmt.Errorf("decode content payload: %w", err)
	}
	if err := decodeSlot(technologies, &record.Technologies); err != nil {
		return audit.AnalysisRecord{}, fmt.Errorf("decode technology payload: %w", err)
	}
	if err := decodeSlot(performance, &record.Performance); err != nil {
		return audit.AnalysisRecord{}, fmt.Errorf("decode performance payload: %w", err)
	}
	if err := decodeSlot(insights, &record.Insights); err != nil {
		return audit.AnalysisRecord{}, fmt.Errorf("decode insight payload: %w", err)
	}
	if len(stageErrors) > 0 {
		if err := json.Unmarshal(stageErrors, &record.StageErrors); err != nil {
			return audit.AnalysisRecord{}, fmt.Errorf("decode stage errors: %w", err)
		}
	}
	return record, nil
}

// SaveContent persists the content stage payload.
func (s *RecordStore) SaveContent(ctx context.Context, id uuid.UUID, payload audit.ContentPayload) error {
	return s.saveSlot(ctx, id, "content", payload)
}

// SaveTechnologies persists the technology stage payload.
func (s *RecordStore) SaveTechnologies(ctx context.Context, id uuid.UUID, payload audit.TechnologyPayload) error {
	return s.saveSlot(ctx, id, "technologies", payload)
}

// SavePerformance persists the performance stage payload.
func (s *RecordStore) SavePerformance(ctx context.Context, id uuid.UUID, payload audit.PerformancePayload) error {
	return s.saveSlot(ctx, id, "performance", payload)
}

// SaveInsights persists the insight stage payload.
func (s *RecordStore) SaveInsights(ctx context.Context, id uuid.UUID, payload audit.InsightPayload) error {
	return s.saveSlot(ctx, id, "insights", payload)
}

// SaveStageError merges the failure note into the stage_errors JSONB map.
func (s *RecordStore) SaveStageError(ctx context.Context, id uuid.UUID, stage audit.Stage, message string) error {
	note, err := json.Marshal(map[audit.Stage]string{stage: message})
	if err != nil {
		return fmt.Errorf("marshal stage error: %w", err)
	}
	query := `
		UPDATE analysis_records
		SET stage_errors = COALESCE(stage_errors, '{}'::jsonb) || $1::jsonb
		WHERE id = $2;
	`
	tag, err := s.db.Exec(ctx, query, note, id)
	if err != nil {
		return fmt.Errorf("update stage errors: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Complete marks the record completed. Terminal records are left untouched.
func (s *RecordStore) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `
		UPDATE analysis_records
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status NOT IN ($4, $5);
	`
	if _, err := s.db.Exec(ctx, query,
		audit.StatusCompleted, completedAt, id, audit.StatusCompleted, audit.StatusError,
	); err != nil {
		return fmt.Errorf("complete analysis record: %w", err)
	}
	return nil
}

// Fail marks the record terminally errored with a public message.
func (s *RecordStore) Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	query := `
		UPDATE analysis_records
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ($1, $5);
	`
	if _, err := s.db.Exec(ctx, query,
		audit.StatusError, message, completedAt, id, audit.StatusCompleted,
	); err != nil {
		return fmt.Errorf("fail analysis record: %w", err)
	}
	return nil
}

func (s *RecordStore) saveSlot(ctx context.Context, id uuid.UUID, column string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", column, err)
	}
	// column comes from the fixed call sites above, never from input.
	query := fmt.Sprintf(`UPDATE analysis_records SET %s = $1 WHERE id = $2;`, column)
	tag, err := s.db.Exec(ctx, query, data, id)
	if err != nil {
		return fmt.Errorf("update %s payload: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func decodeSlot[T any](raw []byte, target **T) error {
	if len(raw) == 0 {
		return nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	*target = &value
	return nil
}
