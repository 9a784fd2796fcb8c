// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/store"
)

// RecordStore is an in-memory store.RecordRepository.
type RecordStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]audit.AnalysisRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[uuid.UUID]audit.AnalysisRecord)}
}

// Create stores a new record.
func (s *RecordStore) Create(_ context.Context, record audit.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return errors.New("analysis record already exists")
	}
	s.records[record.ID] = record
	return nil
}

// Get fetches a record by id.
func (s *RecordStore) Get(_ context.Context, id uuid.UUID) (audit.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return audit.AnalysisRecord{}, store.ErrNotFound
	}
	return cloneRecord(record), nil
}

// SaveContent persists the content payload.
func (s *RecordStore) SaveContent(_ context.Context, id uuid.UUID, payload audit.ContentPayload) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		cp := payload
		r.Content = &cp
	})
}

// SaveTechnologies persists the technology payload.
func (s *RecordStore) SaveTechnologies(_ context.Context, id uuid.UUID, payload audit.TechnologyPayload) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		cp := payload
		r.Technologies = &cp
	})
}

// SavePerformance persists the performance payload.
func (s *RecordStore) SavePerformance(_ context.Context, id uuid.UUID, payload audit.PerformancePayload) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		cp := payload
		r.Performance = &cp
	})
}

// SaveInsights persists the insight payload.
func (s *RecordStore) SaveInsights(_ context.Context, id uuid.UUID, payload audit.InsightPayload) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		cp := payload
		r.Insights = &cp
	})
}

// SaveStageError records a stage-local failure note.
func (s *RecordStore) SaveStageError(_ context.Context, id uuid.UUID, stage audit.Stage, message string) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		if r.StageErrors == nil {
			r.StageErrors = make(map[audit.Stage]string)
		}
		r.StageErrors[stage] = message
	})
}

// Complete marks the record completed.
func (s *RecordStore) Complete(_ context.Context, id uuid.UUID, completedAt time.Time) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		if r.Status.Terminal() {
			return
		}
		r.Status = audit.StatusCompleted
		ts := completedAt
		r.CompletedAt = &ts
	})
}

// Fail marks the record terminally errored.
func (s *RecordStore) Fail(_ context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	return s.update(id, func(r *audit.AnalysisRecord) {
		if r.Status.Terminal() {
			return
		}
		r.Status = audit.StatusError
		msg := message
		r.ErrorMessage = &msg
		ts := completedAt
		r.CompletedAt = &ts
	})
}

func (s *RecordStore) update(id uuid.UUID, mutate func(*audit.AnalysisRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	mutate(&record)
	s.records[id] = record
	return nil
}

func cloneRecord(record audit.AnalysisRecord) audit.AnalysisRecord {
	cp := record
	if record.StageErrors != nil {
		cp.StageErrors = make(map[audit.Stage]string, len(record.StageErrors))
		for k, v := range record.StageErrors {
			cp.StageErrors[k] = v
		}
	}
	return cp
}
