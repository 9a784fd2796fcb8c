package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/store"
)

func newMockStore(t *testing.T) (*RecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRecordStore(mock), mock
}

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	record := audit.AnalysisRecord{
		ID:     id,
		Status: audit.StatusProcessing,
		Request: audit.AnalysisRequest{
			Name:      "Ada",
			Email:     "ada@example.com",
			Company:   "Example Co",
			TargetURL: "https://shop.example.com",
		},
		CreatedAt: now,
	}
	request, err := json.Marshal(record.Request)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO analysis_records").
		WithArgs(id, audit.StatusProcessing, request, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, recordStore.Create(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNotFound(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, status, request").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := recordStore.Get(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecodesNullableSlots(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	request := []byte(`{"name":"Ada","email":"ada@example.com","company":"Example Co","target_url":"https://shop.example.com"}`)
	performance := []byte(`{"score":88,"first_contentful_paint":{"display_value":"1.2 s","numeric_value":1200},` +
		`"speed_index":{"display_value":"2.0 s","numeric_value":2000},` +
		`"largest_contentful_paint":{"display_value":"2.4 s","numeric_value":2400},` +
		`"total_blocking_time":{"display_value":"150 ms","numeric_value":150},` +
		`"cumulative_layout_shift":{"display_value":"0.05","numeric_value":0.05}}`)
	stageErrors := []byte(`{"technologies":"upstream API fault"}`)

	rows := pgxmock.NewRows([]string{
		"id", "status", "request", "content", "technologies", "performance",
		"insights", "stage_errors", "error_message", "created_at", "completed_at",
	}).AddRow(
		id, audit.StatusProcessing, request, nil, nil, performance,
		nil, stageErrors, nil, now, nil,
	)
	mock.ExpectQuery("SELECT id, status, request").WithArgs(id).WillReturnRows(rows)

	record, err := recordStore.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusProcessing, record.Status)
	require.Equal(t, "https://shop.example.com", record.Request.TargetURL)
	require.Nil(t, record.Content)
	require.Nil(t, record.Technologies)
	require.NotNil(t, record.Performance)
	require.Equal(t, 88, record.Performance.Score)
	require.Equal(t, "upstream API fault", record.StageErrors[audit.StageTechnologies])
	require.Nil(t, record.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePerformanceRoundTrips(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	payload := audit.PerformancePayload{
		Score:                  91,
		FirstContentfulPaint:   audit.Metric{DisplayValue: "0.9 s", NumericValue: 900},
		SpeedIndex:             audit.Metric{DisplayValue: "1.4 s", NumericValue: 1400},
		LargestContentfulPaint: audit.Metric{DisplayValue: "1.8 s", NumericValue: 1800},
		TotalBlockingTime:      audit.Metric{DisplayValue: "40 ms", NumericValue: 40},
		CumulativeLayoutShift:  audit.Metric{DisplayValue: "0.02", NumericValue: 0.02},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE analysis_records SET performance").
		WithArgs(data, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, recordStore.SavePerformance(context.Background(), id, payload))
	require.NoError(t, mock.ExpectationsWereMet())

	// The serialized form restores to an equal value.
	var restored audit.PerformancePayload
	require.NoError(t, json.Unmarshal(data, &restored))
	require.Equal(t, payload, restored)
}

func TestSaveStageErrorUnknownID(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	note, err := json.Marshal(map[audit.Stage]string{audit.StageContent: "navigation timeout"})
	require.NoError(t, err)

	mock.ExpectExec("UPDATE analysis_records").
		WithArgs(note, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = recordStore.SaveStageError(context.Background(), id, audit.StageContent, "navigation timeout")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSkipsTerminalRecords(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	completedAt := time.Unix(1700000100, 0).UTC()
	mock.ExpectExec("UPDATE analysis_records").
		WithArgs(audit.StatusCompleted, completedAt, id, audit.StatusCompleted, audit.StatusError).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, recordStore.Complete(context.Background(), id, completedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailSetsMessage(t *testing.T) {
	t.Parallel()
	recordStore, mock := newMockStore(t)

	id := uuid.New()
	completedAt := time.Unix(1700000100, 0).UTC()
	mock.ExpectExec("UPDATE analysis_records").
		WithArgs(audit.StatusError, "content and performance collection failed", completedAt, id, audit.StatusCompleted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := recordStore.Fail(context.Background(), id, "content and performance collection failed", completedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
