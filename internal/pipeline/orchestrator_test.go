package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/progress"
	"github.com/convertlab/siteaudit/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeCollector struct {
	payload audit.ContentPayload
	err     error
}

func (f fakeCollector) Collect(context.Context, string) (audit.ContentPayload, error) {
	return f.payload, f.err
}

type fakeDetector struct {
	payload audit.TechnologyPayload
	err     error
}

func (f fakeDetector) Detect(context.Context, string) (audit.TechnologyPayload, error) {
	return f.payload, f.err
}

type fakeScorer struct {
	payload audit.PerformancePayload
	err     error
}

func (f fakeScorer) Score(context.Context, string, string) (audit.PerformancePayload, error) {
	return f.payload, f.err
}

type fakeGenerator struct {
	payload  audit.InsightPayload
	err      error
	lastTech []audit.Technology
	calls    int
}

func (f *fakeGenerator) Generate(_ context.Context, _ audit.ContentPayload, technologies []audit.Technology, _ audit.PerformancePayload) (audit.InsightPayload, error) {
	f.calls++
	f.lastTech = technologies
	return f.payload, f.err
}

type capturingPublisher struct {
	topic string
	event any
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topic = topic
	p.event = payload
	return "msg-1", nil
}

// getFailingRepo simulates a store whose reads fail while writes still land.
type getFailingRepo struct {
	*memory.RecordStore
}

func (r getFailingRepo) Get(context.Context, uuid.UUID) (audit.AnalysisRecord, error) {
	return audit.AnalysisRecord{}, errors.New("connection reset by peer")
}

type panicDetector struct{}

func (panicDetector) Detect(context.Context, string) (audit.TechnologyPayload, error) {
	panic("boom")
}

func seedRecord(t *testing.T, repo *memory.RecordStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := repo.Create(context.Background(), audit.AnalysisRecord{
		ID:     id,
		Status: audit.StatusProcessing,
		Request: audit.AnalysisRequest{
			Name:      "Dana",
			Email:     "dana@example.com",
			Company:   "Acme",
			TargetURL: "https://acme.example",
		},
		CreatedAt: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return id
}

func happyFakes() (fakeCollector, fakeDetector, fakeScorer, *fakeGenerator) {
	collector := fakeCollector{payload: audit.ContentPayload{Title: "Acme", HTMLSize: 4096}}
	detector := fakeDetector{payload: audit.TechnologyPayload{
		Technologies: []audit.Technology{{Name: "Shopify", Category: "Ecommerce"}},
	}}
	scorer := fakeScorer{payload: audit.PerformancePayload{Score: 85}}
	generator := &fakeGenerator{payload: audit.InsightPayload{
		Strengths:      []string{"clear hero"},
		Opportunities:  []audit.Opportunity{{Title: "t", Detail: "d", Impact: audit.ImpactLow, Priority: 4}},
		OverallScore:   78,
		ScoreRationale: "solid",
	}}
	return collector, detector, scorer, generator
}

func TestRunAllStagesSucceed(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	collector, detector, scorer, generator := happyFakes()
	publisher := &capturingPublisher{}
	clock := fixedClock{now: time.Date(2025, 8, 1, 12, 1, 0, 0, time.UTC)}

	o := New(Config{CompletionTopic: "analysis-complete"}, repo, collector, detector, scorer, generator, publisher, clock, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, record.Status)
	require.NotNil(t, record.Content)
	require.NotNil(t, record.Technologies)
	require.NotNil(t, record.Performance)
	require.NotNil(t, record.Insights)
	require.Equal(t, 78, record.Insights.OverallScore)
	require.Empty(t, record.StageErrors)
	require.NotNil(t, record.CompletedAt)
	require.Equal(t, clock.now, *record.CompletedAt)

	require.Equal(t, "analysis-complete", publisher.topic)
	event, ok := publisher.event.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, id.String(), event.AnalysisID)
	require.Equal(t, "completed", event.Status)
	require.Equal(t, "https://acme.example", event.TargetURL)
}

func TestRunTechnologyFailureIsIsolated(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	collector, _, scorer, generator := happyFakes()
	detector := fakeDetector{err: errors.New("upstream API fault")}

	o := New(Config{}, repo, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, record.Status)
	require.Nil(t, record.Technologies)
	require.Equal(t, "upstream API fault", record.StageErrors[audit.StageTechnologies])
	require.NotNil(t, record.Insights)

	// The generator still ran, with an empty technology list substituted.
	require.Equal(t, 1, generator.calls)
	require.NotNil(t, generator.lastTech)
	require.Empty(t, generator.lastTech)

	// The failed stage still counts toward progress.
	report := progress.Build(record, record.CreatedAt, 90*time.Second)
	require.Equal(t, 4, report.CompletedCount)
	require.Equal(t, 100, report.Percentage)
}

func TestRunContentFailureEndsInError(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	_, detector, scorer, generator := happyFakes()
	collector := fakeCollector{err: errors.New("navigation timeout")}

	o := New(Config{}, repo, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusError, record.Status)
	require.NotNil(t, record.ErrorMessage)
	require.Contains(t, *record.ErrorMessage, "content data")
	require.NotContains(t, *record.ErrorMessage, "performance data")
	require.Nil(t, record.Insights)
	require.Equal(t, 0, generator.calls)
	// Performance and technologies still ran and persisted before the
	// terminal transition.
	require.NotNil(t, record.Performance)
	require.NotNil(t, record.Technologies)
}

func TestRunBothPrerequisitesMissingNamesBoth(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	_, detector, _, generator := happyFakes()
	collector := fakeCollector{err: errors.New("navigation timeout")}
	scorer := fakeScorer{err: errors.New("upstream 500")}

	o := New(Config{}, repo, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusError, record.Status)
	require.Contains(t, *record.ErrorMessage, "content data and performance data")
	require.Contains(t, record.StageErrors[audit.StageInsights], "missing")
}

func TestRunInsightFailureFallsBack(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	collector, detector, scorer, _ := happyFakes()
	generator := &fakeGenerator{err: audit.NewRateLimitError("quota exceeded")}

	o := New(Config{}, repo, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, record.Status)
	require.NotNil(t, record.Insights)
	require.Equal(t, record.Performance.Score, record.Insights.OverallScore)
	require.Contains(t, record.Insights.DegradedNote, "quota exceeded")
	require.NotEmpty(t, record.Insights.Strengths)
	require.NotEmpty(t, record.Insights.Opportunities)
}

func TestRunPanicEndsInError(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	collector, _, scorer, generator := happyFakes()

	o := New(Config{}, repo, collector, panicDetector{}, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	record, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusError, record.Status)
	require.Equal(t, "internal error during analysis", *record.ErrorMessage)
}

func TestRunErrorEventCarriesTargetURL(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	id := seedRecord(t, repo)
	_, detector, scorer, generator := happyFakes()
	collector := fakeCollector{err: errors.New("navigation timeout")}
	publisher := &capturingPublisher{}

	o := New(Config{CompletionTopic: "analysis-complete"}, repo, collector, detector, scorer, generator, publisher, fixedClock{now: time.Now()}, zap.NewNop())
	require.NoError(t, o.Run(context.Background(), id))

	event, ok := publisher.event.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, "error", event.Status)
	require.Equal(t, "https://acme.example", event.TargetURL)
}

func TestRunRecordLoadFailureEndsInError(t *testing.T) {
	t.Parallel()
	base := memory.NewRecordStore()
	id := seedRecord(t, base)
	collector, detector, scorer, generator := happyFakes()

	o := New(Config{}, getFailingRepo{base}, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	require.Error(t, o.Run(context.Background(), id))

	// No stage ever ran, but pollers must not see the record stuck at
	// processing forever.
	require.Equal(t, 0, generator.calls)
	record, err := base.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, audit.StatusError, record.Status)
	require.Equal(t, "internal error during analysis", *record.ErrorMessage)
}

func TestRunUnknownRecord(t *testing.T) {
	t.Parallel()
	repo := memory.NewRecordStore()
	collector, detector, scorer, generator := happyFakes()

	o := New(Config{}, repo, collector, detector, scorer, generator, nil, fixedClock{now: time.Now()}, zap.NewNop())
	err := o.Run(context.Background(), uuid.New())
	require.Error(t, err)
}
