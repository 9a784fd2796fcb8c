// Package pipeline drives a single analysis run through its four stages and
// owns the terminal state transition of the record.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/metrics"
	"github.com/convertlab/siteaudit/internal/store"
)

// Config bounds each stage and names the completion topic.
type Config struct {
	ContentTimeout      time.Duration `mapstructure:"content_timeout"`
	TechnologiesTimeout time.Duration `mapstructure:"technologies_timeout"`
	PerformanceTimeout  time.Duration `mapstructure:"performance_timeout"`
	InsightsTimeout     time.Duration `mapstructure:"insights_timeout"`

	// PerformanceStrategy is the device profile passed to the scorer.
	PerformanceStrategy string `mapstructure:"performance_strategy"`

	// TotalBudget is the advertised end-to-end duration used for the
	// client-facing time estimate.
	TotalBudget time.Duration `mapstructure:"total_budget"`

	// CompletionTopic, when set together with a publisher, receives an
	// event for every terminal transition.
	CompletionTopic string `mapstructure:"completion_topic"`
}

func (c Config) withDefaults() Config {
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = 45 * time.Second
	}
	if c.TechnologiesTimeout <= 0 {
		c.TechnologiesTimeout = 20 * time.Second
	}
	if c.PerformanceTimeout <= 0 {
		c.PerformanceTimeout = 60 * time.Second
	}
	if c.InsightsTimeout <= 0 {
		c.InsightsTimeout = 45 * time.Second
	}
	if c.PerformanceStrategy == "" {
		c.PerformanceStrategy = "mobile"
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = 90 * time.Second
	}
	return c
}

// CompletionEvent is published once a run reaches a terminal state.
type CompletionEvent struct {
	AnalysisID  string    `json:"analysis_id"`
	Status      string    `json:"status"`
	TargetURL   string    `json:"target_url"`
	CompletedAt time.Time `json:"completed_at"`
}

// Orchestrator runs the four stages against a record. It is the sole writer
// for a record once the run starts.
type Orchestrator struct {
	cfg       Config
	repo      store.RecordRepository
	collector audit.ContentCollector
	detector  audit.TechnologyDetector
	scorer    audit.PerformanceScorer
	insights  audit.InsightGenerator
	publisher audit.Publisher
	clock     audit.Clock
	logger    *zap.Logger
}

// New constructs an Orchestrator. The publisher may be nil, in which case no
// completion events are emitted.
func New(
	cfg Config,
	repo store.RecordRepository,
	collector audit.ContentCollector,
	detector audit.TechnologyDetector,
	scorer audit.PerformanceScorer,
	insights audit.InsightGenerator,
	publisher audit.Publisher,
	clock audit.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		collector: collector,
		detector:  detector,
		scorer:    scorer,
		insights:  insights,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// TotalBudget is the advertised run duration.
func (o *Orchestrator) TotalBudget() time.Duration {
	return o.cfg.TotalBudget
}

// Run executes the pipeline for the record. Stage failures are isolated: a
// failed stage records its error note and the run moves on. The run ends in
// error only when the insight prerequisites (content and performance) are
// missing; otherwise it completes, falling back to a rule-based report when
// the model is unavailable.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (err error) {
	logger := o.logger.With(zap.String("analysis_id", id.String()))

	target := ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("analysis run panicked", zap.Any("panic", r))
			err = o.fail(ctx, id, target, "internal error during analysis", logger)
		}
	}()

	record, err := o.repo.Get(ctx, id)
	if err != nil {
		// A record stuck at processing strands its pollers; try to land the
		// terminal transition even when the load itself failed.
		if failErr := o.fail(ctx, id, target, "internal error during analysis", logger); failErr != nil {
			logger.Error("terminal transition failed", zap.Error(failErr))
		}
		return fmt.Errorf("load record: %w", err)
	}
	target = record.Request.TargetURL
	logger = logger.With(zap.String("target_url", target))
	logger.Info("analysis run started")

	content := o.collectContent(ctx, id, target, logger)
	technologies := o.detectTechnologies(ctx, id, target, logger)
	performance := o.scorePerformance(ctx, id, target, logger)

	if content == nil || performance == nil {
		message := "analysis failed: missing " + strings.Join(missingPrerequisites(content, performance), " and ")
		if saveErr := o.repo.SaveStageError(ctx, id, audit.StageInsights, message); saveErr != nil {
			logger.Error("save stage error", zap.Error(saveErr))
		}
		return o.fail(ctx, id, target, message, logger)
	}

	techList := []audit.Technology{}
	if technologies != nil {
		techList = technologies.Technologies
	}
	o.generateInsights(ctx, id, *content, techList, *performance, logger)

	return o.complete(ctx, id, target, logger)
}

func missingPrerequisites(content *audit.ContentPayload, performance *audit.PerformancePayload) []string {
	var missing []string
	if content == nil {
		missing = append(missing, "content data")
	}
	if performance == nil {
		missing = append(missing, "performance data")
	}
	return missing
}

func (o *Orchestrator) collectContent(ctx context.Context, id uuid.UUID, target string, logger *zap.Logger) *audit.ContentPayload {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.ContentTimeout)
	defer cancel()

	start := o.clock.Now()
	payload, err := o.collector.Collect(stageCtx, target)
	metrics.ObserveStage(string(audit.StageContent), o.clock.Now().Sub(start), err)
	if err != nil {
		o.recordStageError(ctx, id, audit.StageContent, err, logger)
		return nil
	}
	if saveErr := o.repo.SaveContent(ctx, id, payload); saveErr != nil {
		o.recordStageError(ctx, id, audit.StageContent, saveErr, logger)
		return nil
	}
	logger.Info("content stage done",
		zap.Int("html_size", payload.HTMLSize),
		zap.Bool("rendered_headless", payload.RenderedHeadless))
	return &payload
}

func (o *Orchestrator) detectTechnologies(ctx context.Context, id uuid.UUID, target string, logger *zap.Logger) *audit.TechnologyPayload {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.TechnologiesTimeout)
	defer cancel()

	start := o.clock.Now()
	payload, err := o.detector.Detect(stageCtx, target)
	metrics.ObserveStage(string(audit.StageTechnologies), o.clock.Now().Sub(start), err)
	if err != nil {
		o.recordStageError(ctx, id, audit.StageTechnologies, err, logger)
		return nil
	}
	if saveErr := o.repo.SaveTechnologies(ctx, id, payload); saveErr != nil {
		o.recordStageError(ctx, id, audit.StageTechnologies, saveErr, logger)
		return nil
	}
	logger.Info("technology stage done", zap.Int("technologies", len(payload.Technologies)))
	return &payload
}

func (o *Orchestrator) scorePerformance(ctx context.Context, id uuid.UUID, target string, logger *zap.Logger) *audit.PerformancePayload {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.PerformanceTimeout)
	defer cancel()

	start := o.clock.Now()
	payload, err := o.scorer.Score(stageCtx, target, o.cfg.PerformanceStrategy)
	metrics.ObserveStage(string(audit.StagePerformance), o.clock.Now().Sub(start), err)
	if err != nil {
		o.recordStageError(ctx, id, audit.StagePerformance, err, logger)
		return nil
	}
	if saveErr := o.repo.SavePerformance(ctx, id, payload); saveErr != nil {
		o.recordStageError(ctx, id, audit.StagePerformance, saveErr, logger)
		return nil
	}
	logger.Info("performance stage done", zap.Int("score", payload.Score))
	return &payload
}

// generateInsights always leaves the insight slot populated: when the model
// fails for any reason the rule-based fallback report is stored instead.
func (o *Orchestrator) generateInsights(
	ctx context.Context,
	id uuid.UUID,
	content audit.ContentPayload,
	technologies []audit.Technology,
	performance audit.PerformancePayload,
	logger *zap.Logger,
) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.InsightsTimeout)
	defer cancel()

	start := o.clock.Now()
	payload, err := o.insights.Generate(stageCtx, content, technologies, performance)
	metrics.ObserveStage(string(audit.StageInsights), o.clock.Now().Sub(start), err)
	if err != nil {
		logger.Warn("insight generation failed, using rule-based report",
			zap.Error(err), zap.Bool("rate_limited", audit.IsRateLimit(err)))
		payload = buildFallback(content, technologies, performance, err)
		metrics.ObserveFallback()
	} else {
		logger.Info("insight stage done", zap.Int("overall_score", payload.OverallScore))
	}

	if saveErr := o.repo.SaveInsights(ctx, id, payload); saveErr != nil {
		o.recordStageError(ctx, id, audit.StageInsights, saveErr, logger)
	}
}

func (o *Orchestrator) recordStageError(ctx context.Context, id uuid.UUID, stage audit.Stage, cause error, logger *zap.Logger) {
	logger.Warn("stage failed", zap.Error(&audit.StageError{Stage: stage, Err: cause}))
	if err := o.repo.SaveStageError(ctx, id, stage, cause.Error()); err != nil {
		logger.Error("save stage error", zap.String("stage", string(stage)), zap.Error(err))
	}
}

func (o *Orchestrator) complete(ctx context.Context, id uuid.UUID, target string, logger *zap.Logger) error {
	now := o.clock.Now()
	if err := o.repo.Complete(ctx, id, now); err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	metrics.ObserveRun(string(audit.StatusCompleted))
	logger.Info("analysis run completed")
	o.publishCompletion(ctx, CompletionEvent{
		AnalysisID:  id.String(),
		Status:      string(audit.StatusCompleted),
		TargetURL:   target,
		CompletedAt: now,
	}, logger)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, target, message string, logger *zap.Logger) error {
	now := o.clock.Now()
	if err := o.repo.Fail(ctx, id, message, now); err != nil {
		return fmt.Errorf("fail record: %w", err)
	}
	metrics.ObserveRun(string(audit.StatusError))
	logger.Warn("analysis run errored", zap.String("message", message))
	o.publishCompletion(ctx, CompletionEvent{
		AnalysisID:  id.String(),
		Status:      string(audit.StatusError),
		TargetURL:   target,
		CompletedAt: now,
	}, logger)
	return nil
}

func (o *Orchestrator) publishCompletion(ctx context.Context, event CompletionEvent, logger *zap.Logger) {
	if o.publisher == nil || o.cfg.CompletionTopic == "" {
		return
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.CompletionTopic, event); err != nil {
		logger.Warn("publish completion event", zap.Error(err))
	}
}
