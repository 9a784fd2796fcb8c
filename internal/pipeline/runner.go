package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner detaches analysis runs from the request that launched them. Each run
// gets its own context derived from the runner's base context, so an HTTP
// client disconnecting never cancels a run in flight.
type Runner struct {
	orchestrator *Orchestrator
	timeout      time.Duration
	logger       *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner constructs a Runner. The timeout bounds one whole run; zero means
// twice the orchestrator's advertised budget.
func NewRunner(orchestrator *Orchestrator, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * orchestrator.TotalBudget()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		orchestrator: orchestrator,
		timeout:      timeout,
		logger:       logger,
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// Launch starts the run for the record in the background and returns
// immediately.
func (r *Runner) Launch(id uuid.UUID) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background run panicked",
					zap.String("analysis_id", id.String()), zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
		defer cancel()

		if err := r.orchestrator.Run(ctx, id); err != nil {
			r.logger.Error("background run failed",
				zap.String("analysis_id", id.String()), zap.Error(err))
		}
	}()
}

// Shutdown cancels the base context and waits for in-flight runs, giving up
// when ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
