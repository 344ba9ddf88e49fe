package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultWorkers    = 4
	notStartedMessage = "matching not started"
	statusSaveTimeout = 5 * time.Second
)

var ErrRunnerClosed = errors.New("matching runner is closed")

// StatusStore keeps the latest PipelineRun snapshot per request.
type StatusStore interface {
	Save(ctx context.Context, run domain.PipelineRun) error
	Get(ctx context.Context, requestID int64) (domain.PipelineRun, bool, error)
}

// StatusView is what pollers see. Matches is only set once the run is done.
type StatusView struct {
	RequestID   int64           `json:"request_id"`
	RunID       string          `json:"run_id,omitempty"`
	Phase       domain.Phase    `json:"phase"`
	Percent     int             `json:"percent"`
	Message     string          `json:"message"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Matches     []*domain.Match `json:"matches,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// Runner starts pipeline runs in the background, bounds how many execute at
// once and keeps their status queryable.
type Runner struct {
	pipeline *Pipeline
	status   StatusStore
	sem      *semaphore.Weighted
	logger   *zap.Logger

	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[int64]map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(pipeline *Pipeline, status StatusStore, workers int64, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		pipeline: pipeline,
		status:   status,
		sem:      semaphore.NewWeighted(workers),
		logger:   logger.Named("runner"),
		base:     base,
		stop:     stop,
		active:   make(map[int64]map[string]context.CancelFunc),
	}
}

// Start queues a matching run for the request and returns its handle. The
// handle is also stored on the request. Starting again while a run is in
// flight is allowed; both runs write idempotently.
func (r *Runner) Start(ctx context.Context, requestID int64) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(r.base)
	if r.active[requestID] == nil {
		r.active[requestID] = make(map[string]context.CancelFunc)
	}
	r.active[requestID][runID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	run := domain.NewPipelineRun(requestID, runID, r.pipeline.now())
	if err := r.status.Save(ctx, run); err != nil {
		r.finish(requestID, runID)
		cancel()
		r.wg.Done()
		return "", err
	}

	if err := r.pipeline.requests.SetTaskHandle(ctx, requestID, runID); err != nil {
		r.logger.Warn("failed to store task handle",
			zap.Int64("request_id", requestID),
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}

	go r.execute(runCtx, cancel, run)
	return runID, nil
}

func (r *Runner) execute(ctx context.Context, cancel context.CancelFunc, run domain.PipelineRun) {
	defer r.wg.Done()
	defer r.finish(run.RequestID, run.RunID)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.save(ctx, run.Fail(StagePreflight, 0, cancelledMessage, r.pipeline.now()))
		return
	}
	defer r.sem.Release(1)

	r.pipeline.Run(ctx, run, func(snapshot domain.PipelineRun) {
		r.save(ctx, snapshot)
	})
}

// save stores a snapshot even after the run's context was cancelled, so the
// terminal state is always recorded.
func (r *Runner) save(ctx context.Context, run domain.PipelineRun) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusSaveTimeout)
	defer cancel()
	if err := r.status.Save(saveCtx, run); err != nil {
		r.logger.Error("failed to save pipeline status",
			zap.Int64("request_id", run.RequestID),
			zap.String("run_id", run.RunID),
			zap.String("phase", string(run.Phase)),
			zap.Error(err),
		)
	}
}

func (r *Runner) finish(requestID int64, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active[requestID], runID)
	if len(r.active[requestID]) == 0 {
		delete(r.active, requestID)
	}
}

// Cancel stops every in-flight run of the request and reports whether there
// was one. A cancelled run ends in the failed phase.
func (r *Runner) Cancel(requestID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs := r.active[requestID]
	for _, cancel := range runs {
		cancel()
	}
	return len(runs) > 0
}

// Status returns the latest known progress of the request's matching run.
// A request that never ran reports the pending phase.
func (r *Runner) Status(ctx context.Context, requestID int64) (StatusView, error) {
	run, ok, err := r.status.Get(ctx, requestID)
	if err != nil {
		return StatusView{}, err
	}
	if !ok {
		return StatusView{
			RequestID: requestID,
			Phase:     domain.PhasePending,
			Message:   notStartedMessage,
		}, nil
	}

	updated := run.UpdatedAt
	view := StatusView{
		RequestID:   requestID,
		RunID:       run.RunID,
		Phase:       run.Phase,
		Percent:     run.Progress,
		Message:     run.Message,
		FailedStage: run.FailedStage,
		UpdatedAt:   &updated,
	}
	if run.Phase != domain.PhaseDone || run.Result == nil {
		return view, nil
	}

	matches, err := r.pipeline.matches.ListByRequest(ctx, requestID)
	if err != nil {
		r.logger.Warn("failed to load matches for status",
			zap.Int64("request_id", requestID),
			zap.Error(err),
		)
		return view, nil
	}
	ids := make(map[int64]struct{}, len(run.Result.MatchIDs))
	for _, id := range run.Result.MatchIDs {
		ids[id] = struct{}{}
	}
	view.Matches = make([]*domain.Match, 0, len(ids))
	for _, m := range matches {
		if _, ok := ids[m.ID]; ok {
			view.Matches = append(view.Matches, m)
		}
	}
	return view, nil
}

// Matches lists every match recorded for the request across runs.
func (r *Runner) Matches(ctx context.Context, requestID int64) ([]*domain.Match, error) {
	if _, err := r.pipeline.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return r.pipeline.matches.ListByRequest(ctx, requestID)
}

// Close stops accepting runs and waits for in-flight ones. When ctx expires
// first the remaining runs are cancelled and Close waits for them to record
// their terminal state.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		<-done
		return ctx.Err()
	}
}
