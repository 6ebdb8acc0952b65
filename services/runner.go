package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/utils"
)

// Status is the lifecycle state of the background scrape job.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrAlreadyRunning is returned by Start while a run is in flight.
var ErrAlreadyRunning = errors.New("scrape already running")

// JobState is the observable state of the single background job. It is
// mutated only by the Runner; observers get copies via Snapshot.
type JobState struct {
	RunID            string     `json:"run_id"`
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	Message          string     `json:"status_message"`
	StartedAt        *time.Time `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	LastRun          *time.Time `json:"last_run"`
	Error            string     `json:"error,omitempty"`
	PagesProcessed   int        `json:"pages_processed"`
	RecordsProcessed int        `json:"ads_processed"`
	RecordsAdded     int        `json:"ads_added"`
}

// Extractor yields vehicle records for one run. onRecord is invoked once per
// accepted record, never concurrently; the returned int counts the content
// growth steps performed.
type Extractor interface {
	Extract(ctx context.Context, onRecord func(*models.VehicleRecord) error) (int, error)
}

// Runner owns the run lifecycle: it guarantees single-flight execution via an
// atomic test-and-set on the state, publishes progress, and supervises
// cancellation and failure reporting. All work happens on one background
// goroutine; callers only read snapshots and issue start/cancel requests.
type Runner struct {
	extractor  Extractor
	reconciler *Reconciler
	logger     *utils.Logger

	mu        sync.Mutex
	state     JobState
	cancelRun context.CancelFunc
}

func NewRunner(extractor Extractor, reconciler *Reconciler, logger *utils.Logger) *Runner {
	return &Runner{
		extractor:  extractor,
		reconciler: reconciler,
		logger:     logger,
		state: JobState{
			Status:  StatusIdle,
			Message: "Ready",
		},
	}
}

// Start launches a run, or returns ErrAlreadyRunning if one is in flight.
// The check-and-transition is atomic, so concurrent calls race safely with
// exactly one winner.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelRun = cancel
	r.state = JobState{
		RunID:     uuid.New().String(),
		Status:    StatusRunning,
		Progress:  0,
		Message:   "Starting run...",
		StartedAt: &now,
		LastRun:   r.state.LastRun,
	}
	runID := r.state.RunID
	r.mu.Unlock()

	r.logger.Info("[runner] Run %s started", runID)
	go r.run(ctx, now)
	return nil
}

// Cancel requests cooperative cancellation. The run stops at its next
// checkpoint; in-flight work completes first, so no entity is left half
// written.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == StatusRunning && r.cancelRun != nil {
		r.state.Message = "Cancelling..."
		r.cancelRun()
	}
}

// Snapshot returns a copy of the current state without ever blocking the
// worker. Observing a terminal status acknowledges it: the state resets to
// Idle so a new run can be triggered, while last_run and error stay visible.
func (r *Runner) Snapshot() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.state
	switch r.state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		r.state.Status = StatusIdle
	}
	return snap
}

func (r *Runner) setProgress(progress int, message string) {
	r.mu.Lock()
	r.state.Progress = progress
	r.state.Message = message
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, startedAt time.Time) {
	defer func() {
		r.mu.Lock()
		if r.cancelRun != nil {
			r.cancelRun()
			r.cancelRun = nil
		}
		r.mu.Unlock()
	}()

	r.setProgress(10, "Loading listings...")

	pages, err := r.extractor.Extract(ctx, func(rec *models.VehicleRecord) error {
		out, rerr := r.reconciler.Reconcile(rec, time.Now())
		if rerr != nil {
			return rerr
		}

		r.mu.Lock()
		r.state.RecordsProcessed++
		if out.IsNew {
			r.state.RecordsAdded++
		}
		if r.state.Progress < 80 {
			r.state.Progress++
		}
		r.state.Message = fmt.Sprintf("Scraping... Ads: %d | New: %d",
			r.state.RecordsProcessed, r.state.RecordsAdded)
		r.mu.Unlock()
		return nil
	})

	r.mu.Lock()
	r.state.PagesProcessed = pages
	processed, added := r.state.RecordsProcessed, r.state.RecordsAdded
	r.mu.Unlock()

	switch {
	case err == nil:
		r.setProgress(90, "Updating availability...")
		if _, aerr := r.reconciler.FinishRun(startedAt); aerr != nil {
			r.finish(StatusFailed, fmt.Sprintf("Error: %v", aerr), aerr.Error(), false)
			return
		}
		msg := fmt.Sprintf("Completed! Pages: %d | Ads: %d | New: %d", pages, processed, added)
		r.mu.Lock()
		r.state.Progress = 100
		r.mu.Unlock()
		r.finish(StatusCompleted, msg, "", true)

	case errors.Is(err, context.Canceled):
		// Partial results stay committed; cancellation is not an error.
		r.finish(StatusCancelled, "Run cancelled", "", false)

	default:
		r.logger.Error("[runner] Run failed: %v", err)
		r.finish(StatusFailed, fmt.Sprintf("Error: %v", err), err.Error(), false)
	}
}

func (r *Runner) finish(status Status, message, errText string, completed bool) {
	now := time.Now()

	r.mu.Lock()
	r.state.Status = status
	r.state.Message = message
	r.state.Error = errText
	r.state.FinishedAt = &now
	if completed {
		r.state.LastRun = &now
	}
	runID := r.state.RunID
	r.mu.Unlock()

	r.logger.Info("[runner] Run %s finished: %s (%s)", runID, status, message)
}
