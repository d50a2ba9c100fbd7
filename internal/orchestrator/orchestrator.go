package orchestrator

import (
	"context"
	"sync"
	"time"

	"postaty/internal/models"
	"postaty/internal/pkg/errors"
	"postaty/internal/pkg/logger"
	"postaty/internal/ports"
)

// Deps bundles everything the orchestrator needs. All collaborators are
// ports so tests can swap in fakes.
type Deps struct {
	Jobs          ports.JobStore
	Ledger        ports.CreditLedger
	Notifications ports.NotificationSink
	Fleet         ports.FleetClient
	Storage       ports.StorageProvider
	Queue         ports.JobQueue
	Config        Config
	Log           *logger.Logger
}

// Orchestrator drives every admitted render job through the state machine:
// dispatch, progress aggregation, finalization, ledger reconciliation and
// notification emission. Each job is advanced by exactly one runner
// goroutine at a time; the active registry prevents double tracking.
type Orchestrator struct {
	jobs   ports.JobStore
	ledger ports.CreditLedger
	sink   ports.NotificationSink
	fleet  ports.FleetClient
	sp     ports.StorageProvider
	queue  ports.JobQueue
	cfg    Config
	log    *logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Orchestrator{
		jobs:   d.Jobs,
		ledger: d.Ledger,
		sink:   d.Notifications,
		fleet:  d.Fleet,
		sp:     d.Storage,
		queue:  d.Queue,
		cfg:    d.Config,
		log:    log.WithComponent("orchestrator"),
	}
}

// Run blocks popping admitted job ids from the queue and tracking each one
// until the context is cancelled. In-flight runners are waited for before
// returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator started", "queue", o.cfg.QueueName)

	if err := o.Recover(ctx); err != nil {
		o.log.Error("startup recovery failed", "error", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopping, waiting for active jobs")
			o.wg.Wait()
			return ctx.Err()
		default:
		}

		jobID, err := o.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				o.wg.Wait()
				return ctx.Err()
			}
			o.log.Warn("queue pop error, retrying", "error", err.Error())
			sleepCtx(ctx, time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		o.Track(ctx, jobID)
	}
}

// Recover re-tracks every job that still needs work: non-terminal jobs and
// terminal jobs whose settlement was not confirmed before a restart.
func (o *Orchestrator) Recover(ctx context.Context) error {
	ids, err := o.jobs.ListUnsettled(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		o.log.Info("recovered unsettled jobs", "count", len(ids))
	}
	for _, id := range ids {
		o.Track(ctx, id)
	}
	return nil
}

// Track starts a runner for the job unless one is already active. Returns
// whether a new runner was started.
func (o *Orchestrator) Track(ctx context.Context, jobID string) bool {
	o.mu.Lock()
	if _, dup := o.active[jobID]; dup {
		o.mu.Unlock()
		return false
	}
	if o.active == nil {
		o.active = make(map[string]struct{})
	}
	o.active[jobID] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, jobID)
			o.mu.Unlock()
		}()
		o.runJob(logger.ContextWithJobID(ctx, jobID), jobID)
	}()
	return true
}

// Wait blocks until all active runners finish. Used by tests and shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// errCancelled flows out of the poll loop when the cooperative cancel flag
// is observed.
var errCancelled = errors.New(errors.CodeConflict, "job cancelled by owner")

// runJob advances one job from its current status to a settled terminal
// state. It is the single writer for this job while it runs; on restart it
// resumes at whatever stage the persisted status implies.
func (o *Orchestrator) runJob(ctx context.Context, jobID string) {
	log := o.log.FromContext(ctx)

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		log.Error("cannot load job for tracking", "error", err.Error())
		return
	}

	start := time.Now()

	if !job.Status.IsTerminal() {
		if job.CancelRequested {
			o.cancel(ctx, job)
		} else if err := o.advance(ctx, job); err != nil {
			if err == errCancelled {
				o.cancel(ctx, job)
			} else if ctx.Err() != nil {
				// Shutdown mid-flight: leave the job for recovery.
				log.Info("tracking interrupted by shutdown", "status", job.Status.String())
				return
			} else {
				o.fail(ctx, job, err)
			}
		}
	}

	o.settle(ctx, job)

	log.Info("job settled",
		"status", job.Status.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// advance walks the non-terminal stages in order, entering at the job's
// persisted status.
func (o *Orchestrator) advance(ctx context.Context, job *models.RenderJob) error {
	if job.Status == models.JobStatusQueued {
		if err := o.dispatch(ctx, job); err != nil {
			return err
		}
	}

	if job.Status == models.JobStatusDispatched {
		if err := o.jobs.MarkRendering(ctx, job.ID); err != nil {
			return errors.Wrap(err, "job.track", "failed to mark rendering")
		}
		job.Status = models.JobStatusRendering
	}

	if job.Status == models.JobStatusRendering {
		if err := o.pollUntilDone(ctx, job); err != nil {
			return err
		}
	}

	if job.Status == models.JobStatusFinalizing {
		if err := o.finalize(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

// fail records a terminal failure. The conditional terminal update means a
// replayed failure after crash recovery cannot overwrite an existing
// outcome.
func (o *Orchestrator) fail(ctx context.Context, job *models.RenderJob, cause error) {
	log := o.log.FromContext(ctx)

	code := errors.GetCode(cause)
	won, err := o.jobs.MarkFailed(ctx, job.ID, string(code), cause.Error())
	if err != nil {
		log.Error("failed to record job failure", "error", err.Error())
		return
	}

	if won {
		job.Status = models.JobStatusFailed
		job.FailureCode = string(code)
		job.ErrorText = cause.Error()
		log.Error("job failed", "code", string(code), "error", cause.Error())
	} else if fresh, err := o.jobs.Get(ctx, job.ID); err == nil {
		// Someone already terminated this job; settle against the recorded
		// outcome instead.
		*job = *fresh
	}
}

func (o *Orchestrator) cancel(ctx context.Context, job *models.RenderJob) {
	log := o.log.FromContext(ctx)

	won, err := o.jobs.MarkCancelled(ctx, job.ID)
	if err != nil {
		log.Error("failed to record cancellation", "error", err.Error())
		return
	}

	if won {
		job.Status = models.JobStatusCancelled
		log.Info("job cancelled")
	} else if fresh, err := o.jobs.Get(ctx, job.ID); err == nil {
		*job = *fresh
	}
}

// settle runs ledger reconciliation and notification emission for a
// terminal job, in that order. Every step is idempotent, so settling again
// after a duplicate delivery or crash replay has no extra effect.
func (o *Orchestrator) settle(ctx context.Context, job *models.RenderJob) {
	if !job.Status.IsTerminal() {
		return
	}
	log := o.log.FromContext(ctx)

	if err := o.reconcile(ctx, job); err != nil {
		log.Error("ledger reconciliation failed, leaving job unsettled", "error", err.Error())
		return
	}
	if err := o.emit(ctx, job); err != nil {
		log.Error("notification emission failed, leaving job unsettled", "error", err.Error())
		return
	}

	if err := o.jobs.MarkSettled(ctx, job.ID); err != nil {
		log.Warn("could not persist settlement marker", "error", err.Error())
	}
}

// reconcile commits the reserve on success and refunds it otherwise.
// Exactly one of commit/refund ever lands per job; the ledger enforces it.
func (o *Orchestrator) reconcile(ctx context.Context, job *models.RenderJob) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if job.Status == models.JobStatusComplete {
			err = o.ledger.Commit(ctx, job.ID)
		} else {
			err = o.ledger.Refund(ctx, job.ID)
		}
		if err == nil {
			return nil
		}
		sleepCtx(ctx, o.cfg.StorageBackoff)
	}
	return err
}

// emit writes the terminal notification. Cancellation is owner-initiated
// and produces none.
func (o *Orchestrator) emit(ctx context.Context, job *models.RenderJob) error {
	switch job.Status {
	case models.JobStatusComplete:
		return o.sink.Append(ctx, job.OwnerID, job.ID, models.NotificationRenderComplete)
	case models.JobStatusFailed:
		return o.sink.Append(ctx, job.OwnerID, job.ID, models.NotificationRenderFailed)
	default:
		return nil
	}
}

// sleepCtx waits for d or until the context ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
