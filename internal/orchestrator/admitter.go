package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"postaty/internal/models"
	"postaty/internal/pkg/errors"
	"postaty/internal/pkg/logger"
	"postaty/internal/ports"
)

// Admitter validates a render submission, reserves its credit cost and
// creates the job record. It runs in the API process; everything after
// admission belongs to the worker.
type Admitter struct {
	jobs   ports.JobStore
	ledger ports.CreditLedger
	queue  ports.JobQueue
	log    *logger.Logger
}

func NewAdmitter(jobs ports.JobStore, ledger ports.CreditLedger, queue ports.JobQueue, log *logger.Logger) *Admitter {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Admitter{
		jobs:   jobs,
		ledger: ledger,
		queue:  queue,
		log:    log.WithComponent("admitter"),
	}
}

// Admit performs the full admission sequence. Validation and balance
// rejections happen before any side effect; once the reserve lands, exactly
// one queued job exists for it.
func (a *Admitter) Admit(ctx context.Context, ownerID string, spec models.RenderSpec) (*models.RenderJob, error) {
	log := a.log.FromContext(ctx)

	if ownerID == "" {
		return nil, errors.New(errors.CodeUnauthorized, "missing owner identity")
	}
	if field, msg, ok := spec.Validate(); !ok {
		return nil, errors.InvalidSpec(field, msg)
	}

	cost := spec.Cost()
	jobID := "job_" + uuid.NewString()
	log = log.WithJobID(jobID)

	if err := a.ledger.Reserve(ctx, ownerID, jobID, cost); err != nil {
		return nil, err
	}

	job := &models.RenderJob{
		ID:        jobID,
		OwnerID:   ownerID,
		Spec:      spec,
		Status:    models.JobStatusQueued,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
	}

	if err := a.jobs.Create(ctx, job); err != nil {
		// The hold must not dangle without a job behind it.
		if refundErr := a.ledger.Refund(ctx, jobID); refundErr != nil {
			log.Error("failed to release reservation for unrecorded job",
				"error", refundErr.Error(),
			)
		}
		return nil, errors.Wrap(err, "job.admit", "failed to create job record")
	}

	if err := a.queue.Push(ctx, jobID); err != nil {
		// The job row exists; worker startup recovery will pick it up even
		// if the queue push is lost.
		log.Warn("job admitted but queue push failed, relying on recovery",
			"error", err.Error(),
		)
	}

	log.Info("job admitted",
		"owner_id", ownerID,
		"cost", cost,
		"output_kind", spec.OutputKind,
		"frames", spec.FrameCount(),
	)
	return job, nil
}
