package orchestrator

import (
	"context"
	"fmt"

	"postaty/internal/models"
	"postaty/internal/pkg/errors"
	"postaty/internal/ports"
)

// dispatch partitions the job's frame range and submits the plan to the
// render fleet, retrying transient submit failures up to the configured
// budget. The partition plan is computed once and reused verbatim on every
// retry.
func (o *Orchestrator) dispatch(ctx context.Context, job *models.RenderJob) error {
	log := o.log.FromContext(ctx)

	frames := job.Spec.FrameCount()
	partitions := models.PartitionFrames(frames, o.cfg.ChunkFrames)

	req := ports.SubmitRequest{
		JobID:          job.ID,
		SourceAssetURL: job.Spec.SourceAssetURL,
		ImageURLs:      job.Spec.ImageURLs,
		AudioURL:       job.Spec.AudioURL,
		OutputKind:     job.Spec.OutputKind,
		FPS:            job.Spec.EffectiveFPS(),
		Params:         job.Spec.Params,
		Partitions:     partitions,
		OutputKey:      outputKeyFor(job),
	}

	attempts := o.cfg.DispatchRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		d, err := o.fleet.Submit(ctx, req)
		if err == nil {
			if err := o.jobs.MarkDispatched(ctx, job.ID, d.TrackingHandle, d.ResourceLocator, attempt-1); err != nil {
				return errors.Wrap(err, "job.dispatch", "failed to mark dispatched")
			}
			job.Status = models.JobStatusDispatched
			job.TrackingHandle = d.TrackingHandle
			job.ResourceLocator = d.ResourceLocator
			job.RetryCount = attempt - 1

			log.Info("job dispatched",
				"frames", frames,
				"partitions", len(partitions),
				"attempt", attempt,
			)
			return nil
		}

		lastErr = err
		log.Warn("fleet submit failed",
			"attempt", attempt,
			"of", attempts,
			"error", err.Error(),
		)
		if attempt < attempts {
			sleepCtx(ctx, o.cfg.DispatchBackoff)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	return errors.DispatchFailure(lastErr, attempts)
}

// outputKeyFor derives the object key the finished artifact lands under.
func outputKeyFor(job *models.RenderJob) string {
	return fmt.Sprintf("renders/%s/%s.mp4", job.ID, job.Spec.OutputKind)
}
