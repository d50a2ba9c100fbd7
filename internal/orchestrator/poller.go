package orchestrator

import (
	"context"
	"time"

	"postaty/internal/models"
	"postaty/internal/pkg/errors"
	"postaty/internal/ports"
)

// pollUntilDone polls the fleet at a fixed interval until the render
// finishes, fails fatally, exhausts the consecutive-failure budget, hits
// the overall render deadline, or the owner cancels. Progress only ever
// moves forward; a fleet report lower than what we already persisted is
// logged and ignored.
func (o *Orchestrator) pollUntilDone(ctx context.Context, job *models.RenderJob) error {
	log := o.log.FromContext(ctx)

	deadline := time.Now().Add(o.cfg.RenderDeadline)
	if job.DispatchedAt != nil {
		deadline = job.DispatchedAt.Add(o.cfg.RenderDeadline)
	}

	d := ports.Dispatch{
		TrackingHandle:  job.TrackingHandle,
		ResourceLocator: job.ResourceLocator,
	}

	consecutiveFailures := 0

	for {
		sleepCtx(ctx, o.cfg.PollInterval)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Refresca el flag de cancelación antes de cada ciclo.
		fresh, err := o.jobs.Get(ctx, job.ID)
		if err == nil {
			if fresh.CancelRequested {
				return errCancelled
			}
			if fresh.Status.IsTerminal() {
				*job = *fresh
				return nil
			}
		}

		if time.Now().After(deadline) {
			return errors.RenderTimeout(o.cfg.RenderDeadline.String())
		}

		pollCtx, cancel := context.WithTimeout(ctx, o.cfg.FleetCallTimeout)
		st, err := o.fleet.Poll(pollCtx, d)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveFailures++
			log.Warn("poll failed",
				"consecutive", consecutiveFailures,
				"budget", o.cfg.PollFailureBudget,
				"error", err.Error(),
			)
			if consecutiveFailures >= o.cfg.PollFailureBudget {
				return errors.PollTimeout(consecutiveFailures)
			}
			continue
		}
		consecutiveFailures = 0

		if st.FatalError != "" {
			return errors.RenderFailed(st.FatalError)
		}

		if st.Progress < job.Progress {
			// Regression reports happen when fleet nodes restart; keep the
			// high-water mark.
			log.Warn("out-of-order progress report ignored",
				"reported", st.Progress,
				"current", job.Progress,
			)
		} else if st.Progress > job.Progress {
			job.Progress = clampProgress(st.Progress)
			if err := o.jobs.UpdateProgress(ctx, job.ID, job.Progress); err != nil {
				log.Warn("progress update failed", "error", err.Error())
			}
		}

		if st.Done {
			// Fleets that omit the key wrote to the one we assigned at
			// dispatch.
			outputKey := st.OutputKey
			if outputKey == "" {
				outputKey = outputKeyFor(job)
			}
			if err := o.jobs.MarkFinalizing(ctx, job.ID, outputKey); err != nil {
				return errors.Wrap(err, "job.poll", "failed to mark finalizing")
			}
			job.Status = models.JobStatusFinalizing
			job.OutputKey = outputKey
			job.Progress = 1

			log.Info("render reported done", "output_key", outputKey)
			return nil
		}
	}
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
