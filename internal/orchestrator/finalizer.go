package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"postaty/internal/models"
	"postaty/internal/pkg/errors"
	"postaty/internal/ports"
)

// finalize commits the rendered artifact from the shared scratch directory
// to durable storage and marks the job complete. The storage write is keyed
// by the job's output key, so a repeated finalize after a crash overwrites
// the same object instead of duplicating it.
func (o *Orchestrator) finalize(ctx context.Context, job *models.RenderJob) error {
	log := o.log.FromContext(ctx)

	if job.OutputKey == "" {
		return errors.New(errors.CodeStorageError, "finalizing job has no output key")
	}

	localPath := filepath.Join(o.cfg.RenderRoot, filepath.FromSlash(job.OutputKey))

	attempts := o.cfg.StorageRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		size, err := o.commitOutput(ctx, job, localPath)
		if err == nil {
			url, err := o.sp.PublicURL(ctx, job.OutputKey)
			if err != nil {
				lastErr = err
			} else {
				won, err := o.jobs.MarkComplete(ctx, job.ID, url)
				if err != nil {
					return errors.Wrap(err, "job.finalize", "failed to mark complete")
				}
				if won {
					job.Status = models.JobStatusComplete
					job.OutputURL = url
					log.Info("job complete",
						"output_key", job.OutputKey,
						"size_bytes", size,
						"provider", o.sp.Provider(),
					)
				} else if fresh, err := o.jobs.Get(ctx, job.ID); err == nil {
					*job = *fresh
				}
				return nil
			}
		} else {
			lastErr = err
		}

		log.Warn("storage commit failed",
			"attempt", attempt,
			"of", attempts,
			"error", lastErr.Error(),
		)
		if attempt < attempts {
			sleepCtx(ctx, o.cfg.StorageBackoff)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	return errors.StorageError(lastErr, attempts)
}

// commitOutput streams one artifact file into the storage provider and
// returns its size.
func (o *Orchestrator) commitOutput(ctx context.Context, job *models.RenderJob, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, errors.Wrap(err, "job.finalize", "rendered artifact missing from scratch dir")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Size() == 0 {
		return 0, errors.New(errors.CodeStorageError, "rendered artifact is empty")
	}

	out, err := o.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   job.OutputKey,
		ContentType: "video/mp4",
		Reader:      f,
		Size:        fi.Size(),
	})
	if err != nil {
		return 0, err
	}
	return out.Size, nil
}
