package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"postaty/internal/httpkit"
	"postaty/internal/models"
)

type jobView struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	Cost        int64             `json:"cost"`
	Spec        models.RenderSpec `json:"spec"`
	OutputURL   string            `json:"output_url,omitempty"`
	FailureCode string            `json:"failure_code,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func viewOf(job *models.RenderJob) jobView {
	return jobView{
		ID:          job.ID,
		Status:      job.Status.String(),
		Progress:    job.Progress,
		Cost:        job.Cost,
		Spec:        job.Spec,
		OutputURL:   job.OutputURL,
		FailureCode: job.FailureCode,
		Error:       job.ErrorText,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	var spec models.RenderSpec
	if err := httpkit.DecodeJSON(r, &spec); err != nil {
		httpkit.WriteErr(w, 400, "INVALID_SPEC", "invalid json body", nil)
		return
	}

	job, err := h.admitter.Admit(ctx, owner, spec)
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 201, map[string]any{"job": viewOf(job)})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	var status models.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := models.ParseJobStatus(raw)
		if err != nil {
			httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "unknown status filter", map[string]any{"status": raw})
			return
		}
		status = parsed
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	jobs, err := h.jobs.ListByOwner(ctx, owner, status, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]jobView, 0, len(jobs))
	for i := range jobs {
		out = append(out, viewOf(&jobs[i]))
	}
	httpkit.WriteJSON(w, 200, map[string]any{"jobs": out})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	job, err := h.jobs.GetOwned(ctx, owner, chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"job": viewOf(job)})
}

// CancelJob flags the job for cooperative cancellation. The tracking loop
// observes the flag on its next cycle; the response only acknowledges the
// request.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	jobID := chi.URLParam(r, "jobId")
	if err := h.jobs.RequestCancel(ctx, owner, jobID); err != nil {
		writeError(w, err)
		return
	}

	httpkit.WriteJSON(w, 202, map[string]any{
		"job_id":           jobID,
		"cancel_requested": true,
	})
}

// GetJobOutput streams the finished artifact from storage.
func (h *Handler) GetJobOutput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := ownerID(r)
	if owner == "" {
		httpkit.WriteErr(w, 401, "UNAUTHORIZED", "missing X-User-ID", nil)
		return
	}

	job, err := h.jobs.GetOwned(ctx, owner, chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status != models.JobStatusComplete {
		httpkit.WriteErr(w, 409, "CONFLICT", "job output is not available yet",
			map[string]any{"status": job.Status.String()})
		return
	}

	rc, ct, size, err := h.sp.GetObject(ctx, job.OutputKey)
	if err != nil {
		httpkit.WriteErr(w, 404, "OUTPUT_FILE_MISSING", "output object missing",
			map[string]any{"object_key": job.OutputKey})
		return
	}
	defer rc.Close()

	if ct == "" {
		ct = "video/mp4"
	}
	w.Header().Set("Content-Type", ct)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
}
