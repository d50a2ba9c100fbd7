package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"postaty/internal/models"
	apperrors "postaty/internal/pkg/errors"
	"postaty/internal/ports"
)

// fakeJobStore is an in-memory JobStore with the same conditional-win
// semantics as the Postgres implementation.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.RenderJob

	settled         map[string]bool
	progressUpdates map[string][]float64
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:            make(map[string]*models.RenderJob),
		settled:         make(map[string]bool),
		progressUpdates: make(map[string][]float64),
	}
}

func (s *fakeJobStore) Create(_ context.Context, job *models.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.ID]; dup {
		return apperrors.AlreadyExists("job", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, jobID string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *fakeJobStore) GetOwned(ctx context.Context, ownerID, jobID string) (*models.RenderJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, apperrors.NotFound("job", jobID)
	}
	return job, nil
}

func (s *fakeJobStore) ListByOwner(_ context.Context, ownerID string, status models.JobStatus, limit int) ([]models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RenderJob
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeJobStore) ListUnsettled(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() || !s.settled[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeJobStore) MarkDispatched(_ context.Context, jobID, handle, locator string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NotFound("job", jobID)
	}
	if job.Status == models.JobStatusQueued || job.Status == models.JobStatusDispatched {
		now := time.Now().UTC()
		job.Status = models.JobStatusDispatched
		job.TrackingHandle = handle
		job.ResourceLocator = locator
		job.RetryCount = retryCount
		job.DispatchedAt = &now
	}
	return nil
}

func (s *fakeJobStore) MarkRendering(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.Status == models.JobStatusDispatched {
		job.Status = models.JobStatusRendering
	}
	return nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, jobID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.Status == models.JobStatusRendering {
		job.Progress = progress
		s.progressUpdates[jobID] = append(s.progressUpdates[jobID], progress)
	}
	return nil
}

func (s *fakeJobStore) MarkFinalizing(_ context.Context, jobID, outputKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok && job.Status == models.JobStatusRendering {
		job.Status = models.JobStatusFinalizing
		job.OutputKey = outputKey
		job.Progress = 1
	}
	return nil
}

func (s *fakeJobStore) MarkComplete(_ context.Context, jobID, outputURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusComplete
	job.OutputURL = outputURL
	job.Progress = 1
	job.CompletedAt = &now
	return true, nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, jobID, failureCode, errText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.FailureCode = failureCode
	job.ErrorText = errText
	job.CompletedAt = &now
	return true, nil
}

func (s *fakeJobStore) MarkCancelled(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	return true, nil
}

func (s *fakeJobStore) MarkSettled(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[jobID] = true
	return nil
}

func (s *fakeJobStore) RequestCancel(_ context.Context, ownerID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return apperrors.NotFound("job", jobID)
	}
	if job.Status.IsTerminal() {
		return apperrors.Conflict("job already reached a terminal state")
	}
	job.CancelRequested = true
	return nil
}

func (s *fakeJobStore) status(jobID string) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		return job.Status
	}
	return ""
}

// fakeLedger mirrors the unique-index idempotence of the real ledger.
type fakeLedger struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func (l *fakeLedger) balanceLocked(userID string) int64 {
	var sum int64
	for _, e := range l.entries {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	return sum
}

func (l *fakeLedger) Reserve(_ context.Context, userID, jobID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.JobID == jobID && e.Reason == models.LedgerReserve {
			return nil
		}
	}
	if bal := l.balanceLocked(userID); bal < amount {
		return apperrors.InsufficientCredits(bal, amount)
	}
	l.entries = append(l.entries, models.LedgerEntry{
		ID: fmt.Sprintf("led_%d", len(l.entries)), UserID: userID, JobID: jobID,
		Delta: -amount, Reason: models.LedgerReserve, CreatedAt: time.Now(),
	})
	return nil
}

func (l *fakeLedger) settle(jobID string, reason models.LedgerReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var reserve *models.LedgerEntry
	for i := range l.entries {
		e := &l.entries[i]
		if e.JobID != jobID {
			continue
		}
		if e.Reason == models.LedgerCommit || e.Reason == models.LedgerRefund {
			return nil // already settled
		}
		if e.Reason == models.LedgerReserve {
			reserve = e
		}
	}
	if reserve == nil {
		return apperrors.Internalf("no reserve entry for job %s", jobID)
	}
	var delta int64
	if reason == models.LedgerRefund {
		delta = -reserve.Delta
	}
	l.entries = append(l.entries, models.LedgerEntry{
		ID: fmt.Sprintf("led_%d", len(l.entries)), UserID: reserve.UserID, JobID: jobID,
		Delta: delta, Reason: reason, CreatedAt: time.Now(),
	})
	return nil
}

func (l *fakeLedger) Commit(_ context.Context, jobID string) error {
	return l.settle(jobID, models.LedgerCommit)
}

func (l *fakeLedger) Refund(_ context.Context, jobID string) error {
	return l.settle(jobID, models.LedgerRefund)
}

func (l *fakeLedger) Grant(_ context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, models.LedgerEntry{
		ID: fmt.Sprintf("led_%d", len(l.entries)), UserID: userID,
		Delta: amount, Reason: models.LedgerGrant, CreatedAt: time.Now(),
	})
	return nil
}

func (l *fakeLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(userID), nil
}

func (l *fakeLedger) Entries(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLedger) countByReason(jobID string, reason models.LedgerReason) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.JobID == jobID && e.Reason == reason {
			n++
		}
	}
	return n
}

// fakeSink enforces (job, kind) uniqueness like the notifications table.
type fakeSink struct {
	mu    sync.Mutex
	items []models.Notification
}

func (s *fakeSink) Append(_ context.Context, userID, jobID string, kind models.NotificationKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items {
		if n.JobID == jobID && n.Kind == kind {
			return nil
		}
	}
	s.items = append(s.items, models.Notification{
		ID: fmt.Sprintf("ntf_%d", len(s.items)), UserID: userID, JobID: jobID,
		Kind: kind, CreatedAt: time.Now(),
	})
	return nil
}

func (s *fakeSink) List(_ context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSink) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == notificationID && s.items[i].UserID == userID {
			now := time.Now()
			s.items[i].ReadAt = &now
			return nil
		}
	}
	return apperrors.NotFound("notification", notificationID)
}

func (s *fakeSink) forJob(jobID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.JobID == jobID {
			out = append(out, n)
		}
	}
	return out
}

// fakeFleet replays scripted submit and poll outcomes.
type fakeFleet struct {
	mu sync.Mutex

	submitErrs []error // consumed per submit call before submitOK
	polls      []pollResult

	submitCalls int
	pollCalls   int
}

type pollResult struct {
	st  ports.PollStatus
	err error
}

func (f *fakeFleet) Submit(_ context.Context, req ports.SubmitRequest) (ports.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return ports.Dispatch{}, err
	}
	return ports.Dispatch{
		TrackingHandle:  "rnd_" + req.JobID,
		ResourceLocator: "/v1/render/rnd_" + req.JobID,
	}, nil
}

func (f *fakeFleet) Poll(_ context.Context, _ ports.Dispatch) (ports.PollStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.polls) == 0 {
		// Keep reporting the last known state forever.
		return ports.PollStatus{Progress: 0.99}, nil
	}
	next := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return next.st, next.err
}

// fakeStorage implements ports.StorageProvider in memory with an optional
// number of injected failures.
type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts int
	putCalls int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Provider() string { return "fake" }

func (s *fakeStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.failPuts > 0 {
		s.failPuts--
		return ports.PutObjectOutput{}, fmt.Errorf("storage unavailable")
	}
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	s.objects[in.ObjectKey] = data
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (s *fakeStorage) GetObject(_ context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, "", 0, fmt.Errorf("object not found: %s", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), "video/mp4", int64(len(data)), nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey)
	return nil
}

func (s *fakeStorage) PublicURL(_ context.Context, objectKey string) (string, error) {
	return "https://cdn.test/" + objectKey, nil
}

// fakeQueue is a buffered channel queue.
type fakeQueue struct {
	ch chan string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan string, 64)}
}

func (q *fakeQueue) Push(_ context.Context, jobID string) error {
	q.ch <- jobID
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return "", nil
	}
}
