package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"postaty/internal/httpapi"
	"postaty/internal/models"
	"postaty/internal/orchestrator"
	apperrors "postaty/internal/pkg/errors"
	"postaty/internal/pkg/logger"
	"postaty/internal/ports"
)

// ---- fakes ----

type stubStore struct {
	mu   sync.Mutex
	jobs map[string]*models.RenderJob
}

func newStubStore() *stubStore {
	return &stubStore{jobs: make(map[string]*models.RenderJob)}
}

func (s *stubStore) put(job *models.RenderJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *stubStore) Create(_ context.Context, job *models.RenderJob) error {
	cp := *job
	s.put(&cp)
	return nil
}

func (s *stubStore) Get(_ context.Context, jobID string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NotFound("job", jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *stubStore) GetOwned(ctx context.Context, ownerID, jobID string) (*models.RenderJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, apperrors.NotFound("job", jobID)
	}
	return job, nil
}

func (s *stubStore) ListByOwner(_ context.Context, ownerID string, status models.JobStatus, limit int) ([]models.RenderJob, error) {
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

func (s *stubStore) ListUnsettled(context.Context) ([]string, error) { return nil, nil }

func (s *stubStore) MarkDispatched(context.Context, string, string, string, int) error { return nil }
func (s *stubStore) MarkRendering(context.Context, string) error                       { return nil }
func (s *stubStore) UpdateProgress(context.Context, string, float64) error             { return nil }
func (s *stubStore) MarkFinalizing(context.Context, string, string) error              { return nil }
func (s *stubStore) MarkComplete(context.Context, string, string) (bool, error)        { return false, nil }
func (s *stubStore) MarkFailed(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (s *stubStore) MarkCancelled(context.Context, string) (bool, error) { return false, nil }
func (s *stubStore) MarkSettled(context.Context, string) error           { return nil }

func (s *stubStore) RequestCancel(_ context.Context, ownerID, jobID string) error {
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

type stubLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string][]models.LedgerEntry
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		balances: make(map[string]int64),
		entries:  make(map[string][]models.LedgerEntry),
	}
}

func (l *stubLedger) Reserve(_ context.Context, userID, jobID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return apperrors.InsufficientCredits(l.balances[userID], amount)
	}
	l.balances[userID] -= amount
	l.entries[userID] = append(l.entries[userID], models.LedgerEntry{
		ID: fmt.Sprintf("led_%d", len(l.entries[userID])), UserID: userID, JobID: jobID,
		Delta: -amount, Reason: models.LedgerReserve, CreatedAt: time.Now(),
	})
	return nil
}

func (l *stubLedger) Commit(context.Context, string) error { return nil }
func (l *stubLedger) Refund(context.Context, string) error { return nil }

func (l *stubLedger) Grant(_ context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount <= 0 {
		return apperrors.Validationf("grant amount must be positive, got %d", amount)
	}
	l.balances[userID] += amount
	l.entries[userID] = append(l.entries[userID], models.LedgerEntry{
		ID: fmt.Sprintf("led_%d", len(l.entries[userID])), UserID: userID,
		Delta: amount, Reason: models.LedgerGrant, CreatedAt: time.Now(),
	})
	return nil
}

func (l *stubLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *stubLedger) Entries(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries[userID]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubSink struct {
	mu    sync.Mutex
	items []models.Notification
}

func (s *stubSink) Append(_ context.Context, userID, jobID string, kind models.NotificationKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, models.Notification{
		ID: fmt.Sprintf("ntf_%d", len(s.items)), UserID: userID, JobID: jobID,
		Kind: kind, CreatedAt: time.Now(),
	})
	return nil
}

func (s *stubSink) List(_ context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
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

func (s *stubSink) MarkRead(_ context.Context, userID, notificationID string) error {
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

type stubQueue struct{}

func (stubQueue) Push(context.Context, string) error { return nil }
func (stubQueue) Pop(context.Context) (string, error) {
	return "", nil
}

type stubStorage struct {
	objects map[string][]byte
}

func (s *stubStorage) Provider() string { return "stub" }

func (s *stubStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	s.objects[in.ObjectKey] = data
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(data))}, nil
}

func (s *stubStorage) GetObject(_ context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, "", 0, fmt.Errorf("object not found: %s", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), "video/mp4", int64(len(data)), nil
}

func (s *stubStorage) DeleteObject(_ context.Context, objectKey string) error {
	delete(s.objects, objectKey)
	return nil
}

func (s *stubStorage) PublicURL(_ context.Context, objectKey string) (string, error) {
	return "https://cdn.test/" + objectKey, nil
}

// ---- harness ----

type apiEnv struct {
	store   *stubStore
	ledger  *stubLedger
	sink    *stubSink
	storage *stubStorage
	srv     *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	log := logger.New(logger.Config{Level: "error", Format: "text", Output: io.Discard})

	env := &apiEnv{
		store:   newStubStore(),
		ledger:  newStubLedger(),
		sink:    &stubSink{},
		storage: &stubStorage{objects: make(map[string][]byte)},
	}

	admitter := orchestrator.NewAdmitter(env.store, env.ledger, stubQueue{}, log)
	router := httpapi.NewRouter(httpapi.Deps{
		SP:       env.storage,
		Admitter: admitter,
		Jobs:     env.store,
		Ledger:   env.ledger,
		Sink:     env.sink,
		Log:      log,
	})

	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (env *apiEnv) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func validSpecBody() map[string]any {
	return map[string]any{
		"source_asset_url": "https://cdn.example.com/poster/p1.json",
		"output_kind":      "reel",
		"duration_seconds": 30,
		"fps":              30,
		"width":            1080,
		"height":           608,
	}
}

// ---- tests ----

func TestPostJob(t *testing.T) {
	env := newAPIEnv(t)
	_ = env.ledger.Grant(context.Background(), "usr_1", 10)

	res := env.do(t, "POST", "/jobs", "usr_1", validSpecBody())
	if res.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}

	var out struct {
		Job struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Cost   int64  `json:"cost"`
		} `json:"job"`
	}
	decodeBody(t, res, &out)

	if !strings.HasPrefix(out.Job.ID, "job_") {
		t.Errorf("expected job_ id prefix, got %s", out.Job.ID)
	}
	if out.Job.Status != "queued" {
		t.Errorf("expected queued, got %s", out.Job.Status)
	}
	if out.Job.Cost != 2 {
		t.Errorf("expected cost 2, got %d", out.Job.Cost)
	}

	bal, _ := env.ledger.Balance(context.Background(), "usr_1")
	if bal != 8 {
		t.Errorf("expected balance 8 after reserve, got %d", bal)
	}
}

func TestPostJobRequiresIdentity(t *testing.T) {
	env := newAPIEnv(t)
	res := env.do(t, "POST", "/jobs", "", validSpecBody())
	defer res.Body.Close()
	if res.StatusCode != 401 {
		t.Errorf("expected 401, got %d", res.StatusCode)
	}
}

func TestPostJobInvalidSpec(t *testing.T) {
	env := newAPIEnv(t)
	_ = env.ledger.Grant(context.Background(), "usr_1", 10)

	body := validSpecBody()
	body["output_kind"] = "billboard"

	res := env.do(t, "POST", "/jobs", "usr_1", body)
	if res.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}

	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, res, &out)
	if out.Error.Code != "INVALID_SPEC" {
		t.Errorf("expected INVALID_SPEC, got %s", out.Error.Code)
	}
}

func TestPostJobInsufficientCredits(t *testing.T) {
	env := newAPIEnv(t)
	_ = env.ledger.Grant(context.Background(), "usr_1", 1)

	res := env.do(t, "POST", "/jobs", "usr_1", validSpecBody())
	defer res.Body.Close()
	if res.StatusCode != 402 {
		t.Errorf("expected 402, got %d", res.StatusCode)
	}
}

func TestGetJobIsOwnerScoped(t *testing.T) {
	env := newAPIEnv(t)
	env.store.put(&models.RenderJob{
		ID: "job_a", OwnerID: "usr_1", Status: models.JobStatusRendering,
		Progress: 0.5, CreatedAt: time.Now(),
	})

	res := env.do(t, "GET", "/jobs/job_a", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Errorf("owner read: expected 200, got %d", res.StatusCode)
	}

	res = env.do(t, "GET", "/jobs/job_a", "usr_2", nil)
	res.Body.Close()
	if res.StatusCode != 404 {
		t.Errorf("stranger read: expected 404, got %d", res.StatusCode)
	}

	res = env.do(t, "GET", "/jobs/job_zz", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 404 {
		t.Errorf("missing job: expected 404, got %d", res.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	env := newAPIEnv(t)
	env.store.put(&models.RenderJob{
		ID: "job_a", OwnerID: "usr_1", Status: models.JobStatusRendering, CreatedAt: time.Now(),
	})
	env.store.put(&models.RenderJob{
		ID: "job_b", OwnerID: "usr_1", Status: models.JobStatusComplete, CreatedAt: time.Now(),
	})

	res := env.do(t, "POST", "/jobs/job_a/cancel", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 202 {
		t.Errorf("expected 202, got %d", res.StatusCode)
	}
	job, _ := env.store.Get(context.Background(), "job_a")
	if !job.CancelRequested {
		t.Error("expected cancel flag to be set")
	}

	// Terminal jobs cannot be cancelled.
	res = env.do(t, "POST", "/jobs/job_b/cancel", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 409 {
		t.Errorf("expected 409 for terminal job, got %d", res.StatusCode)
	}
}

func TestGetJobOutput(t *testing.T) {
	env := newAPIEnv(t)
	env.storage.objects["renders/job_a/reel.mp4"] = []byte("video-bytes")
	env.store.put(&models.RenderJob{
		ID: "job_a", OwnerID: "usr_1", Status: models.JobStatusComplete,
		OutputKey: "renders/job_a/reel.mp4", CreatedAt: time.Now(),
	})
	env.store.put(&models.RenderJob{
		ID: "job_b", OwnerID: "usr_1", Status: models.JobStatusRendering, CreatedAt: time.Now(),
	})

	res := env.do(t, "GET", "/jobs/job_a/output", "usr_1", nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if string(data) != "video-bytes" {
		t.Errorf("expected streamed bytes, got %q", data)
	}
	if ct := res.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("expected video/mp4, got %s", ct)
	}

	// Not finished yet.
	res = env.do(t, "GET", "/jobs/job_b/output", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 409 {
		t.Errorf("expected 409 for unfinished job, got %d", res.StatusCode)
	}
}

func TestCreditsEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	_ = env.ledger.Grant(context.Background(), "usr_1", 42)

	res := env.do(t, "GET", "/credits/balance", "usr_1", nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, res, &bal)
	if bal.Balance != 42 {
		t.Errorf("expected balance 42, got %d", bal.Balance)
	}

	res = env.do(t, "GET", "/credits/ledger", "usr_1", nil)
	var led struct {
		Entries []models.LedgerEntry `json:"entries"`
	}
	decodeBody(t, res, &led)
	if len(led.Entries) != 1 || led.Entries[0].Reason != models.LedgerGrant {
		t.Errorf("expected a single grant entry, got %+v", led.Entries)
	}
}

func TestGrantCredits(t *testing.T) {
	env := newAPIEnv(t)
	t.Setenv("ADMIN_TOKEN", "sekrit")

	body := map[string]any{"user_id": "usr_1", "amount": 25}
	data, _ := json.Marshal(body)

	req, _ := http.NewRequest("POST", env.srv.URL+"/credits/grant", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "sekrit")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, res, &out)
	if res.StatusCode != 200 || out.Balance != 25 {
		t.Errorf("expected 200 with balance 25, got %d / %d", res.StatusCode, out.Balance)
	}

	// Wrong token is rejected.
	req, _ = http.NewRequest("POST", env.srv.URL+"/credits/grant", bytes.NewReader(data))
	req.Header.Set("X-Admin-Token", "wrong")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Errorf("expected 403 for bad token, got %d", res.StatusCode)
	}
}

func TestNotifications(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	_ = env.sink.Append(ctx, "usr_1", "job_a", models.NotificationRenderComplete)
	_ = env.sink.Append(ctx, "usr_1", "job_b", models.NotificationRenderFailed)

	res := env.do(t, "GET", "/notifications", "usr_1", nil)
	var out struct {
		Notifications []models.Notification `json:"notifications"`
	}
	decodeBody(t, res, &out)
	if len(out.Notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(out.Notifications))
	}

	id := out.Notifications[0].ID
	res = env.do(t, "POST", "/notifications/"+id+"/read", "usr_1", nil)
	res.Body.Close()
	if res.StatusCode != 204 {
		t.Errorf("expected 204, got %d", res.StatusCode)
	}

	res = env.do(t, "GET", "/notifications?unread=true", "usr_1", nil)
	decodeBody(t, res, &out)
	if len(out.Notifications) != 1 {
		t.Errorf("expected 1 unread notification, got %d", len(out.Notifications))
	}

	// Reading someone else's notification fails.
	res = env.do(t, "POST", "/notifications/"+out.Notifications[0].ID+"/read", "usr_2", nil)
	res.Body.Close()
	if res.StatusCode != 404 {
		t.Errorf("expected 404, got %d", res.StatusCode)
	}
}
