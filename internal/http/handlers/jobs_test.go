package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"reelforge/internal/domain"
	"reelforge/internal/infra"
	"reelforge/internal/middleware"
)

type stubJobs struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	failErr error
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: map[string]*domain.Job{}}
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *stubJobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) Transition(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	return job, nil
}

type stubLedger struct {
	mu       sync.Mutex
	image    int
	debitErr error
	debits   int
	refunds  int
}

func (s *stubLedger) Debit(ctx context.Context, ownerID string, kind domain.CreditKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debitErr != nil {
		return s.debitErr
	}
	if s.image <= 0 {
		return domain.ErrInsufficientCredit
	}
	s.image--
	s.debits++
	return nil
}

func (s *stubLedger) Refund(ctx context.Context, ownerID string, kind domain.CreditKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image++
	s.refunds++
	return nil
}

func (s *stubLedger) Account(ctx context.Context, ownerID string) (*domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.CreditAccount{OwnerID: ownerID, ImageCredits: s.image, ImageMax: 10}, nil
}

type stubQueue struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (s *stubQueue) Enqueue(ctx context.Context, task domain.Task) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error { return nil }
func (c *mapCache) Ping(ctx context.Context) error               { return nil }

func newTestApp(jobs *stubJobs, ledger *stubLedger, queue *stubQueue) *App {
	return &App{
		Jobs:   jobs,
		Ledger: ledger,
		Queue:  queue,
		Logger: infra.Logger(zerolog.New(io.Discard)),
	}
}

func createRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(raw))
	req.Header.Set("X-Owner-ID", "owner-1")
	return req
}

func TestJobCreateAccepted(t *testing.T) {
	jobs := newStubJobs()
	ledger := &stubLedger{image: 3}
	queue := &stubQueue{}
	app := newTestApp(jobs, ledger, queue)

	rec := httptest.NewRecorder()
	app.JobCreate(rec, createRequest(t, map[string]any{"kind": "video", "prompt": "a storefront"}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp jobCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID == "" || resp.Stage != string(domain.StageAwaitingImage) {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.RemainingImageCredits != 2 {
		t.Fatalf("remaining = %d", resp.RemainingImageCredits)
	}
	job, err := jobs.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if !job.ImageCreditDebited {
		t.Fatal("admission debit flag not recorded")
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Type != domain.TaskImageGenerate {
		t.Fatalf("tasks = %+v", queue.tasks)
	}
	if queue.tasks[0].JobID != resp.JobID {
		t.Fatalf("task job id = %q", queue.tasks[0].JobID)
	}
}

func TestJobCreateDefaultsFromContext(t *testing.T) {
	jobs := newStubJobs()
	app := newTestApp(jobs, &stubLedger{image: 1}, &stubQueue{})

	req := createRequest(t, map[string]any{"prompt": "a storefront"})
	req.Header.Set("Accept-Language", "id-ID")

	router := chi.NewRouter()
	router.Use(middleware.I18N("en", nil))
	router.Post("/v1/jobs", app.JobCreate)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp jobCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	job, _ := jobs.Get(context.Background(), resp.JobID)
	if job.Kind != domain.JobKindVideo {
		t.Fatalf("kind = %s", job.Kind)
	}
	if job.Params.AspectRatio != "9:16" {
		t.Fatalf("aspect = %s", job.Params.AspectRatio)
	}
	if job.Params.Locale != "id" {
		t.Fatalf("locale = %q", job.Params.Locale)
	}
}

func TestJobCreateInsufficientCredit(t *testing.T) {
	jobs := newStubJobs()
	queue := &stubQueue{}
	app := newTestApp(jobs, &stubLedger{image: 0}, queue)

	rec := httptest.NewRecorder()
	app.JobCreate(rec, createRequest(t, map[string]any{"prompt": "a storefront"}))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(jobs.jobs) != 0 || len(queue.tasks) != 0 {
		t.Fatal("admission must not persist anything on failed debit")
	}
}

func TestJobCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing prompt", map[string]any{"kind": "video"}},
		{"bad kind", map[string]any{"prompt": "x", "kind": "hologram"}},
		{"bad aspect", map[string]any{"prompt": "x", "aspect_ratio": "4:3"}},
		{"duration too long", map[string]any{"prompt": "x", "duration_seconds": 600}},
		{"secondary kind without url", map[string]any{"prompt": "x", "secondary_media_kind": "video"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &stubLedger{image: 5}
			app := newTestApp(newStubJobs(), ledger, &stubQueue{})
			rec := httptest.NewRecorder()
			app.JobCreate(rec, createRequest(t, tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if ledger.debits != 0 {
				t.Fatal("validation failure must not debit")
			}
		})
	}
}

func TestJobCreateEnqueueFailureRefunds(t *testing.T) {
	jobs := newStubJobs()
	ledger := &stubLedger{image: 2}
	queue := &stubQueue{err: context.DeadlineExceeded}
	app := newTestApp(jobs, ledger, queue)

	rec := httptest.NewRecorder()
	app.JobCreate(rec, createRequest(t, map[string]any{"prompt": "a storefront"}))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if ledger.refunds != 1 {
		t.Fatalf("refunds = %d", ledger.refunds)
	}
	for _, job := range jobs.jobs {
		if job.Stage != domain.StageFailed {
			t.Fatalf("orphaned job stage = %s", job.Stage)
		}
	}
}

func TestJobCreateUnauthorized(t *testing.T) {
	app := newTestApp(newStubJobs(), &stubLedger{image: 1}, &stubQueue{})
	req := createRequest(t, map[string]any{"prompt": "x"})
	req.Header.Del("X-Owner-ID")
	rec := httptest.NewRecorder()
	app.JobCreate(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func statusRequest(owner, jobID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil)
	req.Header.Set("X-Owner-ID", owner)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", jobID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestJobStatus(t *testing.T) {
	jobs := newStubJobs()
	job := domain.NewJob("job-9", "owner-1", domain.JobKindVideo, domain.JobParams{Prompt: "x"})
	job.Stage = domain.StageCompleted
	job.Artifacts.Set(domain.ArtifactFinalVideo, "https://cdn/final.mp4")
	_ = jobs.Create(context.Background(), job)
	app := newTestApp(jobs, &stubLedger{image: 1}, &stubQueue{})

	rec := httptest.NewRecorder()
	app.JobStatus(rec, statusRequest("owner-1", "job-9"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stage != string(domain.StageCompleted) || resp.FinalVideoURL != "https://cdn/final.mp4" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestJobStatusOwnerScoped(t *testing.T) {
	jobs := newStubJobs()
	_ = jobs.Create(context.Background(), domain.NewJob("job-9", "owner-1", domain.JobKindVideo, domain.JobParams{Prompt: "x"}))
	app := newTestApp(jobs, &stubLedger{image: 1}, &stubQueue{})

	rec := httptest.NewRecorder()
	app.JobStatus(rec, statusRequest("owner-2", "job-9"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestJobStatusServedFromCache(t *testing.T) {
	jobs := newStubJobs()
	_ = jobs.Create(context.Background(), domain.NewJob("job-9", "owner-1", domain.JobKindVideo, domain.JobParams{Prompt: "x"}))
	app := newTestApp(jobs, &stubLedger{image: 1}, &stubQueue{})
	app.Cache = &mapCache{}

	rec := httptest.NewRecorder()
	app.JobStatus(rec, statusRequest("owner-1", "job-9"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}

	// Remove the backing row; the snapshot must come from the cache now.
	jobs.mu.Lock()
	delete(jobs.jobs, "job-9")
	jobs.mu.Unlock()

	rec = httptest.NewRecorder()
	app.JobStatus(rec, statusRequest("owner-1", "job-9"))
	if rec.Code != http.StatusOK {
		t.Fatalf("cached status = %d", rec.Code)
	}
}

func TestCredits(t *testing.T) {
	app := newTestApp(newStubJobs(), &stubLedger{image: 7}, &stubQueue{})
	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	app.Credits(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	image := resp["image"].(map[string]any)
	if image["balance"].(float64) != 7 {
		t.Fatalf("image balance = %v", image["balance"])
	}
}
