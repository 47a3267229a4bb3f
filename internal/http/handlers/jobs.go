package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reelforge/internal/cache"
	"reelforge/internal/domain"
	"reelforge/internal/middleware"
)

type jobCreateRequest struct {
	Kind               string `json:"kind"`
	Prompt             string `json:"prompt"`
	Style              string `json:"style"`
	AspectRatio        string `json:"aspect_ratio"`
	DurationSeconds    int    `json:"duration_seconds"`
	Locale             string `json:"locale"`
	BaseAssetURL       string `json:"base_asset_url"`
	SecondaryMediaURL  string `json:"secondary_media_url"`
	SecondaryMediaKind string `json:"secondary_media_kind"`
}

type jobCreateResponse struct {
	JobID                 string `json:"job_id"`
	Stage                 string `json:"stage"`
	RemainingImageCredits int    `json:"remaining_image_credits"`
}

type jobStatusResponse struct {
	JobID         string                `json:"job_id"`
	OwnerID       string                `json:"owner_id"`
	Kind          string                `json:"kind"`
	Stage         string                `json:"stage"`
	Artifacts     map[string]string     `json:"artifacts,omitempty"`
	FinalVideoURL string                `json:"final_video_url,omitempty"`
	FailureReason *domain.FailureReason `json:"failure_reason,omitempty"`
	Diagnostics   map[string]string     `json:"diagnostics,omitempty"`
	PollAttempt   int                   `json:"poll_attempt,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

const (
	maxDurationSeconds = 60

	statusCacheTTLActive   = 5 * time.Second
	statusCacheTTLTerminal = 5 * time.Minute
)

var allowedAspects = map[string]bool{"9:16": true, "16:9": true, "1:1": true}

// JobCreate admits a generation job: one image credit is debited up front,
// the job row is written in its initial stage and the first pipeline task is
// queued. Everything after the 202 happens asynchronously.
func (a *App) JobCreate(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	kind := domain.JobKind(req.Kind)
	if kind == "" {
		kind = domain.JobKindVideo
	}
	switch kind {
	case domain.JobKindImage, domain.JobKindVideo, domain.JobKindSlideshow:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported kind")
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "9:16"
	}
	if !allowedAspects[req.AspectRatio] {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported aspect ratio")
		return
	}
	if req.DurationSeconds < 0 || req.DurationSeconds > maxDurationSeconds {
		a.error(w, http.StatusBadRequest, "bad_request", "duration out of range")
		return
	}
	switch req.SecondaryMediaKind {
	case "", "image", "video":
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported secondary media kind")
		return
	}
	if req.SecondaryMediaKind != "" && req.SecondaryMediaURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "secondary_media_url required")
		return
	}
	if req.Locale == "" {
		req.Locale = middleware.LocaleFromContext(r.Context())
	}

	if err := a.Ledger.Debit(r.Context(), ownerID, domain.CreditImage); err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredit):
			a.error(w, http.StatusPaymentRequired, "insufficient_credit", "image credit exhausted")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "unknown account")
		default:
			a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: admission debit failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to reserve credit")
		}
		return
	}

	job := domain.NewJob(uuid.NewString(), ownerID, kind, domain.JobParams{
		Prompt:             req.Prompt,
		Style:              req.Style,
		AspectRatio:        req.AspectRatio,
		DurationSeconds:    req.DurationSeconds,
		Locale:             req.Locale,
		BaseAssetURL:       req.BaseAssetURL,
		SecondaryMediaURL:  req.SecondaryMediaURL,
		SecondaryMediaKind: req.SecondaryMediaKind,
	})
	job.ImageCreditDebited = true

	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: job create failed")
		a.releaseAdmissionCredit(r, ownerID)
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	task := domain.NewTask(uuid.NewString(), job.ID, domain.TaskImageGenerate, a.clock())
	if err := a.Queue.Enqueue(r.Context(), task); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: task enqueue failed")
		a.releaseAdmissionCredit(r, ownerID)
		_, _ = a.Jobs.Transition(r.Context(), job.ID, func(j *domain.Job) error {
			return j.Fail(domain.FailureConfiguration, "failed to schedule pipeline")
		})
		a.error(w, http.StatusInternalServerError, "internal", "failed to schedule job")
		return
	}

	remaining := 0
	if account, err := a.Ledger.Account(r.Context(), ownerID); err == nil {
		remaining = account.Balance(domain.CreditImage)
	}
	a.json(w, http.StatusAccepted, jobCreateResponse{
		JobID:                 job.ID,
		Stage:                 string(job.Stage),
		RemainingImageCredits: remaining,
	})
}

func (a *App) releaseAdmissionCredit(r *http.Request, ownerID string) {
	if err := a.Ledger.Refund(r.Context(), ownerID, domain.CreditImage); err != nil {
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: admission refund failed")
	}
}

// JobStatus serves the job's current state, read through a short-lived cache
// so status pollers do not hammer the primary.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	if resp, ok := a.cachedStatus(r, jobID); ok {
		if resp.OwnerID != ownerID {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.json(w, http.StatusOK, resp)
		return
	}

	job, err := a.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: job load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.OwnerID != ownerID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	resp := statusFromJob(job)
	a.cacheStatus(r, jobID, resp, job.Stage.Terminal())
	a.json(w, http.StatusOK, resp)
}

// Credits reports the caller's remaining balances and plan maxima.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	account, err := a.Ledger.Account(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown account")
			return
		}
		a.Logger.Error().Err(err).Str("owner_id", ownerID).Msg("handlers: account load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load account")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"owner_id": account.OwnerID,
		"image":    map[string]int{"balance": account.ImageCredits, "max": account.ImageMax},
		"video":    map[string]int{"balance": account.VideoCredits, "max": account.VideoMax},
		"slideshow": map[string]int{
			"balance": account.SlideshowCredits,
			"max":     account.SlideshowMax,
		},
	})
}

func statusFromJob(job *domain.Job) jobStatusResponse {
	return jobStatusResponse{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		Kind:          string(job.Kind),
		Stage:         string(job.Stage),
		Artifacts:     job.Artifacts,
		FinalVideoURL: job.Artifacts[domain.ArtifactFinalVideo],
		FailureReason: job.FailureReason,
		Diagnostics:   job.Diagnostics,
		PollAttempt:   job.PollAttempt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

func (a *App) cachedStatus(r *http.Request, jobID string) (jobStatusResponse, bool) {
	if a.Cache == nil {
		return jobStatusResponse{}, false
	}
	raw, ok, err := a.Cache.Get(r.Context(), cache.JobStatusKey(jobID))
	if err != nil || !ok {
		return jobStatusResponse{}, false
	}
	var resp jobStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return jobStatusResponse{}, false
	}
	return resp, true
}

func (a *App) cacheStatus(r *http.Request, jobID string, resp jobStatusResponse, terminal bool) {
	if a.Cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ttl := statusCacheTTLActive
	if terminal {
		ttl = statusCacheTTLTerminal
	}
	if err := a.Cache.Set(r.Context(), cache.JobStatusKey(jobID), raw, ttl); err != nil {
		a.Logger.Debug().Err(err).Str("job_id", jobID).Msg("handlers: status cache write failed")
	}
}
