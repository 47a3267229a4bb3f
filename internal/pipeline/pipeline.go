package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/cache"
	"reelforge/internal/domain"
	"reelforge/internal/infra"
	"reelforge/internal/providers/media"
	"reelforge/internal/providers/prompt"
)

// ObjectStore is the slice of the storage layer the pipeline needs for the
// final upload.
type ObjectStore interface {
	WriteFrom(ctx context.Context, key string, r io.Reader) (string, error)
	URL(key string) string
}

// Merger joins two media assets into one local output file.
type Merger interface {
	Merge(ctx context.Context, primaryURL, secondaryURL string) (string, func(), error)
}

// Config tunes the polling policy. Both ceilings apply: queue delivery delay
// is not perfectly reliable, so wall clock alone over-bounds and attempts
// alone under-bound the worst-case polling duration.
type Config struct {
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	MaxPollDuration  time.Duration
	MaxPollAttempts  int
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		PollInitialDelay: 10 * time.Second,
		PollInterval:     time.Minute,
		MaxPollDuration:  10 * time.Minute,
		MaxPollAttempts:  20,
	}
}

// Deps carries the constructor-injected collaborators for the stage workers.
type Deps struct {
	Jobs     domain.JobStore
	Ledger   domain.CreditLedger
	Queue    domain.TaskQueue
	Provider media.Provider
	Prompts  *prompt.Builder
	Merger   Merger
	Store    ObjectStore
	Cache    cache.Cache
	Logger   infra.Logger
	Config   Config

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Workers implements the four pipeline stages. Each handler is a stateless,
// idempotent function of (job store state, task); re-processing a task for a
// job already past that stage is a safe no-op.
type Workers struct {
	jobs     domain.JobStore
	ledger   domain.CreditLedger
	queue    domain.TaskQueue
	provider media.Provider
	prompts  *prompt.Builder
	merger   Merger
	store    ObjectStore
	cache    cache.Cache
	logger   infra.Logger
	cfg      Config
	now      func() time.Time
}

// NewWorkers wires the stage workers with their collaborators.
func NewWorkers(deps Deps) *Workers {
	cfg := deps.Config
	if cfg.MaxPollAttempts == 0 {
		cfg = DefaultConfig()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	return &Workers{
		jobs:     deps.Jobs,
		ledger:   deps.Ledger,
		queue:    deps.Queue,
		provider: deps.Provider,
		prompts:  prompts,
		merger:   deps.Merger,
		store:    deps.Store,
		cache:    deps.Cache,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      now,
	}
}

// errAlreadyHandled aborts a Transition whose guard finds the stage already
// past; the caller treats it as a successful no-op.
var errAlreadyHandled = errors.New("stage already handled")

// Dispatch routes a claimed task to its stage worker. A nil return means the
// task is done (including job-level failures, which are recorded on the job);
// a non-nil return is an infrastructure error and the task should be
// redelivered.
func (w *Workers) Dispatch(ctx context.Context, task domain.Task) error {
	var err error
	switch task.Type {
	case domain.TaskImageGenerate:
		err = w.handleImageGenerate(ctx, task)
	case domain.TaskVideoSubmit:
		err = w.handleVideoSubmit(ctx, task)
	case domain.TaskVideoPoll:
		err = w.handleVideoPoll(ctx, task)
	case domain.TaskConcatenate:
		err = w.handleConcatenate(ctx, task)
	default:
		w.logger.Error().Str("task_type", string(task.Type)).Str("job_id", task.JobID).Msg("pipeline: unsupported task type")
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		// Job deleted out from under the pipeline; nothing left to advance.
		w.logger.Warn().Str("job_id", task.JobID).Str("task_type", string(task.Type)).Msg("pipeline: job gone, dropping task")
		return nil
	}
	return err
}

// failJob records a terminal failure with a structured reason. The no-op
// guard keeps a late duplicate from overwriting an existing outcome.
func (w *Workers) failJob(ctx context.Context, jobID string, kind domain.FailureKind, message string) error {
	_, err := w.jobs.Transition(ctx, jobID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		return j.Fail(kind, message)
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s failure: %w", kind, err)
	}
	w.logger.Info().Str("job_id", jobID).Str("failure_kind", string(kind)).Msg("pipeline: job failed")
	return nil
}

// failAndRefundVideo records a terminal failure and returns the stage credit
// when one was debited. The debit flag is cleared inside the failing
// transition and the refund runs only after that commit, so a redelivered
// task can never refund twice: either the commit happened and the flag is
// gone, or nothing happened and the whole sequence reruns.
func (w *Workers) failAndRefundVideo(ctx context.Context, jobID string, kind domain.FailureKind, message string) error {
	refundDue := false
	var ownerID string
	var creditKind domain.CreditKind
	_, err := w.jobs.Transition(ctx, jobID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		refundDue = j.VideoCreditDebited
		ownerID = j.OwnerID
		creditKind = j.Kind.CreditKind()
		j.VideoCreditDebited = false
		return j.Fail(kind, message)
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s failure: %w", kind, err)
	}
	w.logger.Info().Str("job_id", jobID).Str("failure_kind", string(kind)).Msg("pipeline: job failed")
	if refundDue {
		if err := w.ledger.Refund(ctx, ownerID, creditKind); err != nil {
			// The failure is durable and the flag is cleared; retrying the
			// task would no-op, so surface this loudly instead.
			w.logger.Error().Err(err).Str("job_id", jobID).Str("owner_id", ownerID).Msg("pipeline: refund after failure did not apply")
		}
	}
	return nil
}

// enqueue schedules the next stage's task. Called only after the current
// stage's transition has committed, which is what serializes stages within a
// job.
func (w *Workers) enqueue(ctx context.Context, jobID string, taskType domain.TaskType, notBefore time.Time, payload any) error {
	task := domain.NewTask(uuid.NewString(), jobID, taskType, notBefore).WithPayload(payload)
	if err := w.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// Abandon records a terminal failure for a job whose task exhausted its
// delivery attempts on infrastructure errors. Held credits are claimed inside
// the failing transition and returned once it commits.
func (w *Workers) Abandon(ctx context.Context, task domain.Task) error {
	refundVideo := false
	refundImage := false
	var ownerID string
	var creditKind domain.CreditKind
	_, err := w.jobs.Transition(ctx, task.JobID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		ownerID = j.OwnerID
		creditKind = j.Kind.CreditKind()
		refundVideo = j.VideoCreditDebited
		j.VideoCreditDebited = false
		if j.ImageCreditDebited && j.Stage == domain.StageAwaitingImage {
			refundImage = true
			j.ImageCreditDebited = false
		}
		return j.Fail(domain.FailureMaxAttempts, "task delivery attempts exhausted")
	})
	if errors.Is(err, errAlreadyHandled) || errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("abandon job: %w", err)
	}
	w.logger.Info().Str("job_id", task.JobID).Str("task_type", string(task.Type)).Msg("pipeline: job abandoned")
	if refundVideo {
		if err := w.ledger.Refund(ctx, ownerID, creditKind); err != nil {
			w.logger.Error().Err(err).Str("job_id", task.JobID).Msg("pipeline: refund on abandon did not apply")
		}
	}
	if refundImage {
		if err := w.ledger.Refund(ctx, ownerID, domain.CreditImage); err != nil {
			w.logger.Error().Err(err).Str("job_id", task.JobID).Msg("pipeline: image refund on abandon did not apply")
		}
	}
	return nil
}

// cachePollResult and cachedPollResult memoize provider status briefly so a
// burst of duplicate poll deliveries does not hammer the provider.
const pollCacheTTL = 30 * time.Second

func (w *Workers) cachedPollResult(ctx context.Context, handle string) (media.PollResult, bool) {
	if w.cache == nil {
		return media.PollResult{}, false
	}
	raw, ok, err := w.cache.Get(ctx, cache.PollResultKey(handle))
	if err != nil || !ok {
		return media.PollResult{}, false
	}
	var result media.PollResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return media.PollResult{}, false
	}
	return result, true
}

func (w *Workers) cachePollResult(ctx context.Context, handle string, result media.PollResult) {
	if w.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := w.cache.Set(ctx, cache.PollResultKey(handle), raw, pollCacheTTL); err != nil {
		w.logger.Debug().Err(err).Msg("pipeline: poll cache write failed")
	}
}
