package pipeline

import (
	"context"
	"errors"
	"fmt"

	"reelforge/internal/domain"
	"reelforge/internal/providers/media"
)

// handleVideoSubmit debits the stage credit, submits the video job to the
// provider and arms the polling loop. The debit happens first and is
// recorded on the job before the provider call, so a crash between the two
// cannot double-charge on redelivery.
func (w *Workers) handleVideoSubmit(ctx context.Context, task domain.Task) error {
	job, err := w.jobs.Get(ctx, task.JobID)
	if err != nil {
		return err
	}
	if job.Stage.AtOrPast(domain.StageVideoSubmitted) {
		return w.resumeAfterSubmit(ctx, job)
	}
	if job.Stage != domain.StageImageReady {
		w.logger.Warn().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: video submit before image ready, dropping")
		return nil
	}

	imageURL := job.Artifacts[domain.ArtifactPrimaryImage]
	if imageURL == "" {
		return w.failJob(ctx, job.ID, domain.FailureConfiguration, "primary image artifact missing")
	}

	creditKind := job.Kind.CreditKind()
	if !job.VideoCreditDebited {
		if err := w.ledger.Debit(ctx, job.OwnerID, creditKind); err != nil {
			if errors.Is(err, domain.ErrInsufficientCredit) {
				return w.failJob(ctx, job.ID, domain.FailureInsufficientCredit, fmt.Sprintf("no %s credits remaining", creditKind))
			}
			return fmt.Errorf("debit %s credit: %w", creditKind, err)
		}
		job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
			j.VideoCreditDebited = true
			return nil
		})
		if err != nil {
			return err
		}
	}

	handle, err := w.provider.SubmitVideo(ctx, media.VideoRequest{
		ImageURL:        imageURL,
		Prompt:          w.prompts.Video(job.Params),
		DurationSeconds: job.Params.DurationSeconds,
		RequestID:       job.ID,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: video submission failed")
		return w.failAndRefundVideo(ctx, job.ID, domain.FailureGeneration, "video submission failed")
	}

	startedAt := w.now()
	job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
		if j.Stage.AtOrPast(domain.StageVideoSubmitted) {
			return errAlreadyHandled
		}
		j.ProviderJobHandle = handle
		if err := j.Advance(domain.StageVideoSubmitted); err != nil {
			return err
		}
		if err := j.Advance(domain.StageVideoPolling); err != nil {
			return err
		}
		j.PollingStartedAt = &startedAt
		j.PollAttempt = 1
		return nil
	})
	if errors.Is(err, errAlreadyHandled) {
		current, err := w.jobs.Get(ctx, task.JobID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		return w.resumeAfterSubmit(ctx, current)
	}
	if err != nil {
		return err
	}

	w.logger.Info().Str("job_id", job.ID).Str("handle", handle).Msg("pipeline: video submitted, polling armed")

	return w.enqueue(ctx, job.ID, domain.TaskVideoPoll, startedAt.Add(w.cfg.PollInitialDelay), domain.PollPayload{
		ProviderJobHandle: handle,
		PollingStartedAt:  startedAt,
	})
}

// resumeAfterSubmit repairs a lost hand-off into the polling loop: when the
// submission transition committed but the poll task never made it into the
// queue, the redelivered submit task re-arms polling. Duplicates are harmless
// under the stage guards.
func (w *Workers) resumeAfterSubmit(ctx context.Context, job *domain.Job) error {
	if job.Stage != domain.StageVideoPolling || job.ProviderJobHandle == "" || job.PollingStartedAt == nil {
		w.logger.Debug().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: video already submitted, skipping")
		return nil
	}
	w.logger.Debug().Str("job_id", job.ID).Msg("pipeline: re-enqueueing poll after redelivery")
	return w.enqueue(ctx, job.ID, domain.TaskVideoPoll, w.now(), domain.PollPayload{
		ProviderJobHandle: job.ProviderJobHandle,
		PollingStartedAt:  *job.PollingStartedAt,
	})
}
