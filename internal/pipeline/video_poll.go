package pipeline

import (
	"context"
	"errors"
	"fmt"

	"reelforge/internal/domain"
	"reelforge/internal/providers/media"
)

// handleVideoPoll runs one bounded status check. It never blocks waiting for
// the provider; the waiting interval between checks is a delayed re-enqueue,
// so each invocation returns quickly regardless of provider latency.
func (w *Workers) handleVideoPoll(ctx context.Context, task domain.Task) error {
	job, err := w.jobs.Get(ctx, task.JobID)
	if err != nil {
		return err
	}
	if job.Stage != domain.StageVideoPolling {
		return w.resumeAfterPoll(ctx, job)
	}
	if job.ProviderJobHandle == "" || job.PollingStartedAt == nil {
		return w.failJob(ctx, job.ID, domain.FailureConfiguration, "polling state incomplete")
	}

	// Wall-clock ceiling first: once exceeded, stop polling entirely.
	if w.now().Sub(*job.PollingStartedAt) > w.cfg.MaxPollDuration {
		return w.failAndRefundVideo(ctx, job.ID, domain.FailureTimeout, "video generation timed out")
	}

	result, memoized := w.cachedPollResult(ctx, job.ProviderJobHandle)
	if !memoized {
		var pollErr error
		result, pollErr = w.provider.PollVideo(ctx, job.ProviderJobHandle)
		if pollErr != nil {
			// A transient poll error is indistinguishable from "still
			// rendering"; the duration and attempt ceilings bound how long
			// we keep trying.
			w.logger.Warn().Err(pollErr).Str("job_id", job.ID).Msg("pipeline: poll call failed, treating as processing")
			result = media.PollResult{Status: media.PollProcessing}
		} else {
			w.cachePollResult(ctx, job.ProviderJobHandle, result)
		}
	}

	switch result.Status {
	case media.PollSucceeded:
		return w.finishPolling(ctx, job, result.OutputURL)
	case media.PollFailed:
		msg := "provider rejected the video job"
		if result.Detail != "" {
			msg = fmt.Sprintf("provider rejected the video job: %s", result.Detail)
		}
		return w.failAndRefundVideo(ctx, job.ID, domain.FailureProviderRejected, msg)
	default:
		if job.PollAttempt >= w.cfg.MaxPollAttempts {
			return w.failAndRefundVideo(ctx, job.ID, domain.FailureMaxAttempts, "poll attempt ceiling reached")
		}
		job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
			if j.Stage != domain.StageVideoPolling {
				return errAlreadyHandled
			}
			j.PollAttempt++
			return nil
		})
		if errors.Is(err, errAlreadyHandled) {
			return nil
		}
		if err != nil {
			return err
		}
		return w.enqueue(ctx, job.ID, domain.TaskVideoPoll, w.now().Add(w.cfg.PollInterval), domain.PollPayload{
			ProviderJobHandle: job.ProviderJobHandle,
			PollingStartedAt:  *job.PollingStartedAt,
		})
	}
}

// finishPolling records the provider output and either completes the job or
// routes it into concatenation when a secondary asset is configured.
func (w *Workers) finishPolling(ctx context.Context, job *domain.Job, outputURL string) error {
	job, err := w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
		if j.Stage != domain.StageVideoPolling {
			return errAlreadyHandled
		}
		j.Artifacts.Set(domain.ArtifactProviderVideo, outputURL)
		if j.HasSecondaryMedia() {
			j.Artifacts.Set(domain.ArtifactSecondaryMedia, j.Params.SecondaryMediaURL)
			return j.Advance(domain.StageAwaitingConcat)
		}
		return j.Complete(outputURL)
	})
	if errors.Is(err, errAlreadyHandled) {
		current, err := w.jobs.Get(ctx, job.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}
		return w.resumeAfterPoll(ctx, current)
	}
	if err != nil {
		return err
	}

	if job.Stage == domain.StageCompleted {
		w.logger.Info().Str("job_id", job.ID).Str("final_url", job.Artifacts[domain.ArtifactFinalVideo]).Msg("pipeline: job completed")
		return nil
	}
	w.logger.Info().Str("job_id", job.ID).Msg("pipeline: provider video ready, queueing concatenation")
	return w.enqueue(ctx, job.ID, domain.TaskConcatenate, w.now(), nil)
}

// resumeAfterPoll repairs a lost hand-off out of the polling loop: a job
// sitting in awaiting_concatenation with no concat task queued would wait
// forever, so a redelivered poll task re-enqueues it. Every other stage means
// the poll outcome was fully recorded and the task can be dropped.
func (w *Workers) resumeAfterPoll(ctx context.Context, job *domain.Job) error {
	if job.Stage != domain.StageAwaitingConcat {
		w.logger.Debug().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: poll task for non-polling job, skipping")
		return nil
	}
	w.logger.Debug().Str("job_id", job.ID).Msg("pipeline: re-enqueueing concatenation after redelivery")
	return w.enqueue(ctx, job.ID, domain.TaskConcatenate, w.now(), nil)
}
