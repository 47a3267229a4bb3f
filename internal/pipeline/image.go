package pipeline

import (
	"context"
	"errors"
	"fmt"

	"reelforge/internal/domain"
	"reelforge/internal/providers/media"
)

// handleImageGenerate runs the first pipeline stage: synthesize (or edit) the
// primary image. Image-kind jobs complete here; video and slideshow jobs
// continue into video submission.
func (w *Workers) handleImageGenerate(ctx context.Context, task domain.Task) error {
	job, err := w.jobs.Transition(ctx, task.JobID, func(j *domain.Job) error {
		switch j.Stage {
		case domain.StageAwaitingImage:
			return j.Advance(domain.StageImageInProgress)
		case domain.StageImageInProgress:
			// A prior delivery died mid-call; rerun the provider call.
			return nil
		default:
			return errAlreadyHandled
		}
	})
	if errors.Is(err, errAlreadyHandled) {
		return w.resumeAfterImage(ctx, task.JobID)
	}
	if err != nil {
		return err
	}

	imageURL, err := w.provider.SubmitImage(ctx, media.ImageRequest{
		Prompt:       w.prompts.Image(job.Params),
		Style:        job.Params.Style,
		AspectRatio:  job.Params.AspectRatio,
		Locale:       job.Params.Locale,
		BaseAssetURL: job.Params.BaseAssetURL,
		RequestID:    job.ID,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: image generation failed")
		return w.failAndRefundImage(ctx, job.ID)
	}

	job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
		if j.Stage.AtOrPast(domain.StageImageReady) {
			return errAlreadyHandled
		}
		j.Artifacts.Set(domain.ArtifactPrimaryImage, imageURL)
		if j.Kind == domain.JobKindImage {
			return j.Complete(imageURL)
		}
		return j.Advance(domain.StageImageReady)
	})
	if errors.Is(err, errAlreadyHandled) {
		return w.resumeAfterImage(ctx, task.JobID)
	}
	if err != nil {
		return err
	}

	w.logger.Info().Str("job_id", job.ID).Str("image_url", imageURL).Msg("pipeline: image ready")

	if job.Stage == domain.StageCompleted {
		return nil
	}
	return w.enqueue(ctx, job.ID, domain.TaskVideoSubmit, w.now(), nil)
}

// resumeAfterImage repairs a lost hand-off. When the image transition
// committed but the worker died (or the enqueue failed) before the successor
// task landed in the queue, the redelivered image task re-enqueues it.
// Duplicates are harmless under the stage guards.
func (w *Workers) resumeAfterImage(ctx context.Context, jobID string) error {
	job, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Stage != domain.StageImageReady {
		return nil
	}
	w.logger.Debug().Str("job_id", jobID).Msg("pipeline: re-enqueueing video submission after redelivery")
	return w.enqueue(ctx, jobID, domain.TaskVideoSubmit, w.now(), nil)
}

// failAndRefundImage mirrors failAndRefundVideo for the admission-time image
// debit: the flag is cleared inside the failing transition and the refund
// runs only after the commit.
func (w *Workers) failAndRefundImage(ctx context.Context, jobID string) error {
	refundDue := false
	var ownerID string
	_, err := w.jobs.Transition(ctx, jobID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		refundDue = j.ImageCreditDebited
		ownerID = j.OwnerID
		j.ImageCreditDebited = false
		return j.Fail(domain.FailureGeneration, "image generation failed")
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record image failure: %w", err)
	}
	w.logger.Info().Str("job_id", jobID).Str("failure_kind", string(domain.FailureGeneration)).Msg("pipeline: job failed")
	if refundDue {
		if err := w.ledger.Refund(ctx, ownerID, domain.CreditImage); err != nil {
			w.logger.Error().Err(err).Str("job_id", jobID).Str("owner_id", ownerID).Msg("pipeline: image refund after failure did not apply")
		}
	}
	return nil
}
