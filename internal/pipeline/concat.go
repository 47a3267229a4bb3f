package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"reelforge/internal/domain"
)

// handleConcatenate merges the provider video with the configured secondary
// asset. The failure policy is degrade-not-fail: if the merge cannot be
// produced after the re-encode retry, the job still completes with the
// provider video alone and the degradation is recorded as a diagnostic.
func (w *Workers) handleConcatenate(ctx context.Context, task domain.Task) error {
	job, err := w.jobs.Get(ctx, task.JobID)
	if err != nil {
		return err
	}
	switch job.Stage {
	case domain.StageAwaitingConcat:
		job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
			if j.Stage != domain.StageAwaitingConcat {
				return errAlreadyHandled
			}
			return j.Advance(domain.StageConcatenating)
		})
		if errors.Is(err, errAlreadyHandled) {
			return nil
		}
		if err != nil {
			return err
		}
	case domain.StageConcatenating:
		// Redelivery after an interrupted attempt; rerun the merge.
	default:
		w.logger.Debug().Str("job_id", job.ID).Str("stage", string(job.Stage)).Msg("pipeline: concat task out of sequence, skipping")
		return nil
	}

	primaryURL := job.Artifacts[domain.ArtifactProviderVideo]
	if primaryURL == "" {
		return w.failJob(ctx, job.ID, domain.FailureConfiguration, "provider video artifact missing")
	}
	secondaryURL := job.Params.SecondaryMediaURL

	outputPath, cleanup, err := w.merger.Merge(ctx, primaryURL, secondaryURL)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: concatenation failed, degrading to provider video")
		return w.completeDegraded(ctx, job.ID, primaryURL, fmt.Sprintf("concatenation failed: %v", err))
	}
	defer cleanup()

	finalURL, err := w.uploadFinal(ctx, job.ID, outputPath)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: final upload failed, degrading to provider video")
		return w.completeDegraded(ctx, job.ID, primaryURL, fmt.Sprintf("final upload failed: %v", err))
	}

	job, err = w.jobs.Transition(ctx, job.ID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		return j.Complete(finalURL)
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.Info().Str("job_id", job.ID).Str("final_url", finalURL).Msg("pipeline: job completed with concatenated video")
	return nil
}

func (w *Workers) uploadFinal(ctx context.Context, jobID, outputPath string) (string, error) {
	f, err := os.Open(outputPath)
	if err != nil {
		return "", fmt.Errorf("open merged output: %w", err)
	}
	defer f.Close()

	key, err := w.store.WriteFrom(ctx, fmt.Sprintf("videos/%s/final.mp4", jobID), f)
	if err != nil {
		return "", fmt.Errorf("upload merged output: %w", err)
	}
	return w.store.URL(key), nil
}

// completeDegraded finishes the job with the provider video alone, recording
// why the richer output could not be produced.
func (w *Workers) completeDegraded(ctx context.Context, jobID, providerVideoURL, reason string) error {
	_, err := w.jobs.Transition(ctx, jobID, func(j *domain.Job) error {
		if j.Stage.Terminal() {
			return errAlreadyHandled
		}
		j.AddDiagnostic("concat_degraded", reason)
		return j.Complete(providerVideoURL)
	})
	if errors.Is(err, errAlreadyHandled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record degraded completion: %w", err)
	}
	w.logger.Info().Str("job_id", jobID).Msg("pipeline: job completed degraded")
	return nil
}
