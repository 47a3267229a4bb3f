package domain

import (
	"errors"
	"testing"
)

func TestAdvanceFollowsSequence(t *testing.T) {
	job := NewJob("j1", "u1", JobKindVideo, JobParams{Prompt: "sunset"})
	sequence := []Stage{
		StageImageInProgress,
		StageImageReady,
		StageVideoSubmitted,
		StageVideoPolling,
		StageAwaitingConcat,
		StageConcatenating,
		StageCompleted,
	}
	for _, next := range sequence {
		if err := job.Advance(next); err != nil {
			t.Fatalf("Advance(%s): %v", next, err)
		}
		if job.Stage != next {
			t.Fatalf("expected stage %s, got %s", next, job.Stage)
		}
	}
}

func TestAdvanceRejectsRegression(t *testing.T) {
	job := NewJob("j1", "u1", JobKindVideo, JobParams{})
	if err := job.Advance(StageVideoPolling); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	err := job.Advance(StageImageReady)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Stage != StageVideoPolling {
		t.Fatalf("stage regressed to %s", job.Stage)
	}
}

func TestTerminalJobRejectsMutation(t *testing.T) {
	job := NewJob("j1", "u1", JobKindVideo, JobParams{})
	if err := job.Complete("https://x/final.mp4"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := job.Advance(StageCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := job.Fail(FailureTimeout, "late duplicate"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.FailureReason != nil {
		t.Fatalf("failure reason set on completed job: %+v", job.FailureReason)
	}
}

func TestFailFromAnyNonTerminalStage(t *testing.T) {
	for _, start := range []Stage{StageAwaitingImage, StageImageReady, StageVideoPolling, StageConcatenating} {
		job := NewJob("j1", "u1", JobKindVideo, JobParams{})
		job.Stage = start
		if err := job.Fail(FailureProviderRejected, "boom"); err != nil {
			t.Fatalf("Fail from %s: %v", start, err)
		}
		if job.Stage != StageFailed {
			t.Fatalf("expected failed, got %s", job.Stage)
		}
		if job.FailureReason == nil || job.FailureReason.Kind != FailureProviderRejected {
			t.Fatalf("missing failure reason from %s", start)
		}
	}
}

func TestCompleteSetsFinalVideoArtifact(t *testing.T) {
	job := NewJob("j1", "u1", JobKindVideo, JobParams{})
	job.Stage = StageVideoPolling
	if err := job.Complete("https://x/vid.mp4"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := job.Artifacts[ArtifactFinalVideo]; got != "https://x/vid.mp4" {
		t.Fatalf("final video artifact = %q", got)
	}
}

func TestArtifactsAppendOnly(t *testing.T) {
	a := Artifacts{}
	a.Set(ArtifactPrimaryImage, "https://x/a.png")
	a.Set(ArtifactPrimaryImage, "https://x/b.png")
	if a[ArtifactPrimaryImage] != "https://x/a.png" {
		t.Fatalf("artifact overwritten: %q", a[ArtifactPrimaryImage])
	}
}

func TestStageAtOrPast(t *testing.T) {
	if !StageVideoPolling.AtOrPast(StageImageReady) {
		t.Fatal("video_polling should be past image_ready")
	}
	if StageImageReady.AtOrPast(StageVideoPolling) {
		t.Fatal("image_ready should not be past video_polling")
	}
	if !StageFailed.AtOrPast(StageConcatenating) {
		t.Fatal("failed should count as past every stage")
	}
}

func TestJobKindCreditKind(t *testing.T) {
	cases := map[JobKind]CreditKind{
		JobKindImage:     CreditImage,
		JobKindVideo:     CreditVideo,
		JobKindSlideshow: CreditSlideshow,
	}
	for kind, want := range cases {
		if got := kind.CreditKind(); got != want {
			t.Fatalf("%s: expected %s, got %s", kind, want, got)
		}
	}
}
