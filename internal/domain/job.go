package domain

import (
	"fmt"
	"time"
)

// JobKind enumerates supported content-generation job categories.
type JobKind string

const (
	JobKindImage     JobKind = "image"
	JobKindVideo     JobKind = "video"
	JobKindSlideshow JobKind = "slideshow"
)

// CreditKind returns the credit counter a job of this kind consumes at the
// video stage.
func (k JobKind) CreditKind() CreditKind {
	switch k {
	case JobKindImage:
		return CreditImage
	case JobKindSlideshow:
		return CreditSlideshow
	default:
		return CreditVideo
	}
}

// Stage enumerates pipeline lifecycle states. Transitions are monotonic
// along the fixed sequence; the only permitted sideways move is into
// StageFailed from any non-terminal stage.
type Stage string

const (
	StageAwaitingImage   Stage = "awaiting_image"
	StageImageInProgress Stage = "image_in_progress"
	StageImageReady      Stage = "image_ready"
	StageVideoSubmitted  Stage = "video_submitted"
	StageVideoPolling    Stage = "video_polling"
	StageAwaitingConcat  Stage = "awaiting_concatenation"
	StageConcatenating   Stage = "concatenating"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageAwaitingImage:   0,
	StageImageInProgress: 1,
	StageImageReady:      2,
	StageVideoSubmitted:  3,
	StageVideoPolling:    4,
	StageAwaitingConcat:  5,
	StageConcatenating:   6,
	StageCompleted:       7,
}

// Terminal reports whether no further transitions are permitted.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// AtOrPast reports whether s is at least as far along the sequence as other.
// Failed jobs count as past every stage so a late duplicate task treats them
// as already handled.
func (s Stage) AtOrPast(other Stage) bool {
	if s == StageFailed {
		return true
	}
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a >= b
}

// FailureKind classifies why a job reached StageFailed.
type FailureKind string

const (
	FailureInsufficientCredit FailureKind = "insufficient_credit"
	FailureGeneration         FailureKind = "generation_failed"
	FailureProviderRejected   FailureKind = "provider_rejected"
	FailureTimeout            FailureKind = "timeout"
	FailureMaxAttempts        FailureKind = "max_attempts"
	FailureConfiguration      FailureKind = "configuration"
)

// FailureReason is the structured error surfaced to callers. Raw provider
// payloads never leave the worker; only the kind plus a short message do.
type FailureReason struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// Artifact names. Artifacts are append-only: once a URL is recorded under a
// name it is never replaced, so a retried stage cannot clobber earlier output.
const (
	ArtifactPrimaryImage   = "primary_image_url"
	ArtifactProviderVideo  = "provider_video_url"
	ArtifactSecondaryMedia = "secondary_media_url"
	ArtifactFinalVideo     = "final_video_url"
)

// Artifacts maps artifact names to URLs.
type Artifacts map[string]string

// Set records url under name unless a value is already present. First write
// wins; a duplicate delivery of the same stage re-derives the same URL anyway.
func (a Artifacts) Set(name, url string) {
	if _, ok := a[name]; ok {
		return
	}
	a[name] = url
}

// JobParams carries the generation inputs captured at admission time.
type JobParams struct {
	Prompt             string `json:"prompt"`
	Style              string `json:"style,omitempty"`
	AspectRatio        string `json:"aspect_ratio,omitempty"`
	DurationSeconds    int    `json:"duration_seconds,omitempty"`
	Locale             string `json:"locale,omitempty"`
	BaseAssetURL       string `json:"base_asset_url,omitempty"`
	SecondaryMediaURL  string `json:"secondary_media_url,omitempty"`
	SecondaryMediaKind string `json:"secondary_media_kind,omitempty"`
}

// Job tracks one content-generation request through the pipeline. Workers
// mutate jobs exclusively inside JobStore.Transition so the invariants
// encoded here hold in one place.
type Job struct {
	ID                 string
	OwnerID            string
	Kind               JobKind
	Stage              Stage
	Params             JobParams
	Artifacts          Artifacts
	FailureReason      *FailureReason
	ProviderJobHandle  string
	PollingStartedAt   *time.Time
	PollAttempt        int
	ImageCreditDebited bool
	VideoCreditDebited bool
	Diagnostics        map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewJob builds a job in its initial stage.
func NewJob(id, ownerID string, kind JobKind, params JobParams) *Job {
	return &Job{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Stage:     StageAwaitingImage,
		Params:    params,
		Artifacts: Artifacts{},
	}
}

// Advance moves the job forward to next. Regressions, skips into unknown
// stages and any mutation of a terminal job are rejected.
func (j *Job) Advance(next Stage) error {
	if j.Stage.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Stage)
	}
	cur, okCur := stageOrder[j.Stage]
	target, okNext := stageOrder[next]
	if !okCur || !okNext || target <= cur {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, next)
	}
	j.Stage = next
	return nil
}

// Fail moves the job into StageFailed with a structured reason. Failing an
// already terminal job is rejected so a late duplicate task cannot overwrite
// the original outcome.
func (j *Job) Fail(kind FailureKind, message string) error {
	if j.Stage.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Stage)
	}
	j.Stage = StageFailed
	j.FailureReason = &FailureReason{Kind: kind, Message: message}
	return nil
}

// Complete marks the job finished with the given final video URL.
func (j *Job) Complete(finalVideoURL string) error {
	if err := j.Advance(StageCompleted); err != nil {
		return err
	}
	j.Artifacts.Set(ArtifactFinalVideo, finalVideoURL)
	return nil
}

// HasSecondaryMedia reports whether a secondary asset is configured, which
// routes the job through the concatenation stage.
func (j *Job) HasSecondaryMedia() bool {
	return j.Params.SecondaryMediaURL != ""
}

// AddDiagnostic records a non-fatal annotation, e.g. a concatenation
// degradation. Diagnostics never change the job's stage.
func (j *Job) AddDiagnostic(key, value string) {
	if j.Diagnostics == nil {
		j.Diagnostics = map[string]string{}
	}
	j.Diagnostics[key] = value
}
