package media

import "context"

// ImageRequest carries the inputs for a synchronous image synthesis call.
// BaseAssetURL, when set, asks the provider to edit an existing asset instead
// of synthesizing from scratch.
type ImageRequest struct {
	Prompt       string
	Style        string
	AspectRatio  string
	Locale       string
	BaseAssetURL string
	RequestID    string
}

// VideoRequest carries the inputs for an asynchronous video synthesis
// submission. The provider animates the supplied image.
type VideoRequest struct {
	ImageURL        string
	Prompt          string
	DurationSeconds int
	RequestID       string
}

// PollStatus is the provider's view of an in-flight video job.
type PollStatus string

const (
	PollSucceeded  PollStatus = "succeeded"
	PollFailed     PollStatus = "failed"
	PollProcessing PollStatus = "processing"
)

// PollResult is the outcome of one status check.
type PollResult struct {
	Status    PollStatus
	OutputURL string
	Detail    string
}

// Provider is the opaque media-generation service: submit an image prompt
// synchronously, submit a video job, poll it by handle. Implementations must
// be safe for concurrent use.
type Provider interface {
	SubmitImage(ctx context.Context, req ImageRequest) (string, error)
	SubmitVideo(ctx context.Context, req VideoRequest) (string, error)
	PollVideo(ctx context.Context, handle string) (PollResult, error)
}
