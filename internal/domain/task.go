package domain

import (
	"encoding/json"
	"time"
)

// TaskType identifies which stage worker a queued task invokes.
type TaskType string

const (
	TaskImageGenerate TaskType = "image_generate"
	TaskVideoSubmit   TaskType = "video_submit"
	TaskVideoPoll     TaskType = "video_poll"
	TaskConcatenate   TaskType = "concatenate"
)

// Task is the queue message envelope. Delivery is at-least-once with no
// cross-job ordering; workers stay idempotent by inspecting the job's stage
// before acting. NotBefore delays delivery, which is how the poll worker
// waits between provider checks without blocking an execution slot.
type Task struct {
	ID        string
	JobID     string
	Type      TaskType
	Attempt   int
	NotBefore time.Time
	Payload   json.RawMessage
	CreatedAt time.Time
}

// PollPayload carries the poll-task-specific fields alongside the envelope.
// The job record remains the source of truth; the payload exists so a task
// is interpretable on its own when debugging the queue.
type PollPayload struct {
	ProviderJobHandle string    `json:"provider_job_handle"`
	PollingStartedAt  time.Time `json:"polling_started_at"`
}

// NewTask builds a task due at notBefore for the given job and stage.
func NewTask(id, jobID string, taskType TaskType, notBefore time.Time) Task {
	return Task{
		ID:        id,
		JobID:     jobID,
		Type:      taskType,
		Attempt:   1,
		NotBefore: notBefore,
	}
}

// WithPayload attaches a JSON payload, ignoring marshal errors for types that
// cannot fail to encode.
func (t Task) WithPayload(v any) Task {
	if v == nil {
		return t
	}
	if raw, err := json.Marshal(v); err == nil {
		t.Payload = raw
	}
	return t
}
