package domain

import (
	"encoding/json"
	"time"
)

// QueueName identifies one of the job queues
type QueueName string

// Queue names
const (
	QueueTranscribe QueueName = "transcribe"
	QueueSummarize  QueueName = "summarize"
)

// QueueNames returns every known queue in a stable order
func QueueNames() []QueueName {
	return []QueueName{QueueTranscribe, QueueSummarize}
}

// ParseQueueName validates a queue name coming from an operator
func ParseQueueName(name string) (QueueName, error) {
	switch QueueName(name) {
	case QueueTranscribe, QueueSummarize:
		return QueueName(name), nil
	}
	return "", NewValidationError("queueName", "invalid queue name %q: must be one of transcribe, summarize", name)
}

// JobState is the lifecycle state of a job
type JobState string

// Job state constants
const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is one unit of asynchronous work bound to one note
type Job struct {
	ID          string
	Queue       QueueName
	NoteID      string
	Payload     json.RawMessage
	State       JobState
	Attempts    int
	MaxAttempts int
	LastError   string
	Position    int64
	AvailableAt time.Time
	HeartbeatAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// Delayed reports whether a waiting job is held back by retry backoff
func (j *Job) Delayed(now time.Time) bool {
	return j.State == JobStateWaiting && j.AvailableAt.After(now)
}

// QueueStats is a point-in-time snapshot of one queue
type QueueStats struct {
	Waiting   int  `json:"waiting" db:"waiting"`
	Active    int  `json:"active" db:"active"`
	Completed int  `json:"completed" db:"completed"`
	Failed    int  `json:"failed" db:"failed"`
	Delayed   int  `json:"delayed" db:"delayed"`
	Paused    bool `json:"paused" db:"-"`
}

// TranscribePayload is carried by jobs of the transcribe queue
type TranscribePayload struct {
	MediaRef string `json:"media_ref"`
	Language string `json:"language,omitempty"`
}

// SummarizePayload is carried by jobs of the summarize queue.
// The transcript itself is read from the note repository.
type SummarizePayload struct {
	TranscriptRef string `json:"transcript_ref,omitempty"`
	Language      string `json:"language,omitempty"`
}
