package entity

import (
	"encoding/json"
	"time"
)

// FailureCategory classifies why a message left the retry path.
type FailureCategory string

const (
	CategoryMalformed FailureCategory = "malformed"
	CategoryRejected  FailureCategory = "rejected"
	CategoryTransient FailureCategory = "transient"
)

// DeadLetterRecord archives a message removed from the retry path. Records
// are write-once, keyed by (Job.JobID, FailedAt, MessageID).
type DeadLetterRecord struct {
	Job      BuildJob        `json:"job"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failedAt"`
	Category FailureCategory `json:"category"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// MessageID is the queue message the record came from. It tells apart
	// undecodable messages, which have no job id.
	MessageID string `json:"messageId,omitempty"`
}

type OutcomeAction string

const (
	ActionAck        OutcomeAction = "ack"
	ActionRetry      OutcomeAction = "retry"
	ActionDeadLetter OutcomeAction = "dead_letter"
)

// QueueOutcome is the per-message dispatch result, emitted for observability.
type QueueOutcome struct {
	JobID      string        `json:"jobId"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"durationMs"`
	Action     OutcomeAction `json:"action"`
	Attempts   int           `json:"attempts"`
}
