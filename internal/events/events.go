// Package events carries domain events between the API process and the
// worker, either in-process or over RabbitMQ.
package events

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	KeyJobEnqueued        = "job.enqueued"
	KeyGenerationRecorded = "generation.recorded"
)

// JobEnqueued is published after a job row has been appended.
type JobEnqueued struct {
	EventID     string `json:"event_id"`
	LetterID    string `json:"letter_id"`
	Email       string `json:"email"`
	Bureau      string `json:"bureau"`
	DisputeType string `json:"dispute_type"`
	RoundName   string `json:"round_name"`
	Phone       string `json:"phone,omitempty"`
	SMSOptIn    bool   `json:"sms_opt_in"`
	CreatedAt   string `json:"created_at"`
}

// GenerationRecorded is published after the account counters were
// incremented for one letter.
type GenerationRecorded struct {
	EventID     string `json:"event_id"`
	Email       string `json:"email"`
	Plan        string `json:"plan"`
	LetterID    string `json:"letter_id"`
	Bureau      string `json:"bureau"`
	DisputeType string `json:"dispute_type"`
	AccountRef  string `json:"account_ref"`
	Timestamp   string `json:"timestamp"`
}

// NewID returns a fresh event id.
func NewID() string { return uuid.NewString() }

// Decode unmarshals a payload for a handler.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
