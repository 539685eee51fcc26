// Package reminder schedules follow-up notifications for letter jobs and
// dispatches them when due.
package reminder

import (
	"encoding/json"
	"strings"
	"time"

	"letterdesk/internal/notify"
	"letterdesk/internal/rowstore"
)

const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

const (
	ColReminderID  = "reminder_id"
	ColLetterID    = "letter_id"
	ColEmail       = "email"
	ColPhone       = "phone"
	ColChannel     = "channel"
	ColTopic       = "topic"
	ColDueAt       = "due_at_utc"
	ColStatus      = "status"
	ColPayloadJSON = "payload_json"
	ColSentAt      = "sent_at_utc"
	ColCreatedAt   = "created_at_utc"
	ColUpdatedAt   = "updated_at_utc"
	ColLastError   = "last_error"
)

// TimestampLayout is used for every *_utc column.
const TimestampLayout = "2006-01-02 15:04:05"

func Schema(name string) rowstore.Schema {
	return rowstore.Schema{
		Name:    name,
		Version: 2,
		Columns: []string{
			ColReminderID, ColLetterID, ColEmail, ColPhone, ColChannel, ColTopic,
			ColDueAt, ColStatus, ColPayloadJSON, ColSentAt, ColCreatedAt, ColUpdatedAt,
			ColLastError,
		},
	}
}

// Step is one entry of the follow-up cadence.
type Step struct {
	Topic string
	After time.Duration
}

// DefaultCadence nudges to mail at +2 days, checks status at +15 and
// announces the next round at +35.
func DefaultCadence() []Step {
	return []Step{
		{Topic: notify.TopicMailNudge, After: 2 * 24 * time.Hour},
		{Topic: notify.TopicStatusCheck, After: 15 * 24 * time.Hour},
		{Topic: notify.TopicNextRoundReady, After: 35 * 24 * time.Hour},
	}
}

type Reminder struct {
	ID        string            `json:"reminder_id"`
	LetterID  string            `json:"letter_id"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone,omitempty"`
	Channel   string            `json:"channel"`
	Topic     string            `json:"topic"`
	DueAt     time.Time         `json:"due_at"`
	Status    string            `json:"status"`
	Payload   map[string]string `json:"payload"`
	SentAt    string            `json:"sent_at,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	LastError string            `json:"last_error,omitempty"`

	Row     int              `json:"-"`
	Version rowstore.Version `json:"-"`
}

// Recipient is the phone for SMS reminders and the email otherwise.
func (r *Reminder) Recipient() string {
	if r.Channel == notify.ChannelSMS {
		return r.Phone
	}
	return r.Email
}

func fromRow(row rowstore.Row) (Reminder, bool) {
	rec := row.Record
	due, err := parseUTC(rec.Get(ColDueAt))
	if err != nil {
		return Reminder{}, false
	}
	payload := map[string]string{}
	if raw := strings.TrimSpace(rec.Get(ColPayloadJSON)); raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	channel := strings.ToLower(strings.TrimSpace(rec.Get(ColChannel)))
	if channel == "" {
		channel = notify.ChannelEmail
	}
	return Reminder{
		ID:        strings.TrimSpace(rec.Get(ColReminderID)),
		LetterID:  strings.TrimSpace(rec.Get(ColLetterID)),
		Email:     strings.TrimSpace(rec.Get(ColEmail)),
		Phone:     strings.TrimSpace(rec.Get(ColPhone)),
		Channel:   channel,
		Topic:     strings.TrimSpace(rec.Get(ColTopic)),
		DueAt:     due,
		Status:    strings.ToLower(strings.TrimSpace(rec.Get(ColStatus))),
		Payload:   payload,
		SentAt:    rec.Get(ColSentAt),
		CreatedAt: rec.Get(ColCreatedAt),
		UpdatedAt: rec.Get(ColUpdatedAt),
		LastError: rec.Get(ColLastError),
		Row:       row.Number,
		Version:   row.Version,
	}, true
}

func parseUTC(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.UTC)
}

func formatUTC(t time.Time) string { return t.UTC().Format(TimestampLayout) }
