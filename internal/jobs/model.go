// Package jobs is the letter job queue: one row per requested letter moving
// through queued, approved and needs_fix.
package jobs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"letterdesk/internal/rowstore"
)

const (
	StatusQueued   = "queued"
	StatusApproved = "approved"
	StatusNeedsFix = "needs_fix"
)

const (
	ColLetterID      = "letter_id"
	ColStatus        = "status"
	ColEmail         = "email"
	ColBureau        = "bureau"
	ColDisputeType   = "dispute_type"
	ColRoundName     = "round_name"
	ColPayloadJSON   = "payload_json"
	ColLetterText    = "letter_text"
	ColQANotes       = "qa_notes"
	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"
	ColPhoneCached   = "phone_cached"
	ColSMSOptIn      = "sms_opt_in"
	ColFirstSMSDueAt = "first_sms_due_at"
	ColLastSMSAt     = "last_sms_at"
	ColSMSStatus     = "sms_status"
)

const (
	TimestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Schema returns the jobs table layout under name.
func Schema(name string) rowstore.Schema {
	return rowstore.Schema{
		Name:    name,
		Version: 2,
		Columns: []string{
			ColLetterID, ColStatus, ColEmail, ColBureau, ColDisputeType, ColRoundName,
			ColPayloadJSON, ColLetterText, ColQANotes, ColCreatedAt, ColUpdatedAt,
			ColPhoneCached, ColSMSOptIn, ColFirstSMSDueAt, ColLastSMSAt, ColSMSStatus,
		},
		Aliases: map[string][]string{
			ColRoundName: {"round"},
			ColCreatedAt: {"created_at_local"},
			ColUpdatedAt: {"updated_at_local"},
		},
		// Ids carry only second resolution; the newest job owns a reused id.
		LastKeyWins: true,
	}
}

type Job struct {
	LetterID      string `json:"letter_id"`
	Status        string `json:"status"`
	Email         string `json:"email"`
	Bureau        string `json:"bureau"`
	DisputeType   string `json:"dispute_type"`
	RoundName     string `json:"round_name"`
	PayloadJSON   string `json:"payload_json"`
	LetterText    string `json:"letter_text"`
	QANotes       string `json:"qa_notes"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	PhoneCached   string `json:"phone_cached,omitempty"`
	SMSOptIn      bool   `json:"sms_opt_in"`
	FirstSMSDueAt string `json:"first_sms_due_at,omitempty"`
	LastSMSAt     string `json:"last_sms_at,omitempty"`
	SMSStatus     string `json:"sms_status,omitempty"`

	Row int `json:"-"`
}

// WantsSMS is true when the owner opted in and left a phone number.
func (j *Job) WantsSMS() bool {
	return j.SMSOptIn && j.PhoneCached != ""
}

// Created parses CreatedAt in loc.
func (j *Job) Created(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, j.CreatedAt, loc)
}

func fromRow(row rowstore.Row) Job {
	rec := row.Record
	return Job{
		LetterID:      strings.TrimSpace(rec.Get(ColLetterID)),
		Status:        strings.ToLower(strings.TrimSpace(rec.Get(ColStatus))),
		Email:         strings.TrimSpace(rec.Get(ColEmail)),
		Bureau:        rec.Get(ColBureau),
		DisputeType:   rec.Get(ColDisputeType),
		RoundName:     rec.Get(ColRoundName),
		PayloadJSON:   rec.Get(ColPayloadJSON),
		LetterText:    rec.Get(ColLetterText),
		QANotes:       rec.Get(ColQANotes),
		CreatedAt:     rec.Get(ColCreatedAt),
		UpdatedAt:     rec.Get(ColUpdatedAt),
		PhoneCached:   strings.TrimSpace(rec.Get(ColPhoneCached)),
		SMSOptIn:      strings.EqualFold(strings.TrimSpace(rec.Get(ColSMSOptIn)), "TRUE"),
		FirstSMSDueAt: rec.Get(ColFirstSMSDueAt),
		LastSMSAt:     rec.Get(ColLastSMSAt),
		SMSStatus:     rec.Get(ColSMSStatus),
		Row:           row.Number,
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and joins its alphanumeric runs with dashes; empty
// results become "letter".
func Slug(s string) string {
	out := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
	if out == "" {
		return "letter"
	}
	return out
}

// NewLetterID is slug(name)-slug(bureau)-YYYYMMDD-HHMMSS.
func NewLetterID(fullName, bureau string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", Slug(fullName), Slug(bureau), at.Format("20060102-150405"))
}

// followUp is what Enqueue derives from the payload.
type followUp struct {
	fullName string
	phone    string
	smsOptIn bool
}

func readFollowUp(payload map[string]any) followUp {
	var f followUp
	user, _ := payload["user"].(map[string]any)
	f.fullName = firstString(user["full_name"], payload["full_name"])
	f.phone = strings.TrimSpace(firstString(user["phone"], payload["phone"]))
	f.smsOptIn = truthy(user["sms_opt_in"])
	return f
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1", "y":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

// encodeValue renders a field for storage: maps and slices as JSON, bools
// as TRUE/FALSE.
func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case map[string]any, []any, map[string]string, []string, json.RawMessage:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(t), nil
	}
}
