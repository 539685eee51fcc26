package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/rowstore"
	"letterdesk/pkg/logger"
	"letterdesk/pkg/metrics"
)

const defaultListLimit = 25

type Options struct {
	Table         string
	Location      *time.Location
	ListCacheTTL  time.Duration
	FirstSMSAfter time.Duration
	Logger        *zap.Logger
}

// Queue stores jobs as rows. Lists for an owner have their own short cache
// on top of the table snapshot.
type Queue struct {
	store         *rowstore.Client
	schema        rowstore.Schema
	loc           *time.Location
	lists         *rowstore.TTLCache[[]Job]
	firstSMSAfter time.Duration
	logger        *zap.Logger
}

func NewQueue(store *rowstore.Client, opts Options) *Queue {
	if opts.Table == "" {
		opts.Table = "Jobs"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ListCacheTTL <= 0 {
		opts.ListCacheTTL = 20 * time.Second
	}
	if opts.FirstSMSAfter <= 0 {
		opts.FirstSMSAfter = 10 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		store:         store,
		schema:        Schema(opts.Table),
		loc:           opts.Location,
		lists:         rowstore.NewTTLCache[[]Job](opts.ListCacheTTL, store.Now),
		firstSMSAfter: opts.FirstSMSAfter,
		logger:        opts.Logger,
	}
}

func (q *Queue) Schema() rowstore.Schema { return q.schema }

func (q *Queue) Location() *time.Location { return q.loc }

func (q *Queue) now() time.Time { return q.store.Now().In(q.loc) }

func (q *Queue) table(ctx context.Context) (*rowstore.Table, error) {
	return q.store.Table(ctx, q.schema)
}

// Enqueue appends one queued job in a single call. Follow-up columns come
// from payload.user.phone and payload.user.sms_opt_in.
func (q *Queue) Enqueue(ctx context.Context, owner, bureau, disputeType, roundName string, payload map[string]any) (*Job, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return nil, apperr.Invalid("email", "required")
	}
	if strings.TrimSpace(bureau) == "" {
		return nil, apperr.Invalid("bureau", "required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Invalid("payload", err.Error())
	}

	t, err := q.table(ctx)
	if err != nil {
		return nil, err
	}

	now := q.now()
	created := now.Format(TimestampLayout)
	f := readFollowUp(payload)

	job := Job{
		LetterID:    NewLetterID(f.fullName, bureau, now),
		Status:      StatusQueued,
		Email:       owner,
		Bureau:      bureau,
		DisputeType: disputeType,
		RoundName:   roundName,
		PayloadJSON: string(raw),
		CreatedAt:   created,
		UpdatedAt:   created,
		PhoneCached: f.phone,
		SMSOptIn:    f.smsOptIn,
	}
	if job.WantsSMS() {
		job.FirstSMSDueAt = now.Add(q.firstSMSAfter).Format(dateLayout)
		job.SMSStatus = "pending"
	}

	optIn := "FALSE"
	if job.SMSOptIn {
		optIn = "TRUE"
	}
	err = t.Append(ctx, rowstore.Record{
		ColLetterID:      job.LetterID,
		ColStatus:        job.Status,
		ColEmail:         job.Email,
		ColBureau:        job.Bureau,
		ColDisputeType:   job.DisputeType,
		ColRoundName:     job.RoundName,
		ColPayloadJSON:   job.PayloadJSON,
		ColLetterText:    "",
		ColQANotes:       "",
		ColCreatedAt:     job.CreatedAt,
		ColUpdatedAt:     job.UpdatedAt,
		ColPhoneCached:   job.PhoneCached,
		ColSMSOptIn:      optIn,
		ColFirstSMSDueAt: job.FirstSMSDueAt,
		ColLastSMSAt:     "",
		ColSMSStatus:     job.SMSStatus,
	})
	if err != nil {
		return nil, err
	}
	q.lists.Clear()
	metrics.IncrementJobsEnqueued()
	logger.WithTrace(ctx, q.logger).Info("job enqueued",
		zap.String("letter_id", job.LetterID),
		logger.Email(owner),
		zap.String("bureau", bureau),
	)
	return &job, nil
}

// ListForEmail returns the last limit jobs of email in storage order.
func (q *Queue) ListForEmail(ctx context.Context, email string, limit int) ([]Job, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if limit <= 0 {
		limit = defaultListLimit
	}
	key := fmt.Sprintf("%s::%d", email, limit)
	if jobs, ok := q.lists.Get(key); ok {
		return jobs, nil
	}

	t, err := q.table(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []Job
	for _, row := range snap.Rows {
		if strings.EqualFold(strings.TrimSpace(row.Record.Get(ColEmail)), email) {
			out = append(out, fromRow(row))
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	q.lists.Put(key, out)
	return out, nil
}

// FindByID looks letterID up in an already fetched list; the last match wins.
func FindByID(jobs []Job, letterID string) (*Job, bool) {
	id := strings.TrimSpace(letterID)
	if id == "" {
		return nil, false
	}
	for i := len(jobs) - 1; i >= 0; i-- {
		if strings.TrimSpace(jobs[i].LetterID) == id {
			j := jobs[i]
			return &j, true
		}
	}
	return nil, false
}

// Get finds letterID in the table snapshot; the last match wins.
func (q *Queue) Get(ctx context.Context, letterID string) (*Job, error) {
	t, err := q.table(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := snap.FindLast(ColLetterID, letterID)
	if !ok {
		return nil, apperr.NotFound("job", letterID)
	}
	job := fromRow(row)
	return &job, nil
}

// Update merges fields into the stored row and writes the full row back,
// conditional on the row not having changed since it was read.
func (q *Queue) Update(ctx context.Context, letterID string, fields map[string]any) (*Job, error) {
	return q.mutate(ctx, letterID, func(rowstore.Record) (map[string]any, error) {
		return fields, nil
	})
}

func (q *Queue) mutate(ctx context.Context, letterID string, fn func(current rowstore.Record) (map[string]any, error)) (*Job, error) {
	t, err := q.table(ctx)
	if err != nil {
		return nil, err
	}
	stamp := q.now().Format(TimestampLayout)
	row, err := t.Mutate(ctx, letterID, func(rec rowstore.Record) error {
		fields, err := fn(rec)
		if err != nil {
			return err
		}
		for k, v := range fields {
			s, err := encodeValue(v)
			if err != nil {
				return apperr.Invalid(k, err.Error())
			}
			rec[k] = s
		}
		rec[ColUpdatedAt] = stamp
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("job", letterID)
		}
		return nil, err
	}
	q.lists.Clear()
	job := fromRow(row)
	return &job, nil
}

// UpdateFields writes sparse fields as single cells in one batch. It also
// stamps updated_at unless fields sets it.
func (q *Queue) UpdateFields(ctx context.Context, letterID string, fields map[string]any) error {
	t, err := q.table(ctx)
	if err != nil {
		return err
	}
	row, err := t.Locate(ctx, letterID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("job", letterID)
		}
		return err
	}

	rec := make(rowstore.Record, len(fields)+1)
	for k, v := range fields {
		s, err := encodeValue(v)
		if err != nil {
			return apperr.Invalid(k, err.Error())
		}
		rec[k] = s
	}
	if _, ok := rec[ColUpdatedAt]; !ok {
		rec[ColUpdatedAt] = q.now().Format(TimestampLayout)
	}
	if err := t.WriteFields(ctx, row, rec); err != nil {
		return err
	}
	q.lists.Clear()
	return nil
}

// Requeue puts a job back to queued from any status and clears its QA
// notes. The payload is replaced only when one is given.
func (q *Queue) Requeue(ctx context.Context, letterID string, payload map[string]any) (*Job, error) {
	fields := map[string]any{
		ColStatus:  StatusQueued,
		ColQANotes: "",
	}
	if payload != nil {
		fields[ColPayloadJSON] = payload
	}
	return q.Update(ctx, letterID, fields)
}

// Review moves a queued job to approved or needs_fix.
func (q *Queue) Review(ctx context.Context, letterID, status, notes, letterText string) (*Job, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != StatusApproved && status != StatusNeedsFix {
		return nil, apperr.Invalid("status", fmt.Sprintf("must be %s or %s", StatusApproved, StatusNeedsFix))
	}
	return q.mutate(ctx, letterID, func(current rowstore.Record) (map[string]any, error) {
		from := strings.ToLower(strings.TrimSpace(current.Get(ColStatus)))
		if from != StatusQueued {
			return nil, apperr.Invalid("status", fmt.Sprintf("cannot review a job in status %q", from))
		}
		fields := map[string]any{
			ColStatus:  status,
			ColQANotes: notes,
		}
		if letterText != "" {
			fields[ColLetterText] = letterText
		}
		return fields, nil
	})
}
