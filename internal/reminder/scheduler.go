package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/jobs"
	"letterdesk/internal/notify"
	"letterdesk/internal/rowstore"
	"letterdesk/pkg/logger"
	"letterdesk/pkg/metrics"
)

const claimHandler = "reminder"

// Claims hands out short-lived exclusive claims. *util.Deduper satisfies it.
type Claims interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// JobStamper records SMS follow-up state on the job row.
type JobStamper interface {
	UpdateFields(ctx context.Context, letterID string, fields map[string]any) error
}

type Options struct {
	Table      string
	Cadence    []Step
	StaleAfter time.Duration
	BatchSize  int
	Claims     Claims
	Jobs       JobStamper
	Notifier   notify.Notifier
	// Location is the zone job timestamps are written in.
	Location *time.Location
	Logger   *zap.Logger
}

type Scheduler struct {
	store      *rowstore.Client
	schema     rowstore.Schema
	cadence    []Step
	staleAfter time.Duration
	batch      int
	claims     Claims
	jobs       JobStamper
	notifier   notify.Notifier
	loc        *time.Location
	logger     *zap.Logger
}

func NewScheduler(store *rowstore.Client, opts Options) *Scheduler {
	if opts.Table == "" {
		opts.Table = "Reminders"
	}
	if len(opts.Cadence) == 0 {
		opts.Cadence = DefaultCadence()
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		store:      store,
		schema:     Schema(opts.Table),
		cadence:    opts.Cadence,
		staleAfter: opts.StaleAfter,
		batch:      opts.BatchSize,
		claims:     opts.Claims,
		jobs:       opts.Jobs,
		notifier:   opts.Notifier,
		loc:        opts.Location,
		logger:     opts.Logger,
	}
}

func (s *Scheduler) Schema() rowstore.Schema { return s.schema }

func (s *Scheduler) table(ctx context.Context) (*rowstore.Table, error) {
	return s.store.Table(ctx, s.schema)
}

// Schedule appends one pending reminder per cadence step, counted from the
// job's creation time (now when that stamp does not parse). Steps already
// present for the job are skipped, so redelivered events do not duplicate
// rows.
func (s *Scheduler) Schedule(ctx context.Context, job jobs.Job) ([]Reminder, error) {
	if strings.TrimSpace(job.LetterID) == "" {
		return nil, apperr.Invalid("letter_id", "required")
	}
	t, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	channel := notify.ChannelEmail
	if job.WantsSMS() {
		channel = notify.ChannelSMS
	}
	payload, err := json.Marshal(map[string]string{"bureau": job.Bureau, "round": job.RoundName})
	if err != nil {
		return nil, err
	}

	now := s.store.Now().UTC()
	stamp := formatUTC(now)
	base := now
	if created, err := job.Created(s.loc); err == nil {
		base = created.UTC()
	}
	var out []Reminder
	for _, step := range s.cadence {
		id := job.LetterID + "-" + step.Topic
		if _, exists := snap.Find(ColReminderID, id); exists {
			continue
		}
		r := Reminder{
			ID:        id,
			LetterID:  job.LetterID,
			Email:     job.Email,
			Phone:     job.PhoneCached,
			Channel:   channel,
			Topic:     step.Topic,
			DueAt:     base.Add(step.After).Truncate(time.Second),
			Status:    StatusPending,
			Payload:   map[string]string{"bureau": job.Bureau, "round": job.RoundName},
			CreatedAt: stamp,
			UpdatedAt: stamp,
		}
		err := t.Append(ctx, rowstore.Record{
			ColReminderID:  r.ID,
			ColLetterID:    r.LetterID,
			ColEmail:       r.Email,
			ColPhone:       r.Phone,
			ColChannel:     r.Channel,
			ColTopic:       r.Topic,
			ColDueAt:       formatUTC(r.DueAt),
			ColStatus:      r.Status,
			ColPayloadJSON: string(payload),
			ColCreatedAt:   stamp,
			ColUpdatedAt:   stamp,
		})
		if err != nil {
			return out, fmt.Errorf("schedule %s: %w", id, err)
		}
		out = append(out, r)
	}
	logger.WithTrace(ctx, s.logger).Info("reminders scheduled",
		zap.String("letter_id", job.LetterID),
		zap.String("channel", channel),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// ListDue returns up to limit reminders that are pending and due at now,
// plus those stuck in sending for longer than the stale window. Earliest
// due first.
func (s *Scheduler) ListDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = s.batch
	}
	t, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	var due []Reminder
	for _, row := range snap.Rows {
		r, ok := fromRow(row)
		if !ok || r.DueAt.After(now) {
			continue
		}
		if s.claimable(r, now) {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Scheduler) claimable(r Reminder, now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return true
	case StatusSending:
		updated, err := parseUTC(r.UpdatedAt)
		return err != nil || now.Sub(updated) >= s.staleAfter
	}
	return false
}

// Claim marks r as sending, provided nobody changed its row since it was
// listed. ok is false when another sweeper holds or took it.
func (s *Scheduler) Claim(ctx context.Context, r Reminder) (Reminder, bool, error) {
	if !s.acquire(ctx, r.ID) {
		return r, false, nil
	}
	t, err := s.table(ctx)
	if err != nil {
		s.release(ctx, r.ID)
		return r, false, err
	}
	row, err := t.CompareAndWrite(ctx, r.Row, r.Version, rowstore.Record{
		ColStatus:    StatusSending,
		ColUpdatedAt: formatUTC(s.store.Now()),
	})
	if err != nil {
		s.release(ctx, r.ID)
		if errors.Is(err, apperr.ErrConflict) {
			return r, false, nil
		}
		return r, false, err
	}
	claimed, _ := fromRow(row)
	return claimed, true, nil
}

// MarkSent records a delivered reminder.
func (s *Scheduler) MarkSent(ctx context.Context, r Reminder) error {
	now := formatUTC(s.store.Now())
	return s.write(ctx, r, rowstore.Record{
		ColStatus:    StatusSent,
		ColSentAt:    now,
		ColUpdatedAt: now,
		ColLastError: "",
	})
}

// MarkFailed records a failed delivery with its cause.
func (s *Scheduler) MarkFailed(ctx context.Context, r Reminder, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	defer s.release(ctx, r.ID)
	return s.write(ctx, r, rowstore.Record{
		ColStatus:    StatusFailed,
		ColUpdatedAt: formatUTC(s.store.Now()),
		ColLastError: msg,
	})
}

func (s *Scheduler) write(ctx context.Context, r Reminder, fields rowstore.Record) error {
	t, err := s.table(ctx)
	if err != nil {
		return err
	}
	return t.WriteFields(ctx, r.Row, fields)
}

func (s *Scheduler) acquire(ctx context.Context, id string) bool {
	if s.claims == nil {
		return true
	}
	return s.claims.AcquireOnce(ctx, claimHandler, id)
}

func (s *Scheduler) release(ctx context.Context, id string) {
	if s.claims != nil {
		s.claims.Release(ctx, claimHandler, id)
	}
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Due     int
	Claimed int
	Sent    int
	Failed  int
	Skipped int
}

// Sweep dispatches every due reminder it can claim. A rate-limited store
// ends the sweep early; the remaining reminders stay pending for the next one.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	log := logger.WithTrace(ctx, s.logger)

	due, err := s.ListDue(ctx, s.store.Now(), s.batch)
	if err != nil {
		return res, err
	}
	res.Due = len(due)

	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		claimed, ok, err := s.Claim(ctx, r)
		if err != nil {
			if apperr.IsRateLimited(err) {
				return res, err
			}
			log.Warn("reminder claim failed", zap.String("reminder_id", r.ID), zap.Error(err))
			res.Skipped++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}
		res.Claimed++

		if sendErr := s.dispatch(ctx, claimed); sendErr != nil {
			res.Failed++
			metrics.IncrementReminderDispatch(claimed.Channel, StatusFailed)
			log.Warn("reminder dispatch failed",
				zap.String("reminder_id", claimed.ID),
				zap.String("channel", claimed.Channel),
				zap.Error(sendErr),
			)
			if err := s.MarkFailed(ctx, claimed, sendErr); err != nil {
				log.Error("mark reminder failed", zap.String("reminder_id", claimed.ID), zap.Error(err))
			}
			s.stampJob(ctx, claimed, StatusFailed)
			continue
		}

		res.Sent++
		metrics.IncrementReminderDispatch(claimed.Channel, StatusSent)
		if err := s.MarkSent(ctx, claimed); err != nil {
			// Left in sending; reclaimed once stale.
			log.Error("mark reminder sent", zap.String("reminder_id", claimed.ID), zap.Error(err))
		}
		s.stampJob(ctx, claimed, StatusSent)
	}

	if res.Due > 0 {
		log.Info("reminder sweep finished",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

func (s *Scheduler) dispatch(ctx context.Context, r Reminder) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	to := r.Recipient()
	if to == "" {
		return apperr.Invalid(r.Channel, "no recipient")
	}
	return s.notifier.Send(ctx, notify.Message{
		Channel: r.Channel,
		To:      to,
		Topic:   r.Topic,
		Data:    r.Payload,
	})
}

func (s *Scheduler) stampJob(ctx context.Context, r Reminder, status string) {
	if r.Channel != notify.ChannelSMS || s.jobs == nil || r.LetterID == "" {
		return
	}
	fields := map[string]any{jobs.ColSMSStatus: status}
	if status == StatusSent {
		fields[jobs.ColLastSMSAt] = s.store.Now().In(s.loc).Format(jobs.TimestampLayout)
	}
	if err := s.jobs.UpdateFields(ctx, r.LetterID, fields); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("job sms stamp failed",
			zap.String("letter_id", r.LetterID), zap.Error(err))
	}
}

// Run sweeps every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("reminder sweep aborted", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
