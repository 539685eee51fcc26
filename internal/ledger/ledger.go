// Package ledger is the append-only usage log. Entries are written in
// reaction to generation.recorded, after the account counters were updated.
package ledger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/rowstore"
	"letterdesk/pkg/logger"
)

const (
	ColTimestamp   = "timestamp"
	ColEmail       = "email"
	ColBureau      = "bureau"
	ColDisputeType = "dispute_type"
	ColAccountRef  = "account_ref"
	ColLetterID    = "letter_id"
)

const timestampLayout = "2006-01-02 15:04:05"

func Schema(name string) rowstore.Schema {
	return rowstore.Schema{
		Name:    name,
		Version: 1,
		Columns: []string{ColTimestamp, ColEmail, ColBureau, ColDisputeType, ColAccountRef, ColLetterID},
		Aliases: map[string][]string{
			ColTimestamp: {"ts", "timestamp_local"},
		},
	}
}

type Entry struct {
	Timestamp   string `json:"timestamp"`
	Email       string `json:"email"`
	Bureau      string `json:"bureau"`
	DisputeType string `json:"dispute_type"`
	AccountRef  string `json:"account_ref"`
	LetterID    string `json:"letter_id"`
}

// Counts are usage figures recomputed from the log.
type Counts struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
	Total   int `json:"total"`
}

type Options struct {
	Table    string
	Location *time.Location
	Logger   *zap.Logger
}

type Ledger struct {
	store  *rowstore.Client
	schema rowstore.Schema
	loc    *time.Location
	logger *zap.Logger
}

func New(store *rowstore.Client, opts Options) *Ledger {
	if opts.Table == "" {
		opts.Table = "LetterLog"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		schema: Schema(opts.Table),
		loc:    opts.Location,
		logger: opts.Logger,
	}
}

func (l *Ledger) Schema() rowstore.Schema { return l.schema }

// Append writes one entry. An empty Timestamp is stamped with the current
// business time.
func (l *Ledger) Append(ctx context.Context, e Entry) (*Entry, error) {
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	if e.Email == "" {
		return nil, apperr.Invalid("email", "required")
	}
	if e.Timestamp == "" {
		e.Timestamp = l.store.Now().In(l.loc).Format(timestampLayout)
	}
	t, err := l.store.Table(ctx, l.schema)
	if err != nil {
		return nil, err
	}
	err = t.Append(ctx, rowstore.Record{
		ColTimestamp:   e.Timestamp,
		ColEmail:       e.Email,
		ColBureau:      e.Bureau,
		ColDisputeType: e.DisputeType,
		ColAccountRef:  e.AccountRef,
		ColLetterID:    e.LetterID,
	})
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, l.logger).Debug("ledger entry appended",
		logger.Email(e.Email), zap.String("letter_id", e.LetterID))
	return &e, nil
}

// ForEmail returns the entries of email in storage order.
func (l *Ledger) ForEmail(ctx context.Context, email string) ([]Entry, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	t, err := l.store.Table(ctx, l.schema)
	if err != nil {
		return nil, err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rows := snap.Filter(func(rec rowstore.Record) bool {
		return strings.EqualFold(strings.TrimSpace(rec.Get(ColEmail)), email)
	})
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		rec := row.Record
		out = append(out, Entry{
			Timestamp:   rec.Get(ColTimestamp),
			Email:       strings.TrimSpace(rec.Get(ColEmail)),
			Bureau:      rec.Get(ColBureau),
			DisputeType: rec.Get(ColDisputeType),
			AccountRef:  rec.Get(ColAccountRef),
			LetterID:    rec.Get(ColLetterID),
		})
	}
	return out, nil
}

// Counts tallies the entries of email falling on the business day and month
// of now. Entries with unparseable timestamps only count toward Total.
func (l *Ledger) Counts(ctx context.Context, email string, now time.Time) (Counts, error) {
	entries, err := l.ForEmail(ctx, email)
	if err != nil {
		return Counts{}, err
	}
	now = now.In(l.loc)
	var c Counts
	for _, e := range entries {
		c.Total++
		ts, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(e.Timestamp), l.loc)
		if err != nil {
			continue
		}
		if ts.Year() == now.Year() && ts.Month() == now.Month() {
			c.Monthly++
			if ts.Day() == now.Day() {
				c.Daily++
			}
		}
	}
	return c, nil
}
