package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/events"
	"letterdesk/internal/jobs"
	"letterdesk/internal/ledger"
	"letterdesk/internal/reminder"
)

type fakeLedger struct {
	entries []ledger.Entry
	err     error
}

func (f *fakeLedger) Append(_ context.Context, e ledger.Entry) (*ledger.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

type memClaims map[string]bool

func (m memClaims) AcquireOnce(_ context.Context, handler, id string) bool {
	k := handler + ":" + id
	if m[k] {
		return false
	}
	m[k] = true
	return true
}

func (m memClaims) Release(_ context.Context, handler, id string) { delete(m, handler+":"+id) }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestLedgerHandlerSkipsRedelivery(t *testing.T) {
	l := &fakeLedger{}
	h := NewGenerationRecordedLedgerHandler(l, memClaims{}, zap.NewNop())
	raw := mustJSON(t, events.GenerationRecorded{EventID: "e1", Email: "a@x.com", LetterID: "l1", Bureau: "Equifax"})

	require.NoError(t, h.Handle(context.Background(), raw))
	require.NoError(t, h.Handle(context.Background(), raw))
	require.Len(t, l.entries, 1)
	assert.Equal(t, "Equifax", l.entries[0].Bureau)
}

func TestLedgerHandlerReleasesClaimOnFailure(t *testing.T) {
	l := &fakeLedger{err: apperr.RateLimited(errors.New("429"))}
	claims := memClaims{}
	h := NewGenerationRecordedLedgerHandler(l, claims, zap.NewNop())
	raw := mustJSON(t, events.GenerationRecorded{EventID: "e1", Email: "a@x.com"})

	err := h.Handle(context.Background(), raw)
	assert.True(t, apperr.IsRateLimited(err))

	l.err = nil
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Len(t, l.entries, 1)
}

func TestLedgerHandlerRejectsGarbage(t *testing.T) {
	h := NewGenerationRecordedLedgerHandler(&fakeLedger{}, nil, zap.NewNop())
	assert.Error(t, h.Handle(context.Background(), json.RawMessage(`{"email":`)))
}

type fakeScheduler struct {
	got []jobs.Job
}

func (f *fakeScheduler) Schedule(_ context.Context, job jobs.Job) ([]reminder.Reminder, error) {
	f.got = append(f.got, job)
	return nil, nil
}

func TestReminderHandlerBuildsJob(t *testing.T) {
	s := &fakeScheduler{}
	h := NewJobEnqueuedReminderHandler(s, zap.NewNop())
	raw := mustJSON(t, events.JobEnqueued{LetterID: "l1", Email: "a@x.com", Bureau: "Experian", RoundName: "Round 2", Phone: "+15550100", SMSOptIn: true})

	require.NoError(t, h.Handle(context.Background(), raw))
	require.Len(t, s.got, 1)
	assert.True(t, s.got[0].WantsSMS())
	assert.Equal(t, "Round 2", s.got[0].RoundName)
}
