package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/rowstore"
	"letterdesk/pkg/backoff"
)

func newTestLedger(t *testing.T, now time.Time) (*Ledger, *rowstore.MemoryBackend) {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clock := func() time.Time { return now }
	backend := rowstore.NewMemoryBackend()
	store := rowstore.NewClient(rowstore.Options{
		Backend:  backend,
		Executor: backoff.New(backoff.DefaultConfig(), zap.NewNop()).WithSleep(func(context.Context, time.Duration) error { return nil }),
		Cache:    rowstore.NewSnapshotCache(2*time.Minute, nil, clock),
		Now:      clock,
	})
	return New(store, Options{Location: ny}), backend
}

func TestAppendStampsBusinessTime(t *testing.T) {
	l, backend := newTestLedger(t, time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))
	e, err := l.Append(context.Background(), Entry{Email: " A@X.com", Bureau: "Equifax", LetterID: "jane-equifax-1"})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10 10:00:00", e.Timestamp)
	assert.Equal(t, "a@x.com", e.Email)

	rows := backend.Rows("LetterLog")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"timestamp", "email", "bureau", "dispute_type", "account_ref", "letter_id"}, rows[0])

	_, err = l.Append(context.Background(), Entry{})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCountsRecomputedFromEntries(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	l, backend := newTestLedger(t, now)
	backend.Seed("LetterLog",
		[]string{"ts", "email", "bureau", "dispute_type", "account_ref", "letter_id"},
		[]string{"2025-06-10 09:00:00", "a@x.com", "Equifax", "", "", "1"},
		[]string{"2025-06-10 23:30:00", "A@x.com", "Experian", "", "", "2"},
		[]string{"2025-06-02 12:00:00", "a@x.com", "Equifax", "", "", "3"},
		[]string{"2025-05-31 12:00:00", "a@x.com", "Equifax", "", "", "4"},
		[]string{"yesterday-ish", "a@x.com", "Equifax", "", "", "5"},
		[]string{"2025-06-10 09:00:00", "b@x.com", "Equifax", "", "", "6"},
	)

	entries, err := l.ForEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "2025-06-10 09:00:00", entries[0].Timestamp)

	c, err := l.Counts(context.Background(), "a@x.com", now)
	require.NoError(t, err)
	assert.Equal(t, Counts{Daily: 2, Monthly: 3, Total: 5}, c)
}
