package rowstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"letterdesk/pkg/backoff"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, backend *MemoryBackend) (*Client, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	exec := backoff.New(backoff.DefaultConfig(), zap.NewNop()).WithSleep(noSleep)
	client := NewClient(Options{
		Backend:  backend,
		Executor: exec,
		Cache:    NewSnapshotCache(time.Minute, map[string]time.Duration{"Users": 3 * time.Minute}, clock.Now),
		Now:      clock.Now,
	})
	return client, clock
}

var jobsSchema = Schema{
	Name:    "Jobs",
	Version: 2,
	Columns: []string{"letter_id", "status", "email", "round_name", "qa_notes", "updated_at", "phone_cached", "sms_opt_in"},
	Aliases: map[string][]string{
		"round_name": {"round"},
		"updated_at": {"updated_at_local"},
	},
}
