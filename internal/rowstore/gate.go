package rowstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"letterdesk/pkg/metrics"
)

// FetchGate spaces full-table reads across processes. Wait blocks until the
// caller may read; Mark records a completed read.
type FetchGate interface {
	Wait(ctx context.Context, table string) error
	Mark(ctx context.Context, table string) error
}

// NopGate never waits.
type NopGate struct{}

func (NopGate) Wait(context.Context, string) error { return nil }
func (NopGate) Mark(context.Context, string) error { return nil }

// reserveScript hands out the next free fetch slot: max(now, last+interval).
// The caller sleeps until its slot; concurrent callers get successive slots.
var reserveScript = redis.NewScript(`
	local last = tonumber(redis.call("GET", KEYS[1]) or "0")
	local now = tonumber(ARGV[1])
	local interval = tonumber(ARGV[2])
	local slot = now
	if last + interval > slot then
		slot = last + interval
	end
	redis.call("SET", KEYS[1], slot, "PX", ARGV[3])
	return slot - now
`)

var markScript = redis.NewScript(`
	local last = tonumber(redis.call("GET", KEYS[1]) or "0")
	local now = tonumber(ARGV[1])
	if now > last then
		redis.call("SET", KEYS[1], now, "PX", ARGV[2])
	end
	return 0
`)

// RedisGate is a shared token bucket of one token per interval, so processes
// on different hosts cold-starting together are spaced interval apart.
type RedisGate struct {
	client   *redis.Client
	interval time.Duration
	prefix   string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRedisGate(client *redis.Client, interval time.Duration) *RedisGate {
	return &RedisGate{
		client:   client,
		interval: interval,
		prefix:   "letterdesk:fetch_gate:",
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (g *RedisGate) key(table string) string { return g.prefix + table }

func (g *RedisGate) expiry() int64 {
	// The marker only matters for one interval; keep it a little longer.
	return (g.interval * 4).Milliseconds()
}

func (g *RedisGate) Wait(ctx context.Context, table string) error {
	if g.interval <= 0 {
		return nil
	}
	now := g.now().UnixMilli()
	waitMs, err := reserveScript.Run(ctx, g.client, []string{g.key(table)},
		now, g.interval.Milliseconds(), g.expiry()).Int64()
	if err != nil {
		return fmt.Errorf("fetch gate reserve %s: %w", table, err)
	}
	if waitMs <= 0 {
		return nil
	}
	d := time.Duration(waitMs) * time.Millisecond
	metrics.RecordGateWait(table, d)
	return g.sleep(ctx, d)
}

func (g *RedisGate) Mark(ctx context.Context, table string) error {
	if g.interval <= 0 {
		return nil
	}
	err := markScript.Run(ctx, g.client, []string{g.key(table)},
		g.now().UnixMilli(), g.expiry()).Err()
	if err != nil {
		return fmt.Errorf("fetch gate mark %s: %w", table, err)
	}
	return nil
}

// FileGate keeps the last fetch time in a marker file. It only coordinates
// processes that share a filesystem.
type FileGate struct {
	dir      string
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewFileGate stores markers under dir, or os.TempDir() when dir is empty.
func NewFileGate(dir string, interval time.Duration) *FileGate {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileGate{dir: dir, interval: interval, now: time.Now, sleep: sleepCtx}
}

func (g *FileGate) path(table string) string {
	return filepath.Join(g.dir, "letterdesk_"+strings.ToLower(table)+"_last_fetch")
}

func (g *FileGate) Wait(ctx context.Context, table string) error {
	if g.interval <= 0 {
		return nil
	}
	raw, err := os.ReadFile(g.path(table))
	if err != nil {
		// No marker yet, or unreadable: do not block the read.
		return nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return nil
	}
	elapsed := g.now().Sub(time.UnixMilli(ms))
	if elapsed >= g.interval {
		return nil
	}
	d := g.interval - elapsed
	metrics.RecordGateWait(table, d)
	return g.sleep(ctx, d)
}

func (g *FileGate) Mark(_ context.Context, table string) error {
	if g.interval <= 0 {
		return nil
	}
	stamp := strconv.FormatInt(g.now().UnixMilli(), 10)
	if err := os.WriteFile(g.path(table), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("fetch gate mark %s: %w", table, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
