package rowstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisGateSpacesConcurrentColdStarts(t *testing.T) {
	_, rdb := setupTestRedis(t)
	ctx := context.Background()

	clock := newFakeClock()
	var slept []time.Duration
	gate := NewRedisGate(rdb, 2500*time.Millisecond)
	gate.now = clock.Now
	gate.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	// Three processes miss their caches at the same instant.
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(ctx, "Users"))
	}
	assert.Equal(t, []time.Duration{2500 * time.Millisecond, 5 * time.Second}, slept)

	// Tables are gated independently.
	require.NoError(t, gate.Wait(ctx, "Jobs"))
	assert.Len(t, slept, 2)

	clock.Advance(10 * time.Second)
	require.NoError(t, gate.Wait(ctx, "Users"))
	assert.Len(t, slept, 2)
}

func TestRedisGateMarkDelaysNextRead(t *testing.T) {
	_, rdb := setupTestRedis(t)
	ctx := context.Background()

	clock := newFakeClock()
	var slept []time.Duration
	gate := NewRedisGate(rdb, 2*time.Second)
	gate.now = clock.Now
	gate.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, gate.Mark(ctx, "Users"))
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, gate.Wait(ctx, "Users"))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, slept)
}

func TestRedisGateMarkerExpires(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	gate := NewRedisGate(rdb, time.Second)
	require.NoError(t, gate.Mark(ctx, "Users"))
	assert.True(t, mr.Exists("letterdesk:fetch_gate:Users"))

	mr.FastForward(5 * time.Second)
	assert.False(t, mr.Exists("letterdesk:fetch_gate:Users"))
}

func TestFileGate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var slept []time.Duration

	gate := NewFileGate(t.TempDir(), 2500*time.Millisecond)
	gate.now = clock.Now
	gate.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	// No marker yet.
	require.NoError(t, gate.Wait(ctx, "Users"))
	assert.Empty(t, slept)

	require.NoError(t, gate.Mark(ctx, "Users"))
	clock.Advance(time.Second)
	require.NoError(t, gate.Wait(ctx, "Users"))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, slept)

	clock.Advance(5 * time.Second)
	require.NoError(t, gate.Wait(ctx, "Users"))
	assert.Len(t, slept, 1)
}

func TestSnapshotGoesThroughGate(t *testing.T) {
	_, rdb := setupTestRedis(t)
	backend := NewMemoryBackend()
	client, clock := newTestClient(t, backend)
	ctx := context.Background()

	var slept []time.Duration
	gate := NewRedisGate(rdb, 2*time.Second)
	gate.now = clock.Now
	gate.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	client.gate = gate

	table, err := client.Table(ctx, jobsSchema)
	require.NoError(t, err)

	_, err = table.Snapshot(ctx)
	require.NoError(t, err)
	_, err = table.Fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}
