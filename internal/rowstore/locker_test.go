package rowstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterdesk/internal/apperr"
)

func TestLocalLockerExcludes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "Jobs:2")
	require.NoError(t, err)

	// Other keys are independent.
	other, err := l.Lock(ctx, "Jobs:3")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "Jobs:2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := l.Lock(ctx, "Jobs:2")
	require.NoError(t, err)
	again()
}

func TestRedisLockerExcludes(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	ctx := context.Background()

	l := NewRedisLocker(rdb)
	l.wait = 30 * time.Millisecond
	l.retry = 5 * time.Millisecond

	unlock, err := l.Lock(ctx, "Users:4")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:Users:4"))

	_, err = l.Lock(ctx, "Users:4")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	unlock()
	assert.False(t, mr.Exists("lock:Users:4"))
}
