package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// AcquireOnce claims handler+id for the dedup TTL.
// returns true if this caller holds the claim
// returns false if someone else already does
//
// A nil Deduper, or Redis being down, grants the claim; callers must not
// rely on it as their only guard.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	if d == nil || d.rdb == nil {
		return true
	}
	key := fmt.Sprintf("dedup:%s:%s", handler, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops a claim early, e.g. after a failed attempt.
func (d *Deduper) Release(ctx context.Context, handler, id string) {
	if d == nil || d.rdb == nil {
		return
	}
	_ = d.rdb.Del(ctx, fmt.Sprintf("dedup:%s:%s", handler, id)).Err()
}
