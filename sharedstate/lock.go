package sharedstate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intouch-cp/lb-controlplane/logger"
)

// releaseScript deletes lock:<name> only if its value still matches
// the holder's token, so a lock that expired and was re-acquired by
// another instance is never torn down from under it. This mirrors
// RedisStateService.releaseLock's read-then-compare-then-delete, made
// atomic with a Lua script instead of a separate GET+DEL round trip.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// TryAcquireLock attempts to take the named lock for ttl using
// SETNX semantics (SET ... NX EX). token identifies this attempt's
// holder and must be passed back to ReleaseLock.
func (s *Store) TryAcquireLock(ctx context.Context, name, token string, ttl time.Duration) bool {
	key := s.key(lockPrefix + name)
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		logger.Errorf("sharedstate: acquire lock %s: %v", name, err)
		return false
	}
	return ok
}

// ReleaseLock releases the named lock only if token still matches the
// value stored, per spec.md §4.5's non-owner-release-is-a-no-op
// invariant.
func (s *Store) ReleaseLock(ctx context.Context, name, token string) {
	key := s.key(lockPrefix + name)
	if err := s.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil && err != redis.Nil {
		logger.Errorf("sharedstate: release lock %s: %v", name, err)
	}
}
