// Package coordinator implements C5: the distributed-lock-gated cycle
// driver and instance heartbeat publisher, grounded on
// InstanceHeartbeatService.java and RedisStateService's lock methods.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/intouch-cp/lb-controlplane/logger"
)

const weightCycleLock = "weight-cycle"

// lockStore is the narrow slice of sharedstate.Store the coordinator
// needs.
type lockStore interface {
	TryAcquireLock(ctx context.Context, name, token string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, name, token string)
	Heartbeat(ctx context.Context, instanceID string)
	ListActiveInstances(ctx context.Context) []string
}

// Coordinator gates the weight-recompute cycle behind a single
// cluster-wide lock so only one instance materializes config at a
// time, and publishes this instance's heartbeat on a fixed interval.
type Coordinator struct {
	instanceID string
	lockTTL    time.Duration
	store      lockStore
}

// New builds a Coordinator for this process's instance id.
func New(instanceID string, lockTTL time.Duration, store lockStore) *Coordinator {
	return &Coordinator{instanceID: instanceID, lockTTL: lockTTL, store: store}
}

// RunExclusive acquires the weight-cycle lock, runs fn if acquired,
// and releases it afterward regardless of fn's outcome
// (InstanceHeartbeatService's lock-acquire/finally-release discipline,
// applied to the cycle body instead of heartbeat registration).
// Returns false if the lock was held elsewhere this tick — that is the
// expected common case in a multi-instance deployment, not an error.
func (c *Coordinator) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) (ran bool, err error) {
	token := uuid.NewString()
	if !c.store.TryAcquireLock(ctx, weightCycleLock, token, c.lockTTL) {
		return false, nil
	}
	defer c.store.ReleaseLock(ctx, weightCycleLock, token)

	return true, fn(ctx)
}

// Heartbeat publishes this instance's liveness record. Active
// membership is defined purely by unexpired heartbeat keys — there is
// no explicit deregistration call, matching spec.md §3's TTL-based
// implicit departure model.
func (c *Coordinator) Heartbeat(ctx context.Context) {
	c.store.Heartbeat(ctx, c.instanceID)
	logger.Debugf("coordinator: heartbeat sent for %s", c.instanceID)
}

// ActiveInstances lists currently live instance ids.
func (c *Coordinator) ActiveInstances(ctx context.Context) []string {
	return c.store.ListActiveInstances(ctx)
}

// InstanceID returns this process's identity.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}
