// Package reconcile implements C7, the Drift Reconciler: a periodic,
// lock-free pull of whatever config the shared-state store currently
// holds, applied locally if it is newer than what this instance last
// wrote. It is idempotent — reapplying the same text is a no-op in
// effect — so it runs independently on every instance without
// coordination (spec.md §4.7).
package reconcile

import (
	"context"
	"time"

	"github.com/intouch-cp/lb-controlplane/logger"
)

// puller is the narrow slice of sharedstate.Store the reconciler needs.
type puller interface {
	GetProxyConfig(ctx context.Context) (string, bool)
	GetLastProxyUpdate(ctx context.Context) (time.Time, bool)
}

// applier is the narrow slice of proxyconfig.Materializer the
// reconciler needs.
type applier interface {
	ApplyExternal(ctx context.Context, text string) error
	LastApplied() time.Time
}

// Reconciler pulls the published config and applies it when the
// store's copy is newer than what this instance has on disk.
type Reconciler struct {
	store puller
	mat   applier
}

// New builds a Reconciler.
func New(store puller, mat applier) *Reconciler {
	return &Reconciler{store: store, mat: mat}
}

// Sync runs one reconciliation pass. It never errors outward —
// failures are transient store/filesystem conditions that the next
// scheduled pass will retry (spec.md §7.2).
func (r *Reconciler) Sync(ctx context.Context) {
	remoteTime, ok := r.store.GetLastProxyUpdate(ctx)
	if !ok {
		return
	}
	if !remoteTime.After(r.mat.LastApplied()) {
		return
	}

	text, ok := r.store.GetProxyConfig(ctx)
	if !ok {
		return
	}

	if err := r.mat.ApplyExternal(ctx, text); err != nil {
		logger.Errorf("reconcile: failed to apply drifted config: %v", err)
		return
	}

	logger.WithFields(logger.Fields{
		"remote_update_time": remoteTime,
	}).Info("reconcile: applied newer config from shared state")
}
