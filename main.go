package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intouch-cp/lb-controlplane/api"
	"github.com/intouch-cp/lb-controlplane/coldstore"
	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/coordinator"
	"github.com/intouch-cp/lb-controlplane/logger"
	"github.com/intouch-cp/lb-controlplane/metrics"
	"github.com/intouch-cp/lb-controlplane/policy"
	"github.com/intouch-cp/lb-controlplane/proxyconfig"
	"github.com/intouch-cp/lb-controlplane/reconcile"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/scheduler"
	"github.com/intouch-cp/lb-controlplane/sharedstate"
	"github.com/intouch-cp/lb-controlplane/weight"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(os.Getenv("LOG_LEVEL"))

	servers := registry.New(cfg.IncomingServers, cfg.OutgoingServers)

	hot := sharedstate.New(cfg.Redis, cfg.TTL)
	defer hot.Close()

	cold, err := coldstore.Open(cfg.ColdStore.Driver, cfg.ColdStore.DSN)
	if err != nil {
		logger.Errorf("failed to open cold store: %v", err)
		os.Exit(1)
	}
	defer cold.Close()

	policies := policy.New()
	engine := weight.New(weight.DefaultFactors())
	coord := coordinator.New(cfg.InstanceID, cfg.LockTTL, hot)
	mat := proxyconfig.New(cfg.Proxy.ConfigDir, cfg.Proxy.ConfigFile, cfg.Proxy.ReloadCommand, cfg.Proxy.ReloadTimeout, cfg.Proxy.BackupOnWrite, servers, hot)
	reconciler := reconcile.New(hot, mat)

	// ingestor is assigned after New returns; the onReady closure below
	// captures the variable, not its value, so it is safe to reference
	// here as long as nothing invokes it before the assignment below.
	var ingestor *metrics.Ingestor
	ingestor = metrics.New(cfg.EWMAAlpha, hot, cold, servers, func(ctx context.Context) {
		runWeightCycle(ctx, coord, engine, policies, servers, ingestor, mat)
	})

	sched := scheduler.New(cfg.Intervals).
		OnWeightCycle(func(ctx context.Context) {
			runWeightCycle(ctx, coord, engine, policies, servers, ingestor, mat)
		}).
		OnHeartbeat(coord.Heartbeat).
		OnDriftSync(reconciler.Sync).
		OnHotCleanup(func(ctx context.Context) { hot.CleanupExpiredMetrics(ctx) }).
		OnColdCleanup(func(ctx context.Context) { cold.Cleanup(ctx, time.Now().AddDate(0, 0, -7)) })

	admin := api.New(addr(cfg.AdminPort), ingestor, policies, engine, servers, coord, mat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("admin surface listening on %s", addr(cfg.AdminPort))
		if err := admin.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("admin surface failed: %v", err)
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Errorf("scheduler stopped with error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := admin.Shutdown(30 * time.Second); err != nil {
		logger.Errorf("admin surface shutdown failed: %v", err)
	}

	logger.Info("shutdown complete")
}

func addr(port int) string {
	return fmt.Sprintf(":%d", port)
}

// runWeightCycle is C3+C5+C6 chained together for one tick: acquire
// the cluster-wide lock, recompute both pools' allocations, and
// materialize the result. Losing the lock race is the normal case in
// a multi-instance deployment and is not logged as an error.
func runWeightCycle(ctx context.Context, coord *coordinator.Coordinator, engine *weight.Engine, policies *policy.Store, servers *registry.Registry, ingestor *metrics.Ingestor, mat *proxyconfig.Materializer) {
	ran, err := coord.RunExclusive(ctx, func(ctx context.Context) error {
		return computeAndMaterialize(ctx, engine, policies, servers, ingestor, mat)
	})
	if err != nil {
		logger.Errorf("weight cycle failed: %v", err)
	}
	if ran {
		logger.Debug("weight cycle completed under lock")
	}
}

func computeAndMaterialize(ctx context.Context, engine *weight.Engine, policies *policy.Store, servers *registry.Registry, ingestor *metrics.Ingestor, mat *proxyconfig.Materializer) error {
	incomingServers := servers.Pool(registry.Incoming)
	outgoingServers := servers.Pool(registry.Outgoing)

	policyByID := policyMap(policies)

	incomingRecords := ingestor.AllLatest(ctx, idsOf(incomingServers))
	outgoingRecords := ingestor.AllLatest(ctx, idsOf(outgoingServers))

	incoming := engine.Compute(registry.Incoming, incomingServers, incomingRecords, policyByID)
	outgoing := engine.Compute(registry.Outgoing, outgoingServers, outgoingRecords, policyByID)

	return mat.Materialize(ctx, incoming, outgoing)
}

func policyMap(store *policy.Store) map[string]policy.Config {
	out := make(map[string]policy.Config)
	for _, p := range store.All() {
		out[p.ServerID] = p
	}
	return out
}

func idsOf(servers []registry.ServerDescriptor) []string {
	out := make([]string, len(servers))
	for i, s := range servers {
		out[i] = s.ID
	}
	return out
}
