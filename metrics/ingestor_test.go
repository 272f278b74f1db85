package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intouch-cp/lb-controlplane/coldstore"
	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/cperrors"
	"github.com/intouch-cp/lb-controlplane/registry"
)

type fakeHotStore struct {
	mu   sync.Mutex
	data map[string]Record
}

func newFakeHotStore() *fakeHotStore { return &fakeHotStore{data: make(map[string]Record)} }

func (f *fakeHotStore) PutMetric(ctx context.Context, serverID string, sample interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[serverID] = sample.(Record)
}

func (f *fakeHotStore) GetMetric(ctx context.Context, serverID string, out interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[serverID]
	if !ok {
		return false
	}
	*(out.(*Record)) = rec
	return true
}

func (f *fakeHotStore) ScanAllMetrics(ctx context.Context, newItem func() interface{}) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]interface{}, len(f.data))
	for id, rec := range f.data {
		item := newItem().(*Record)
		*item = rec
		out[id] = item
	}
	return out
}

type fakeColdStore struct {
	mu   sync.Mutex
	data map[string]coldstore.Record
}

func newFakeColdStore() *fakeColdStore { return &fakeColdStore{data: make(map[string]coldstore.Record)} }

func (f *fakeColdStore) Put(ctx context.Context, r coldstore.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[r.ServerID] = r
}

func (f *fakeColdStore) LatestForServer(ctx context.Context, serverID string) (coldstore.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.data[serverID]
	return r, ok
}

func testRegistry() *registry.Registry {
	return registry.New([]config.ServerSeed{{ID: "srv-1", Host: "10.0.0.1", Enabled: true}}, nil)
}

func TestIngestRejectsUnknownServer(t *testing.T) {
	ig := New(0.3, newFakeHotStore(), newFakeColdStore(), testRegistry(), nil)

	err := ig.Ingest(context.Background(), Sample{ServerID: "ghost", ResponseTimeMs: 10})
	require.Error(t, err)
	assert.True(t, cperrors.IsValidation(err))
}

func TestIngestRejectsOutOfRangePercent(t *testing.T) {
	ig := New(0.3, newFakeHotStore(), newFakeColdStore(), testRegistry(), nil)

	err := ig.Ingest(context.Background(), Sample{ServerID: "srv-1", ErrorPct: 150})
	require.Error(t, err)
	assert.True(t, cperrors.IsValidation(err))
}

func TestIngestStoresSmoothedRecord(t *testing.T) {
	hot := newFakeHotStore()
	ig := New(0.3, hot, newFakeColdStore(), testRegistry(), nil)
	ctx := context.Background()

	require.NoError(t, ig.Ingest(ctx, Sample{ServerID: "srv-1", ResponseTimeMs: 100}))
	require.NoError(t, ig.Ingest(ctx, Sample{ServerID: "srv-1", ResponseTimeMs: 200}))

	var rec Record
	require.True(t, hot.GetMetric(ctx, "srv-1", &rec))
	assert.InDelta(t, 130.0, rec.EWMALatency, 0.0001)
}

func TestIngestFallsBackToColdStoreForPreviousEWMA(t *testing.T) {
	hot := newFakeHotStore()
	cold := newFakeColdStore()
	cold.Put(context.Background(), coldstore.Record{ServerID: "srv-1", EWMALatency: 100})

	ig := New(0.3, hot, cold, testRegistry(), nil)
	require.NoError(t, ig.Ingest(context.Background(), Sample{ServerID: "srv-1", ResponseTimeMs: 200}))

	var rec Record
	require.True(t, hot.GetMetric(context.Background(), "srv-1", &rec))
	assert.InDelta(t, 130.0, rec.EWMALatency, 0.0001)
}

func TestMaybeTriggerRecomputeFiresOnlyAboveThreshold(t *testing.T) {
	hot := newFakeHotStore()
	cold := newFakeColdStore()
	reg := registry.New([]config.ServerSeed{
		{ID: "srv-1", Host: "10.0.0.1", Enabled: true},
		{ID: "srv-2", Host: "10.0.0.2", Enabled: true},
	}, nil)

	var fired int
	var mu sync.Mutex
	ig := New(0.3, hot, cold, reg, func(ctx context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	require.NoError(t, ig.Ingest(context.Background(), Sample{ServerID: "srv-1", ResponseTimeMs: 10}))
	mu.Lock()
	belowThreshold := fired
	mu.Unlock()
	assert.Zero(t, belowThreshold) // 1 of 2 servers fresh = 50%, below the 80% bar

	require.NoError(t, ig.Ingest(context.Background(), Sample{ServerID: "srv-2", ResponseTimeMs: 10}))
	// allow the singleflight-coalesced callback to run
	for i := 0; i < 100; i++ {
		mu.Lock()
		f := fired
		mu.Unlock()
		if f > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, fired, 1) // 2 of 2 fresh = 100%, above the bar
}
