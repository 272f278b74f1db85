package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/registry"
)

func seeded() *registry.Registry {
	return registry.New(
		[]config.ServerSeed{{ID: "in-1", Host: "10.0.0.1", Port: "8080", Name: "in-1", Enabled: true}},
		[]config.ServerSeed{{ID: "out-1", Host: "10.0.0.2", Enabled: true}},
	)
}

func TestNewSeedsBothPools(t *testing.T) {
	r := seeded()

	in, ok := r.Get("in-1")
	assert.True(t, ok)
	assert.Equal(t, registry.Incoming, in.Pool)

	out, ok := r.Get("out-1")
	assert.True(t, ok)
	assert.Equal(t, registry.Outgoing, out.Pool)
}

func TestAddressWithAndWithoutPort(t *testing.T) {
	withPort := registry.ServerDescriptor{Host: "10.0.0.1", Port: "8080"}
	assert.Equal(t, "10.0.0.1:8080", withPort.Address())

	withoutPort := registry.ServerDescriptor{Host: "10.0.0.2"}
	assert.Equal(t, "10.0.0.2", withoutPort.Address())
}

func TestExistsReflectsEitherPool(t *testing.T) {
	r := seeded()
	assert.True(t, r.Exists("in-1"))
	assert.True(t, r.Exists("out-1"))
	assert.False(t, r.Exists("nope"))
}

func TestPoolReturnsOnlyThatPoolsServers(t *testing.T) {
	r := seeded()
	incoming := r.Pool(registry.Incoming)
	assert.Len(t, incoming, 1)
	assert.Equal(t, "in-1", incoming[0].ID)
}

func TestAllReturnsCopiesNotInternalState(t *testing.T) {
	r := seeded()
	all := r.All()
	assert.Len(t, all, 2)

	for i := range all {
		all[i].Enabled = false
	}

	// Mutating the returned slice must not affect the registry.
	in, _ := r.Get("in-1")
	assert.True(t, in.Enabled)
}

func TestSetEnabledTogglesAndReportsUnknown(t *testing.T) {
	r := seeded()

	assert.True(t, r.SetEnabled("in-1", false))
	in, _ := r.Get("in-1")
	assert.False(t, in.Enabled)

	assert.False(t, r.SetEnabled("missing", true))
}

func TestRemoveDeletesDescriptor(t *testing.T) {
	r := seeded()
	r.Remove("in-1")
	assert.False(t, r.Exists("in-1"))
}

func TestAddInsertsNewDescriptor(t *testing.T) {
	r := seeded()
	r.Add(registry.ServerDescriptor{ID: "in-2", Host: "10.0.0.9", Pool: registry.Incoming, Enabled: true})

	assert.True(t, r.Exists("in-2"))
	assert.Len(t, r.Pool(registry.Incoming), 2)
}
