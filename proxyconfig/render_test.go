package proxyconfig_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intouch-cp/lb-controlplane/config"
	"github.com/intouch-cp/lb-controlplane/proxyconfig"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

func TestRenderProducesValidConfig(t *testing.T) {
	servers := registry.New(
		[]config.ServerSeed{{ID: "in-1", Host: "10.0.0.1", Port: "8080", Enabled: true}},
		[]config.ServerSeed{{ID: "out-1", Host: "10.0.0.2", Port: "9090", Enabled: true}},
	)
	incoming := []weight.Allocation{{ServerID: "in-1", EffectiveWeight: 100}}
	outgoing := []weight.Allocation{{ServerID: "out-1", EffectiveWeight: 100}}

	text := proxyconfig.Render(incoming, outgoing, servers)

	require.NoError(t, proxyconfig.Validate(text))
	assert.Contains(t, text, "upstream upstream_incoming")
	assert.Contains(t, text, "upstream upstream_outgoing")
	assert.Contains(t, text, "server 10.0.0.1:8080 weight=100; # in-1")
	assert.Contains(t, text, "listen 127.0.0.1:8081")
	assert.Contains(t, text, "listen 127.0.0.1:9081")
}

func TestRenderEmptyPoolUsesPlaceholder(t *testing.T) {
	servers := registry.New(nil, nil)

	text := proxyconfig.Render(nil, nil, servers)

	require.NoError(t, proxyconfig.Validate(text))
	assert.Contains(t, text, "127.0.0.1:65535")
}

func TestRenderAllZeroWeightAllocationsUsesPlaceholder(t *testing.T) {
	servers := registry.New(
		[]config.ServerSeed{{ID: "in-1", Host: "10.0.0.1", Enabled: true}},
		nil,
	)
	incoming := []weight.Allocation{{ServerID: "in-1", EffectiveWeight: 0}}

	text := proxyconfig.Render(incoming, nil, servers)

	require.NoError(t, proxyconfig.Validate(text))
	assert.Contains(t, text, "127.0.0.1:65535")
	assert.NotContains(t, text, "10.0.0.1")
}

func TestRenderIncludesGenerationHeader(t *testing.T) {
	servers := registry.New(
		[]config.ServerSeed{{ID: "in-1", Host: "10.0.0.1", Enabled: true}},
		[]config.ServerSeed{{ID: "out-1", Host: "10.0.0.2", Enabled: true}},
	)
	incoming := []weight.Allocation{{ServerID: "in-1", EffectiveWeight: 100}}

	text := proxyconfig.Render(incoming, nil, servers)

	assert.Contains(t, text, "# generated")
	assert.Contains(t, text, "incoming: 1 servers, outgoing: 0 servers")
}

func TestValidateRejectsUnbalancedBraces(t *testing.T) {
	err := proxyconfig.Validate("upstream upstream_incoming { upstream upstream_outgoing {}")
	assert.Error(t, err)
}

func TestValidateRejectsMissingUpstreamBlock(t *testing.T) {
	err := proxyconfig.Validate("upstream upstream_incoming {}")
	assert.Error(t, err)
}

func TestRenderBalancesBraces(t *testing.T) {
	servers := registry.New(
		[]config.ServerSeed{{ID: "in-1", Host: "10.0.0.1", Enabled: true}},
		nil,
	)
	text := proxyconfig.Render([]weight.Allocation{{ServerID: "in-1", EffectiveWeight: 100}}, nil, servers)

	assert.Equal(t, strings.Count(text, "{"), strings.Count(text, "}"))
}
