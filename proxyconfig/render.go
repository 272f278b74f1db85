// Package proxyconfig implements C6, the Proxy-Config Materializer:
// rendering the dual-upstream nginx-style config, validating it, and
// writing it atomically — grounded on NginxConfigGenerator.java.
package proxyconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/intouch-cp/lb-controlplane/cperrors"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

// incomingBasePort and outgoingBasePort are the local proxy listener
// ports each pool's server blocks bind to, per spec.md §4.6.
const (
	incomingBasePort = 8081
	outgoingBasePort = 9081

	// placeholderUpstream keeps a pool's upstream block syntactically
	// valid when none of its allocations has a weight above zero
	// (NginxConfigGenerator.generateFallbackConfig).
	placeholderUpstream = "127.0.0.1:65535"
)

// Render builds the full dual-upstream config text from both pools'
// resolved allocations (NginxConfigGenerator.generateDualUpstreamConfig).
func Render(incoming, outgoing []weight.Allocation, servers *registry.Registry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# generated %s - incoming: %d servers, outgoing: %d servers\n",
		time.Now().UTC().Format(time.RFC3339), len(incoming), len(outgoing))
	b.WriteString(renderUpstreamBlock("upstream_incoming", incoming, servers))
	b.WriteString("\n")
	b.WriteString(renderUpstreamBlock("upstream_outgoing", outgoing, servers))
	b.WriteString("\n")
	b.WriteString(renderProxyServer(incomingBasePort, "upstream_incoming"))
	b.WriteString("\n")
	b.WriteString(renderProxyServer(outgoingBasePort, "upstream_outgoing"))

	return b.String()
}

func renderUpstreamBlock(name string, allocs []weight.Allocation, servers *registry.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "upstream %s {\n", name)

	if countActive(allocs) == 0 {
		fmt.Fprintf(&b, "    server %s weight=1; # placeholder\n", placeholderUpstream)
		b.WriteString("}\n")
		return b.String()
	}

	for _, a := range allocs {
		if a.EffectiveWeight <= 0 {
			continue
		}
		desc, ok := servers.Get(a.ServerID)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "    server %s weight=%d; # %s\n", desc.Address(), a.EffectiveWeight, a.ServerID)
	}
	b.WriteString("}\n")
	return b.String()
}

func countActive(allocs []weight.Allocation) int {
	n := 0
	for _, a := range allocs {
		if a.EffectiveWeight > 0 {
			n++
		}
	}
	return n
}

// renderProxyServer emits one local proxy_pass server block
// (NginxConfigGenerator.generateProxyServers), forwarding to the named
// upstream group with the standard forwarded headers and fixed
// 30-second timeouts the original implementation uses.
func renderProxyServer(port int, upstreamName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "server {\n")
	fmt.Fprintf(&b, "    listen 127.0.0.1:%d;\n", port)
	fmt.Fprintf(&b, "    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://%s;\n", upstreamName)
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
	b.WriteString("        proxy_connect_timeout 30s;\n")
	b.WriteString("        proxy_read_timeout 30s;\n")
	b.WriteString("        proxy_send_timeout 30s;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
	return b.String()
}

// Validate runs NginxConfigGenerator.validateConfig's self-check: brace
// balance and presence of both upstream directives. A failure here is
// an invariant violation — the caller must abort the write rather than
// publish malformed config (spec.md §7.3).
func Validate(configText string) error {
	open := strings.Count(configText, "{")
	closeCount := strings.Count(configText, "}")
	if open != closeCount {
		return cperrors.Invariant("unbalanced braces in rendered config: " + strconv.Itoa(open) + " open vs " + strconv.Itoa(closeCount) + " close")
	}
	if !strings.Contains(configText, "upstream upstream_incoming") {
		return cperrors.Invariant("rendered config missing upstream_incoming block")
	}
	if !strings.Contains(configText, "upstream upstream_outgoing") {
		return cperrors.Invariant("rendered config missing upstream_outgoing block")
	}
	return nil
}

// Summary produces a short human-readable description of a rendered
// config, mirroring NginxConfigGenerator.generateConfigSummary.
func Summary(incoming, outgoing []weight.Allocation) string {
	return fmt.Sprintf("incoming: %d servers, outgoing: %d servers", len(incoming), len(outgoing))
}
