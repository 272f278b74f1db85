// Package registry owns the process-wide set of ServerDescriptors for
// both pools. It is the single owned registry spec.md §9 calls for in
// place of the teacher's ad-hoc global deployment config: reads always
// return copies, never internal slices.
package registry

import (
	"sync"

	"github.com/intouch-cp/lb-controlplane/config"
)

// Pool identifies one of the two independent backend groups.
type Pool string

const (
	Incoming Pool = "incoming"
	Outgoing Pool = "outgoing"
)

// ServerDescriptor is the identity of one backend (spec.md §3).
type ServerDescriptor struct {
	ID      string
	Host    string
	Port    string
	Name    string
	Enabled bool
	Pool    Pool
}

// Address derives "host" or "host:port" per spec.md §3's invariant.
func (s ServerDescriptor) Address() string {
	if s.Port == "" {
		return s.Host
	}
	return s.Host + ":" + s.Port
}

// Registry is the reader/writer-disciplined store of ServerDescriptors.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerDescriptor
}

// New seeds a registry from process config (spec.md §6.3).
func New(incoming, outgoing []config.ServerSeed) *Registry {
	r := &Registry{servers: make(map[string]ServerDescriptor)}
	for _, s := range incoming {
		r.servers[s.ID] = ServerDescriptor{ID: s.ID, Host: s.Host, Port: s.Port, Name: s.Name, Enabled: s.Enabled, Pool: Incoming}
	}
	for _, s := range outgoing {
		r.servers[s.ID] = ServerDescriptor{ID: s.ID, Host: s.Host, Port: s.Port, Name: s.Name, Enabled: s.Enabled, Pool: Outgoing}
	}
	return r
}

// Get returns a copy of the descriptor and whether it exists.
func (r *Registry) Get(id string) (ServerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// Exists reports whether id is known in either pool (spec.md §4.2 step 1).
func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Pool returns a copy of all descriptors in a pool.
func (r *Registry) Pool(pool Pool) []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerDescriptor
	for _, s := range r.servers {
		if s.Pool == pool {
			out = append(out, s)
		}
	}
	return out
}

// All returns a copy of every descriptor across both pools.
func (r *Registry) All() []ServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerDescriptor, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}

// Add inserts or replaces a descriptor (admin surface mutation).
func (r *Registry) Add(s ServerDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ID] = s
}

// Remove deletes a descriptor entirely.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
}

// SetEnabled flips the static enabled toggle for a descriptor.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return false
	}
	s.Enabled = enabled
	r.servers[id] = s
	return true
}
