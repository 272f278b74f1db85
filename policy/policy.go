// Package policy implements C4, Server-Config Policy: fixed weights,
// dynamic-weight toggles, violation thresholds with hysteresis, and
// manual removal — grounded on ServerConfigurationService.java.
package policy

import (
	"sync"
	"time"

	"github.com/intouch-cp/lb-controlplane/logger"
)

// Thresholds are the per-server violation bounds checked against each
// incoming metrics record (ServerConfigurationService.checkThresholds).
type Thresholds struct {
	MaxResponseTimeMs float64
	MaxErrorPct       float64
	MaxTimeoutPct     float64
	MinUptimePct      float64

	// ConsecutiveViolations is how many consecutive bad samples trigger
	// auto-removal when AutoRemovalEnabled is set.
	ConsecutiveViolations int
}

// Config is one server's policy state (spec.md §4.4's ServerPolicy).
type Config struct {
	ServerID           string
	FixedWeight        *int // nil means "not fixed"
	DynamicWeightOn    bool
	Thresholds         Thresholds
	AutoRemovalEnabled bool
	ManuallyRemoved    bool

	LastViolationAt  time.Time
	ViolationsCount  int
}

// EffectiveWeight applies ServerConfigurationService.getEffectiveWeight's
// three-branch rule: manual removal wins outright; a fixed weight wins
// over dynamic scoring when dynamic is off; otherwise the caller's
// dynamically calculated weight is used unmodified.
func (c Config) EffectiveWeight(calculated int) int {
	if c.ManuallyRemoved {
		return 0
	}
	if !c.DynamicWeightOn && c.FixedWeight != nil {
		return *c.FixedWeight
	}
	return calculated
}

// IsFixed reports whether this server's weight is pinned rather than
// computed, for the weight engine's fixed/dynamic partition (spec.md
// §4.3 step 6).
func (c Config) IsFixed() bool {
	return !c.DynamicWeightOn && c.FixedWeight != nil && *c.FixedWeight > 0
}

// Store is the mutex-guarded registry of per-server policy, keyed by
// server id, mirroring registry.Registry's copy-on-read discipline.
type Store struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// New returns an empty policy store; servers default to dynamic
// weighting with no thresholds until configured.
func New() *Store {
	return &Store{configs: make(map[string]Config)}
}

// GetOrCreate returns the existing policy for a server, seeding a
// default (dynamic, no thresholds, not removed) on first access —
// mirrors ServerConfigurationService.getOrCreateConfiguration.
func (s *Store) GetOrCreate(serverID string) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.configs[serverID]; ok {
		return c
	}
	c := Config{ServerID: serverID, DynamicWeightOn: true}
	s.configs[serverID] = c
	return c
}

// Put replaces the stored policy wholesale (admin surface update).
func (s *Store) Put(c Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.ServerID] = c
}

// SetFixedWeight pins a server's weight and disables dynamic scoring
// for it, matching ServerConfigurationService.setFixedWeight.
func (s *Store) SetFixedWeight(serverID string, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.FixedWeight = &weight
	c.DynamicWeightOn = false
	s.configs[serverID] = c
}

// EnableDynamicWeight re-enables score-driven weighting for a server
// and clears any pinned fixed_weight, matching the §4.3 invariant that
// the two are mutually exclusive.
func (s *Store) EnableDynamicWeight(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.DynamicWeightOn = true
	c.FixedWeight = nil
	s.configs[serverID] = c
}

// SetThresholds replaces a server's violation thresholds.
func (s *Store) SetThresholds(serverID string, t Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.Thresholds = t
	s.configs[serverID] = c
}

// SetAutoRemoval toggles threshold-driven automatic removal.
func (s *Store) SetAutoRemoval(serverID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.AutoRemovalEnabled = enabled
	s.configs[serverID] = c
}

// ManuallyRemove forces a server's effective weight to zero regardless
// of score or fixed weight (ServerConfigurationService.manuallyRemoveServer).
func (s *Store) ManuallyRemove(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.ManuallyRemoved = true
	s.configs[serverID] = c
}

// ReEnable clears manual removal and resets violation tracking
// (ServerConfigurationService.reEnableServer).
func (s *Store) ReEnable(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(serverID)
	c.ManuallyRemoved = false
	c.ViolationsCount = 0
	c.LastViolationAt = time.Time{}
	s.configs[serverID] = c
}

// ResetAll clears every stored policy back to defaults
// (ServerConfigurationService.resetAllConfigurations).
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = make(map[string]Config)
}

// All returns a copy of every stored policy.
func (s *Store) All() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Config, 0, len(s.configs))
	for _, c := range s.configs {
		out = append(out, c)
	}
	return out
}

func (s *Store) getOrCreateLocked(serverID string) Config {
	if c, ok := s.configs[serverID]; ok {
		return c
	}
	return Config{ServerID: serverID, DynamicWeightOn: true}
}

// CheckThresholds evaluates one metrics sample against a server's
// thresholds and applies hysteresis: a clean sample resets the
// consecutive-violations counter; a bad one increments it, and once it
// reaches ConsecutiveViolations with AutoRemovalEnabled set, the server
// is auto-removed (ServerConfigurationService.checkThresholds).
func (s *Store) CheckThresholds(serverID string, responseTimeMs, errorPct, timeoutPct, uptimePct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(serverID)
	t := c.Thresholds
	if t == (Thresholds{}) {
		return
	}

	violated := (t.MaxResponseTimeMs > 0 && responseTimeMs > t.MaxResponseTimeMs) ||
		(t.MaxErrorPct > 0 && errorPct > t.MaxErrorPct) ||
		(t.MaxTimeoutPct > 0 && timeoutPct > t.MaxTimeoutPct) ||
		(t.MinUptimePct > 0 && uptimePct < t.MinUptimePct)

	if !violated {
		c.ViolationsCount = 0
		c.LastViolationAt = time.Time{}
		s.configs[serverID] = c
		return
	}

	c.ViolationsCount++
	c.LastViolationAt = time.Now()

	if c.AutoRemovalEnabled && t.ConsecutiveViolations > 0 && c.ViolationsCount >= t.ConsecutiveViolations {
		c.ManuallyRemoved = true
		logger.WithFields(logger.Fields{
			"server_id":        serverID,
			"violations_count": c.ViolationsCount,
		}).Warn("policy: server auto-removed after consecutive threshold violations")
	}

	s.configs[serverID] = c
}
