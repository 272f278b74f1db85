package proxyconfig

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/intouch-cp/lb-controlplane/cperrors"
	"github.com/intouch-cp/lb-controlplane/logger"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

// publisher is the narrow slice of sharedstate.Store the materializer
// needs to publish the rendered config for other instances to adopt
// (C7's drift reconciler reads it back).
type publisher interface {
	PutProxyConfig(ctx context.Context, text string)
}

// Materializer owns rendering, validating, atomically writing, and
// reloading the proxy config file (C6). The atomic write-then-rename
// discipline and the timestamped backup mirror the teacher's
// DiskCache file handling (go-server/cache/cache.go).
type Materializer struct {
	dir           string
	file          string
	reloadCommand string
	reloadTimeout time.Duration
	backupOnWrite bool

	servers *registry.Registry
	store   publisher

	mu          sync.Mutex
	lastApplied time.Time
}

// New builds a Materializer targeting the given directory/file.
func New(dir, file, reloadCommand string, reloadTimeout time.Duration, backupOnWrite bool, servers *registry.Registry, store publisher) *Materializer {
	return &Materializer{
		dir:           dir,
		file:          file,
		reloadCommand: reloadCommand,
		reloadTimeout: reloadTimeout,
		backupOnWrite: backupOnWrite,
		servers:       servers,
		store:         store,
	}
}

// path returns the config file path: the configured directory joined
// with the file name.
func (m *Materializer) path() string {
	return filepath.Join(m.dir, m.file)
}

// Materialize renders, validates, and atomically publishes a new
// config for both pools' current allocations. Validation failures
// abort without touching the filesystem (spec.md §7.3); filesystem or
// reload failures are transient and are logged rather than panicking
// the cycle (spec.md §7.2).
func (m *Materializer) Materialize(ctx context.Context, incoming, outgoing []weight.Allocation) error {
	text := Render(incoming, outgoing, m.servers)

	if err := Validate(text); err != nil {
		logger.Errorf("proxyconfig: rendered config failed validation, write aborted: %v", err)
		return err
	}

	if err := m.writeAtomic(text); err != nil {
		return cperrors.Transient("proxyconfig: write failed: " + err.Error())
	}

	m.store.PutProxyConfig(ctx, text)

	if m.reloadCommand != "" {
		if err := m.reload(ctx); err != nil {
			logger.Errorf("proxyconfig: reload command failed: %v", err)
			return cperrors.Transient("proxyconfig: reload failed: " + err.Error())
		}
	}

	m.markApplied()

	logger.WithFields(logger.Fields{
		"incoming_servers": len(incoming),
		"outgoing_servers": len(outgoing),
	}).Info("proxyconfig: materialized new config")
	return nil
}

func (m *Materializer) markApplied() {
	m.mu.Lock()
	m.lastApplied = time.Now()
	m.mu.Unlock()
}

// LastApplied returns the last time this instance wrote the config
// file, whether self-rendered or pulled via ApplyExternal.
func (m *Materializer) LastApplied() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastApplied
}

// writeAtomic writes to a temp file in the target directory and
// renames it into place, backing up the prior file first when enabled
// (DiskCache's index-write pattern, adapted to a single config file).
func (m *Materializer) writeAtomic(text string) error {
	target := m.path()

	if m.backupOnWrite {
		if _, err := os.Stat(target); err == nil {
			backup := target + "." + time.Now().Format("20060102-150405") + ".bak"
			if data, readErr := os.ReadFile(target); readErr == nil {
				_ = os.WriteFile(backup, data, 0o644)
			}
		}
	}

	tmp, err := os.CreateTemp(m.dir, ".nginx-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, target)
}

// reload invokes the configured reload command (e.g. "nginx -s
// reload") with a bounded timeout.
func (m *Materializer) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.reloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", m.reloadCommand)
	return cmd.Run()
}

// ApplyExternal writes config text this instance did not render itself
// (pulled from the shared-state store by the drift reconciler) and
// reloads, without re-publishing it — the publishing instance already
// did that. It is still validated: a corrupted blob must never reach
// the filesystem regardless of where it came from.
func (m *Materializer) ApplyExternal(ctx context.Context, text string) error {
	if err := Validate(text); err != nil {
		logger.Errorf("proxyconfig: external config failed validation, not applied: %v", err)
		return err
	}
	if err := m.writeAtomic(text); err != nil {
		return cperrors.Transient("proxyconfig: external write failed: " + err.Error())
	}
	if m.reloadCommand != "" {
		if err := m.reload(ctx); err != nil {
			return cperrors.Transient("proxyconfig: external reload failed: " + err.Error())
		}
	}
	m.markApplied()
	return nil
}

// Current returns the currently written config text, if the file
// exists.
func (m *Materializer) Current() (string, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
