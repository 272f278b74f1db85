// Package coldstore is the durable fallback behind the shared-state
// store (spec.md §9 Open Question: cold store is fallback only, never
// the primary read path). It exists so a cold Redis cache — a fresh
// node, a flushed cluster — does not present as "no data" to the
// weight engine; the last known sample per server survives a hot-store
// miss.
package coldstore

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intouch-cp/lb-controlplane/logger"
)

// Record is the durable projection of one metrics sample (spec.md
// §4.1's ServerMetrics, trimmed to the fields the weight engine needs
// on a cold-store read).
type Record struct {
	ServerID         string
	Timestamp        time.Time
	ResponseTimeMs   float64
	ErrorPct         float64
	TimeoutPct       float64
	UptimePct        float64
	SuccessRatePct   float64
	EWMALatency      float64
	DegradationScore float64
}

// Store is a database/sql-backed fallback store. The teacher repo has
// no relational dependency of its own; modernc.org/sqlite is a
// pure-Go driver requiring no cgo toolchain, matching the teacher's
// preference for dependency-light, single-binary deployability.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the cold store and ensures its
// schema exists.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS server_metrics (
	server_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	response_time_ms REAL NOT NULL,
	error_pct REAL NOT NULL,
	timeout_pct REAL NOT NULL,
	uptime_pct REAL NOT NULL,
	success_rate_pct REAL NOT NULL DEFAULT 0,
	ewma_latency REAL NOT NULL,
	degradation_score REAL NOT NULL,
	PRIMARY KEY (server_id, ts)
)`)
	return err
}

// Put persists a sample. Failures are logged and swallowed — the cold
// store is best-effort durability, never a blocker for the hot path
// (spec.md §7.2 treats store failures as transient).
func (s *Store) Put(ctx context.Context, r Record) {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO server_metrics
	(server_id, ts, response_time_ms, error_pct, timeout_pct, uptime_pct, success_rate_pct, ewma_latency, degradation_score)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ServerID, r.Timestamp.UnixNano(), r.ResponseTimeMs, r.ErrorPct, r.TimeoutPct, r.UptimePct, r.SuccessRatePct, r.EWMALatency, r.DegradationScore)
	if err != nil {
		logger.Errorf("coldstore: put record for %s: %v", r.ServerID, err)
	}
}

// LatestForServer returns the most recent record for a server, if any.
func (s *Store) LatestForServer(ctx context.Context, serverID string) (Record, bool) {
	row := s.db.QueryRowContext(ctx, `
SELECT server_id, ts, response_time_ms, error_pct, timeout_pct, uptime_pct, success_rate_pct, ewma_latency, degradation_score
FROM server_metrics WHERE server_id = ? ORDER BY ts DESC LIMIT 1`, serverID)

	var r Record
	var tsNano int64
	if err := row.Scan(&r.ServerID, &tsNano, &r.ResponseTimeMs, &r.ErrorPct, &r.TimeoutPct, &r.UptimePct, &r.SuccessRatePct, &r.EWMALatency, &r.DegradationScore); err != nil {
		if err != sql.ErrNoRows {
			logger.Errorf("coldstore: latest for %s: %v", serverID, err)
		}
		return Record{}, false
	}
	r.Timestamp = time.Unix(0, tsNano)
	return r, true
}

// LatestForAll returns the most recent record per server across the
// whole table.
func (s *Store) LatestForAll(ctx context.Context) map[string]Record {
	rows, err := s.db.QueryContext(ctx, `
SELECT server_id, ts, response_time_ms, error_pct, timeout_pct, uptime_pct, success_rate_pct, ewma_latency, degradation_score
FROM server_metrics m
WHERE ts = (SELECT MAX(ts) FROM server_metrics WHERE server_id = m.server_id)`)
	if err != nil {
		logger.Errorf("coldstore: latest for all: %v", err)
		return nil
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var r Record
		var tsNano int64
		if err := rows.Scan(&r.ServerID, &tsNano, &r.ResponseTimeMs, &r.ErrorPct, &r.TimeoutPct, &r.UptimePct, &r.SuccessRatePct, &r.EWMALatency, &r.DegradationScore); err != nil {
			logger.Errorf("coldstore: scan row: %v", err)
			continue
		}
		r.Timestamp = time.Unix(0, tsNano)
		out[r.ServerID] = r
	}
	return out
}

// Cleanup deletes records older than cutoff, mirroring
// MetricsCollectionService's 7-day retention cron.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) int {
	res, err := s.db.ExecContext(ctx, `DELETE FROM server_metrics WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		logger.Errorf("coldstore: cleanup: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Infof("coldstore: cleaned up %d records older than %s", n, cutoff.Format(time.RFC3339))
	}
	return int(n)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
