// Package analytics persists threat and response history to SQLite and
// serves summary queries over it.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leshsec/lesh/internal/threat"
)

// Recorder is the append-only history store. One writer connection keeps
// SQLite simple; readers share it through database/sql.
type Recorder struct {
	db            *sql.DB
	retentionDays int
	logger        *slog.Logger
}

func Open(path string, retentionDays int, logger *slog.Logger) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("analytics db path is empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, retentionDays: retentionDays, logger: logger.With("component", "analytics")}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS threats (
			threat_id TEXT PRIMARY KEY,
			ts_unix_ns INTEGER NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			severity INTEGER NOT NULL,
			confidence REAL NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threats_ts ON threats(ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_threats_type_ts ON threats(type, ts_unix_ns);`,
		`CREATE TABLE IF NOT EXISTS responses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			threat_id TEXT NOT NULL,
			ts_unix_ns INTEGER NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_responses_ts ON responses(ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_responses_threat ON responses(threat_id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// RecordThreats appends new threats. Re-recording a known id is a no-op, so
// callers can pass a full detection pass without tracking what is new.
func (r *Recorder) RecordThreats(ctx context.Context, threats []threat.Threat) error {
	for _, t := range threats {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal threat %s: %w", t.ID, err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO threats(threat_id, ts_unix_ns, type, source, severity, confidence, payload_json)
			VALUES(?,?,?,?,?,?,?);`,
			t.ID, t.Timestamp.UTC().UnixNano(), string(t.Type), t.Source, t.Severity, t.Confidence, string(payload))
		if err != nil {
			return fmt.Errorf("insert threat %s: %w", t.ID, err)
		}
	}
	return nil
}

// RecordResponses appends response results.
func (r *Recorder) RecordResponses(ctx context.Context, results []threat.ResponseResult) error {
	for _, res := range results {
		payload, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal response for %s: %w", res.ThreatID, err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO responses(threat_id, ts_unix_ns, action, outcome, payload_json)
			VALUES(?,?,?,?,?);`,
			res.ThreatID, res.Timestamp.UTC().UnixNano(), res.Action, string(res.Outcome), string(payload))
		if err != nil {
			return fmt.Errorf("insert response for %s: %w", res.ThreatID, err)
		}
	}
	return nil
}

// Sweep deletes rows older than the retention window and reports how many
// threat rows were removed.
func (r *Recorder) Sweep(ctx context.Context) (int64, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays).UnixNano()

	res, err := r.db.ExecContext(ctx, `DELETE FROM threats WHERE ts_unix_ns < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep threats: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM responses WHERE ts_unix_ns < ?;`, cutoff); err != nil {
		return removed, fmt.Errorf("sweep responses: %w", err)
	}
	if removed > 0 {
		r.logger.Info("removed threats past retention", "count", removed, "retention_days", r.retentionDays)
	}
	return removed, nil
}

// Summary aggregates recorded history for the API surface.
type Summary struct {
	Window        string         `json:"window"`
	TotalThreats  int            `json:"total_threats"`
	BySeverity    map[string]int `json:"by_severity"`
	ByType        map[string]int `json:"by_type"`
	TopSources    map[string]int `json:"top_sources"`
	Responses     int            `json:"responses"`
	SuccessRate   float64        `json:"success_rate"`
	RetentionDays int            `json:"retention_days"`
}

// Summarize aggregates over the trailing window.
func (r *Recorder) Summarize(ctx context.Context, window time.Duration) (Summary, error) {
	s := Summary{
		Window:        window.String(),
		BySeverity:    make(map[string]int),
		ByType:        make(map[string]int),
		TopSources:    make(map[string]int),
		RetentionDays: r.retentionDays,
	}
	since := time.Now().UTC().Add(-window).UnixNano()

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, source, severity, COUNT(*)
		FROM threats WHERE ts_unix_ns >= ?
		GROUP BY type, source, severity;`, since)
	if err != nil {
		return s, fmt.Errorf("summarize threats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ, source string
		var severity, count int
		if err := rows.Scan(&typ, &source, &severity, &count); err != nil {
			return s, fmt.Errorf("scan threat summary: %w", err)
		}
		s.TotalThreats += count
		s.ByType[typ] += count
		s.TopSources[source] += count
		s.BySeverity[fmt.Sprintf("%d", severity)] += count
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("summarize threats: %w", err)
	}

	var succeeded int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM responses WHERE ts_unix_ns >= ?;`, string(threat.OutcomeSuccess), since).
		Scan(&s.Responses, &succeeded)
	if err != nil {
		return s, fmt.Errorf("summarize responses: %w", err)
	}
	if s.Responses > 0 {
		s.SuccessRate = float64(succeeded) / float64(s.Responses)
	}
	return s, nil
}
