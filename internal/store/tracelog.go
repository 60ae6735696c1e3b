// Package store persists per-function execution traces to a local libSQL
// database when ALP_TRACE_DB is configured. Append-only.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rgthelen/alp/internal/engine"
	"github.com/rgthelen/alp/pkg/schema"
)

const migration = `
CREATE TABLE IF NOT EXISTS traces (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    node         TEXT NOT NULL,
    ts           TEXT NOT NULL,
    outputs_hash TEXT,
    status       TEXT NOT NULL,
    provenance   TEXT,
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_run ON traces(run_id);
`

// TraceLog is an append-only trace sink backed by libSQL. Safe for
// concurrent use; database/sql pools connections.
type TraceLog struct {
	db *sql.DB
}

// Open opens (or creates) the trace database and applies the schema.
func Open(path string) (*TraceLog, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "open trace db %q: %v", path, err).WithCause(err)
	}
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, schema.NewErrorf(schema.ErrIO, "migrate trace db %q: %v", path, err).WithCause(err)
	}
	return &TraceLog{db: db}, nil
}

// Append records one trace row.
func (t *TraceLog) Append(ctx context.Context, runID string, tr *engine.Trace) error {
	var provenance []byte
	if len(tr.Provenance) > 0 {
		provenance, _ = json.Marshal(tr.Provenance)
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO traces (run_id, node, ts, outputs_hash, status, provenance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, tr.Node, tr.TS, tr.OutputsHash, tr.Status, string(provenance),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return schema.NewErrorf(schema.ErrIO, "append trace: %v", err).WithCause(err)
	}
	return nil
}

// TraceRow is one persisted trace record.
type TraceRow struct {
	RunID       string `json:"run_id"`
	Node        string `json:"node"`
	TS          string `json:"ts"`
	OutputsHash string `json:"outputs_hash,omitempty"`
	Status      string `json:"status"`
	Provenance  string `json:"provenance,omitempty"`
}

// ListRun returns the traces of one run in append order.
func (t *TraceLog) ListRun(ctx context.Context, runID string) ([]TraceRow, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT run_id, node, ts, outputs_hash, status, provenance
		 FROM traces WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrIO, "list traces: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []TraceRow
	for rows.Next() {
		var r TraceRow
		var outputsHash, provenance sql.NullString
		if err := rows.Scan(&r.RunID, &r.Node, &r.TS, &outputsHash, &r.Status, &provenance); err != nil {
			return nil, schema.NewErrorf(schema.ErrIO, "scan trace: %v", err).WithCause(err)
		}
		r.OutputsHash = outputsHash.String
		r.Provenance = provenance.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (t *TraceLog) Close() error {
	return t.db.Close()
}
