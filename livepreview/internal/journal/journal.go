// Package journal records selection events and render reports in an
// append-only SQLite table. It is an audit trail: nothing reads it back
// to restore identities.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/livepick/dbopen"
	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

// Schema contains the DDL for the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS selection_journal (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    kind          TEXT NOT NULL,
    identity_tag  TEXT NOT NULL DEFAULT '',
    path          TEXT NOT NULL DEFAULT '',
    valid         INTEGER NOT NULL DEFAULT 0,
    payload       TEXT NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_session ON selection_journal(session_id, created_at);
`

// Entry is one journal row.
type Entry struct {
	ID          string
	SessionID   string
	Kind        string
	IdentityTag string
	Path        string
	Valid       bool
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Journal is the journal database handle. It implements sink.Sink.
type Journal struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the journal database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Journal, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db), nil
}

// New wraps an already opened database. The schema must be applied.
func New(db *sql.DB) *Journal {
	return &Journal{DB: db, newID: idgen.Prefixed("sel_", idgen.Default)}
}

// Send appends a selection event.
func (j *Journal) Send(ctx context.Context, ev selection.Event) error {
	var tag, path string
	if ev.Snapshot != nil {
		tag, path = ev.Snapshot.IdentityTag, ev.Snapshot.StructuralPath
	}
	return j.insert(ctx, ev.SessionID, string(ev.Type), tag, path, ev.Valid, ev, ev.At)
}

// SendRender appends a render report.
func (j *Journal) SendRender(ctx context.Context, r selection.Render) error {
	return j.insert(ctx, r.SessionID, "render", "", "", r.Status == "rendered", r, r.At)
}

func (j *Journal) insert(ctx context.Context, session, kind, tag, path string, valid bool, payload any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err = dbopen.Exec(ctx, j.DB, `
		INSERT INTO selection_journal (id, session_id, kind, identity_tag, path, valid, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.newID(), session, kind, tag, path, boolInt(valid), string(data), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", kind, err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	SessionID string
	Kinds     []string
	Limit     int
}

// List returns entries oldest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(opts.Kinds) > 0 {
		where = append(where, "kind IN (?"+strings.Repeat(", ?", len(opts.Kinds)-1)+")")
		for _, k := range opts.Kinds {
			args = append(args, k)
		}
	}
	q := `SELECT id, session_id, kind, identity_tag, path, valid, payload, created_at FROM selection_journal`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := j.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			valid   int
			payload string
			ms      int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.IdentityTag, &e.Path, &valid, &payload, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Valid = valid != 0
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.DB.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
