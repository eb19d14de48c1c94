package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/kit"
)

// AuditEntry is one tool or API call in the audit trail.
type AuditEntry struct {
	EntryID       string
	Timestamp     time.Time
	ComponentName string // "livepreview"
	OperationType string // "render", "pick", "dispatch", ...

	Transport string // "mcp", "http"
	SessionID string
	RequestID string

	Parameters   string // JSON
	Result       string // JSON
	ErrorMessage string
	DurationMs   int64

	Status string // "success", "error"
}

// AuditFilter controls query results from the audit log.
type AuditFilter struct {
	Since         time.Time
	OperationType string
	Status        string
	Limit         int // default 100
}

// AuditLogger persists audit entries asynchronously.
type AuditLogger struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
	ch     chan *AuditEntry
	stop   chan struct{}
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, logger *slog.Logger) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuditLogger{
		db:     db,
		logger: logger,
		newID:  idgen.Prefixed("audit_", idgen.Default),
		ch:     make(chan *AuditEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, entry)
}

// LogAsync queues an entry. It falls back to a synchronous insert when
// the buffer is full and drops the entry once the logger is closed.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- entry:
	default:
		a.logger.Warn("observability: audit buffer full, sync fallback", "op", entry.OperationType)
		if err := a.insert(context.Background(), entry); err != nil {
			a.logger.Error("observability: audit sync fallback", "error", err)
		}
	}
}

// Middleware records every call of the wrapped endpoint. Request and
// response are stored as JSON; the caller's transport, session and
// request ids come from the context.
func (a *AuditLogger) Middleware(component, op string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			entry := &AuditEntry{
				Timestamp:     start,
				ComponentName: component,
				OperationType: op,
				Transport:     kit.GetTransport(ctx),
				SessionID:     kit.GetSessionID(ctx),
				RequestID:     kit.GetRequestID(ctx),
				Parameters:    marshal(req),
				DurationMs:    time.Since(start).Milliseconds(),
				Status:        "success",
			}
			if err != nil {
				entry.Status = "error"
				entry.ErrorMessage = err.Error()
			} else {
				entry.Result = marshal(resp)
			}
			a.LogAsync(entry)
			return resp, err
		}
	}
}

// Query returns entries matching f, newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component_name, operation_type,
		transport, session_id, request_id, parameters, result,
		error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.OperationType != "" {
		q += " AND operation_type = ?"
		args = append(args, f.OperationType)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e                                       AuditEntry
			ts                                      int64
			transport, sessionID, requestID, result sql.NullString
			errMsg                                  sql.NullString
			duration                                sql.NullInt64
		)
		if err := rows.Scan(&e.EntryID, &ts, &e.ComponentName, &e.OperationType,
			&transport, &sessionID, &requestID, &e.Parameters, &result,
			&errMsg, &duration, &e.Status); err != nil {
			return nil, fmt.Errorf("observability: scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Transport = transport.String
		e.SessionID = sessionID.String
		e.RequestID = requestID.String
		e.Result = result.String
		e.ErrorMessage = errMsg.String
		e.DurationMs = duration.Int64
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close drains pending entries and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		e.Status = "success"
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (entry_id, timestamp, component_name, operation_type,
			transport, session_id, request_id, parameters, result,
			error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.ComponentName, e.OperationType,
		nullStr(e.Transport), nullStr(e.SessionID), nullStr(e.RequestID),
		e.Parameters, nullStr(e.Result), nullStr(e.ErrorMessage),
		e.DurationMs, e.Status)
	if err != nil {
		return fmt.Errorf("observability: insert audit entry: %w", err)
	}
	return nil
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	for {
		select {
		case e := <-a.ch:
			a.write(e)
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					a.write(e)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLogger) write(e *AuditEntry) {
	if err := a.insert(context.Background(), e); err != nil {
		a.logger.Error("observability: audit insert", "error", err, "op", e.OperationType)
	}
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
