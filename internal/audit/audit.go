package audit

import (
	"fmt"
	"log/slog"
	"time"
)

// queueCapacity bounds how many pending records Log holds before it starts
// dropping them (with a logged warning) — auditing must never apply
// backpressure to a session.
const queueCapacity = 1024

// Record is one audit entry.
type Record struct {
	SessionName string
	EventType   string
	Detail      string
	At          time.Time
}

// Event type constants for the entries this package itself produces.
const (
	EventSessionOpened      = "session_opened"
	EventSessionClosed      = "session_closed"
	EventPermissionRequest  = "permission_request"
	EventPermissionResolved = "permission_resolved"
	EventDriverError        = "driver_error"
)

// Log is the best-effort, asynchronous writer in front of Store: Append
// never blocks its caller on disk I/O, and a full queue drops the record
// rather than stalling a session's event-ingestion goroutine.
type Log struct {
	store  *Store
	queue  chan Record
	done   chan struct{}
	logger *slog.Logger
}

// NewLog starts the background writer goroutine over store. Close must be
// called to drain and release the underlying connection.
func NewLog(store *Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		store:  store,
		queue:  make(chan Record, queueCapacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	for rec := range l.queue {
		if _, err := l.store.db.Exec(
			"INSERT INTO audit_log (session_name, event_type, detail, at) VALUES (?, ?, ?, ?)",
			rec.SessionName, rec.EventType, rec.Detail, rec.At,
		); err != nil {
			l.logger.Warn("audit: write failed, dropping record", "error", err, "event_type", rec.EventType)
		}
	}
}

// Append enqueues a record, dropping it (with a logged warning) if the
// writer is backed up past queueCapacity.
func (l *Log) Append(sessionName, eventType, detail string) {
	rec := Record{SessionName: sessionName, EventType: eventType, Detail: detail, At: time.Now()}
	select {
	case l.queue <- rec:
	default:
		l.logger.Warn("audit: queue full, dropping record", "event_type", eventType, "session", sessionName)
	}
}

// Close stops accepting new records, drains the queue, and closes the
// underlying store.
func (l *Log) Close() error {
	close(l.queue)
	<-l.done
	return l.store.Close()
}

// Tail returns the most recent n audit records for a session, newest last —
// an operator-facing query, never consulted by the daemon itself.
func (l *Log) Tail(sessionName string, n int) ([]Record, error) {
	rows, err := l.store.db.Query(
		`SELECT session_name, event_type, detail, at FROM audit_log
		 WHERE session_name = ? ORDER BY id DESC LIMIT ?`,
		sessionName, n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: tail query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var detail *string
		if err := rows.Scan(&r.SessionName, &r.EventType, &detail, &r.At); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		if detail != nil {
			r.Detail = *detail
		}
		out = append(out, r)
	}
	// Reverse to chronological order (query returned newest-first for LIMIT).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
