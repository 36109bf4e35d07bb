package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/loykin/webvisor/internal/history"
	_ "modernc.org/sqlite"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			app TEXT NOT NULL,
			slot INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			in_process BOOLEAN NOT NULL,
			started_at TIMESTAMP NULL,
			exit_code INTEGER NOT NULL,
			signal TEXT NULL,
			error TEXT NULL,
			restarted BOOLEAN NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_history_app ON worker_history(app, occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_history(occurred_at, event, app, slot, pid, in_process, started_at, exit_code, signal, error, restarted)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), r.App, r.Slot, r.PID, r.InProcess,
		nullTime(r.StartedAt), r.ExitCode, nullString(r.Signal), nullString(r.Error), r.Restarted)
	return err
}

// Recent returns the newest events of app first. An empty app matches all.
func (s *Sink) Recent(ctx context.Context, app string, limit int) ([]history.Event, error) {
	q := `SELECT occurred_at, event, app, slot, pid, in_process, started_at, exit_code, signal, error, restarted
		FROM worker_history`
	args := []any{}
	if app != "" {
		q += ` WHERE app = ?`
		args = append(args, app)
	}
	q += ` ORDER BY occurred_at DESC, rowid DESC LIMIT ?`
	args = append(args, history.NormalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			started sql.NullTime
			sig     sql.NullString
			msg     sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.App, &e.Record.Slot, &e.Record.PID,
			&e.Record.InProcess, &started, &e.Record.ExitCode, &sig, &msg, &e.Record.Restarted); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.StartedAt = started.Time
		e.Record.Signal = sig.String
		e.Record.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
