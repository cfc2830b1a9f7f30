package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/gotp/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Schedule persistence ---

// SaveSchedule inserts or replaces the schedule row for the CPU.
func (s *SQLiteStore) SaveSchedule(ctx context.Context, sched *model.Schedule) error {
	s.logger.Debug("sql", "op", "upsert", "table", "schedules", "cpu", sched.CPU)

	windowsJSON, err := json.Marshal(sched.Windows)
	if err != nil {
		return fmt.Errorf("marshal windows: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (cpu, windows, window_count, frame_duration, started, installed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cpu) DO UPDATE SET
		   windows = excluded.windows,
		   window_count = excluded.window_count,
		   frame_duration = excluded.frame_duration,
		   started = excluded.started,
		   updated_at = excluded.updated_at`,
		sched.CPU, string(windowsJSON), sched.WindowCount, int64(sched.FrameDuration),
		boolToInt(sched.Started),
		sched.InstalledAt.Format(time.RFC3339Nano), sched.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetSchedule returns the schedule stored for the CPU, or nil when none
// is recorded.
func (s *SQLiteStore) GetSchedule(ctx context.Context, cpu int) (*model.Schedule, error) {
	s.logger.Debug("sql", "op", "select", "table", "schedules", "cpu", cpu)

	row := s.db.QueryRowContext(ctx,
		`SELECT cpu, windows, window_count, frame_duration, started, installed_at, updated_at
		 FROM schedules WHERE cpu = ?`, cpu)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// ListSchedules returns every stored schedule ordered by CPU.
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	s.logger.Debug("sql", "op", "select_all", "table", "schedules")

	rows, err := s.db.QueryContext(ctx,
		`SELECT cpu, windows, window_count, frame_duration, started, installed_at, updated_at
		 FROM schedules ORDER BY cpu`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// DeleteSchedule removes the schedule row for the CPU. Deleting a CPU
// with no row is not an error.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, cpu int) error {
	s.logger.Debug("sql", "op", "delete", "table", "schedules", "cpu", cpu)

	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE cpu = ?`, cpu)
	return err
}

// SetScheduleStarted flips the started flag on the schedule row.
func (s *SQLiteStore) SetScheduleStarted(ctx context.Context, cpu int, started bool) error {
	s.logger.Debug("sql", "op", "update", "table", "schedules", "cpu", cpu, "started", started)

	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET started = ?, updated_at = ? WHERE cpu = ?`,
		boolToInt(started), time.Now().UTC().Format(time.RFC3339Nano), cpu)
	return err
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*model.Schedule, error) {
	var sched model.Schedule
	var windowsJSON string
	var frameNS int64
	var started int
	var installedAt, updatedAt string

	err := row.Scan(&sched.CPU, &windowsJSON, &sched.WindowCount, &frameNS,
		&started, &installedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(windowsJSON), &sched.Windows); err != nil {
		return nil, fmt.Errorf("unmarshal windows: %w", err)
	}
	sched.FrameDuration = model.Duration(frameNS)
	sched.Started = started != 0
	sched.InstalledAt, _ = time.Parse(time.RFC3339Nano, installedAt)
	sched.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sched, nil
}

// --- Event log ---

// AppendEvent records one scheduling event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.Event) error {
	s.logger.Debug("sql", "op", "insert", "table", "events", "id", ev.ID, "type", ev.Type)

	var window any
	if ev.Window != nil {
		window = *ev.Window
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, cpu, thread_id, thread, window, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.CPU, ev.ThreadID, ev.Thread, window, ev.Detail,
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// ListEvents returns events newest first, filtered by type and CPU when
// the options ask for it, along with the total matching count.
func (s *SQLiteStore) ListEvents(ctx context.Context, opts model.ListOptions) ([]*model.Event, int, error) {
	s.logger.Debug("sql", "op", "select", "table", "events",
		"type", opts.Type, "cpu", opts.CPU, "limit", opts.Limit, "offset", opts.Offset)

	var conds []string
	var args []any
	if opts.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.CPU >= 0 {
		conds = append(conds, "cpu = ?")
		args = append(args, opts.CPU)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, type, cpu, thread_id, thread, window, detail, created_at
		 FROM events` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		var ev model.Event
		var evType string
		var window sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ev.ID, &evType, &ev.CPU, &ev.ThreadID, &ev.Thread,
			&window, &ev.Detail, &createdAt); err != nil {
			return nil, 0, err
		}
		ev.Type = model.EventType(evType)
		if window.Valid {
			w := int(window.Int64)
			ev.Window = &w
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &ev)
	}
	return out, total, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
