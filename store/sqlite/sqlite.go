// Package sqlite implements cortex.Store using pure-Go SQLite. Zero CGO
// required; the embedded file gives the core the ACID semantics its
// persisted tables assume.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/cortex"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for operations including timing and key parameters. If
// not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements cortex.Store backed by a local SQLite file. Every
// exported method is a single implicit transaction on one serialized
// connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ cortex.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// DB exposes the underlying handle for sibling stores sharing the same
// serialized connection.
func (s *Store) DB() *sql.DB { return s.db }

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			time INTEGER NOT NULL,
			message TEXT NOT NULL,
			recurrence TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_notified_at INTEGER,
			last_notified_stage TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			task_description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'none',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deadline INTEGER,
			completed_at INTEGER,
			last_notified_at INTEGER,
			last_notified_stage TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS background_workflows (
			task_id TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			trigger_conditions TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_check_at INTEGER,
			next_check_at INTEGER,
			metadata TEXT NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_interventions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES background_workflows(task_id),
			action TEXT NOT NULL,
			parameters TEXT NOT NULL DEFAULT '{}',
			performed_at INTEGER NOT NULL,
			performed_by TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_status_priority_deadline ON todos(status, priority, deadline)`,
		`CREATE INDEX IF NOT EXISTS idx_bg_status ON background_workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bg_type ON background_workflows(workflow_type)`,
		`CREATE INDEX IF NOT EXISTS idx_bg_next_check ON background_workflows(next_check_at)`,
		`CREATE INDEX IF NOT EXISTS idx_interventions_task ON workflow_interventions(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_time ON reminders(time)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_start ON calendar_events(start_time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init: %v", cortex.ErrPersistence, err)
		}
	}
	s.logger.Debug("sqlite: init complete", "took", time.Since(start))
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// --- Reminders ---

func (s *Store) CreateReminder(ctx context.Context, r cortex.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, time, message, recurrence) VALUES (?, ?, ?, ?)`,
		r.ID, r.FireTime.Unix(), r.Message, r.Recurrence)
	if err != nil {
		return fmt.Errorf("%w: create reminder: %v", cortex.ErrPersistence, err)
	}
	s.logger.Debug("sqlite: reminder created", "id", r.ID, "fire_time", r.FireTime)
	return nil
}

func (s *Store) ListReminders(ctx context.Context) ([]cortex.Reminder, error) {
	return s.queryReminders(ctx, `SELECT id, time, message, recurrence FROM reminders ORDER BY time`)
}

func (s *Store) DueReminders(ctx context.Context, now int64) ([]cortex.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, time, message, recurrence FROM reminders WHERE time <= ? ORDER BY time`, now)
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]cortex.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query reminders: %v", cortex.ErrPersistence, err)
	}
	defer rows.Close()

	var out []cortex.Reminder
	for rows.Next() {
		var r cortex.Reminder
		var fireAt int64
		if err := rows.Scan(&r.ID, &fireAt, &r.Message, &r.Recurrence); err != nil {
			return nil, fmt.Errorf("%w: scan reminder: %v", cortex.ErrPersistence, err)
		}
		r.FireTime = time.Unix(fireAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateReminder(ctx context.Context, r cortex.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET time = ?, message = ?, recurrence = ? WHERE id = ?`,
		r.FireTime.Unix(), r.Message, r.Recurrence, r.ID)
	if err != nil {
		return fmt.Errorf("%w: update reminder: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete reminder: %v", cortex.ErrPersistence, err)
	}
	return nil
}

// --- Calendar events ---

const calendarColumns = `id, summary, description, start_time, end_time, location,
	created_at, updated_at, last_notified_at, last_notified_stage`

func (s *Store) CreateCalendarEvent(ctx context.Context, ev cortex.CalendarEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (`+calendarColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Summary, ev.Description, ev.Start.Unix(), ev.End.Unix(), ev.Location,
		ev.CreatedAt.Unix(), ev.UpdatedAt.Unix(), nullUnix(ev.LastNotifiedAt), string(ev.LastNotifiedStage))
	if err != nil {
		return fmt.Errorf("%w: create calendar event: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetCalendarEvent(ctx context.Context, id string) (cortex.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM calendar_events WHERE id = ?`, id)
	return scanCalendarEvent(row)
}

func (s *Store) UpcomingCalendarEvents(ctx context.Context, now int64) ([]cortex.CalendarEvent, error) {
	return s.queryCalendarEvents(ctx,
		`SELECT `+calendarColumns+` FROM calendar_events WHERE start_time > ? ORDER BY start_time`, now)
}

func (s *Store) RecentlyEndedCalendarEvents(ctx context.Context, since, now int64) ([]cortex.CalendarEvent, error) {
	return s.queryCalendarEvents(ctx,
		`SELECT `+calendarColumns+` FROM calendar_events WHERE end_time >= ? AND end_time <= ? ORDER BY end_time`,
		since, now)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCalendarEvent(row rowScanner) (cortex.CalendarEvent, error) {
	var ev cortex.CalendarEvent
	var start, end, created, updated int64
	var notifiedAt sql.NullInt64
	var stage string
	if err := row.Scan(&ev.ID, &ev.Summary, &ev.Description, &start, &end, &ev.Location,
		&created, &updated, &notifiedAt, &stage); err != nil {
		return cortex.CalendarEvent{}, fmt.Errorf("%w: scan calendar event: %v", cortex.ErrPersistence, err)
	}
	ev.Start = time.Unix(start, 0)
	ev.End = time.Unix(end, 0)
	ev.CreatedAt = time.Unix(created, 0)
	ev.UpdatedAt = time.Unix(updated, 0)
	if notifiedAt.Valid {
		at := time.Unix(notifiedAt.Int64, 0)
		ev.LastNotifiedAt = &at
	}
	ev.LastNotifiedStage = cortex.NotificationStage(stage)
	return ev, nil
}

func (s *Store) queryCalendarEvents(ctx context.Context, query string, args ...any) ([]cortex.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query calendar events: %v", cortex.ErrPersistence, err)
	}
	defer rows.Close()

	var out []cortex.CalendarEvent
	for rows.Next() {
		ev, err := scanCalendarEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCalendarStage(ctx context.Context, id string, stage cortex.NotificationStage, notifiedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_events SET last_notified_stage = ?, last_notified_at = ?, updated_at = ? WHERE id = ?`,
		string(stage), notifiedAt, notifiedAt, id)
	if err != nil {
		return fmt.Errorf("%w: update calendar stage: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteCalendarEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete calendar event: %v", cortex.ErrPersistence, err)
	}
	return nil
}

// --- TODO items ---

const todoColumns = `id, task_name, task_description, priority, status,
	created_at, updated_at, deadline, completed_at, last_notified_at, last_notified_stage`

func (s *Store) CreateTodo(ctx context.Context, t cortex.TodoItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, string(t.Priority), string(t.Status),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), nullUnix(t.Deadline), nullUnix(t.CompletedAt),
		nullUnix(t.LastNotifiedAt), string(t.LastNotifiedStage))
	if err != nil {
		return fmt.Errorf("%w: create todo: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetTodo(ctx context.Context, id string) (cortex.TodoItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id)
	return scanTodo(row)
}

func (s *Store) ListTodos(ctx context.Context, status cortex.TodoStatus) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = ? ORDER BY created_at`, string(status))
}

func (s *Store) PendingTodosWithDeadline(ctx context.Context) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = 'pending' AND deadline IS NOT NULL ORDER BY deadline`)
}

func (s *Store) OverduePendingTodos(ctx context.Context, now int64) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = 'pending' AND deadline IS NOT NULL AND deadline <= ? ORDER BY deadline`,
		now)
}

func scanTodo(row rowScanner) (cortex.TodoItem, error) {
	var t cortex.TodoItem
	var priority, status, stage string
	var created, updated int64
	var deadline, completed, notified sql.NullInt64
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &priority, &status,
		&created, &updated, &deadline, &completed, &notified, &stage); err != nil {
		return cortex.TodoItem{}, fmt.Errorf("%w: scan todo: %v", cortex.ErrPersistence, err)
	}
	t.Priority = cortex.TodoPriority(priority)
	t.Status = cortex.TodoStatus(status)
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	t.Deadline = optTime(deadline)
	t.CompletedAt = optTime(completed)
	t.LastNotifiedAt = optTime(notified)
	t.LastNotifiedStage = cortex.NotificationStage(stage)
	return t, nil
}

func (s *Store) queryTodos(ctx context.Context, query string, args ...any) ([]cortex.TodoItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query todos: %v", cortex.ErrPersistence, err)
	}
	defer rows.Close()

	var out []cortex.TodoItem
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTodoStage(ctx context.Context, id string, stage cortex.NotificationStage, notifiedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todos SET last_notified_stage = ?, last_notified_at = ?, updated_at = ? WHERE id = ?`,
		string(stage), notifiedAt, notifiedAt, id)
	if err != nil {
		return fmt.Errorf("%w: update todo stage: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) CompleteTodo(ctx context.Context, id string, completedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = 'completed', completed_at = ?, updated_at = ? WHERE id = ?`,
		completedAt, completedAt, id)
	if err != nil {
		return fmt.Errorf("%w: complete todo: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete todo: %v", cortex.ErrPersistence, err)
	}
	return nil
}

// --- Background workflow records ---

const bgColumns = `task_id, workflow_type, trigger_conditions, status,
	created_at, updated_at, last_check_at, next_check_at, metadata, error_message`

func (s *Store) CreateBackgroundWorkflow(ctx context.Context, rec cortex.BackgroundWorkflowRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO background_workflows (`+bgColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.WorkflowType, marshalJSON(rec.TriggerConditions), string(rec.Status),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), nullUnix(rec.LastCheckAt), nullUnix(rec.NextCheckAt),
		marshalJSON(rec.Metadata), rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("%w: create background workflow: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) GetBackgroundWorkflow(ctx context.Context, taskID string) (cortex.BackgroundWorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bgColumns+` FROM background_workflows WHERE task_id = ?`, taskID)
	return scanBackground(row)
}

func (s *Store) ListBackgroundWorkflows(ctx context.Context, status cortex.BackgroundStatus) ([]cortex.BackgroundWorkflowRecord, error) {
	query := `SELECT ` + bgColumns + ` FROM background_workflows ORDER BY created_at`
	args := []any{}
	if status != "" {
		query = `SELECT ` + bgColumns + ` FROM background_workflows WHERE status = ? ORDER BY created_at`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query background workflows: %v", cortex.ErrPersistence, err)
	}
	defer rows.Close()

	var out []cortex.BackgroundWorkflowRecord
	for rows.Next() {
		rec, err := scanBackground(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanBackground(row rowScanner) (cortex.BackgroundWorkflowRecord, error) {
	var rec cortex.BackgroundWorkflowRecord
	var status, triggers, metadata string
	var created, updated int64
	var lastCheck, nextCheck sql.NullInt64
	if err := row.Scan(&rec.TaskID, &rec.WorkflowType, &triggers, &status,
		&created, &updated, &lastCheck, &nextCheck, &metadata, &rec.ErrorMessage); err != nil {
		return cortex.BackgroundWorkflowRecord{}, fmt.Errorf("%w: scan background workflow: %v", cortex.ErrPersistence, err)
	}
	rec.Status = cortex.BackgroundStatus(status)
	rec.CreatedAt = time.Unix(created, 0)
	rec.UpdatedAt = time.Unix(updated, 0)
	rec.LastCheckAt = optTime(lastCheck)
	rec.NextCheckAt = optTime(nextCheck)
	rec.TriggerConditions = unmarshalJSON(triggers)
	rec.Metadata = unmarshalJSON(metadata)
	return rec, nil
}

func (s *Store) UpdateBackgroundStatus(ctx context.Context, taskID string, status cortex.BackgroundStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE background_workflows SET status = ?, error_message = ?, updated_at = ? WHERE task_id = ?`,
		string(status), errorMessage, time.Now().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("%w: update background status: %v", cortex.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: background workflow %s not found", cortex.ErrPersistence, taskID)
	}
	return nil
}

func (s *Store) TouchBackgroundCheck(ctx context.Context, taskID string, lastCheck, nextCheck int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_workflows SET last_check_at = ?, next_check_at = ?, updated_at = ? WHERE task_id = ?`,
		lastCheck, nextCheck, time.Now().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("%w: touch background check: %v", cortex.ErrPersistence, err)
	}
	return nil
}

// --- Interventions ---

func (s *Store) AppendIntervention(ctx context.Context, iv cortex.InterventionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_interventions (task_id, action, parameters, performed_at, performed_by, result)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		iv.TaskID, string(iv.Action), marshalJSON(iv.Parameters), iv.PerformedAt.Unix(), iv.PerformedBy, iv.Result)
	if err != nil {
		return fmt.Errorf("%w: append intervention: %v", cortex.ErrPersistence, err)
	}
	return nil
}

func (s *Store) ListInterventions(ctx context.Context, taskID string) ([]cortex.InterventionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, action, parameters, performed_at, performed_by, result
		 FROM workflow_interventions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: query interventions: %v", cortex.ErrPersistence, err)
	}
	defer rows.Close()

	var out []cortex.InterventionRecord
	for rows.Next() {
		var iv cortex.InterventionRecord
		var action, params string
		var performedAt int64
		if err := rows.Scan(&iv.ID, &iv.TaskID, &action, &params, &performedAt, &iv.PerformedBy, &iv.Result); err != nil {
			return nil, fmt.Errorf("%w: scan intervention: %v", cortex.ErrPersistence, err)
		}
		iv.Action = cortex.InterventionAction(action)
		iv.Parameters = unmarshalJSON(params)
		iv.PerformedAt = time.Unix(performedAt, 0)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// --- Key-value config ---

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get config: %v", cortex.ErrPersistence, err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set config: %v", cortex.ErrPersistence, err)
	}
	return nil
}

// --- helpers ---

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func optTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}

func marshalJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
