// Package postgres implements cortex.Store using PostgreSQL, for
// multi-process deployments where the embedded SQLite file cannot be
// shared.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/cortex"
)

// Store implements cortex.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ cortex.Store = (*Store)(nil)

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			time BIGINT NOT NULL,
			message TEXT NOT NULL,
			recurrence TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			last_notified_at BIGINT,
			last_notified_stage TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			task_description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'none',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			deadline BIGINT,
			completed_at BIGINT,
			last_notified_at BIGINT,
			last_notified_stage TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS background_workflows (
			task_id TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			trigger_conditions JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			last_check_at BIGINT,
			next_check_at BIGINT,
			metadata JSONB NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_interventions (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES background_workflows(task_id),
			action TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			performed_at BIGINT NOT NULL,
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
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init: %v", cortex.ErrPersistence, err)
		}
	}
	return nil
}

// Close is a no-op; the pool is externally owned.
func (s *Store) Close() error { return nil }

// --- Reminders ---

func (s *Store) CreateReminder(ctx context.Context, r cortex.Reminder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminders (id, time, message, recurrence) VALUES ($1, $2, $3, $4)`,
		r.ID, r.FireTime.Unix(), r.Message, r.Recurrence)
	return wrapPg("create reminder", err)
}

func (s *Store) ListReminders(ctx context.Context) ([]cortex.Reminder, error) {
	return s.queryReminders(ctx, `SELECT id, time, message, recurrence FROM reminders ORDER BY time`)
}

func (s *Store) DueReminders(ctx context.Context, now int64) ([]cortex.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT id, time, message, recurrence FROM reminders WHERE time <= $1 ORDER BY time`, now)
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]cortex.Reminder, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg("query reminders", err)
	}
	defer rows.Close()

	var out []cortex.Reminder
	for rows.Next() {
		var r cortex.Reminder
		var fireAt int64
		if err := rows.Scan(&r.ID, &fireAt, &r.Message, &r.Recurrence); err != nil {
			return nil, wrapPg("scan reminder", err)
		}
		r.FireTime = time.Unix(fireAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateReminder(ctx context.Context, r cortex.Reminder) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE reminders SET time = $1, message = $2, recurrence = $3 WHERE id = $4`,
		r.FireTime.Unix(), r.Message, r.Recurrence, r.ID)
	return wrapPg("update reminder", err)
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	return wrapPg("delete reminder", err)
}

// --- Calendar events ---

const calendarColumns = `id, summary, description, start_time, end_time, location,
	created_at, updated_at, last_notified_at, last_notified_stage`

func (s *Store) CreateCalendarEvent(ctx context.Context, ev cortex.CalendarEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendar_events (`+calendarColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.ID, ev.Summary, ev.Description, ev.Start.Unix(), ev.End.Unix(), ev.Location,
		ev.CreatedAt.Unix(), ev.UpdatedAt.Unix(), nullUnix(ev.LastNotifiedAt), string(ev.LastNotifiedStage))
	return wrapPg("create calendar event", err)
}

func (s *Store) GetCalendarEvent(ctx context.Context, id string) (cortex.CalendarEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+calendarColumns+` FROM calendar_events WHERE id = $1`, id)
	return scanCalendarEvent(row)
}

func (s *Store) UpcomingCalendarEvents(ctx context.Context, now int64) ([]cortex.CalendarEvent, error) {
	return s.queryCalendarEvents(ctx,
		`SELECT `+calendarColumns+` FROM calendar_events WHERE start_time > $1 ORDER BY start_time`, now)
}

func (s *Store) RecentlyEndedCalendarEvents(ctx context.Context, since, now int64) ([]cortex.CalendarEvent, error) {
	return s.queryCalendarEvents(ctx,
		`SELECT `+calendarColumns+` FROM calendar_events WHERE end_time >= $1 AND end_time <= $2 ORDER BY end_time`,
		since, now)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanCalendarEvent(row rowScanner) (cortex.CalendarEvent, error) {
	var ev cortex.CalendarEvent
	var start, end, created, updated int64
	var notifiedAt *int64
	var stage string
	if err := row.Scan(&ev.ID, &ev.Summary, &ev.Description, &start, &end, &ev.Location,
		&created, &updated, &notifiedAt, &stage); err != nil {
		return cortex.CalendarEvent{}, wrapPg("scan calendar event", err)
	}
	ev.Start = time.Unix(start, 0)
	ev.End = time.Unix(end, 0)
	ev.CreatedAt = time.Unix(created, 0)
	ev.UpdatedAt = time.Unix(updated, 0)
	ev.LastNotifiedAt = optTime(notifiedAt)
	ev.LastNotifiedStage = cortex.NotificationStage(stage)
	return ev, nil
}

func (s *Store) queryCalendarEvents(ctx context.Context, query string, args ...any) ([]cortex.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg("query calendar events", err)
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
	_, err := s.pool.Exec(ctx,
		`UPDATE calendar_events SET last_notified_stage = $1, last_notified_at = $2, updated_at = $2 WHERE id = $3`,
		string(stage), notifiedAt, id)
	return wrapPg("update calendar stage", err)
}

func (s *Store) DeleteCalendarEvent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM calendar_events WHERE id = $1`, id)
	return wrapPg("delete calendar event", err)
}

// --- TODO items ---

const todoColumns = `id, task_name, task_description, priority, status,
	created_at, updated_at, deadline, completed_at, last_notified_at, last_notified_stage`

func (s *Store) CreateTodo(ctx context.Context, t cortex.TodoItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO todos (`+todoColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.Name, t.Description, string(t.Priority), string(t.Status),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), nullUnix(t.Deadline), nullUnix(t.CompletedAt),
		nullUnix(t.LastNotifiedAt), string(t.LastNotifiedStage))
	return wrapPg("create todo", err)
}

func (s *Store) GetTodo(ctx context.Context, id string) (cortex.TodoItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = $1`, id)
	return scanTodo(row)
}

func (s *Store) ListTodos(ctx context.Context, status cortex.TodoStatus) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *Store) PendingTodosWithDeadline(ctx context.Context) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = 'pending' AND deadline IS NOT NULL ORDER BY deadline`)
}

func (s *Store) OverduePendingTodos(ctx context.Context, now int64) ([]cortex.TodoItem, error) {
	return s.queryTodos(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE status = 'pending' AND deadline IS NOT NULL AND deadline <= $1 ORDER BY deadline`,
		now)
}

func scanTodo(row rowScanner) (cortex.TodoItem, error) {
	var t cortex.TodoItem
	var priority, status, stage string
	var created, updated int64
	var deadline, completed, notified *int64
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &priority, &status,
		&created, &updated, &deadline, &completed, &notified, &stage); err != nil {
		return cortex.TodoItem{}, wrapPg("scan todo", err)
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg("query todos", err)
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
	_, err := s.pool.Exec(ctx,
		`UPDATE todos SET last_notified_stage = $1, last_notified_at = $2, updated_at = $2 WHERE id = $3`,
		string(stage), notifiedAt, id)
	return wrapPg("update todo stage", err)
}

func (s *Store) CompleteTodo(ctx context.Context, id string, completedAt int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE todos SET status = 'completed', completed_at = $1, updated_at = $1 WHERE id = $2`,
		completedAt, id)
	return wrapPg("complete todo", err)
}

func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM todos WHERE id = $1`, id)
	return wrapPg("delete todo", err)
}

// --- Background workflow records ---

const bgColumns = `task_id, workflow_type, trigger_conditions, status,
	created_at, updated_at, last_check_at, next_check_at, metadata, error_message`

func (s *Store) CreateBackgroundWorkflow(ctx context.Context, rec cortex.BackgroundWorkflowRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO background_workflows (`+bgColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.TaskID, rec.WorkflowType, marshalJSON(rec.TriggerConditions), string(rec.Status),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), nullUnix(rec.LastCheckAt), nullUnix(rec.NextCheckAt),
		marshalJSON(rec.Metadata), rec.ErrorMessage)
	return wrapPg("create background workflow", err)
}

func (s *Store) GetBackgroundWorkflow(ctx context.Context, taskID string) (cortex.BackgroundWorkflowRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bgColumns+` FROM background_workflows WHERE task_id = $1`, taskID)
	return scanBackground(row)
}

func (s *Store) ListBackgroundWorkflows(ctx context.Context, status cortex.BackgroundStatus) ([]cortex.BackgroundWorkflowRecord, error) {
	query := `SELECT ` + bgColumns + ` FROM background_workflows ORDER BY created_at`
	args := []any{}
	if status != "" {
		query = `SELECT ` + bgColumns + ` FROM background_workflows WHERE status = $1 ORDER BY created_at`
		args = append(args, string(status))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPg("query background workflows", err)
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
	var status string
	var triggers, metadata []byte
	var created, updated int64
	var lastCheck, nextCheck *int64
	if err := row.Scan(&rec.TaskID, &rec.WorkflowType, &triggers, &status,
		&created, &updated, &lastCheck, &nextCheck, &metadata, &rec.ErrorMessage); err != nil {
		return cortex.BackgroundWorkflowRecord{}, wrapPg("scan background workflow", err)
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE background_workflows SET status = $1, error_message = $2, updated_at = $3 WHERE task_id = $4`,
		string(status), errorMessage, time.Now().Unix(), taskID)
	if err != nil {
		return wrapPg("update background status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: background workflow %s not found", cortex.ErrPersistence, taskID)
	}
	return nil
}

func (s *Store) TouchBackgroundCheck(ctx context.Context, taskID string, lastCheck, nextCheck int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE background_workflows SET last_check_at = $1, next_check_at = $2, updated_at = $3 WHERE task_id = $4`,
		lastCheck, nextCheck, time.Now().Unix(), taskID)
	return wrapPg("touch background check", err)
}

// --- Interventions ---

func (s *Store) AppendIntervention(ctx context.Context, iv cortex.InterventionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_interventions (task_id, action, parameters, performed_at, performed_by, result)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		iv.TaskID, string(iv.Action), marshalJSON(iv.Parameters), iv.PerformedAt.Unix(), iv.PerformedBy, iv.Result)
	return wrapPg("append intervention", err)
}

func (s *Store) ListInterventions(ctx context.Context, taskID string) ([]cortex.InterventionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, action, parameters, performed_at, performed_by, result
		 FROM workflow_interventions WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, wrapPg("query interventions", err)
	}
	defer rows.Close()

	var out []cortex.InterventionRecord
	for rows.Next() {
		var iv cortex.InterventionRecord
		var action string
		var params []byte
		var performedAt int64
		if err := rows.Scan(&iv.ID, &iv.TaskID, &action, &params, &performedAt, &iv.PerformedBy, &iv.Result); err != nil {
			return nil, wrapPg("scan intervention", err)
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
	err := s.pool.QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapPg("get config", err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return wrapPg("set config", err)
}

// --- helpers ---

func wrapPg(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", cortex.ErrPersistence, op, err)
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func optTime(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(*n, 0)
	return &t
}

func marshalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func unmarshalJSON(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}
