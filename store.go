package cortex

import "context"

// Store abstracts the embedded relational persistence layer behind the
// orchestration core: scheduled entities (reminders, calendar events, TODO
// items), background workflow records, the append-only intervention log,
// and a small key/value config table. Every method is a single transaction;
// connections are short-lived and owned by the implementation.
type Store interface {
	// --- Reminders ---
	CreateReminder(ctx context.Context, r Reminder) error
	ListReminders(ctx context.Context) ([]Reminder, error)
	// DueReminders returns reminders with FireTime <= now, oldest first.
	DueReminders(ctx context.Context, now int64) ([]Reminder, error)
	UpdateReminder(ctx context.Context, r Reminder) error
	DeleteReminder(ctx context.Context, id string) error

	// --- Calendar events ---
	CreateCalendarEvent(ctx context.Context, ev CalendarEvent) error
	GetCalendarEvent(ctx context.Context, id string) (CalendarEvent, error)
	// UpcomingCalendarEvents returns events with Start > now, soonest first.
	UpcomingCalendarEvents(ctx context.Context, now int64) ([]CalendarEvent, error)
	// RecentlyEndedCalendarEvents returns events whose End falls in
	// [since, now], for the startup report.
	RecentlyEndedCalendarEvents(ctx context.Context, since, now int64) ([]CalendarEvent, error)
	// UpdateCalendarStage records the stage a notification was last emitted
	// at, so the same stage is never emitted twice for one event.
	UpdateCalendarStage(ctx context.Context, id string, stage NotificationStage, notifiedAt int64) error
	DeleteCalendarEvent(ctx context.Context, id string) error

	// --- TODO items ---
	CreateTodo(ctx context.Context, t TodoItem) error
	GetTodo(ctx context.Context, id string) (TodoItem, error)
	ListTodos(ctx context.Context, status TodoStatus) ([]TodoItem, error)
	// PendingTodosWithDeadline returns pending items that carry a deadline,
	// soonest deadline first.
	PendingTodosWithDeadline(ctx context.Context) ([]TodoItem, error)
	// OverduePendingTodos returns pending items whose deadline has passed.
	OverduePendingTodos(ctx context.Context, now int64) ([]TodoItem, error)
	UpdateTodoStage(ctx context.Context, id string, stage NotificationStage, notifiedAt int64) error
	CompleteTodo(ctx context.Context, id string, completedAt int64) error
	DeleteTodo(ctx context.Context, id string) error

	// --- Background workflow records ---
	CreateBackgroundWorkflow(ctx context.Context, rec BackgroundWorkflowRecord) error
	GetBackgroundWorkflow(ctx context.Context, taskID string) (BackgroundWorkflowRecord, error)
	ListBackgroundWorkflows(ctx context.Context, status BackgroundStatus) ([]BackgroundWorkflowRecord, error)
	// UpdateBackgroundStatus flips a record's status, recording the error
	// message for FAILED transitions (empty otherwise).
	UpdateBackgroundStatus(ctx context.Context, taskID string, status BackgroundStatus, errorMessage string) error
	// TouchBackgroundCheck records a monitor's last/next check times.
	TouchBackgroundCheck(ctx context.Context, taskID string, lastCheck, nextCheck int64) error

	// --- Interventions (append-only) ---
	AppendIntervention(ctx context.Context, iv InterventionRecord) error
	ListInterventions(ctx context.Context, taskID string) ([]InterventionRecord, error)

	// --- Key-value config ---
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
