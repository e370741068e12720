package cortex

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the package tests; it mirrors
// the transactional semantics of the real backends (every method a single
// atomic operation) without touching disk.
type memStore struct {
	mu            sync.Mutex
	reminders     map[string]Reminder
	calendar      map[string]CalendarEvent
	todos         map[string]TodoItem
	background    map[string]BackgroundWorkflowRecord
	interventions []InterventionRecord
	config        map[string]string
	failAll       bool // simulate persistence errors
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		reminders:  make(map[string]Reminder),
		calendar:   make(map[string]CalendarEvent),
		todos:      make(map[string]TodoItem),
		background: make(map[string]BackgroundWorkflowRecord),
		config:     make(map[string]string),
	}
}

func (m *memStore) err() error {
	if m.failAll {
		return wrapf(ErrPersistence, "memStore configured to fail")
	}
	return nil
}

func (m *memStore) CreateReminder(_ context.Context, r Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.reminders[r.ID] = r
	return nil
}

func (m *memStore) ListReminders(context.Context) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireTime.Before(out[j].FireTime) })
	return out, nil
}

func (m *memStore) DueReminders(_ context.Context, now int64) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []Reminder
	for _, r := range m.reminders {
		if r.FireTime.Unix() <= now {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireTime.Before(out[j].FireTime) })
	return out, nil
}

func (m *memStore) UpdateReminder(_ context.Context, r Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.reminders[r.ID] = r
	return nil
}

func (m *memStore) DeleteReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	delete(m.reminders, id)
	return nil
}

func (m *memStore) CreateCalendarEvent(_ context.Context, ev CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.calendar[ev.ID] = ev
	return nil
}

func (m *memStore) GetCalendarEvent(_ context.Context, id string) (CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.calendar[id]
	if !ok {
		return CalendarEvent{}, wrapf(ErrPersistence, "calendar event %s not found", id)
	}
	return ev, nil
}

func (m *memStore) UpcomingCalendarEvents(_ context.Context, now int64) ([]CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return nil, err
	}
	var out []CalendarEvent
	for _, ev := range m.calendar {
		if ev.Start.Unix() > now {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memStore) RecentlyEndedCalendarEvents(_ context.Context, since, now int64) ([]CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CalendarEvent
	for _, ev := range m.calendar {
		end := ev.End.Unix()
		if end >= since && end <= now {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCalendarStage(_ context.Context, id string, stage NotificationStage, notifiedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	ev, ok := m.calendar[id]
	if !ok {
		return wrapf(ErrPersistence, "calendar event %s not found", id)
	}
	at := time.Unix(notifiedAt, 0)
	ev.LastNotifiedStage = stage
	ev.LastNotifiedAt = &at
	m.calendar[id] = ev
	return nil
}

func (m *memStore) DeleteCalendarEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calendar, id)
	return nil
}

func (m *memStore) CreateTodo(_ context.Context, t TodoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.todos[t.ID] = t
	return nil
}

func (m *memStore) GetTodo(_ context.Context, id string) (TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok {
		return TodoItem{}, wrapf(ErrPersistence, "todo %s not found", id)
	}
	return t, nil
}

func (m *memStore) ListTodos(_ context.Context, status TodoStatus) ([]TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TodoItem
	for _, t := range m.todos {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) PendingTodosWithDeadline(context.Context) ([]TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TodoItem
	for _, t := range m.todos {
		if t.Status == TodoPending && t.Deadline != nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	return out, nil
}

func (m *memStore) OverduePendingTodos(_ context.Context, now int64) ([]TodoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TodoItem
	for _, t := range m.todos {
		if t.Status == TodoPending && t.Deadline != nil && t.Deadline.Unix() <= now {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) UpdateTodoStage(_ context.Context, id string, stage NotificationStage, notifiedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	t, ok := m.todos[id]
	if !ok {
		return wrapf(ErrPersistence, "todo %s not found", id)
	}
	at := time.Unix(notifiedAt, 0)
	t.LastNotifiedStage = stage
	t.LastNotifiedAt = &at
	m.todos[id] = t
	return nil
}

func (m *memStore) CompleteTodo(_ context.Context, id string, completedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.todos[id]
	if !ok {
		return wrapf(ErrPersistence, "todo %s not found", id)
	}
	at := time.Unix(completedAt, 0)
	t.Status = TodoCompleted
	t.CompletedAt = &at
	m.todos[id] = t
	return nil
}

func (m *memStore) DeleteTodo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.todos, id)
	return nil
}

func (m *memStore) CreateBackgroundWorkflow(_ context.Context, rec BackgroundWorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	m.background[rec.TaskID] = rec
	return nil
}

func (m *memStore) GetBackgroundWorkflow(_ context.Context, taskID string) (BackgroundWorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.background[taskID]
	if !ok {
		return BackgroundWorkflowRecord{}, wrapf(ErrPersistence, "background workflow %s not found", taskID)
	}
	return rec, nil
}

func (m *memStore) ListBackgroundWorkflows(_ context.Context, status BackgroundStatus) ([]BackgroundWorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackgroundWorkflowRecord
	for _, rec := range m.background {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) UpdateBackgroundStatus(_ context.Context, taskID string, status BackgroundStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	rec, ok := m.background[taskID]
	if !ok {
		return wrapf(ErrPersistence, "background workflow %s not found", taskID)
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.UpdatedAt = time.Now()
	m.background[taskID] = rec
	return nil
}

func (m *memStore) TouchBackgroundCheck(_ context.Context, taskID string, lastCheck, nextCheck int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.background[taskID]
	if !ok {
		return wrapf(ErrPersistence, "background workflow %s not found", taskID)
	}
	last := time.Unix(lastCheck, 0)
	next := time.Unix(nextCheck, 0)
	rec.LastCheckAt = &last
	rec.NextCheckAt = &next
	m.background[taskID] = rec
	return nil
}

func (m *memStore) AppendIntervention(_ context.Context, iv InterventionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err(); err != nil {
		return err
	}
	iv.ID = int64(len(m.interventions) + 1)
	m.interventions = append(m.interventions, iv)
	return nil
}

func (m *memStore) ListInterventions(_ context.Context, taskID string) ([]InterventionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InterventionRecord
	for _, iv := range m.interventions {
		if iv.TaskID == taskID {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (m *memStore) GetConfig(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config[key], nil
}

func (m *memStore) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }
