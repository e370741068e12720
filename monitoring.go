package cortex

import (
	"context"
	"sort"
	"time"
)

// MonitoringView is the snapshot-query surface a UI uses when its
// reminder/calendar window opens: it pulls a complete picture from the
// store once, then follows CALENDAR_EVENT_STARTING / TODO_UPCOMING /
// TODO_OVERDUE events for incremental updates.
type MonitoringView struct {
	store Store
	now   func() time.Time
}

// NewMonitoringView creates a view over store.
func NewMonitoringView(store Store) *MonitoringView {
	return &MonitoringView{store: store, now: time.Now}
}

// UpcomingEvent is a calendar event annotated with minutes-to-start, the
// shape a countdown widget renders directly.
type UpcomingEvent struct {
	CalendarEvent
	MinutesUntil int
}

// TodoSnapshot groups the TODO views a monitoring window shows at once.
type TodoSnapshot struct {
	All        []TodoItem
	ByPriority map[TodoPriority][]TodoItem
	Expired    []TodoItem
}

// CalendarSnapshot groups the calendar views of the same window.
type CalendarSnapshot struct {
	Upcoming24h []UpcomingEvent
	All         []CalendarEvent
}

// MonitoringSnapshot is the complete window-open payload.
type MonitoringSnapshot struct {
	Todos     TodoSnapshot
	Calendar  CalendarSnapshot
	Timestamp time.Time
}

// AllTodos returns pending items (plus completed ones when asked), sorted
// pending-first, then priority high>medium>low>none, then deadline, then
// creation time.
func (v *MonitoringView) AllTodos(ctx context.Context, includeCompleted bool) ([]TodoItem, error) {
	pending, err := v.store.ListTodos(ctx, TodoPending)
	if err != nil {
		return nil, err
	}
	out := append([]TodoItem(nil), pending...)
	if includeCompleted {
		completed, err := v.store.ListTodos(ctx, TodoCompleted)
		if err != nil {
			return nil, err
		}
		out = append(out, completed...)
	}
	sortTodos(out)
	return out, nil
}

// TodosByPriority returns pending items of one priority, soonest deadline
// first.
func (v *MonitoringView) TodosByPriority(ctx context.Context, priority TodoPriority) ([]TodoItem, error) {
	pending, err := v.store.ListTodos(ctx, TodoPending)
	if err != nil {
		return nil, err
	}
	var out []TodoItem
	for _, t := range pending {
		if t.Priority == priority {
			out = append(out, t)
		}
	}
	sortTodos(out)
	return out, nil
}

// ExpiredTodos returns pending items whose deadline has passed.
func (v *MonitoringView) ExpiredTodos(ctx context.Context) ([]TodoItem, error) {
	return v.store.OverduePendingTodos(ctx, v.now().Unix())
}

// CalendarEvents returns events starting in [from, to], soonest first. Zero
// bounds default to now and now+30d, the window a month view covers.
func (v *MonitoringView) CalendarEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	if from.IsZero() {
		from = v.now()
	}
	if to.IsZero() {
		to = from.Add(30 * 24 * time.Hour)
	}
	events, err := v.store.UpcomingCalendarEvents(ctx, from.Unix())
	if err != nil {
		return nil, err
	}
	var out []CalendarEvent
	for _, ev := range events {
		if !ev.Start.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// UpcomingEvents returns events starting within the window, annotated with
// minutes-to-start.
func (v *MonitoringView) UpcomingEvents(ctx context.Context, within time.Duration) ([]UpcomingEvent, error) {
	now := v.now()
	events, err := v.CalendarEvents(ctx, now, now.Add(within))
	if err != nil {
		return nil, err
	}
	out := make([]UpcomingEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, UpcomingEvent{
			CalendarEvent: ev,
			MinutesUntil:  int(ev.Start.Sub(now).Minutes()),
		})
	}
	return out, nil
}

// Snapshot assembles the complete monitoring payload for a window open.
func (v *MonitoringView) Snapshot(ctx context.Context) (MonitoringSnapshot, error) {
	all, err := v.AllTodos(ctx, false)
	if err != nil {
		return MonitoringSnapshot{}, err
	}
	byPriority := make(map[TodoPriority][]TodoItem)
	for _, t := range all {
		byPriority[t.Priority] = append(byPriority[t.Priority], t)
	}
	expired, err := v.ExpiredTodos(ctx)
	if err != nil {
		return MonitoringSnapshot{}, err
	}
	upcoming, err := v.UpcomingEvents(ctx, 24*time.Hour)
	if err != nil {
		return MonitoringSnapshot{}, err
	}
	events, err := v.CalendarEvents(ctx, time.Time{}, time.Time{})
	if err != nil {
		return MonitoringSnapshot{}, err
	}
	return MonitoringSnapshot{
		Todos: TodoSnapshot{
			All:        all,
			ByPriority: byPriority,
			Expired:    expired,
		},
		Calendar: CalendarSnapshot{
			Upcoming24h: upcoming,
			All:         events,
		},
		Timestamp: v.now(),
	}, nil
}

func sortTodos(items []TodoItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Status != b.Status {
			return a.Status == TodoPending
		}
		ra, rb := priorityRank(a.Priority), priorityRank(b.Priority)
		if ra != rb {
			return ra < rb
		}
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.Deadline == nil:
			return false
		case b.Deadline == nil:
			return true
		case !a.Deadline.Equal(*b.Deadline):
			return a.Deadline.Before(*b.Deadline)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func priorityRank(p TodoPriority) int {
	switch p {
	case TodoHigh:
		return 0
	case TodoMedium:
		return 1
	case TodoLow:
		return 2
	default:
		return 3
	}
}
