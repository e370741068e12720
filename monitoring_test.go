package cortex

import (
	"context"
	"testing"
	"time"
)

func monitoringFixture(t *testing.T) (*MonitoringView, *memStore, time.Time) {
	t.Helper()
	store := newMemStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	view := NewMonitoringView(store)
	view.now = func() time.Time { return now }

	ctx := context.Background()
	past := now.Add(-2 * time.Hour)
	soon := now.Add(3 * time.Hour)
	later := now.Add(48 * time.Hour)
	_ = store.CreateTodo(ctx, TodoItem{ID: "t-low", Name: "low", Priority: TodoLow, Status: TodoPending, CreatedAt: now, Deadline: &later})
	_ = store.CreateTodo(ctx, TodoItem{ID: "t-high", Name: "high", Priority: TodoHigh, Status: TodoPending, CreatedAt: now, Deadline: &soon})
	_ = store.CreateTodo(ctx, TodoItem{ID: "t-expired", Name: "expired", Priority: TodoMedium, Status: TodoPending, CreatedAt: now, Deadline: &past})
	_ = store.CreateTodo(ctx, TodoItem{ID: "t-done", Name: "done", Priority: TodoHigh, Status: TodoCompleted, CreatedAt: now})

	_ = store.CreateCalendarEvent(ctx, CalendarEvent{ID: "ev-soon", Summary: "standup", Start: now.Add(90 * time.Minute), End: now.Add(2 * time.Hour)})
	_ = store.CreateCalendarEvent(ctx, CalendarEvent{ID: "ev-next-week", Summary: "review", Start: now.Add(7 * 24 * time.Hour), End: now.Add(7*24*time.Hour + time.Hour)})
	return view, store, now
}

func TestAllTodosOrderingAndCompletedFilter(t *testing.T) {
	view, _, _ := monitoringFixture(t)
	ctx := context.Background()

	todos, err := view.AllTodos(ctx, false)
	if err != nil {
		t.Fatalf("AllTodos: %v", err)
	}
	if len(todos) != 3 {
		t.Fatalf("pending todos = %d, want 3", len(todos))
	}
	// high before medium before low, regardless of deadline order.
	if todos[0].ID != "t-high" || todos[1].ID != "t-expired" || todos[2].ID != "t-low" {
		t.Errorf("order = %s, %s, %s", todos[0].ID, todos[1].ID, todos[2].ID)
	}

	withDone, _ := view.AllTodos(ctx, true)
	if len(withDone) != 4 || withDone[3].ID != "t-done" {
		t.Errorf("with completed = %d items, last %s", len(withDone), withDone[len(withDone)-1].ID)
	}
}

func TestTodosByPriorityAndExpired(t *testing.T) {
	view, _, _ := monitoringFixture(t)
	ctx := context.Background()

	high, err := view.TodosByPriority(ctx, TodoHigh)
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 1 || high[0].ID != "t-high" {
		t.Errorf("high = %+v", high)
	}

	expired, err := view.ExpiredTodos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != "t-expired" {
		t.Errorf("expired = %+v", expired)
	}
}

func TestUpcomingEventsAnnotatesMinutes(t *testing.T) {
	view, _, _ := monitoringFixture(t)
	upcoming, err := view.UpcomingEvents(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(upcoming) != 1 || upcoming[0].ID != "ev-soon" {
		t.Fatalf("upcoming = %+v", upcoming)
	}
	if upcoming[0].MinutesUntil != 90 {
		t.Errorf("minutes_until = %d, want 90", upcoming[0].MinutesUntil)
	}
}

func TestMonitoringSnapshotShape(t *testing.T) {
	view, _, now := monitoringFixture(t)
	snap, err := view.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Todos.All) != 3 || len(snap.Todos.Expired) != 1 {
		t.Errorf("todo snapshot = %d all, %d expired", len(snap.Todos.All), len(snap.Todos.Expired))
	}
	if len(snap.Todos.ByPriority[TodoHigh]) != 1 {
		t.Errorf("by_priority = %+v", snap.Todos.ByPriority)
	}
	if len(snap.Calendar.Upcoming24h) != 1 {
		t.Errorf("upcoming_24h = %+v", snap.Calendar.Upcoming24h)
	}
	// The 30-day default window includes next week's event too.
	if len(snap.Calendar.All) != 2 {
		t.Errorf("calendar all = %+v", snap.Calendar.All)
	}
	if !snap.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v", snap.Timestamp)
	}
}
