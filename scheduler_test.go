package cortex

import (
	"context"
	"testing"
	"time"
)

// schedulerHarness wires a Scheduler with a fake clock over a memStore.
type schedulerHarness struct {
	sched     *Scheduler
	store     *memStore
	bus       *EventBus
	collector *eventCollector
	now       time.Time
}

func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{
		store: newMemStore(),
		bus:   startedBus(t),
		now:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	h.collector = &eventCollector{}
	for _, kind := range []EventKind{ReminderTriggered, CalendarEventStarting, TodoUpcoming, TodoOverdue, SystemStartupReport} {
		h.bus.Subscribe(kind, h.collector.handler, "collector")
	}
	h.sched = NewScheduler(h.store, h.bus,
		WithLocation(time.UTC),
		withClock(func() time.Time { return h.now }),
	)
	return h
}

func (h *schedulerHarness) tickAndDrain(t *testing.T) {
	t.Helper()
	h.sched.Tick(context.Background())
	drainBus(t, h.bus)
}

func TestReminderFiresOnceAndIsDeleted(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	_ = h.store.CreateReminder(ctx, Reminder{
		ID: "r1", FireTime: h.now.Add(-time.Minute), Message: "stand up",
	})

	h.tickAndDrain(t)
	if got := h.collector.byKind(ReminderTriggered); len(got) != 1 || got[0].Data["message"] != "stand up" {
		t.Fatalf("reminder_triggered = %+v", got)
	}
	remaining, _ := h.store.ListReminders(ctx)
	if len(remaining) != 0 {
		t.Errorf("fired reminder not deleted: %+v", remaining)
	}

	// Second tick: nothing left to fire.
	h.tickAndDrain(t)
	if got := h.collector.byKind(ReminderTriggered); len(got) != 1 {
		t.Errorf("reminder fired again: %d", len(got))
	}
}

func TestRecurringReminderRearms(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	_ = h.store.CreateReminder(ctx, Reminder{
		ID: "r1", FireTime: h.now.Add(-time.Minute), Message: "daily standup",
		Recurrence: "09:30 daily",
	})

	h.tickAndDrain(t)
	if got := h.collector.byKind(ReminderTriggered); len(got) != 1 {
		t.Fatalf("reminder_triggered %d times", len(got))
	}
	remaining, _ := h.store.ListReminders(ctx)
	if len(remaining) != 1 {
		t.Fatalf("recurring reminder deleted")
	}
	want := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	if !remaining[0].FireTime.Equal(want) {
		t.Errorf("re-armed at %v, want %v", remaining[0].FireTime, want)
	}
}

func TestCalendarStagingNeverDuplicates(t *testing.T) {
	// Scenario: event starting in 30 min -> 1h_before once; ticking again
	// publishes nothing; at 10 min out -> 15min_before exactly once.
	h := newSchedulerHarness(t)
	ctx := context.Background()
	start := h.now.Add(30 * time.Minute)
	_ = h.store.CreateCalendarEvent(ctx, CalendarEvent{
		ID: "ev1", Summary: "sync", Start: start, End: start.Add(time.Hour),
	})

	h.tickAndDrain(t)
	got := h.collector.byKind(CalendarEventStarting)
	if len(got) != 1 || got[0].Data["stage"] != string(Stage1hBefore) {
		t.Fatalf("first tick events = %+v", got)
	}

	// Ten seconds later, stage unchanged: no publish.
	h.now = h.now.Add(10 * time.Second)
	h.tickAndDrain(t)
	if got := h.collector.byKind(CalendarEventStarting); len(got) != 1 {
		t.Fatalf("stage re-emitted: %d events", len(got))
	}

	// Now 10 minutes out: 15min_before exactly once.
	h.now = start.Add(-10 * time.Minute)
	h.tickAndDrain(t)
	h.tickAndDrain(t)
	got = h.collector.byKind(CalendarEventStarting)
	if len(got) != 2 || got[1].Data["stage"] != string(Stage15minBefore) {
		t.Fatalf("15min stage events = %+v", got)
	}
}

func TestTodoStagingEmitsOverdueAtDeadline(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	deadline := h.now.Add(30 * time.Minute)
	_ = h.store.CreateTodo(ctx, TodoItem{
		ID: "t1", Name: "ship", Status: TodoPending, Priority: TodoHigh, Deadline: &deadline,
	})

	h.tickAndDrain(t)
	if got := h.collector.byKind(TodoUpcoming); len(got) != 1 || got[0].Data["stage"] != string(Stage1hBefore) {
		t.Fatalf("todo_upcoming = %+v", got)
	}

	h.now = deadline.Add(time.Minute)
	h.tickAndDrain(t)
	h.tickAndDrain(t)
	if got := h.collector.byKind(TodoOverdue); len(got) != 1 {
		t.Fatalf("todo_overdue emitted %d times, want 1", len(got))
	}
}

func TestTodoFarOutHasNoStage(t *testing.T) {
	h := newSchedulerHarness(t)
	deadline := h.now.Add(72 * time.Hour)
	_ = h.store.CreateTodo(context.Background(), TodoItem{
		ID: "t1", Name: "later", Status: TodoPending, Deadline: &deadline,
	})
	h.tickAndDrain(t)
	if got := h.collector.byKind(TodoUpcoming); len(got) != 0 {
		t.Errorf("todo 3 days out staged: %+v", got)
	}
}

func TestStartupReportCountsBacklog(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	past := h.now.Add(-2 * time.Hour)
	_ = h.store.CreateTodo(ctx, TodoItem{ID: "t1", Name: "overdue", Status: TodoPending, Deadline: &past})
	_ = h.store.CreateReminder(ctx, Reminder{ID: "r1", FireTime: past, Message: "missed"})
	_ = h.store.CreateCalendarEvent(ctx, CalendarEvent{
		ID: "ev1", Summary: "yesterday", Start: past.Add(-time.Hour), End: past,
	})

	h.sched.publishStartupReport(ctx)
	drainBus(t, h.bus)

	got := h.collector.byKind(SystemStartupReport)
	if len(got) != 1 {
		t.Fatalf("startup report published %d times, want 1", len(got))
	}
	data := got[0].Data
	if data["overdue_todo_count"] != 1 || data["past_reminder_count"] != 1 || data["recently_ended_count"] != 1 {
		t.Errorf("report = %+v", data)
	}
}

func TestPersistenceErrorDoesNotStopScheduler(t *testing.T) {
	h := newSchedulerHarness(t)
	h.store.failAll = true
	h.tickAndDrain(t) // must not panic

	h.store.failAll = false
	_ = h.store.CreateReminder(context.Background(), Reminder{
		ID: "r1", FireTime: h.now.Add(-time.Minute), Message: "recovered",
	})
	h.tickAndDrain(t)
	if got := h.collector.byKind(ReminderTriggered); len(got) != 1 {
		t.Errorf("scheduler did not recover after persistence error")
	}
}
