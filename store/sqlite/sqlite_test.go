package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/cortex"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "cortex.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReminderLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	r := cortex.Reminder{ID: "r1", FireTime: now.Add(-time.Minute), Message: "stand up", Recurrence: "09:30 daily"}
	if err := s.CreateReminder(ctx, r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}

	due, err := s.DueReminders(ctx, now.Unix())
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 1 || due[0].Message != "stand up" || due[0].Recurrence != "09:30 daily" {
		t.Fatalf("due = %+v", due)
	}

	r.FireTime = now.Add(time.Hour)
	if err := s.UpdateReminder(ctx, r); err != nil {
		t.Fatalf("UpdateReminder: %v", err)
	}
	due, _ = s.DueReminders(ctx, now.Unix())
	if len(due) != 0 {
		t.Fatalf("re-armed reminder still due: %+v", due)
	}

	if err := s.DeleteReminder(ctx, "r1"); err != nil {
		t.Fatalf("DeleteReminder: %v", err)
	}
	all, _ := s.ListReminders(ctx)
	if len(all) != 0 {
		t.Errorf("reminders after delete = %+v", all)
	}
}

func TestCalendarStageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	ev := cortex.CalendarEvent{
		ID: "ev1", Summary: "sync", Description: "weekly",
		Start: now.Add(30 * time.Minute), End: now.Add(90 * time.Minute),
		Location: "room 1", CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateCalendarEvent(ctx, ev); err != nil {
		t.Fatalf("CreateCalendarEvent: %v", err)
	}

	upcoming, err := s.UpcomingCalendarEvents(ctx, now.Unix())
	if err != nil {
		t.Fatalf("UpcomingCalendarEvents: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].LastNotifiedStage != cortex.StageNone {
		t.Fatalf("upcoming = %+v", upcoming)
	}

	if err := s.UpdateCalendarStage(ctx, "ev1", cortex.Stage1hBefore, now.Unix()); err != nil {
		t.Fatalf("UpdateCalendarStage: %v", err)
	}
	got, err := s.GetCalendarEvent(ctx, "ev1")
	if err != nil {
		t.Fatalf("GetCalendarEvent: %v", err)
	}
	if got.LastNotifiedStage != cortex.Stage1hBefore || got.LastNotifiedAt == nil {
		t.Errorf("stage = %s, notified_at = %v", got.LastNotifiedStage, got.LastNotifiedAt)
	}

	ended, _ := s.RecentlyEndedCalendarEvents(ctx, now.Unix(), now.Add(2*time.Hour).Unix())
	if len(ended) != 1 {
		t.Errorf("ended = %+v", ended)
	}
}

func TestTodoQueriesAndCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	past := now.Add(-2 * time.Hour)
	future := now.Add(2 * time.Hour)

	todos := []cortex.TodoItem{
		{ID: "t1", Name: "overdue", Priority: cortex.TodoHigh, Status: cortex.TodoPending, CreatedAt: now, UpdatedAt: now, Deadline: &past},
		{ID: "t2", Name: "upcoming", Priority: cortex.TodoMedium, Status: cortex.TodoPending, CreatedAt: now, UpdatedAt: now, Deadline: &future},
		{ID: "t3", Name: "no deadline", Priority: cortex.TodoNone, Status: cortex.TodoPending, CreatedAt: now, UpdatedAt: now},
	}
	for _, item := range todos {
		if err := s.CreateTodo(ctx, item); err != nil {
			t.Fatalf("CreateTodo(%s): %v", item.ID, err)
		}
	}

	withDeadline, err := s.PendingTodosWithDeadline(ctx)
	if err != nil {
		t.Fatalf("PendingTodosWithDeadline: %v", err)
	}
	if len(withDeadline) != 2 || withDeadline[0].ID != "t1" {
		t.Fatalf("withDeadline = %+v", withDeadline)
	}

	overdue, _ := s.OverduePendingTodos(ctx, now.Unix())
	if len(overdue) != 1 || overdue[0].ID != "t1" {
		t.Fatalf("overdue = %+v", overdue)
	}

	if err := s.CompleteTodo(ctx, "t1", now.Unix()); err != nil {
		t.Fatalf("CompleteTodo: %v", err)
	}
	got, _ := s.GetTodo(ctx, "t1")
	if got.Status != cortex.TodoCompleted || got.CompletedAt == nil {
		t.Errorf("completed todo = %+v", got)
	}
	overdue, _ = s.OverduePendingTodos(ctx, now.Unix())
	if len(overdue) != 0 {
		t.Errorf("completed todo still overdue: %+v", overdue)
	}
}

func TestBackgroundWorkflowRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	rec := cortex.BackgroundWorkflowRecord{
		TaskID:            "task-1",
		WorkflowType:      "folder_watch",
		TriggerConditions: map[string]any{"folder": "/downloads"},
		Status:            cortex.BackgroundQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
		Metadata:          map[string]any{"check_interval_seconds": 30.0},
	}
	if err := s.CreateBackgroundWorkflow(ctx, rec); err != nil {
		t.Fatalf("CreateBackgroundWorkflow: %v", err)
	}

	got, err := s.GetBackgroundWorkflow(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetBackgroundWorkflow: %v", err)
	}
	if got.Metadata["check_interval_seconds"] != 30.0 || got.TriggerConditions["folder"] != "/downloads" {
		t.Errorf("round-trip = %+v", got)
	}

	if err := s.UpdateBackgroundStatus(ctx, "task-1", cortex.BackgroundRunning, ""); err != nil {
		t.Fatalf("UpdateBackgroundStatus: %v", err)
	}
	if err := s.TouchBackgroundCheck(ctx, "task-1", now.Unix(), now.Add(time.Minute).Unix()); err != nil {
		t.Fatalf("TouchBackgroundCheck: %v", err)
	}
	got, _ = s.GetBackgroundWorkflow(ctx, "task-1")
	if got.Status != cortex.BackgroundRunning || got.LastCheckAt == nil || got.NextCheckAt == nil {
		t.Errorf("after touch = %+v", got)
	}

	suspended, _ := s.ListBackgroundWorkflows(ctx, cortex.BackgroundSuspended)
	if len(suspended) != 0 {
		t.Errorf("suspended = %+v", suspended)
	}

	if err := s.UpdateBackgroundStatus(ctx, "missing", cortex.BackgroundFailed, "x"); err == nil {
		t.Error("update of missing record succeeded")
	}
}

func TestInterventionLogIsAppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	_ = s.CreateBackgroundWorkflow(ctx, cortex.BackgroundWorkflowRecord{
		TaskID: "task-1", WorkflowType: "w", Status: cortex.BackgroundRunning,
		CreatedAt: now, UpdatedAt: now,
	})
	actions := []cortex.InterventionAction{cortex.InterventionPause, cortex.InterventionResume, cortex.InterventionCancel}
	for _, a := range actions {
		err := s.AppendIntervention(ctx, cortex.InterventionRecord{
			TaskID: "task-1", Action: a, PerformedAt: now, PerformedBy: "operator", Result: "applied",
			Parameters: map[string]any{"note": string(a)},
		})
		if err != nil {
			t.Fatalf("AppendIntervention(%s): %v", a, err)
		}
	}

	log, err := s.ListInterventions(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListInterventions: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("log length = %d", len(log))
	}
	for i, a := range actions {
		if log[i].Action != a {
			t.Errorf("log[%d] = %s, want %s", i, log[i].Action, a)
		}
	}
}

func TestConfigUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if v, err := s.GetConfig(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("missing key = (%q, %v)", v, err)
	}
	if err := s.SetConfig(ctx, "tz", "UTC"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetConfig(ctx, "tz", "Asia/Jakarta"); err != nil {
		t.Fatal(err)
	}
	v, _ := s.GetConfig(ctx, "tz")
	if v != "Asia/Jakarta" {
		t.Errorf("tz = %q", v)
	}
}
