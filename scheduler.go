package cortex

import (
	"context"
	"log/slog"
	"time"
)

// defaultTickInterval is the scheduler's polling period.
const defaultTickInterval = 30 * time.Second

// Scheduler is the scheduled-event driver: a single-ticker background loop
// that polls the store and emits reminder, calendar, and TODO events. One
// instance runs per process; it blocks in Run until its context is
// cancelled.
type Scheduler struct {
	store    Store
	bus      *EventBus
	logger   *slog.Logger
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval overrides the default 30s polling period.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithLocation sets the timezone recurring reminders are computed in.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) { s.loc = loc }
}

// WithSchedulerLogger sets a structured logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// withClock injects a fake clock for tests.
func withClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler polling store and publishing on bus.
func NewScheduler(store Store, bus *EventBus, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    store,
		bus:      bus,
		logger:   slog.Default(),
		interval: defaultTickInterval,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run publishes the startup report once, then ticks until ctx is cancelled.
// A persistence error on one tick is logged and the loop continues; the
// next tick may succeed.
func (s *Scheduler) Run(ctx context.Context) {
	s.publishStartupReport(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one polling pass: due reminders, calendar staging, TODO
// staging. Exposed for tests and for a manual "check now" surface.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.fireReminders(ctx, now)
	s.stageCalendarEvents(ctx, now)
	s.stageTodos(ctx, now)
}

// fireReminders publishes REMINDER_TRIGGERED for every due reminder. A
// one-shot reminder is deleted; a recurring one is re-armed at its next
// occurrence.
func (s *Scheduler) fireReminders(ctx context.Context, now time.Time) {
	due, err := s.store.DueReminders(ctx, now.Unix())
	if err != nil {
		s.logger.Warn("scheduler: due reminders", "error", err)
		return
	}
	for _, r := range due {
		s.bus.Publish(ctx, ReminderTriggered, map[string]any{
			"reminder_id": r.ID,
			"message":     r.Message,
			"fire_time":   r.FireTime,
		}, "scheduler")

		if r.Recurrence != "" {
			if next, ok := ComputeNextFire(r.Recurrence, now, s.loc); ok {
				r.FireTime = next
				if err := s.store.UpdateReminder(ctx, r); err != nil {
					s.logger.Warn("scheduler: re-arm reminder", "reminder_id", r.ID, "error", err)
				}
				continue
			}
			s.logger.Warn("scheduler: unparseable recurrence, dropping reminder", "reminder_id", r.ID, "recurrence", r.Recurrence)
		}
		if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
			s.logger.Warn("scheduler: delete reminder", "reminder_id", r.ID, "error", err)
		}
	}
}

// stageCalendarEvents publishes CALENDAR_EVENT_STARTING once per stage: the
// stage is computed from time-to-start and compared with the stored
// last_notified_stage, so a stage is never emitted twice for one event.
func (s *Scheduler) stageCalendarEvents(ctx context.Context, now time.Time) {
	events, err := s.store.UpcomingCalendarEvents(ctx, now.Unix())
	if err != nil {
		s.logger.Warn("scheduler: upcoming events", "error", err)
		return
	}
	for _, ev := range events {
		stage := calendarStageFor(ev.Start.Sub(now))
		if stage == StageNone || stage == ev.LastNotifiedStage {
			continue
		}
		s.bus.Publish(ctx, CalendarEventStarting, map[string]any{
			"event_id": ev.ID,
			"summary":  ev.Summary,
			"start":    ev.Start,
			"location": ev.Location,
			"stage":    string(stage),
		}, "scheduler")
		if err := s.store.UpdateCalendarStage(ctx, ev.ID, stage, now.Unix()); err != nil {
			s.logger.Warn("scheduler: update calendar stage", "event_id", ev.ID, "error", err)
		}
	}
}

// stageTodos publishes TODO_UPCOMING per pre-deadline stage and
// TODO_OVERDUE once at the deadline, with the same never-twice discipline.
func (s *Scheduler) stageTodos(ctx context.Context, now time.Time) {
	todos, err := s.store.PendingTodosWithDeadline(ctx)
	if err != nil {
		s.logger.Warn("scheduler: pending todos", "error", err)
		return
	}
	for _, item := range todos {
		stage := todoStageFor(item.Deadline.Sub(now))
		if stage == StageNone || stage == item.LastNotifiedStage {
			continue
		}
		kind := TodoUpcoming
		if stage == StageAtDeadline {
			kind = TodoOverdue
		}
		s.bus.Publish(ctx, kind, map[string]any{
			"todo_id":  item.ID,
			"name":     item.Name,
			"priority": string(item.Priority),
			"deadline": *item.Deadline,
			"stage":    string(stage),
		}, "scheduler")
		if err := s.store.UpdateTodoStage(ctx, item.ID, stage, now.Unix()); err != nil {
			s.logger.Warn("scheduler: update todo stage", "todo_id", item.ID, "error", err)
		}
	}
}

// publishStartupReport enumerates overdue pending TODOs, already-past
// reminders, and calendar events ending in the past 24h, and publishes a
// single SYSTEM_STARTUP_REPORT.
func (s *Scheduler) publishStartupReport(ctx context.Context) {
	now := s.now()

	overdue, err := s.store.OverduePendingTodos(ctx, now.Unix())
	if err != nil {
		s.logger.Warn("scheduler: startup overdue todos", "error", err)
	}
	pastReminders, err := s.store.DueReminders(ctx, now.Unix())
	if err != nil {
		s.logger.Warn("scheduler: startup past reminders", "error", err)
	}
	ended, err := s.store.RecentlyEndedCalendarEvents(ctx, now.Add(-24*time.Hour).Unix(), now.Unix())
	if err != nil {
		s.logger.Warn("scheduler: startup ended events", "error", err)
	}

	todoNames := make([]string, 0, len(overdue))
	for _, t := range overdue {
		todoNames = append(todoNames, t.Name)
	}
	reminderMsgs := make([]string, 0, len(pastReminders))
	for _, r := range pastReminders {
		reminderMsgs = append(reminderMsgs, r.Message)
	}
	eventSummaries := make([]string, 0, len(ended))
	for _, ev := range ended {
		eventSummaries = append(eventSummaries, ev.Summary)
	}

	s.bus.Publish(ctx, SystemStartupReport, map[string]any{
		"overdue_todo_count":    len(overdue),
		"overdue_todos":         todoNames,
		"past_reminder_count":   len(pastReminders),
		"past_reminders":        reminderMsgs,
		"recently_ended_count":  len(ended),
		"recently_ended_events": eventSummaries,
	}, "scheduler")
}

// calendarStageFor buckets time-to-start into the calendar notification
// stages. Events further out than 24h have no stage yet.
func calendarStageFor(until time.Duration) NotificationStage {
	switch {
	case until <= 0:
		return StageNone // started; UpcomingCalendarEvents no longer returns it
	case until <= 15*time.Minute:
		return Stage15minBefore
	case until <= time.Hour:
		return Stage1hBefore
	case until <= 24*time.Hour:
		return Stage24hBefore
	default:
		return StageNone
	}
}

// todoStageFor buckets time-to-deadline into the TODO notification stages,
// with at_deadline covering the deadline and everything past it.
func todoStageFor(until time.Duration) NotificationStage {
	switch {
	case until <= 0:
		return StageAtDeadline
	case until <= time.Hour:
		return Stage1hBefore
	case until <= 24*time.Hour:
		return Stage24hBefore
	default:
		return StageNone
	}
}
