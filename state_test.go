package cortex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to SystemState
		allowed  bool
	}{
		{StateIdle, StateChat, true},
		{StateChat, StateIdle, true},
		{StateIdle, StateWork, true},
		{StateWork, StateIdle, true},
		{StateIdle, StateSleep, true},
		{StateSleep, StateIdle, true},
		{StateChat, StateWork, false},
		{StateWork, StateSleep, false},
		{StateSleep, StateChat, false},
	}
	for _, tt := range tests {
		bus := startedBus(t)
		m := NewStateManager(bus)
		ctx := context.Background()
		// Walk to the from-state through declared edges.
		if tt.from != StateIdle {
			if err := m.TransitionTo(ctx, tt.from, "setup"); err != nil {
				t.Fatalf("setup transition to %s: %v", tt.from, err)
			}
		}
		err := m.TransitionTo(ctx, tt.to, "test")
		if tt.allowed && err != nil {
			t.Errorf("%s -> %s rejected: %v", tt.from, tt.to, err)
		}
		if !tt.allowed {
			if err == nil {
				t.Errorf("%s -> %s allowed", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state moved to %s on rejected edge", m.Current())
			}
		}
	}
}

func TestSleepWritesSidecarAndWakeRemovesIt(t *testing.T) {
	dir := t.TempDir()
	bus := startedBus(t)
	m := NewStateManager(bus, WithStateDir(dir))
	ctx := context.Background()

	if err := m.TransitionTo(ctx, StateSleep, "inactivity"); err != nil {
		t.Fatalf("enter sleep: %v", err)
	}
	drainBus(t, bus)
	sidecar := filepath.Join(dir, "sleep_context.json")
	if _, err := os.Stat(sidecar); err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	if got := bus.GetStats().PerKind[SleepEntered]; got != 1 {
		t.Errorf("sleep_entered published %d times, want 1", got)
	}
	reason, since := m.SleepInfo()
	if reason != "inactivity" || since.IsZero() {
		t.Errorf("SleepInfo = (%q, %v)", reason, since)
	}

	if err := m.TransitionTo(ctx, StateIdle, "user input"); err != nil {
		t.Fatalf("wake: %v", err)
	}
	drainBus(t, bus)
	if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
		t.Error("sidecar survived wake")
	}
	if got := bus.GetStats().PerKind[SleepExited]; got != 1 {
		t.Errorf("sleep_exited published %d times, want 1", got)
	}
}

func TestWakeCallbacksRunOnWake(t *testing.T) {
	bus := startedBus(t)
	m := NewStateManager(bus)
	ctx := context.Background()

	var reasons []string
	m.RegisterWakeCallback(func(reason string) { reasons = append(reasons, reason) })
	m.RegisterWakeCallback(func(string) { panic("misbehaving module") })

	if err := m.TransitionTo(ctx, StateSleep, "inactivity"); err != nil {
		t.Fatal(err)
	}
	if len(reasons) != 0 {
		t.Fatal("wake callback ran on sleep entry")
	}
	if err := m.TransitionTo(ctx, StateIdle, "user_input"); err != nil {
		t.Fatal(err)
	}
	if len(reasons) != 1 || reasons[0] != "user_input" {
		t.Errorf("reasons = %v", reasons)
	}
	// The panicking callback was contained; a second wake still works.
	_ = m.TransitionTo(ctx, StateSleep, "boredom")
	_ = m.TransitionTo(ctx, StateIdle, "noise")
	if len(reasons) != 2 {
		t.Errorf("callback not invoked on second wake: %v", reasons)
	}
}

func TestRestoreSleepReportAfterCrash(t *testing.T) {
	dir := t.TempDir()
	bus := startedBus(t)
	ctx := context.Background()

	// First process goes to sleep and is killed (no wake).
	m1 := NewStateManager(bus, WithStateDir(dir))
	if err := m1.TransitionTo(ctx, StateSleep, "boredom"); err != nil {
		t.Fatal(err)
	}

	// Next process reads and clears the sidecar.
	m2 := NewStateManager(bus, WithStateDir(dir))
	report, ok := m2.RestoreSleepReport()
	if !ok {
		t.Fatal("no sleep report restored")
	}
	if report.Reason != "boredom" || report.PreviousState != StateIdle {
		t.Errorf("report = %+v", report)
	}
	if _, ok := m2.RestoreSleepReport(); ok {
		t.Error("sleep report restored twice")
	}
}
