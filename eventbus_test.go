package cortex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met within timeout")
	}
}

// Scenario 1: empty-subscriber publish.
func TestEventBusEmptySubscriberPublish(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	bus.Publish(ctx, CycleStarted, map[string]any{"idx": 1}, "test")

	waitForCondition(t, time.Second, func() bool {
		return bus.GetStats().TotalProcessed == 1
	})

	stats := bus.GetStats()
	if stats.TotalPublished != 1 {
		t.Errorf("TotalPublished = %d, want 1", stats.TotalPublished)
	}
	recent := bus.GetRecentEvents(1, nil)
	if len(recent) != 1 || recent[0].Data["idx"] != 1 {
		t.Errorf("GetRecentEvents = %+v", recent)
	}
}

// Scenario 2: three-layer cycle, each handler called exactly once, in order.
func TestEventBusThreeLayerCycle(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler {
		return func(ctx context.Context, evt Event) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe(InputLayerComplete, record("in"), "h_in")
	bus.Subscribe(ProcessingLayerComplete, record("proc"), "h_proc")
	bus.Subscribe(OutputLayerComplete, record("out"), "h_out")

	bus.Publish(ctx, InputLayerComplete, nil, "input")
	bus.Publish(ctx, ProcessingLayerComplete, nil, "processing")
	bus.Publish(ctx, OutputLayerComplete, nil, "output")

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 || calls[0] != "in" || calls[1] != "proc" || calls[2] != "out" {
		t.Errorf("calls = %v, want [in proc out]", calls)
	}
}

func TestEventBusHandlerOrderWithinKind(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(SessionStarted, func(ctx context.Context, evt Event) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, "")
	}
	bus.Publish(ctx, SessionStarted, nil, "test")

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("handler order = %v, want [0 1 2 3 4]", order)
		}
	}
}

func TestEventBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	var secondRan atomic.Bool
	bus.Subscribe(ModuleError, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	}, "failing")
	bus.Subscribe(ModuleError, func(ctx context.Context, evt Event) error {
		secondRan.Store(true)
		return nil
	}, "ok")

	bus.Publish(ctx, ModuleError, nil, "test")

	waitForCondition(t, time.Second, secondRan.Load)
	if bus.GetStats().ProcessingErrors != 1 {
		t.Errorf("ProcessingErrors = %d, want 1", bus.GetStats().ProcessingErrors)
	}
}

func TestEventBusHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	var secondRan atomic.Bool
	bus.Subscribe(ModuleError, func(ctx context.Context, evt Event) error {
		panic("kaboom")
	}, "panicking")
	bus.Subscribe(ModuleError, func(ctx context.Context, evt Event) error {
		secondRan.Store(true)
		return nil
	}, "ok")

	bus.Publish(ctx, ModuleError, nil, "test")
	waitForCondition(t, time.Second, secondRan.Load)
}

func TestEventBusSubscribeUnsubscribeRoundTrip(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int64
	h := Handler(func(ctx context.Context, evt Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(SessionEnded, h, "h")
	before := bus.GetStats().Subscribers[SessionEnded]
	bus.Unsubscribe(SessionEnded, h)
	after := bus.GetStats().Subscribers[SessionEnded]
	if before != 1 || after != 0 {
		t.Errorf("subscriber count before=%d after=%d, want 1, 0", before, after)
	}
}

func TestEventBusPublishSyncRunsInline(t *testing.T) {
	bus := NewEventBus()
	var ran bool
	bus.Subscribe(CycleCompleted, func(ctx context.Context, evt Event) error {
		ran = true
		return nil
	}, "")
	bus.PublishSync(context.Background(), CycleCompleted, nil, "test")
	if !ran {
		t.Error("PublishSync should invoke handlers before returning")
	}
}

func TestEventBusHistoryCapped(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	for i := 0; i < historySize+10; i++ {
		bus.Publish(ctx, CycleStarted, map[string]any{"i": i}, "test")
	}
	waitForCondition(t, 2*time.Second, func() bool {
		return bus.GetStats().TotalProcessed == int64(historySize+10)
	})
	recent := bus.GetRecentEvents(0, nil)
	if len(recent) != historySize {
		t.Errorf("history length = %d, want %d", len(recent), historySize)
	}
	if recent[len(recent)-1].Data["i"] != historySize+9 {
		t.Errorf("last history entry = %+v, want i=%d", recent[len(recent)-1], historySize+9)
	}
}

func TestEventBusLateSubscriberMissesPastEvents(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	bus.PublishSync(ctx, ModuleReady, nil, "test")

	var got atomic.Bool
	bus.Subscribe(ModuleReady, func(ctx context.Context, evt Event) error {
		got.Store(true)
		return nil
	}, "late")
	time.Sleep(20 * time.Millisecond)
	if got.Load() {
		t.Error("late subscriber should not receive events published before it subscribed")
	}
}
