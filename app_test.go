package cortex

import (
	"context"
	"testing"
	"time"
)

// scriptedFrontend replays a fixed set of inbound messages and records what
// was sent back.
type scriptedFrontend struct {
	inbound []InboundMessage
	sent    chan string
}

func (f *scriptedFrontend) Poll(ctx context.Context) (<-chan InboundMessage, error) {
	ch := make(chan InboundMessage, len(f.inbound))
	for _, m := range f.inbound {
		ch <- m
	}
	return ch, nil
}

func (f *scriptedFrontend) Send(_ context.Context, chatID, text string) error {
	f.sent <- text
	return nil
}

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, req ChatRequest) (ChatResponse, error) {
	last := req.Messages[len(req.Messages)-1]
	return ChatResponse{Content: "echo: " + last.Content}, nil
}

func (echoProvider) Stream(context.Context, ChatRequest) (<-chan ChatChunk, error) {
	ch := make(chan ChatChunk)
	close(ch)
	return ch, nil
}

func TestNewAppBuildsCore(t *testing.T) {
	a := New(WithStore(newMemStore()))
	if a.Bus() == nil || a.Sessions() == nil || a.Tools() == nil || a.Controller() == nil {
		t.Fatal("core pieces missing")
	}
	if a.Scheduler() == nil {
		t.Fatal("scheduler not built despite store")
	}
	if a.StateManager().Current() != StateIdle {
		t.Errorf("initial state = %s", a.StateManager().Current())
	}
}

func TestAppRunRequiresCollaborators(t *testing.T) {
	a := New(WithStore(newMemStore()))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err == nil {
		t.Fatal("Run without frontend/provider succeeded")
	}
}

func TestAppExchangeDrivesOneCycle(t *testing.T) {
	frontend := &scriptedFrontend{
		inbound: []InboundMessage{{ID: "m1", ChatID: "c1", Text: "hello"}},
		sent:    make(chan string, 4),
	}
	a := New(
		WithStore(newMemStore()),
		WithFrontend(frontend),
		WithProvider(echoProvider{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case reply := <-frontend.sent:
		if reply != "echo: hello" {
			t.Errorf("reply = %q", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply sent")
	}

	// The controller saw a full exchange: exactly one cycle pair.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := a.Bus().GetStats()
		if stats.PerKind[CycleCompleted] == 1 && stats.PerKind[CycleStarted] == 1 {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cycle events not observed")
}
