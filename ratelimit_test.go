package cortex

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingProvider struct {
	calls atomic.Int64
	usage Usage
}

func (c *countingProvider) Complete(context.Context, ChatRequest) (ChatResponse, error) {
	c.calls.Add(1)
	return ChatResponse{Content: "ok", Usage: c.usage}, nil
}

func (c *countingProvider) Stream(context.Context, ChatRequest) (<-chan ChatChunk, error) {
	c.calls.Add(1)
	ch := make(chan ChatChunk)
	close(ch)
	return ch, nil
}

func TestRateLimitAllowsWithinBudget(t *testing.T) {
	inner := &countingProvider{}
	p := WithRateLimit(inner, RPM(10))

	for i := 0; i < 5; i++ {
		if _, err := p.Complete(context.Background(), ChatRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if inner.calls.Load() != 5 {
		t.Errorf("calls = %d", inner.calls.Load())
	}
}

func TestRateLimitBlocksOverBudget(t *testing.T) {
	inner := &countingProvider{}
	p := WithRateLimit(inner, RPM(2))

	ctx := context.Background()
	_, _ = p.Complete(ctx, ChatRequest{})
	_, _ = p.Complete(ctx, ChatRequest{})

	// Third call exceeds the window: it must block until cancelled.
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := p.Complete(blockedCtx, ChatRequest{})
	if err == nil {
		t.Fatal("third call within the window succeeded")
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls.Load())
	}
}

func TestRateLimitTPMRecordsUsage(t *testing.T) {
	inner := &countingProvider{usage: Usage{InputTokens: 600, OutputTokens: 500}}
	p := WithRateLimit(inner, TPM(1000))

	ctx := context.Background()
	// First call is allowed and pushes the window over budget.
	if _, err := p.Complete(ctx, ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(blockedCtx, ChatRequest{}); err == nil {
		t.Fatal("call over TPM budget succeeded")
	}
}

func TestRateLimitZeroLimitsPassThrough(t *testing.T) {
	inner := &countingProvider{}
	p := WithRateLimit(inner)
	for i := 0; i < 20; i++ {
		if _, err := p.Complete(context.Background(), ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls.Load() != 20 {
		t.Errorf("calls = %d", inner.calls.Load())
	}
}
