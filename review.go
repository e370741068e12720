package cortex

import (
	"sync"
	"time"
)

// --- LLM review gate ---

// defaultReviewTTL is the default time-to-live for a held review. When the
// TTL elapses without approve/modify/cancel, the gate expires, the pending
// result is released, and the engine fails the workflow with an
// llm_review_timeout reason. Override with WithReviewTTL on the engine.
const defaultReviewTTL = 30 * time.Minute

// ReviewAction is the LLM's verdict on a held step result.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewModify  ReviewAction = "modify"
	ReviewCancel  ReviewAction = "cancel"
)

// reviewGate holds a step result between execution and advancement while
// the external LLM decides. Single-use: resolve or expiry releases the held
// result and the captured next-step decision.
//
// The TTL timer fires from its own goroutine, so the held state is guarded
// by mu the same way a resume closure would be.
type reviewGate struct {
	mu       sync.Mutex
	stepID   string
	result   StepResult
	nextStep string
	ttlTimer *time.Timer
	resolved bool
	onExpire func(stepID string)
}

// newReviewGate arms a gate for stepID with the held result and the next
// step that advancement will apply on approval. ttl <= 0 uses the default.
func newReviewGate(stepID string, result StepResult, nextStep string, ttl time.Duration, onExpire func(string)) *reviewGate {
	if ttl <= 0 {
		ttl = defaultReviewTTL
	}
	g := &reviewGate{
		stepID:   stepID,
		result:   result,
		nextStep: nextStep,
		onExpire: onExpire,
	}
	g.ttlTimer = time.AfterFunc(ttl, g.expire)
	return g
}

// take resolves the gate, returning the held result and next step. The
// second return is false if the gate already expired or was resolved.
func (g *reviewGate) take() (StepResult, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return StepResult{}, "", false
	}
	g.resolved = true
	if g.ttlTimer != nil {
		g.ttlTimer.Stop()
	}
	return g.result, g.nextStep, true
}

func (g *reviewGate) expire() {
	g.mu.Lock()
	if g.resolved {
		g.mu.Unlock()
		return
	}
	g.resolved = true
	onExpire := g.onExpire
	stepID := g.stepID
	g.mu.Unlock()

	if onExpire != nil {
		onExpire(stepID)
	}
}

// release cancels the gate without invoking the expiry callback. Used when
// the engine is torn down while a review is still pending.
func (g *reviewGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved = true
	if g.ttlTimer != nil {
		g.ttlTimer.Stop()
	}
}
