package cortex

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a ChatProvider and automatically retries transient
// HTTP errors (status 429 Too Many Requests and 503 Service Unavailable)
// with exponential backoff.
type retryProvider struct {
	inner       ChatProvider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt (default: 1s).
// Each subsequent delay doubles: baseDelay, 2×baseDelay, 4×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence. When the
// deadline passes during a backoff wait, the retry loop gives up and returns the
// context's error; an attempt cut short by the deadline returns whatever error
// the provider reports. The zero value (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// WithRetry wraps p with automatic retry on transient HTTP errors (429, 503).
// Retries use exponential backoff with jitter. When the error includes a
// Retry-After duration (parsed from the HTTP header), the retry delay is at
// least that long. Compose with any ChatProvider:
//
//	chatLLM = cortex.WithRetry(provider)
//	chatLLM = cortex.WithRetry(provider, cortex.RetryMaxAttempts(5))
//	chatLLM = cortex.WithRetry(provider, cortex.RetryTimeout(30*time.Second))
func WithRetry(p ChatProvider, opts ...RetryOption) ChatProvider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Complete implements ChatProvider with retry.
func (r *retryProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var last error
	for i := 0; i < r.maxAttempts; i++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil || !isTransient(err) {
			return resp, err
		}
		last = err
		slog.Warn("llm retry", "status", statusOf(err), "attempt", i+1, "max", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepRetry(ctx, retryDelay(r.baseDelay, i, err)); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	return ChatResponse{}, last
}

// Stream implements ChatProvider with retry. Retries apply only to the
// initial call — once a chunk channel is returned, streaming has begun and
// errors pass through to avoid duplicate content.
func (r *retryProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	ctx, cancel := r.withTimeout(ctx)
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		ch, err := r.inner.Stream(ctx, req)
		if err == nil {
			// Tie the timeout's cancel to stream completion.
			out := make(chan ChatChunk)
			go func() {
				defer cancel()
				defer close(out)
				for chunk := range ch {
					out <- chunk
				}
			}()
			return out, nil
		}
		if !isTransient(err) {
			cancel()
			return nil, err
		}
		last = err
		slog.Warn("llm stream retry", "status", statusOf(err), "attempt", i+1, "max", r.maxAttempts)
		if i < r.maxAttempts-1 {
			if err := sleepRetry(ctx, retryDelay(r.baseDelay, i, err)); err != nil {
				cancel()
				return nil, err
			}
		}
	}
	cancel()
	return nil, last
}

// withTimeout returns a child context with a deadline if r.timeout is set.
// If timeout is zero or ctx already has an earlier deadline, returns ctx unchanged.
// The caller must call the returned CancelFunc when done.
func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

func sleepRetry(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *ErrHTTP
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an ErrHTTP, or 0.
func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryAfterOf extracts the Retry-After duration from an ErrHTTP, or 0.
func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// retryDelay computes the delay before retry attempt i, using exponential
// backoff as a floor and the server's Retry-After value (if present) as a
// minimum. The effective delay is max(backoff, retryAfter).
func retryDelay(base time.Duration, i int, err error) time.Duration {
	backoff := retryBackoff(base, i)
	if ra := retryAfterOf(err); ra > backoff {
		return ra
	}
	return backoff
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ ChatProvider = (*retryProvider)(nil)
