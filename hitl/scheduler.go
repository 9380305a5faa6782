package hitl

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// effectiveTimeout resolves the per-interaction timeout: zero falls back to
// the default, and everything is clamped to the configured maximum.
func (e *Engine) effectiveTimeout(opts InteractionOptions) time.Duration {
	t := opts.Timeout
	if t <= 0 {
		t = e.cfg.DefaultTimeout
	}
	if t > e.cfg.MaxTimeout {
		t = e.cfg.MaxTimeout
	}
	return t
}

// armTimer schedules the timeout for a waiting interaction. Caller holds
// e.mu.
func (e *Engine) armTimer(ent *entry, d time.Duration) {
	id := ent.in.ID
	ent.timer = time.AfterFunc(d, func() { e.onTimeout(id) })
}

// clearTimer stops a pending timer. Timers are cleared on every non-timeout
// transition so a stale retry can never resurrect a resolved interaction.
// Caller holds e.mu.
func (e *Engine) clearTimer(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	ent.retryPending = false
}

// onTimeout fires when a waiting interaction's timer expires. A firing for
// an interaction that already left waiting is a stale no-op.
func (e *Engine) onTimeout(id string) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok || ent.in.Status != StatusWaiting {
		e.mu.Unlock()
		return
	}
	in := ent.in
	in.Status = StatusTimeout
	ent.timer = nil

	policy := e.cfg.RetryPolicy
	if in.Options.RetryOnTimeout && in.RetryCount < policy.MaxRetries {
		delay := backoffDelay(policy, in.RetryCount)
		nextRetry := in.RetryCount + 1
		ent.retryPending = true
		ent.timer = time.AfterFunc(delay, func() { e.onRetry(id) })
		e.mu.Unlock()

		e.logger.Info("interaction timed out, retry scheduled",
			zap.String("id", id),
			zap.Int("retry", nextRetry),
			zap.Duration("delay", delay),
		)
		return
	}

	// Retries exhausted (or retry disabled): timeout is terminal.
	in.ResponseTime = e.now()
	if in.Options.FallbackValue != nil {
		in.Response = in.Options.FallbackValue
	}
	waiters := e.takeWaiters(id)
	out := terminalOutcome(in)
	event := responseEvent(in)
	rec := recordOf(in)
	sessionID := in.SessionID
	typ := string(in.Type)
	e.mu.Unlock()

	deliver(waiters, out)
	e.releaseSession(sessionID)
	e.metrics.RecordInteractionResolved(typ, string(StatusTimeout))
	e.logger.Warn("interaction timed out",
		zap.String("id", id),
		zap.Bool("fallback", out.err == nil),
	)
	e.notifyResponse(context.Background(), sessionID, event)
	e.persist(rec)
}

// onRetry re-arms a timed-out interaction after its backoff delay and
// re-notifies the transport with the same prompt.
func (e *Engine) onRetry(id string) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok || !ent.retryPending || ent.in.Status != StatusTimeout {
		e.mu.Unlock()
		return
	}
	in := ent.in
	ent.retryPending = false
	in.RetryCount++
	in.Metadata["retry_count"] = in.RetryCount

	timeout := e.effectiveTimeout(in.Options)
	in.ExpiresAt = e.now().Add(timeout)
	in.Status = StatusWaiting
	e.armTimer(ent, timeout)
	retry := in.RetryCount
	typ := string(in.Type)
	e.mu.Unlock()

	e.metrics.RecordRetry(typ)
	e.logger.Info("interaction re-armed after timeout",
		zap.String("id", id),
		zap.Int("retry", retry),
	)
	e.notifyPrompt(context.Background(), in, retry)
}

// backoffDelay computes retryDelay × backoffMultiplier^retryCount.
func backoffDelay(policy RetryPolicy, retryCount int) time.Duration {
	return time.Duration(float64(policy.RetryDelay) * math.Pow(policy.BackoffMultiplier, float64(retryCount)))
}
