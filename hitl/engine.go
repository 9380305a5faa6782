package hitl

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/humanloop/approval"
	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/transport"
	"github.com/BaSui01/humanloop/types"
)

// entry tracks one registered interaction together with its pending timer.
type entry struct {
	in    *Interaction
	timer *time.Timer
	// retryPending is true between a timeout firing and its retry re-arming
	// the interaction. While set, the timeout status is not terminal.
	retryPending bool
}

// outcome is the terminal signal delivered to waiters. Exactly one outcome
// is delivered per interaction.
type outcome struct {
	value any
	err   error
}

// Engine is the human interaction lifecycle engine. It owns the interaction
// registry, the timeout/retry scheduler, per-session admission control and
// the waiter registrations. All state is instance-scoped; independent
// engines never share anything.
type Engine struct {
	cfg       Config
	rules     *approval.Engine
	transport transport.Transport
	store     persistence.Store
	logger    *zap.Logger
	metrics   *metrics.Collector
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	waiters map[string][]chan outcome
	closed  bool
	done    chan struct{}

	sessMu   sync.Mutex
	sessions map[string]*sessionState
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport sets the real-time transport notified of prompts and
// resolutions. Defaults to a no-op transport.
func WithTransport(t transport.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithStore sets the persistence store. Without one, history and export
// calls fail with a persistence-disabled error.
func WithStore(s persistence.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithApproval sets the auto-approval rule engine.
func WithApproval(a *approval.Engine) Option {
	return func(e *Engine) { e.rules = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithClock overrides the engine clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a lifecycle engine. Configuration is validated eagerly;
// an invalid configuration is rejected here, never at request time.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		transport: transport.NewNop(),
		logger:    zap.NewNop(),
		now:       time.Now,
		entries:   make(map[string]*entry),
		waiters:   make(map[string][]chan outcome),
		done:      make(chan struct{}),
		sessions:  make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "hitl_engine"))

	go e.sweepLoop()

	e.logger.Info("lifecycle engine started",
		zap.Duration("default_timeout", cfg.DefaultTimeout),
		zap.Bool("rate_limiting", cfg.RateLimiting.Enabled),
	)
	return e, nil
}

// CreateInteraction registers a new interaction and arms its timeout timer.
// Admission checks run before anything is registered; a rejected request
// leaves no trace. The interaction is already waiting when the id returns.
func (e *Engine) CreateInteraction(ctx context.Context, sessionID string, req Request) (string, error) {
	if sessionID == "" {
		return "", types.NewError(types.ErrInvalidRequest, "session id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	if !req.Type.Valid() {
		return "", types.NewErrorf(types.ErrInvalidRequest, "invalid interaction type: %q", req.Type)
	}

	sess := e.session(sessionID)
	sess.mu.Lock()

	now := e.now()
	if err := sess.admit(e.cfg.RateLimiting, now); err != nil {
		sess.mu.Unlock()
		reason := "rate_limit"
		if types.GetErrorCode(err) == types.ErrConcurrencyLimitExceeded {
			reason = "concurrency_limit"
		}
		e.metrics.RecordAdmissionRejection(reason)
		e.logger.Warn("interaction rejected",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
		)
		return "", err
	}

	timeout := e.effectiveTimeout(req.Options)
	in := &Interaction{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      req.Type,
		Status:    StatusPending,
		Prompt:    req.Prompt,
		Options:   req.Options,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		Metadata:  make(map[string]any),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sess.mu.Unlock()
		return "", types.NewError(types.ErrEngineClosed, "engine is closed")
	}
	ent := &entry{in: in}
	e.entries[in.ID] = ent
	in.Status = StatusWaiting
	e.armTimer(ent, timeout)
	e.mu.Unlock()

	sess.open++
	open := sess.open
	sess.mu.Unlock()

	e.metrics.RecordInteractionCreated(string(in.Type))
	e.metrics.SetOpenInteractions(sessionID, open)
	e.logger.Info("interaction created",
		zap.String("id", in.ID),
		zap.String("session_id", sessionID),
		zap.String("type", string(in.Type)),
		zap.Duration("timeout", timeout),
	)

	e.notifyPrompt(ctx, in, 0)
	return in.ID, nil
}

// RespondToInteraction records a human response. Validation failures leave
// the interaction untouched so the caller can re-prompt and retry.
func (e *Engine) RespondToInteraction(ctx context.Context, id string, response any, md map[string]any) error {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return notFound(id)
	}
	in := ent.in
	if in.Status != StatusWaiting {
		status := in.Status
		e.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidTransition,
			"cannot respond to interaction %s in status %s", id, status)
	}
	// Validation runs outside the lock: custom validators are caller code
	// and must be free to call back into the engine.
	view := Interaction{Type: in.Type, Options: in.Options}
	e.mu.Unlock()

	if err := validateResponse(&view, response); err != nil {
		return err
	}

	e.mu.Lock()
	ent, ok = e.entries[id]
	if !ok {
		e.mu.Unlock()
		return notFound(id)
	}
	in = ent.in
	if in.Status != StatusWaiting {
		status := in.Status
		e.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidTransition,
			"cannot respond to interaction %s in status %s", id, status)
	}

	e.clearTimer(ent)
	now := e.now()
	in.Response = response
	in.ResponseTime = now
	in.ResponseLatency = now.Sub(in.CreatedAt)
	in.Status = StatusResponded
	for k, v := range md {
		in.Metadata[k] = v
	}

	waiters := e.takeWaiters(id)
	event := responseEvent(in)
	rec := recordOf(in)
	sessionID := in.SessionID
	latency := in.ResponseLatency
	typ := string(in.Type)
	e.mu.Unlock()

	deliver(waiters, outcome{value: response})
	e.releaseSession(sessionID)
	e.metrics.RecordInteractionResolved(typ, string(StatusResponded))
	e.metrics.RecordResponseLatency(typ, latency)
	e.logger.Info("interaction responded",
		zap.String("id", id),
		zap.Duration("latency", latency),
	)
	e.notifyResponse(ctx, sessionID, event)
	e.persist(rec)
	return nil
}

// CancelInteraction cancels an open interaction. Allowed only from pending
// or waiting; waiters receive a cancellation error.
func (e *Engine) CancelInteraction(ctx context.Context, id string) error {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return notFound(id)
	}
	in := ent.in
	if in.Status != StatusPending && in.Status != StatusWaiting {
		status := in.Status
		e.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidTransition,
			"cannot cancel interaction %s in status %s", id, status)
	}

	e.clearTimer(ent)
	in.Status = StatusCancelled
	in.ResponseTime = e.now()

	waiters := e.takeWaiters(id)
	event := responseEvent(in)
	rec := recordOf(in)
	sessionID := in.SessionID
	typ := string(in.Type)
	e.mu.Unlock()

	deliver(waiters, outcome{err: cancelled(id)})
	e.releaseSession(sessionID)
	e.metrics.RecordInteractionResolved(typ, string(StatusCancelled))
	e.logger.Info("interaction cancelled", zap.String("id", id))
	e.notifyResponse(ctx, sessionID, event)
	e.persist(rec)
	return nil
}

// WaitForResponse blocks until the interaction reaches a terminal signal:
// responded resolves with the response, timeout resolves with the fallback
// value or fails with a timeout error, cancellation always fails. An already
// resolved interaction returns immediately.
func (e *Engine) WaitForResponse(ctx context.Context, id string) (any, error) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return nil, notFound(id)
	}
	in := ent.in
	if in.Status.Terminal() && !ent.retryPending {
		out := terminalOutcome(in)
		e.mu.Unlock()
		return out.value, out.err
	}

	ch := make(chan outcome, 1)
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		e.dropWaiter(id, ch)
		return nil, ctx.Err()
	}
}

// GetInteraction returns a copy of the interaction. Read-only.
func (e *Engine) GetInteraction(id string) (*Interaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return nil, notFound(id)
	}
	return ent.in.clone(), nil
}

// GetSessionInteractions returns copies of all interactions for a session,
// oldest first. Read-only.
func (e *Engine) GetSessionInteractions(sessionID string) []*Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Interaction
	for _, ent := range e.entries {
		if ent.in.SessionID == sessionID {
			out = append(out, ent.in.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetStatistics aggregates the current registry contents. The latency
// average covers responded interactions only.
func (e *Engine) GetStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Statistics{
		ByStatus: make(map[InteractionStatus]int),
		ByType:   make(map[InteractionType]int),
	}
	var totalLatency time.Duration
	var responded int
	for _, ent := range e.entries {
		in := ent.in
		stats.Total++
		stats.ByStatus[in.Status]++
		stats.ByType[in.Type]++
		if in.Status == StatusResponded {
			responded++
			totalLatency += in.ResponseLatency
		}
	}
	if responded > 0 {
		stats.AverageResponseLatency = totalLatency / time.Duration(responded)
	}
	return stats
}

// CheckAutoApproval evaluates the configured rule set against a request
// before any interaction is registered. Without a configured rule engine the
// request always falls through to human interaction.
func (e *Engine) CheckAutoApproval(prompt string, opts InteractionOptions, evalCtx map[string]any) approval.Decision {
	if e.rules == nil {
		return approval.Decision{}
	}
	dec := e.rules.Check(approval.Request{
		Prompt:    prompt,
		RiskLevel: opts.RiskLevel,
		Priority:  opts.Priority,
		Required:  opts.Required,
		Timeout:   opts.Timeout,
		Metadata:  opts.Metadata,
	}, evalCtx)

	result := "no_match"
	if dec.ShouldAutoApprove {
		result = "rejected"
		if dec.Approved {
			result = "approved"
		}
	}
	e.metrics.RecordAutoApprovalDecision(result)
	return dec
}

// GetInteractionHistory loads terminal records for a session from the
// persistence store.
func (e *Engine) GetInteractionHistory(ctx context.Context, sessionID string, limit int) ([]*persistence.Record, error) {
	if e.store == nil {
		return nil, types.NewError(types.ErrPersistenceDisabled, "no persistence store configured")
	}
	recs, err := e.store.GetInteractionHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to load interaction history").WithCause(err)
	}
	return recs, nil
}

// ExportInteractionData exports terminal records matching the filter from
// the persistence store.
func (e *Engine) ExportInteractionData(ctx context.Context, filter persistence.Filter) ([]*persistence.Record, error) {
	if e.store == nil {
		return nil, types.NewError(types.ErrPersistenceDisabled, "no persistence store configured")
	}
	recs, err := e.store.ExportInteractionData(ctx, filter)
	if err != nil {
		return nil, types.NewError(types.ErrPersistenceFailure, "failed to export interaction data").WithCause(err)
	}
	return recs, nil
}

// Close stops the sweep loop, clears all timers and fails every waiter with
// an engine-closed error. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)

	var all []chan outcome
	for _, ent := range e.entries {
		e.clearTimer(ent)
	}
	for id, chans := range e.waiters {
		all = append(all, chans...)
		delete(e.waiters, id)
	}
	e.mu.Unlock()

	deliver(all, outcome{err: types.NewError(types.ErrEngineClosed, "engine is closed")})
	e.logger.Info("lifecycle engine closed")
	return nil
}

// --- waiter plumbing ---

// takeWaiters removes and returns all waiters for id. Caller holds e.mu;
// registration and teardown are atomic so a late stale signal finds nobody.
func (e *Engine) takeWaiters(id string) []chan outcome {
	chans := e.waiters[id]
	delete(e.waiters, id)
	return chans
}

func (e *Engine) dropWaiter(id string, ch chan outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chans := e.waiters[id]
	for i, c := range chans {
		if c == ch {
			e.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(e.waiters[id]) == 0 {
		delete(e.waiters, id)
	}
}

func deliver(chans []chan outcome, out outcome) {
	for _, ch := range chans {
		ch <- out
	}
}

// terminalOutcome maps a terminal interaction to the waiter signal. Caller
// holds e.mu.
func terminalOutcome(in *Interaction) outcome {
	switch in.Status {
	case StatusResponded:
		return outcome{value: in.Response}
	case StatusCancelled:
		return outcome{err: cancelled(in.ID)}
	case StatusTimeout:
		if in.Options.FallbackValue != nil {
			return outcome{value: in.Options.FallbackValue}
		}
		return outcome{err: timedOut(in.ID)}
	default:
		return outcome{err: types.NewErrorf(types.ErrInvalidTransition,
			"interaction %s settled in unexpected status %s", in.ID, in.Status)}
	}
}

// --- collaborator notification ---

// notifyPrompt pushes the prompt to the transport. Fire-and-forget: failures
// are logged, never propagated to the caller.
func (e *Engine) notifyPrompt(ctx context.Context, in *Interaction, retry int) {
	event := transport.PromptEvent{
		InteractionID: in.ID,
		Type:          string(in.Type),
		Prompt:        in.Prompt,
		Timeout:       in.Options.Timeout,
		Required:      in.Options.Required,
		Retry:         retry,
		Metadata:      in.Options.Metadata,
	}
	if err := e.transport.StreamHumanPrompt(ctx, in.SessionID, event); err != nil {
		e.logger.Warn("failed to stream prompt",
			zap.String("id", in.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) notifyResponse(ctx context.Context, sessionID string, event transport.ResponseEvent) {
	if err := e.transport.StreamHumanResponse(ctx, sessionID, event); err != nil {
		e.logger.Warn("failed to stream response",
			zap.String("id", event.InteractionID),
			zap.Error(err),
		)
	}
}

// responseEvent snapshots a terminal interaction for the transport. Caller
// holds e.mu.
func responseEvent(in *Interaction) transport.ResponseEvent {
	return transport.ResponseEvent{
		InteractionID:   in.ID,
		Response:        in.Response,
		ResponseTime:    in.ResponseTime,
		ResponseLatency: in.ResponseLatency,
		Status:          string(in.Status),
	}
}

// recordOf snapshots a terminal interaction for persistence. Caller holds
// e.mu.
func recordOf(in *Interaction) *persistence.Record {
	md := make(map[string]any, len(in.Metadata))
	for k, v := range in.Metadata {
		md[k] = v
	}
	return &persistence.Record{
		ID:              in.ID,
		SessionID:       in.SessionID,
		Type:            string(in.Type),
		Status:          string(in.Status),
		Prompt:          in.Prompt,
		Response:        in.Response,
		RetryCount:      in.RetryCount,
		CreatedAt:       in.CreatedAt,
		ResolvedAt:      in.ResponseTime,
		ResponseLatency: in.ResponseLatency,
		Metadata:        md,
	}
}

// persist records a terminal interaction in the configured store.
// Best-effort: persistence failures are logged, never surfaced to the
// lifecycle paths.
func (e *Engine) persist(rec *persistence.Record) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.SaveInteraction(ctx, rec); err != nil {
		e.logger.Error("failed to persist interaction",
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
}

// --- retention sweep ---

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.cfg.Retention.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.done:
			return
		}
	}
}

// sweep deletes terminal interactions older than the retention window.
// Terminal status and age are checked together under the engine lock so the
// sweep never races an in-flight create or respond for the same id.
func (e *Engine) sweep() {
	now := e.now()
	e.mu.Lock()
	var removed int
	for id, ent := range e.entries {
		in := ent.in
		if !in.Status.Terminal() || ent.retryPending {
			continue
		}
		resolvedAt := in.ResponseTime
		if resolvedAt.IsZero() {
			resolvedAt = in.CreatedAt
		}
		if now.Sub(resolvedAt) > e.cfg.Retention.MaxAge {
			delete(e.entries, id)
			removed++
		}
	}
	e.mu.Unlock()

	if removed > 0 {
		e.logger.Debug("retention sweep removed interactions", zap.Int("count", removed))
	}
}

// --- errors ---

func notFound(id string) error {
	return types.NewErrorf(types.ErrInteractionNotFound, "interaction not found: %s", id)
}

func cancelled(id string) error {
	return types.NewErrorf(types.ErrInteractionCancelled, "interaction cancelled: %s", id)
}

func timedOut(id string) error {
	return types.NewErrorf(types.ErrInteractionTimeout, "interaction timed out: %s", id).WithRetryable(true)
}
