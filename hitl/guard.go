package hitl

import (
	"sync"
	"time"

	"github.com/BaSui01/humanloop/types"
)

// sessionState serializes admission for one session. Holding mu across the
// whole admission-plus-registration sequence closes the window where two
// concurrent creates could both pass the concurrency check before either is
// registered.
type sessionState struct {
	mu sync.Mutex
	// timestamps holds creation times inside the sliding rate window,
	// oldest first.
	timestamps []time.Time
	// open counts interactions currently pending or waiting.
	open int
}

// admit runs the rate-limit check then the concurrency check. Both must pass
// before anything is registered; a rejected request leaves no trace. The
// caller must hold s.mu.
func (s *sessionState) admit(cfg RateLimiting, now time.Time) error {
	if !cfg.Enabled {
		return nil
	}

	cutoff := now.Add(-cfg.Window)
	pruned := s.timestamps[:0]
	for _, ts := range s.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	s.timestamps = pruned

	if len(s.timestamps) >= cfg.MaxRequestsPerMinute {
		return types.NewErrorf(types.ErrRateLimitExceeded,
			"rate limit exceeded: %d requests in the last %s", len(s.timestamps), cfg.Window).
			WithRetryable(true)
	}
	if s.open >= cfg.MaxConcurrent {
		return types.NewErrorf(types.ErrConcurrencyLimitExceeded,
			"concurrency limit exceeded: %d interactions already open", s.open).
			WithRetryable(true)
	}

	s.timestamps = append(s.timestamps, now)
	return nil
}

// session returns the state for sessionID, creating it on first use.
func (e *Engine) session(sessionID string) *sessionState {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &sessionState{}
		e.sessions[sessionID] = s
	}
	return s
}

// releaseSession decrements the open count after a terminal transition.
func (e *Engine) releaseSession(sessionID string) {
	s := e.session(sessionID)
	s.mu.Lock()
	if s.open > 0 {
		s.open--
	}
	open := s.open
	s.mu.Unlock()
	e.metrics.SetOpenInteractions(sessionID, open)
}
