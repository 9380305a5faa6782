package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles (function callback pattern) ---

type testTransport struct {
	mu        sync.Mutex
	prompts   []PromptEvent
	responses []ResponseEvent
	promptErr error
}

func (t *testTransport) StreamHumanPrompt(_ context.Context, _ string, event PromptEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.promptErr != nil {
		return t.promptErr
	}
	t.prompts = append(t.prompts, event)
	return nil
}

func (t *testTransport) StreamHumanResponse(_ context.Context, _ string, event ResponseEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = append(t.responses, event)
	return nil
}

func (t *testTransport) promptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prompts)
}

// --- Nop ---

func TestNop(t *testing.T) {
	n := NewNop()
	assert.NoError(t, n.StreamHumanPrompt(context.Background(), "s1", PromptEvent{}))
	assert.NoError(t, n.StreamHumanResponse(context.Background(), "s1", ResponseEvent{}))
}

// --- Fanout ---

func TestFanout_BroadcastsToAll(t *testing.T) {
	a := &testTransport{}
	b := &testTransport{}
	f := NewFanout(a, b)

	err := f.StreamHumanPrompt(context.Background(), "s1", PromptEvent{
		InteractionID: "i1",
		Type:          "approval",
		Prompt:        "deploy to production?",
		Timeout:       30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.promptCount())
	assert.Equal(t, 1, b.promptCount())
}

func TestFanout_PropagatesError(t *testing.T) {
	boom := errors.New("downstream unavailable")
	a := &testTransport{}
	b := &testTransport{promptErr: boom}
	f := NewFanout(a, b)

	err := f.StreamHumanPrompt(context.Background(), "s1", PromptEvent{InteractionID: "i1"})
	assert.ErrorIs(t, err, boom)
}

func TestFanout_Empty(t *testing.T) {
	f := NewFanout()
	assert.NoError(t, f.StreamHumanResponse(context.Background(), "s1", ResponseEvent{
		InteractionID: "i1",
		Status:        "responded",
	}))
}

// --- WebSocketHub ---

func TestWebSocketHub_NoSubscribersIsNoop(t *testing.T) {
	h := NewWebSocketHub(nil)
	defer h.Close()

	// Best-effort push: no subscribers attached is not an error.
	err := h.StreamHumanPrompt(context.Background(), "empty-session", PromptEvent{InteractionID: "i1"})
	assert.NoError(t, err)
	assert.Equal(t, 0, h.SessionSubscribers("empty-session"))
}

func TestWebSocketHub_AttachAfterClose(t *testing.T) {
	h := NewWebSocketHub(nil)
	require.NoError(t, h.Close())

	_, err := h.Attach("s1", nil)
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, h.Close())
}
