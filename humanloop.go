// Package humanloop provides a top-level convenience entry point for creating
// human interaction engines with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/humanloop"
//
//	eng, err := humanloop.New()
//	eng, err := humanloop.New(humanloop.WithStore(store), humanloop.WithApproval(rules))
//	eng, err := humanloop.NewWithConfig(cfg, humanloop.WithTransport(hub))
//
// This is a thin wrapper around [hitl.NewEngine]; both produce identical
// results. Use this package when you prefer the shorter import path.
package humanloop

import (
	"github.com/BaSui01/humanloop/hitl"
)

// Option configures the engine created by [New].
type Option = hitl.Option

// Engine is the human interaction lifecycle engine.
type Engine = hitl.Engine

// Config holds engine configuration.
type Config = hitl.Config

// Request describes one interaction to create.
type Request = hitl.Request

// Interaction is a single human interaction and its state.
type Interaction = hitl.Interaction

// InteractionOptions carries per-interaction behavior settings.
type InteractionOptions = hitl.InteractionOptions

// New creates an [Engine] with the default configuration.
func New(opts ...Option) (*Engine, error) {
	return hitl.NewEngine(hitl.DefaultConfig(), opts...)
}

// NewWithConfig creates an [Engine] with an explicit configuration.
func NewWithConfig(cfg Config, opts ...Option) (*Engine, error) {
	return hitl.NewEngine(cfg, opts...)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return hitl.DefaultConfig()
}

// Re-export engine options so callers never need to import hitl/.

// WithTransport sets the real-time event transport.
var WithTransport = hitl.WithTransport

// WithStore sets the persistence backend for terminal interactions.
var WithStore = hitl.WithStore

// WithApproval sets the auto-approval rule engine.
var WithApproval = hitl.WithApproval

// WithLogger sets a custom zap logger.
var WithLogger = hitl.WithLogger

// WithMetrics sets the Prometheus metrics collector.
var WithMetrics = hitl.WithMetrics
