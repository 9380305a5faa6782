package hitl

import (
	"fmt"
	"maps"
	"time"

	"github.com/BaSui01/humanloop/types"
)

// InteractionType defines the kind of human decision being requested.
type InteractionType string

const (
	TypeApproval     InteractionType = "approval"
	TypeInput        InteractionType = "input"
	TypeChoice       InteractionType = "choice"
	TypeConfirmation InteractionType = "confirmation"
	TypeCustom       InteractionType = "custom"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case TypeApproval, TypeInput, TypeChoice, TypeConfirmation, TypeCustom:
		return true
	}
	return false
}

// InteractionStatus represents the lifecycle state of an interaction.
type InteractionStatus string

const (
	StatusPending   InteractionStatus = "pending"
	StatusWaiting   InteractionStatus = "waiting"
	StatusResponded InteractionStatus = "responded"
	StatusTimeout   InteractionStatus = "timeout"
	StatusCancelled InteractionStatus = "cancelled"

	// StatusExpired and StatusFailed never come out of the lifecycle engine;
	// they exist so records imported from external collaborators can be
	// represented.
	StatusExpired InteractionStatus = "expired"
	StatusFailed  InteractionStatus = "failed"
)

// Terminal reports whether s is a resting state. A timeout interaction
// mid-retry is tracked separately by the engine and is not terminal despite
// its status.
func (s InteractionStatus) Terminal() bool {
	switch s {
	case StatusResponded, StatusTimeout, StatusCancelled, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// ValidationRules constrains free-form input responses.
type ValidationRules struct {
	Required  bool   `json:"required,omitempty"`
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// ChoiceOptions configures choice interactions. When Choices is non-empty
// the selected values must come from it.
type ChoiceOptions struct {
	Choices       []string `json:"choices,omitempty"`
	MultiSelect   bool     `json:"multi_select,omitempty"`
	MinSelections int      `json:"min_selections,omitempty"`
	MaxSelections int      `json:"max_selections,omitempty"`
}

// ValidatorFunc is a caller-supplied response validator. A non-nil error
// fails the validation; a panic inside the function is absorbed and reported
// as a validation failure.
type ValidatorFunc func(response any) error

// InteractionOptions carries the per-interaction knobs supplied at creation.
type InteractionOptions struct {
	// Timeout is how long to wait for a human response. Zero means the
	// engine's default; values above the engine maximum are clamped.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Required marks the interaction as not skippable.
	Required bool `json:"required,omitempty"`
	// RetryOnTimeout re-arms the interaction after a timeout, up to the
	// engine's retry policy maximum.
	RetryOnTimeout bool `json:"retry_on_timeout,omitempty"`
	// FallbackValue, when non-nil, resolves waiters instead of a timeout
	// error once retries are exhausted.
	FallbackValue any `json:"fallback_value,omitempty"`
	// Priority is a caller-declared priority label (e.g. "high").
	Priority string `json:"priority,omitempty"`
	// RiskLevel is a caller-declared risk classification consumed by
	// auto-approval rules.
	RiskLevel string `json:"risk_level,omitempty"`
	// Choice configures choice interactions.
	Choice *ChoiceOptions `json:"choice,omitempty"`
	// Validation constrains input interactions.
	Validation *ValidationRules `json:"validation,omitempty"`
	// CustomValidator validates custom interactions, and input interactions
	// in addition to Validation.
	CustomValidator ValidatorFunc `json:"-"`
	// Metadata is a free-form annotation bag.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Request describes one request for a human decision.
type Request struct {
	Type    InteractionType    `json:"type"`
	Prompt  string             `json:"prompt"`
	Options InteractionOptions `json:"options"`
}

// Interaction is one tracked request for a human decision.
type Interaction struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Type      InteractionType    `json:"type"`
	Status    InteractionStatus  `json:"status"`
	Prompt    string             `json:"prompt"`
	Options   InteractionOptions `json:"options"`
	CreatedAt time.Time          `json:"created_at"`
	// ExpiresAt is recomputed only when a timeout retry re-arms the
	// interaction.
	ExpiresAt       time.Time      `json:"expires_at"`
	Response        any            `json:"response,omitempty"`
	ResponseTime    time.Time      `json:"response_time,omitzero"`
	ResponseLatency time.Duration  `json:"response_latency,omitempty"`
	RetryCount      int            `json:"retry_count,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Statistics aggregates the engine's current contents.
type Statistics struct {
	Total    int                       `json:"total"`
	ByStatus map[InteractionStatus]int `json:"by_status"`
	ByType   map[InteractionType]int   `json:"by_type"`
	// AverageResponseLatency is averaged over responded interactions only.
	AverageResponseLatency time.Duration `json:"average_response_latency"`
}

// RetryPolicy governs timeout retries.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay" yaml:"retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// RateLimiting governs per-session admission control.
type RateLimiting struct {
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	MaxRequestsPerMinute int           `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxConcurrent        int           `json:"max_concurrent_interactions" yaml:"max_concurrent_interactions"`
	Window               time.Duration `json:"window" yaml:"window"`
}

// Retention governs the background sweep of terminal interactions.
type Retention struct {
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	MaxAge        time.Duration `json:"max_age" yaml:"max_age"`
}

// Config is the lifecycle engine configuration.
type Config struct {
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
	MaxTimeout     time.Duration `json:"max_timeout" yaml:"max_timeout"`
	RetryPolicy    RetryPolicy   `json:"retry_policy" yaml:"retry_policy"`
	RateLimiting   RateLimiting  `json:"rate_limiting" yaml:"rate_limiting"`
	Retention      Retention     `json:"retention" yaml:"retention"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Minute,
		MaxTimeout:     24 * time.Hour,
		RetryPolicy: RetryPolicy{
			MaxRetries:        3,
			RetryDelay:        30 * time.Second,
			BackoffMultiplier: 2,
		},
		RateLimiting: RateLimiting{
			Enabled:              true,
			MaxRequestsPerMinute: 60,
			MaxConcurrent:        10,
			Window:               time.Minute,
		},
		Retention: Retention{
			SweepInterval: time.Minute,
			MaxAge:        24 * time.Hour,
		},
	}
}

// Validate rejects invalid configuration before any request is evaluated.
func (c Config) Validate() error {
	if c.DefaultTimeout <= 0 {
		return types.NewError(types.ErrConfiguration, "default timeout must be positive")
	}
	if c.MaxTimeout <= 0 {
		return types.NewError(types.ErrConfiguration, "max timeout must be positive")
	}
	if c.MaxTimeout < c.DefaultTimeout {
		return types.NewErrorf(types.ErrConfiguration,
			"max timeout %s must not be below default timeout %s", c.MaxTimeout, c.DefaultTimeout)
	}
	if c.RetryPolicy.MaxRetries < 0 {
		return types.NewError(types.ErrConfiguration, "max retries must not be negative")
	}
	if c.RetryPolicy.RetryDelay <= 0 {
		return types.NewError(types.ErrConfiguration, "retry delay must be positive")
	}
	if c.RetryPolicy.BackoffMultiplier < 1 {
		return types.NewErrorf(types.ErrConfiguration,
			"backoff multiplier %v must be at least 1", c.RetryPolicy.BackoffMultiplier)
	}
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MaxRequestsPerMinute <= 0 {
			return types.NewError(types.ErrConfiguration, "max requests per minute must be positive")
		}
		if c.RateLimiting.MaxConcurrent <= 0 {
			return types.NewError(types.ErrConfiguration, "max concurrent interactions must be positive")
		}
		if c.RateLimiting.Window <= 0 {
			return types.NewError(types.ErrConfiguration, "rate window must be positive")
		}
	}
	if c.Retention.SweepInterval <= 0 {
		return types.NewError(types.ErrConfiguration, "sweep interval must be positive")
	}
	if c.Retention.MaxAge <= 0 {
		return types.NewError(types.ErrConfiguration, "retention max age must be positive")
	}
	return nil
}

// clone returns a copy safe to hand to callers. The metadata maps are
// copied because the engine keeps writing to the live maps after handing
// out snapshots (response metadata merge, retry counters).
func (in *Interaction) clone() *Interaction {
	cp := *in
	cp.Metadata = maps.Clone(in.Metadata)
	cp.Options.Metadata = maps.Clone(in.Options.Metadata)
	return &cp
}

func (in *Interaction) String() string {
	return fmt.Sprintf("interaction(%s session=%s type=%s status=%s)", in.ID, in.SessionID, in.Type, in.Status)
}
