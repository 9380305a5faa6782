package approval

import (
	"fmt"
	"time"
)

// Action is the outcome a matched rule applies to a request.
type Action string

const (
	// ActionApprove resolves the request as approved without human input.
	ActionApprove Action = "approve"
	// ActionReject resolves the request as rejected without human input.
	ActionReject Action = "reject"
	// ActionEscalate forces the request through to a human even if later
	// rules would have matched.
	ActionEscalate Action = "escalate"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionEscalate:
		return true
	default:
		return false
	}
}

// Operator compares a resolved value against a condition's expected value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

// Valid reports whether the operator is one of the known values.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpRegex:
		return true
	default:
		return false
	}
}

// ConditionType selects where the actual value for a condition is read from.
type ConditionType string

const (
	// TypeMetadata reads from the request's metadata map.
	TypeMetadata ConditionType = "metadata"
	// TypeContext reads from the evaluation context map.
	TypeContext ConditionType = "context"
	// TypeUser reads from the "user" sub-map of the evaluation context.
	TypeUser ConditionType = "user"
	// TypeTime reads a computed clock field (hour, day_of_week, ...).
	TypeTime ConditionType = "time"
	// TypeRisk reads a named request option, riskLevel by default.
	TypeRisk ConditionType = "risk"
)

// Valid reports whether the condition type is one of the known values.
func (t ConditionType) Valid() bool {
	switch t {
	case TypeMetadata, TypeContext, TypeUser, TypeTime, TypeRisk:
		return true
	default:
		return false
	}
}

// Condition is a single predicate inside a rule. All conditions of a rule
// must match (AND semantics).
type Condition struct {
	// Field is the name of the value to resolve, interpreted per Type.
	Field string `json:"field" yaml:"field"`
	// Operator is applied to (actual, Value).
	Operator Operator `json:"operator" yaml:"operator"`
	// Value is the expected value.
	Value any `json:"value" yaml:"value"`
	// Type selects the source of the actual value.
	Type ConditionType `json:"type" yaml:"type"`
}

// Rule is an ordered, multi-condition predicate that can resolve an
// approval request without human input.
type Rule struct {
	// ID must be unique within a rule set.
	ID string `json:"id" yaml:"id"`
	// Description is free-form documentation for operators.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Conditions are evaluated with AND semantics, in order.
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	// Action is applied when every condition matches.
	Action Action `json:"action" yaml:"action"`
}

// ValidateRules checks a rule set eagerly: unique IDs, at least one
// condition per rule, and known action/operator/type values. Invalid
// configuration must be rejected before any request is evaluated.
func ValidateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}

		if len(r.Conditions) == 0 {
			return fmt.Errorf("rule %q: at least one condition is required", r.ID)
		}
		if !r.Action.Valid() {
			return fmt.Errorf("rule %q: invalid action %q", r.ID, r.Action)
		}
		for j, c := range r.Conditions {
			if c.Field == "" {
				return fmt.Errorf("rule %q condition %d: field is required", r.ID, j)
			}
			if !c.Operator.Valid() {
				return fmt.Errorf("rule %q condition %d: invalid operator %q", r.ID, j, c.Operator)
			}
			if !c.Type.Valid() {
				return fmt.Errorf("rule %q condition %d: invalid type %q", r.ID, j, c.Type)
			}
		}
	}
	return nil
}

// Request is the view of an interaction request the rule engine evaluates.
// It is deliberately decoupled from the lifecycle engine's own types so the
// rule engine depends only on what is passed to it.
type Request struct {
	// Prompt is the text shown to the human if no rule resolves the request.
	Prompt string
	// RiskLevel is the caller-declared risk classification (e.g. "low").
	RiskLevel string
	// Priority is the caller-declared priority.
	Priority string
	// Required marks the request as not skippable.
	Required bool
	// Timeout is the requested human-response timeout.
	Timeout time.Duration
	// Metadata is the request's free-form metadata map.
	Metadata map[string]any
}

// Decision is the result of evaluating a rule set against one request.
type Decision struct {
	// ShouldAutoApprove is true when a rule with an approve or reject
	// action matched; the caller skips human interaction entirely.
	ShouldAutoApprove bool `json:"should_auto_approve"`
	// Approved carries the matched rule's verdict. Only meaningful when
	// ShouldAutoApprove is true.
	Approved bool `json:"approved"`
	// Reason explains the decision in human-readable form.
	Reason string `json:"reason,omitempty"`
	// MatchedRule is the ID of the rule that determined the outcome.
	MatchedRule string `json:"matched_rule,omitempty"`
}
