package approval

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/humanloop/types"
)

// Engine evaluates an ordered rule set against approval requests. It is
// stateless with respect to individual decisions but accumulates aggregate
// counters for observability.
//
// Rule evaluation must fail safe: any error inside a rule (bad regex,
// unexpected value shapes, panics from odd dynamic values) is absorbed and
// treated as a non-match for that rule. A broken rule can therefore never
// cause an auto-approval.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	evaluations  int64
	matches      int64
	autoApproved int64
	autoRejected int64
	escalated    int64
	ruleHits     map[string]int64
}

// Stats is a snapshot of the engine's aggregate counters.
type Stats struct {
	Evaluations  int64            `json:"evaluations"`
	Matches      int64            `json:"matches"`
	AutoApproved int64            `json:"auto_approved"`
	AutoRejected int64            `json:"auto_rejected"`
	Escalated    int64            `json:"escalated"`
	RuleHits     map[string]int64 `json:"rule_hits"`
}

// NewEngine creates a rule engine. The rule set is validated eagerly; an
// invalid configuration is a construction-time error, never a request-time
// one.
func NewEngine(rules []Rule, logger *zap.Logger) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, types.NewError(types.ErrConfiguration, "invalid auto-approval rules").WithCause(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:    rules,
		logger:   logger.With(zap.String("component", "approval_engine")),
		now:      time.Now,
		ruleHits: make(map[string]int64, len(rules)),
	}, nil
}

// WithClock overrides the engine's clock. Intended for tests of time-typed
// conditions.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rules returns the configured rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Check evaluates the rule set in order against the request and evaluation
// context. The first rule whose conditions all match determines the
// outcome; an escalate action forces human interaction, as does no rule
// matching at all.
func (e *Engine) Check(req Request, evalCtx map[string]any) Decision {
	e.mu.Lock()
	e.evaluations++
	e.mu.Unlock()

	for _, rule := range e.rules {
		if !e.ruleMatches(rule, req, evalCtx) {
			continue
		}

		e.mu.Lock()
		e.matches++
		e.ruleHits[rule.ID]++
		e.mu.Unlock()

		switch rule.Action {
		case ActionApprove:
			e.count(&e.autoApproved)
			e.logger.Info("auto-approval rule matched",
				zap.String("rule_id", rule.ID),
				zap.String("action", string(rule.Action)),
			)
			return Decision{
				ShouldAutoApprove: true,
				Approved:          true,
				Reason:            matchReason(rule),
				MatchedRule:       rule.ID,
			}
		case ActionReject:
			e.count(&e.autoRejected)
			e.logger.Info("auto-approval rule matched",
				zap.String("rule_id", rule.ID),
				zap.String("action", string(rule.Action)),
			)
			return Decision{
				ShouldAutoApprove: true,
				Approved:          false,
				Reason:            matchReason(rule),
				MatchedRule:       rule.ID,
			}
		case ActionEscalate:
			e.count(&e.escalated)
			e.logger.Info("auto-approval rule escalated to human",
				zap.String("rule_id", rule.ID),
			)
			return Decision{
				ShouldAutoApprove: false,
				Reason:            "escalated by rule " + rule.ID,
				MatchedRule:       rule.ID,
			}
		}
	}

	return Decision{ShouldAutoApprove: false}
}

// Statistics returns a snapshot of the aggregate counters.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	hits := make(map[string]int64, len(e.ruleHits))
	for id, n := range e.ruleHits {
		hits[id] = n
	}
	return Stats{
		Evaluations:  e.evaluations,
		Matches:      e.matches,
		AutoApproved: e.autoApproved,
		AutoRejected: e.autoRejected,
		Escalated:    e.escalated,
		RuleHits:     hits,
	}
}

func (e *Engine) count(field *int64) {
	e.mu.Lock()
	*field++
	e.mu.Unlock()
}

func matchReason(rule Rule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return fmt.Sprintf("matched rule %s", rule.ID)
}

// ruleMatches evaluates every condition of a rule with AND semantics,
// short-circuiting on the first non-match. Panics are absorbed as a
// non-match.
func (e *Engine) ruleMatches(rule Rule, req Request, evalCtx map[string]any) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("rule evaluation panicked, treating as non-match",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			matched = false
		}
	}()

	for _, cond := range rule.Conditions {
		actual, ok := e.resolveValue(cond, req, evalCtx)
		if !ok {
			return false
		}
		if !applyOperator(cond.Operator, actual, cond.Value) {
			return false
		}
	}
	return true
}

// resolveValue finds the actual value for a condition according to its
// type. A missing value is a non-match, not an error.
func (e *Engine) resolveValue(cond Condition, req Request, evalCtx map[string]any) (any, bool) {
	switch cond.Type {
	case TypeMetadata:
		v, ok := req.Metadata[cond.Field]
		return v, ok

	case TypeContext:
		v, ok := evalCtx[cond.Field]
		return v, ok

	case TypeUser:
		user, ok := evalCtx["user"].(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := user[cond.Field]
		return v, ok

	case TypeTime:
		return e.clockField(cond.Field)

	case TypeRisk:
		switch cond.Field {
		case "riskLevel", "risk_level":
			return req.RiskLevel, req.RiskLevel != ""
		case "priority":
			return req.Priority, req.Priority != ""
		case "required":
			return req.Required, true
		case "timeout":
			return float64(req.Timeout.Milliseconds()), req.Timeout > 0
		default:
			v, ok := req.Metadata[cond.Field]
			return v, ok
		}

	default:
		return nil, false
	}
}

// clockField computes a named field from the engine clock.
func (e *Engine) clockField(field string) (any, bool) {
	now := e.now()
	switch field {
	case "hour":
		return float64(now.Hour()), true
	case "minute":
		return float64(now.Minute()), true
	case "day_of_week":
		return float64(now.Weekday()), true
	case "day_of_month":
		return float64(now.Day()), true
	case "month":
		return float64(now.Month()), true
	case "year":
		return float64(now.Year()), true
	case "timestamp":
		return float64(now.UnixMilli()), true
	case "iso_date":
		return now.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

// applyOperator applies an operator with type-aware guards: numeric
// comparisons require both operands to be numbers, contains requires
// strings, and an invalid regex pattern is a non-match rather than an
// error.
func applyOperator(op Operator, actual, expected any) bool {
	switch op {
	case OpEquals:
		return valuesEqual(actual, expected)

	case OpNotEquals:
		return !valuesEqual(actual, expected)

	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b

	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b

	case OpContains:
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.Contains(as, es)

	case OpRegex:
		as, aok := actual.(string)
		pattern, pok := expected.(string)
		if !aok || !pok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(as)

	default:
		return false
	}
}

// valuesEqual compares numerically when both operands are numbers, and
// structurally otherwise.
func valuesEqual(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toFloat converts common numeric kinds to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
