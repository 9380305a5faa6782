// Package approval implements a rule-based auto-approval engine that can
// resolve approval requests without human input.
//
// A rule set is an ordered list of rules; each rule carries one or more
// conditions evaluated with AND semantics. The first rule whose conditions
// all match determines the outcome: approve and reject short-circuit the
// human round-trip, escalate forces it. Rule sets are validated eagerly at
// construction; evaluation itself never fails outward — any error inside a
// rule is treated as a non-match, so a misconfigured rule can never cause
// an unintended auto-approval.
package approval
