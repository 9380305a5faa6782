// Package hitl implements the human interaction lifecycle engine: it tracks
// requests for human decisions (approval, input, choice, confirmation,
// custom) from creation through response, timeout, retry or cancellation,
// under per-session rate and concurrency limits.
//
// The engine composes four parts: the interaction registry and its state
// machine, the timeout/retry scheduler, the per-session admission guard and
// the response validator. Approval-type requests can be short-circuited
// through the rule engine in the approval package before any interaction is
// registered.
package hitl
