// Package types defines shared types used across the humanloop engine:
// structured errors with stable error codes, and context helpers for
// propagating identity and tracing metadata.
package types
