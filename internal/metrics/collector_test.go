package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("humanloop", reg, zap.NewNop())

	c.RecordHTTPRequest("POST", "/api/v1/interactions", 201, 12*time.Millisecond)
	c.RecordInteractionCreated("approval")
	c.RecordInteractionResolved("approval", "responded")
	c.RecordRetry("input")
	c.RecordResponseLatency("approval", 3*time.Second)
	c.SetOpenInteractions("sess-a", 2)
	c.RecordAdmissionRejection("rate_limit")
	c.RecordAutoApprovalDecision("approved")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_NilReceiverIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
		c.RecordInteractionCreated("choice")
		c.RecordInteractionResolved("choice", "cancelled")
		c.RecordRetry("choice")
		c.RecordResponseLatency("choice", time.Second)
		c.SetOpenInteractions("sess-a", 0)
		c.RecordAdmissionRejection("concurrency_limit")
		c.RecordAutoApprovalDecision("no_match")
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(200))
	assert.Equal(t, "3xx", statusCode(304))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(42))
}
