package server

import (
	"sync"

	"github.com/tickerpulse/core/internal/jobs"
)

// latencyBuffer accumulates per-request timings in memory between
// metrics_snapshot runs, satisfying jobs.LatencyBuffer. loggingMiddleware
// records one sample per request; MetricsSnapshot drains and flushes them
// into api_request_log.
type latencyBuffer struct {
	mu      sync.Mutex
	samples []jobs.LatencySample
}

func newLatencyBuffer() *latencyBuffer {
	return &latencyBuffer{}
}

func (b *latencyBuffer) record(endpoint, method, statusClass string, durationMs float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, jobs.LatencySample{
		Endpoint:    endpoint,
		Method:      method,
		StatusClass: statusClass,
		DurationMs:  durationMs,
	})
}

// Drain returns and clears the buffered samples.
func (b *latencyBuffer) Drain() []jobs.LatencySample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = nil
	return out
}

func statusClassOf(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
