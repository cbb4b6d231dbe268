package utils

import (
	"sync"
	"time"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	mu            sync.RWMutex
	requestCount  uint64
	errorCount    uint64
	cascadeFaults uint64

	// Maps operation name to list of latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time
}

// MetricsSnapshot is the read-only view served by the health endpoint.
type MetricsSnapshot struct {
	RequestCount  uint64           `json:"requestCount"`
	ErrorCount    uint64           `json:"errorCount"`
	CascadeFaults uint64           `json:"cascadeFaults"`
	UptimeSeconds float64          `json:"uptimeSeconds"`
	AvgLatencyMs  map[string]int64 `json:"avgLatencyMs"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

// IncrementCascadeFaults records a partial cascade failure during room
// deletion. These get their own counter so they never drown in the
// general error count.
func (mc *MetricsCollector) IncrementCascadeFaults() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cascadeFaults++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.operationTimes[operationName]; !exists {
		mc.operationTimes[operationName] = make([]int64, 0)
	}
	mc.operationTimes[operationName] = append(
		mc.operationTimes[operationName],
		duration.Nanoseconds(),
	)
}

func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	avg := make(map[string]int64, len(mc.operationTimes))
	for op, samples := range mc.operationTimes {
		if len(samples) == 0 {
			continue
		}
		var total int64
		for _, ns := range samples {
			total += ns
		}
		avg[op] = total / int64(len(samples)) / int64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestCount:  mc.requestCount,
		ErrorCount:    mc.errorCount,
		CascadeFaults: mc.cascadeFaults,
		UptimeSeconds: time.Since(mc.systemStartTime).Seconds(),
		AvgLatencyMs:  avg,
	}
}
