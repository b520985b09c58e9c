package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/privaudit/internal/types"
)

// Outcome is how a report request ended
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailure  Outcome = "failure"
)

// slowReportThreshold marks a report as slow; most of it is upstream I/O
const slowReportThreshold = 20 * time.Second

// PipelineMonitor tracks report durations and outcomes per data source
type PipelineMonitor struct {
	mu         sync.RWMutex
	sources    map[types.DataSource]*sourceSamples
	maxSamples int
}

type sourceSamples struct {
	durations []time.Duration
	total     int64
	fallbacks int64
	failures  int64
	slow      int64
}

// NewPipelineMonitor creates a monitor keeping the last 1000 samples per source
func NewPipelineMonitor() *PipelineMonitor {
	return &PipelineMonitor{
		sources:    make(map[types.DataSource]*sourceSamples),
		maxSamples: 1000,
	}
}

// Record records one finished report request
func (pm *PipelineMonitor) Record(source types.DataSource, duration time.Duration, outcome Outcome) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	s, ok := pm.sources[source]
	if !ok {
		s = &sourceSamples{durations: make([]time.Duration, 0, 64)}
		pm.sources[source] = s
	}

	s.total++
	switch outcome {
	case OutcomeFallback:
		s.fallbacks++
	case OutcomeFailure:
		s.failures++
	}
	if duration > slowReportThreshold {
		s.slow++
	}

	s.durations = append(s.durations, duration)
	if len(s.durations) > pm.maxSamples {
		s.durations = s.durations[len(s.durations)-pm.maxSamples:]
	}
}

// SourceStats summarizes the requests of one data source
type SourceStats struct {
	Requests    int64   `json:"requests"`
	Fallbacks   int64   `json:"fallbacks"`
	Failures    int64   `json:"failures"`
	SlowReports int64   `json:"slowReports"`
	FailureRate float64 `json:"failureRate"` // Percentage
	AvgMs       float64 `json:"avgMs"`
	P95Ms       float64 `json:"p95Ms"`
	P99Ms       float64 `json:"p99Ms"`
}

// GetStats returns current statistics keyed by data source
func (pm *PipelineMonitor) GetStats() map[types.DataSource]SourceStats {
	out := make(map[types.DataSource]SourceStats)
	if pm == nil {
		return out
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for source, s := range pm.sources {
		stats := SourceStats{
			Requests:    s.total,
			Fallbacks:   s.fallbacks,
			Failures:    s.failures,
			SlowReports: s.slow,
		}
		if s.total > 0 {
			stats.FailureRate = float64(s.failures) / float64(s.total) * 100
		}

		if n := len(s.durations); n > 0 {
			sorted := make([]time.Duration, n)
			copy(sorted, s.durations)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, d := range sorted {
				total += d
			}
			stats.AvgMs = float64(total.Milliseconds()) / float64(n)
			stats.P95Ms = float64(sorted[percentileIndex(n, 0.95)].Milliseconds())
			stats.P99Ms = float64(sorted[percentileIndex(n, 0.99)].Milliseconds())
		}
		out[source] = stats
	}
	return out
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Reset clears every sample
func (pm *PipelineMonitor) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.sources = make(map[types.DataSource]*sourceSamples)
}

// HealthCheck is the outcome of CheckHealth
type HealthCheck struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// CheckHealth flags sources that mostly fail or are consistently slow.
// Sources with fewer than 10 requests are not judged.
func (pm *PipelineMonitor) CheckHealth() *HealthCheck {
	check := &HealthCheck{Passed: true, Issues: make([]string, 0)}

	stats := pm.GetStats()
	sources := make([]string, 0, len(stats))
	for source := range stats {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)

	for _, name := range sources {
		s := stats[types.DataSource(name)]
		if s.Requests < 10 {
			continue
		}
		if s.FailureRate > 50 {
			check.Passed = false
			check.Issues = append(check.Issues,
				fmt.Sprintf("%s reports fail %.1f%% of the time", name, s.FailureRate))
		}
		if s.P95Ms > float64(slowReportThreshold.Milliseconds()) {
			check.Issues = append(check.Issues,
				fmt.Sprintf("%s P95 report time (%.0fms) exceeds %s", name, s.P95Ms, slowReportThreshold))
		}
	}
	return check
}
