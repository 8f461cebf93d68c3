// Package metrics is the Prometheus instrumentation facade wired into
// the leak detector (C1), the LLM provider stack (C4), the sandbox
// manager (C6), and the job scheduler (C7), per SPEC_FULL.md §11.
// Grounded on the teacher's internal/observability/metrics.go: a
// promauto-built struct of CounterVec/HistogramVec fields with small
// Record* convenience methods, trimmed to the four components this
// module actually exercises rather than the teacher's full
// channel/webhook/HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram exercised by C1/C4/C6/C7. A nil
// *Metrics is valid everywhere it's threaded through: every Record*
// method nil-checks its receiver, so a component left unconfigured
// simply records nothing rather than forcing every call site to branch.
type Metrics struct {
	LeakMatches       *prometheus.CounterVec
	LLMRequests       *prometheus.CounterVec
	LLMRequestSeconds *prometheus.HistogramVec
	SandboxExecutions *prometheus.CounterVec
	SandboxSeconds    *prometheus.HistogramVec
	JobTransitions    *prometheus.CounterVec
	JobRepairAttempts prometheus.Counter
}

// New registers and returns the full metric set against the default
// registry, matching the teacher's NewMetrics() convention.
func New() *Metrics {
	return &Metrics{
		LeakMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "leak",
			Name:      "matches_total",
			Help:      "Secret-leak detector matches by pattern name and action.",
		}, []string{"pattern", "action"}),
		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM completion requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMRequestSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		SandboxExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Sandboxed command executions by policy and outcome.",
		}, []string{"policy", "outcome"}),
		SandboxSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandboxed command execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy"}),
		JobTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Job-context state transitions by source and destination state.",
		}, []string{"from", "to"}),
		JobRepairAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "jobs",
			Name:      "repair_attempts_total",
			Help:      "Self-repair attempts made by the scheduler's stuck-job sweep.",
		}),
	}
}

func (m *Metrics) RecordLeakMatch(pattern, action string) {
	if m == nil {
		return
	}
	m.LeakMatches.WithLabelValues(pattern, action).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, outcome).Inc()
	m.LLMRequestSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordSandboxExecution(policy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SandboxExecutions.WithLabelValues(policy, outcome).Inc()
	m.SandboxSeconds.WithLabelValues(policy).Observe(d.Seconds())
}

func (m *Metrics) RecordJobTransition(from, to string) {
	if m == nil {
		return
	}
	m.JobTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordRepairAttempt() {
	if m == nil {
		return
	}
	m.JobRepairAttempts.Inc()
}
