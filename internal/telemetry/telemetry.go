package telemetry

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/glance/config"
)

var (
	cacheDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glance_cache_decisions_total",
		Help: "Prompt-cache decisions per turn, by outcome (write or reuse).",
	}, []string{"decision"})

	extractionVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glance_extraction_verdicts_total",
		Help: "HTML extraction verdicts (complete, truncated, absent).",
	}, []string{"verdict"})

	taskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glance_task_transitions_total",
		Help: "Task status transitions, by target status.",
	}, []string{"status"})

	completionTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glance_completion_tokens_total",
		Help: "Tokens consumed by model completions.",
	}, []string{"model"})
)

// Telemetry provides diagnostic logging, prometheus counters and cost
// tracking for the copilot pipeline. The log events for cache decisions,
// truncation detection and task transitions are part of the operability
// contract, not optional debug output.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu          sync.Mutex
	totalCost   float64
	totalTokens int64
	modelCosts  map[string]float64
}

// NewTelemetry creates a telemetry instance; when a log file is configured
// events are mirrored there.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	return &Telemetry{
		config:     cfg,
		logger:     log.New(w, "[TELEMETRY] ", log.LstdFlags),
		modelCosts: make(map[string]float64),
	}
}

// RecordCacheDecision counts a prompt-cache decision. write=true means a new
// cache-marked system prompt was written this turn.
func (t *Telemetry) RecordCacheDecision(write bool) {
	decision := "reuse"
	if write {
		decision = "write"
	}
	cacheDecisions.WithLabelValues(decision).Inc()
}

// RecordExtractionVerdict counts an HTML extraction verdict.
func (t *Telemetry) RecordExtractionVerdict(verdict string) {
	extractionVerdicts.WithLabelValues(verdict).Inc()
}

// RecordTaskTransition counts a task status transition.
func (t *Telemetry) RecordTaskTransition(status string) {
	taskTransitions.WithLabelValues(status).Inc()
}

// RecordCompletion tracks token usage and estimated cost for one completion.
func (t *Telemetry) RecordCompletion(model string, tokens int64, cost float64) {
	completionTokens.WithLabelValues(model).Add(float64(tokens))
	if !t.config.CostTracking {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalTokens += tokens
	t.totalCost += cost
	t.modelCosts[model] += cost
	t.logger.Printf("completion model=%s tokens=%d cost=%.6f total_cost=%.6f", model, tokens, cost, t.totalCost)
}

// TotalCost returns the accumulated estimated spend.
func (t *Telemetry) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// TotalTokens returns the accumulated token count.
func (t *Telemetry) TotalTokens() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTokens
}
