// Package metrics provides the process-wide, append-only metrics log for
// workflow runs and collaborator calls, with on-demand aggregation.
//
// The log is flushed to disk after every mutation so a crash mid-run does not
// lose prior events. Mutations are serialized by a single mutex, which makes
// the collector safe to share across concurrent runs.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/logging"
)

// Request statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RequestRecord tracks one workflow run through its lifecycle. A record
// transitions started -> completed or started -> failed exactly once.
type RequestRecord struct {
	RunID         string    `json:"run_id"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Duration      float64   `json:"duration_seconds,omitempty"`
	ArtifactCount int       `json:"artifact_count,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// AgentCallRecord tracks one collaborator invocation. Records are independent
// appends; there is no matching against request records.
type AgentCallRecord struct {
	Agent     string    `json:"agent"`
	RunID     string    `json:"run_id"`
	Duration  float64   `json:"duration_seconds"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRecord captures a run failure for the error log.
type ErrorRecord struct {
	RunID     string    `json:"run_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type metricsLog struct {
	Requests   []RequestRecord   `json:"requests"`
	AgentCalls []AgentCallRecord `json:"agent_calls"`
	Errors     []ErrorRecord     `json:"errors"`
}

// Collector is the durable metrics event sink.
type Collector struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
	log    metricsLog
}

// NewCollector creates a collector backed by the JSON file at path. An empty
// path keeps the log in memory only (used in tests). An existing file is
// loaded so the log accumulates across process restarts; a corrupt file is
// logged and replaced rather than failing startup.
func NewCollector(path string, logger *logging.Logger) (*Collector, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Collector{path: path, logger: logger.Named("metrics")}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// First run, nothing to load.
		case err != nil:
			return nil, fmt.Errorf("reading metrics log %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &c.log); err != nil {
				c.logger.Warn(context.Background(), "metrics log corrupt, starting fresh",
					zap.String("path", path), zap.Error(err))
				c.log = metricsLog{}
			}
		}
	}
	return c, nil
}

// RecordRequestStarted appends a started record for the run. Uniqueness is
// not asserted: a duplicate start simply creates two entries. The completion
// call updates the most recent one, so the duplicate is harmless.
func (c *Collector) RecordRequestStarted(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Requests = append(c.log.Requests, RequestRecord{
		RunID:     runID,
		Status:    StatusStarted,
		StartedAt: time.Now(),
	})
	requestsTotal.WithLabelValues(StatusStarted).Inc()
	c.flushLocked()
}

// RecordRequestCompleted marks the most recent started record for runID as
// completed. When no started record exists the call is a silent no-op.
func (c *Collector) RecordRequestCompleted(runID string, duration time.Duration, artifactCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.log.Requests) - 1; i >= 0; i-- {
		r := &c.log.Requests[i]
		if r.RunID == runID && r.Status == StatusStarted {
			r.Status = StatusCompleted
			r.FinishedAt = time.Now()
			r.Duration = duration.Seconds()
			r.ArtifactCount = artifactCount
			requestsTotal.WithLabelValues(StatusCompleted).Inc()
			requestDuration.Observe(duration.Seconds())
			break
		}
	}
	c.flushLocked()
}

// RecordRequestFailed marks the most recent started record for runID as
// failed and appends to the error log. The error log entry is written even
// when no started record matches.
func (c *Collector) RecordRequestFailed(runID string, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.log.Requests) - 1; i >= 0; i-- {
		r := &c.log.Requests[i]
		if r.RunID == runID && r.Status == StatusStarted {
			r.Status = StatusFailed
			r.FinishedAt = time.Now()
			r.Error = errMsg
			requestsTotal.WithLabelValues(StatusFailed).Inc()
			break
		}
	}
	c.log.Errors = append(c.log.Errors, ErrorRecord{
		RunID:     runID,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
	c.flushLocked()
}

// RecordAgentCall appends one collaborator-call record.
func (c *Collector) RecordAgentCall(agent, runID string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.AgentCalls = append(c.log.AgentCalls, AgentCallRecord{
		Agent:     agent,
		RunID:     runID,
		Duration:  duration.Seconds(),
		Success:   success,
		Timestamp: time.Now(),
	})
	result := "success"
	if !success {
		result = "error"
	}
	agentCallsTotal.WithLabelValues(agent, result).Inc()
	agentCallDuration.WithLabelValues(agent).Observe(duration.Seconds())
	c.flushLocked()
}

// flushLocked persists the log. Flush failures are logged, never fatal: the
// in-memory log stays authoritative for Summary.
func (c *Collector) flushLocked() {
	if c.path == "" {
		return
	}
	data, err := json.MarshalIndent(c.log, "", "  ")
	if err != nil {
		c.logger.Error(context.Background(), "marshaling metrics log", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		c.logger.Error(context.Background(), "creating metrics dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		c.logger.Error(context.Background(), "writing metrics log",
			zap.String("path", c.path), zap.Error(err))
	}
}
