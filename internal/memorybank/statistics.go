package memorybank

// Statistics is the aggregate view over all stored runs.
type Statistics struct {
	TotalRuns        int     `json:"total_runs"`
	AvgExecutionTime float64 `json:"avg_execution_time_seconds"`
	SuccessRate      float64 `json:"success_rate"`
	TotalAgentCalls  int64   `json:"total_agent_calls"`
}

// Statistics derives aggregate numbers from the stored snapshots.
func (b *Bank) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Statistics{TotalRuns: len(b.runs)}
	if stats.TotalRuns == 0 {
		return stats
	}

	var durationSum float64
	var durationCount int
	var successes int
	for _, snap := range b.runs {
		if v, ok := snap.Metadata["execution_time"]; ok {
			if secs, ok := asFloat(v); ok {
				durationSum += secs
				durationCount++
			}
		}
		if v, ok := snap.Metadata["success"].(bool); ok && v {
			successes++
		}
		stats.TotalAgentCalls += snap.Metrics["agent_calls"]
	}

	if durationCount > 0 {
		stats.AvgExecutionTime = durationSum / float64(durationCount)
	}
	stats.SuccessRate = float64(successes) / float64(stats.TotalRuns) * 100
	return stats
}

// asFloat handles both float64 (JSON round trip) and in-process numeric types.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
