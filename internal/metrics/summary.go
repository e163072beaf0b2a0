package metrics

// AgentStats aggregates call records for one collaborator.
type AgentStats struct {
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	TotalDuration   float64 `json:"total_duration_seconds"`
	AvgDuration     float64 `json:"avg_duration_seconds"`
	SuccessRate     float64 `json:"success_rate"`
}

// Summary is the derived view over the metrics log. All values are pure
// functions of the log; nothing is cached.
type Summary struct {
	TotalRequests     int                   `json:"total_requests"`
	CompletedRequests int                   `json:"completed_requests"`
	FailedRequests    int                   `json:"failed_requests"`
	SuccessRate       float64               `json:"success_rate"`
	AvgExecutionTime  float64               `json:"avg_execution_time_seconds"`
	TotalErrors       int                   `json:"total_errors"`
	AgentStats        map[string]AgentStats `json:"agent_statistics"`
}

// Summary derives aggregate statistics from the log. Success rate is 0 when
// no requests were recorded; mean duration covers completed requests only.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalRequests: len(c.log.Requests),
		TotalErrors:   len(c.log.Errors),
		AgentStats:    make(map[string]AgentStats),
	}

	var durationSum float64
	var durationCount int
	for _, r := range c.log.Requests {
		switch r.Status {
		case StatusCompleted:
			s.CompletedRequests++
			durationSum += r.Duration
			durationCount++
		case StatusFailed:
			s.FailedRequests++
		}
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.CompletedRequests) / float64(s.TotalRequests) * 100
	}
	if durationCount > 0 {
		s.AvgExecutionTime = durationSum / float64(durationCount)
	}

	for _, call := range c.log.AgentCalls {
		st := s.AgentStats[call.Agent]
		st.TotalCalls++
		if call.Success {
			st.SuccessfulCalls++
		}
		st.TotalDuration += call.Duration
		s.AgentStats[call.Agent] = st
	}
	for agent, st := range s.AgentStats {
		st.AvgDuration = st.TotalDuration / float64(st.TotalCalls)
		st.SuccessRate = float64(st.SuccessfulCalls) / float64(st.TotalCalls) * 100
		s.AgentStats[agent] = st
	}

	return s
}
