package session

import "time"

// Snapshot is the serialized form of a Session, stored in the memory bank
// after a run completes. It is a value copy: mutating it does not affect the
// live session.
type Snapshot struct {
	ID        string           `json:"session_id"`
	CreatedAt time.Time        `json:"created_at"`
	Context   map[string]Value `json:"context"`
	Metrics   map[string]int64 `json:"metrics"`
	History   []Event          `json:"history"`
	Metadata  map[string]any   `json:"metadata"`
}

// Snapshot captures the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := make(map[string]Value, len(s.context))
	for k, v := range s.context {
		ctx[k] = v
	}
	metrics := make(map[string]int64, len(s.metrics))
	for k, v := range s.metrics {
		metrics[k] = v
	}
	history := make([]Event, len(s.history))
	copy(history, s.history)
	md := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		md[k] = v
	}

	return Snapshot{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Context:   ctx,
		Metrics:   metrics,
		History:   history,
		Metadata:  md,
	}
}

// SpecDescription extracts the parsed spec's name and description from the
// snapshot context, used by the memory bank for similarity indexing. Returns
// "" when no parsed spec was recorded.
func (sn Snapshot) SpecDescription() string {
	v, ok := sn.Context["parsed_spec"]
	if !ok || v.Spec == nil {
		return ""
	}
	if v.Spec.Name == "" {
		return v.Spec.Description
	}
	return v.Spec.Name + ": " + v.Spec.Description
}
