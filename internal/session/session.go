// Package session provides the per-run context store: keyed values passed
// between workflow phases, integer metric counters, and an append-only
// mutation history that drives context compaction.
//
// A Session is owned by exactly one workflow run. The engine is its single
// writer; all methods are nevertheless safe for concurrent use because the
// parallel generation phase touches the session from two goroutines.
package session

import (
	"sync"
	"time"
)

// History actions.
const (
	ActionContextAdded = "context_added"
)

// MetadataCompactedItems is the metadata key under which CompactContext
// records dropped keys and their kind tags.
const MetadataCompactedItems = "compacted_items"

// Event is one entry in the session's mutation history.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Key       string    `json:"key"`
}

// Session holds all state for one workflow run.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	context   map[string]Value
	metrics   map[string]int64
	history   []Event
	metadata  map[string]any
}

// New creates an empty session for the given run id.
func New(id string, metadata map[string]any) *Session {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Session{
		id:        id,
		createdAt: time.Now(),
		context:   make(map[string]Value),
		metrics:   make(map[string]int64),
		metadata:  md,
	}
}

// ID returns the run id this session belongs to.
func (s *Session) ID() string { return s.id }

// AddContext inserts or overwrites a context value. Every call appends a
// history event, so repeated writes to the same key each count as a distinct
// recent touch during compaction.
func (s *Session) AddContext(key string, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = value
	s.history = append(s.history, Event{
		Timestamp: time.Now(),
		Action:    ActionContextAdded,
		Key:       key,
	})
}

// GetContext returns the value for key, or def when absent. No side effects.
func (s *Session) GetContext(key string, def Value) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.context[key]; ok {
		return v
	}
	return def
}

// HasContext reports whether key is present.
func (s *Session) HasContext(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.context[key]
	return ok
}

// IncrementMetric adds amount to the named counter, creating it at zero when
// absent. Amount may be any integer; token counts use large increments.
func (s *Session) IncrementMetric(name string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] += amount
}

// GetMetric returns the counter value, or def when absent.
func (s *Session) GetMetric(name string, def int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.metrics[name]; ok {
		return v
	}
	return def
}

// SetMetadata records a free-form metadata entry.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Metadata returns a copy of the metadata map.
func (s *Session) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		md[k] = v
	}
	return md
}

// History returns a copy of the mutation history.
func (s *Session) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Event, len(s.history))
	copy(h, s.history)
	return h
}

// ContextLen returns the number of distinct context keys currently held.
func (s *Session) ContextLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.context)
}

// CompactContext prunes the context down to the keepRecent most recently
// touched keys. Recency is determined by scanning the history newest to
// oldest and collecting the first occurrence of each distinct key until
// keepRecent distinct keys are found. A key that was overwritten recently
// counts as recent even if it was first inserted long ago.
//
// Dropped keys are recorded under metadata["compacted_items"] as key -> kind
// tag. The history is never truncated. No-op when the context already holds
// keepRecent or fewer keys.
func (s *Session) CompactContext(keepRecent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.context) <= keepRecent {
		return
	}

	recent := make(map[string]bool, keepRecent)
	for i := len(s.history) - 1; i >= 0 && len(recent) < keepRecent; i-- {
		e := s.history[i]
		if e.Action != ActionContextAdded {
			continue
		}
		recent[e.Key] = true
	}

	compacted := make(map[string]Value, keepRecent)
	dropped := make(map[string]string)
	for k, v := range s.context {
		if recent[k] {
			compacted[k] = v
		} else {
			dropped[k] = string(v.Kind)
		}
	}

	s.context = compacted
	s.metadata[MetadataCompactedItems] = dropped
}
