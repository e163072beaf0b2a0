// Package memorybank persists completed run sessions for cross-run learning.
//
// The bank is a durable keyed store of session snapshots plus an embedded
// vector index (chromem-go) over the runs' spec descriptions, which powers
// similarity retrieval without any external service. The bank is append-only
// apart from Clear, and snapshots are never mutated after storage.
package memorybank

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

const (
	bankFileName   = "memory_bank.json"
	collectionName = "factoryd_runs"
)

// Bank is an injected, explicitly-owned store instance. Concurrent runs may
// share one Bank; every mutation path is serialized by a single mutex.
type Bank struct {
	mu     sync.Mutex
	path   string
	runs   map[string]session.Snapshot
	db     *chromem.DB
	col    *chromem.Collection
	embed  chromem.EmbeddingFunc
	logger *logging.Logger
}

// Option configures a Bank.
type Option func(*Bank)

// WithEmbeddingFunc replaces the default token-hash embedder, e.g. with a
// model-backed embedding function.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) Option {
	return func(b *Bank) { b.embed = fn }
}

// Open loads (or creates) the memory bank rooted at dir. The snapshot store
// lives in dir/memory_bank.json and the vector index in dir/vectorstore.
func Open(dir string, logger *logging.Logger, opts ...Option) (*Bank, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating memory dir %s: %w", dir, err)
	}

	b := &Bank{
		path:   filepath.Join(dir, bankFileName),
		runs:   make(map[string]session.Snapshot),
		embed:  tokenHashEmbedding,
		logger: logger.Named("memorybank"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if data, err := os.ReadFile(b.path); err == nil {
		if err := json.Unmarshal(data, &b.runs); err != nil {
			b.logger.Warn(context.Background(), "memory bank corrupt, starting fresh",
				zap.String("path", b.path), zap.Error(err))
			b.runs = make(map[string]session.Snapshot)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading memory bank %s: %w", b.path, err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, "vectorstore"), false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, b.embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collectionName, err)
	}
	b.db = db
	b.col = col

	b.logger.Info(context.Background(), "memory bank opened",
		zap.String("dir", dir), zap.Int("stored_runs", len(b.runs)))
	return b, nil
}

// Store persists a completed run's snapshot. The keyed store is flushed
// before the vector index is updated; an indexing failure degrades
// similarity search but never loses the snapshot.
func (b *Bank) Store(ctx context.Context, snap session.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs[snap.ID] = snap
	if err := b.saveLocked(); err != nil {
		return err
	}

	desc := snap.SpecDescription()
	if desc == "" {
		return nil
	}
	err := b.col.AddDocument(ctx, chromem.Document{
		ID:       snap.ID,
		Content:  desc,
		Metadata: map[string]string{"run_id": snap.ID},
	})
	if err != nil {
		b.logger.Warn(ctx, "indexing run for similarity search failed",
			zap.String("run_id", snap.ID), zap.Error(err))
	}
	return nil
}

// Len returns the number of stored runs.
func (b *Bank) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

// Get returns the stored snapshot for a run id.
func (b *Bank) Get(runID string) (session.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.runs[runID]
	return snap, ok
}

// Clear removes all stored runs and resets the vector index.
func (b *Bank) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs = make(map[string]session.Snapshot)
	if err := b.saveLocked(); err != nil {
		return err
	}
	if err := b.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("resetting collection: %w", err)
	}
	col, err := b.db.GetOrCreateCollection(collectionName, nil, b.embed)
	if err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	b.col = col
	b.logger.Warn(ctx, "memory bank cleared")
	return nil
}

func (b *Bank) saveLocked() error {
	data, err := json.MarshalIndent(b.runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling memory bank: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("writing memory bank %s: %w", b.path, err)
	}
	return nil
}
