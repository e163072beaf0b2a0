package memorybank

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/fabriclabs/factoryd/internal/session"
)

const embeddingDim = 128

// SimilarRun pairs a stored run with its similarity to a query description.
type SimilarRun struct {
	RunID      string
	Similarity float32
	Snapshot   session.Snapshot
}

// RetrieveSimilar returns up to limit past runs whose spec descriptions are
// closest to the given description, best first.
func (b *Bank) RetrieveSimilar(ctx context.Context, description string, limit int) ([]SimilarRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	// chromem rejects queries asking for more results than documents held.
	if n := b.col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := b.col.Query(ctx, description, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	similar := make([]SimilarRun, 0, len(results))
	for _, r := range results {
		snap, ok := b.runs[r.ID]
		if !ok {
			// Index entry for a run cleared from the keyed store; skip.
			continue
		}
		similar = append(similar, SimilarRun{
			RunID:      r.ID,
			Similarity: r.Similarity,
			Snapshot:   snap,
		})
	}
	return similar, nil
}

// tokenHashEmbedding is the default embedding function: a deterministic
// hashed bag-of-words vector. It needs no model or network access, which
// keeps the bank usable offline; callers wanting semantic similarity inject
// a real embedder via WithEmbeddingFunc.
func tokenHashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,:;!?()[]{}\"'")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Zero vectors break cosine similarity; use a fixed unit vector.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
