package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// Flat is an exact brute-force index. Every query scans all stored
// vectors, which guarantees the true top-k and bit-exact reproducibility.
// Suitable for small galleries (a classroom roster easily qualifies).
type Flat struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// flatSnapshot is the gob payload persisted by Save.
type flatSnapshot struct {
	Dim     int
	Vectors [][]float32
}

// NewFlat creates an empty exact index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Add(vec []float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(vec) != f.dim {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), f.dim)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	f.vectors = append(f.vectors, stored)
	return len(f.vectors) - 1, nil
}

func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.searchLocked(query, k)
}

func (f *Flat) searchLocked(query []float32, k int) ([]Result, error) {
	if len(f.vectors) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(f.vectors))
	for pos, vec := range f.vectors {
		results = append(results, Result{Position: pos, Similarity: CosineSimilarity(query, vec)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (f *Flat) SearchBatch(queries [][]float32, k int) ([][]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([][]Result, len(queries))
	for i, q := range queries {
		results, err := f.searchLocked(q, k)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = results
	}
	return out, nil
}

func (f *Flat) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

func (f *Flat) Dim() int { return f.dim }

func (f *Flat) Type() string { return TypeFlat }

// Save persists all vectors to path (gob) plus a JSON .meta sidecar.
func (f *Flat) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(flatSnapshot{Dim: f.dim, Vectors: f.vectors}); err != nil {
		return fmt.Errorf("encoding flat index: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing flat index file: %w", err)
	}

	return writeMeta(path, Meta{
		Type:      TypeFlat,
		Dim:       f.dim,
		Count:     len(f.vectors),
		BuildTime: time.Now(),
	})
}

// Load restores the index from disk. A missing file leaves the index
// empty. A dimension or type mismatch discards the persisted index and
// starts empty rather than partially trusting it; this is a data-loss
// event and is logged accordingly.
func (f *Flat) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	meta, err := readMeta(path)
	if err != nil || meta.Type != TypeFlat || meta.Dim != f.dim {
		log.Printf("WARNING: discarding persisted flat index %s (type=%q dim=%d, want type=%q dim=%d, meta err=%v); starting empty",
			path, meta.Type, meta.Dim, TypeFlat, f.dim, err)
		f.vectors = nil
		return nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("reading flat index file: %w", err)
	}

	var snap flatSnapshot
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		log.Printf("WARNING: discarding corrupt flat index %s: %v; starting empty", path, err)
		f.vectors = nil
		return nil
	}
	if snap.Dim != f.dim {
		log.Printf("WARNING: discarding persisted flat index %s (dim=%d, want %d); starting empty", path, snap.Dim, f.dim)
		f.vectors = nil
		return nil
	}

	f.vectors = snap.Vectors
	return nil
}
