// Package index provides similarity search over unit-normalized face
// embeddings. Two implementations are available: Flat (exact brute-force
// inner product) and HNSW (approximate graph search). Both speak cosine
// similarity, which equals the inner product because stored vectors are
// L2-normalized.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Index type tags used in persisted metadata.
const (
	TypeFlat = "flat"
	TypeHNSW = "hnsw"
)

const metaVersion = 1

// Result is a single search hit: the insertion position of the stored
// vector and its cosine similarity to the query (higher is better).
type Result struct {
	Position   int
	Similarity float64
}

// VectorIndex is a similarity index over fixed-dimension embeddings.
// Positions are assigned by insertion order and never reused.
type VectorIndex interface {
	// Add appends a vector and returns its position.
	Add(vec []float32) (int, error)
	// Search returns up to k nearest neighbors sorted by descending
	// similarity. An empty index yields an empty result set, not an error.
	Search(query []float32, k int) ([]Result, error)
	// SearchBatch answers all queries in a single call. Results are
	// per-query, ordered like Search.
	SearchBatch(queries [][]float32, k int) ([][]Result, error)
	// Size returns the number of stored vectors.
	Size() int
	// Dim returns the expected vector dimension.
	Dim() int
	// Type returns the index type tag (TypeFlat or TypeHNSW).
	Type() string
	// Save persists the index to path plus a JSON .meta sidecar.
	Save(path string) error
	// Load restores the index from path. A dimension or type mismatch
	// discards the persisted state and leaves the index empty.
	Load(path string) error
}

// Meta is the JSON sidecar validating a persisted index before use.
type Meta struct {
	Version   int       `json:"version"`
	Type      string    `json:"type"`
	Dim       int       `json:"dim"`
	Count     int       `json:"count"`
	BuildTime time.Time `json:"build_time"`

	// HNSW construction parameters, zero for flat indexes.
	M              int `json:"m,omitempty"`
	EfSearch       int `json:"ef_search,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty"`
}

// writeMeta stores the sidecar next to the index file.
func writeMeta(path string, meta Meta) error {
	meta.Version = metaVersion
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// readMeta loads the sidecar for a persisted index.
func readMeta(path string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("reading index metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshaling index metadata: %w", err)
	}
	return meta, nil
}

// New creates an empty index of the given type. Unknown type tags fall
// back to HNSW, the default for recognition workloads.
func New(indexType string, dim int, params HNSWParams) VectorIndex {
	if indexType == TypeFlat {
		return NewFlat(dim)
	}
	return NewHNSW(dim, params)
}
