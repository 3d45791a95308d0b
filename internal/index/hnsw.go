package index

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWParams are the tunable knobs for the approximate graph index.
type HNSWParams struct {
	// M is the construction breadth: maximum neighbors per node. Higher
	// values improve recall but increase memory and build time.
	M int
	// EfSearch is the per-query search breadth (candidate pool size).
	// Recognition paths keep this above k to prioritize recall over speed.
	EfSearch int
	// EfConstruction is the candidate pool size used while inserting.
	// Higher values improve graph quality but slow down enrollment.
	EfConstruction int
}

// DefaultHNSWParams returns the parameters used for 512-dim face
// embeddings in production.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 32, EfSearch: 32, EfConstruction: 40}
}

// HNSW is an approximate index backed by a hierarchical navigable small
// world graph. Queries run in sub-linear time at the cost of occasionally
// missing the true nearest neighbor. Nodes are keyed by insertion
// position so results stay aligned with the gallery.
type HNSW struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[int]
	dim    int
	count  int
	params HNSWParams
}

// NewHNSW creates an empty approximate index for vectors of the given
// dimension.
func NewHNSW(dim int, params HNSWParams) *HNSW {
	if params.M <= 0 {
		params = DefaultHNSWParams()
	}
	return &HNSW{dim: dim, params: params}
}

// newGraph builds an empty graph with the configured parameters.
func (h *HNSW) newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = h.params.M
	g.Ml = 1.0 / float64(h.params.M) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	g.EfSearch = h.params.EfSearch
	return g
}

func (h *HNSW) Add(vec []float32) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(vec) != h.dim {
		return 0, fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), h.dim)
	}

	if h.graph == nil {
		h.graph = h.newGraph()
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)

	// The graph reuses its search pool while inserting, so the
	// construction-quality knob is applied for the duration of the add.
	h.graph.EfSearch = h.params.EfConstruction
	h.graph.Add(hnsw.MakeNode(h.count, stored))
	h.graph.EfSearch = h.params.EfSearch

	pos := h.count
	h.count++
	return pos, nil
}

func (h *HNSW) Search(query []float32, k int) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.searchLocked(query, k)
}

func (h *HNSW) searchLocked(query []float32, k int) ([]Result, error) {
	if h.graph == nil || h.count == 0 {
		return nil, nil
	}
	if len(query) != h.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	neighbors := h.graph.Search(query, k)
	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		// Compute the exact similarity from the node embedding; the graph
		// only guarantees approximate ordering.
		results = append(results, Result{
			Position:   n.Key,
			Similarity: CosineSimilarity(query, n.Value),
		})
	}
	return results, nil
}

func (h *HNSW) SearchBatch(queries [][]float32, k int) ([][]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([][]Result, len(queries))
	for i, q := range queries {
		results, err := h.searchLocked(q, k)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = results
	}
	return out, nil
}

func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *HNSW) Dim() int { return h.dim }

func (h *HNSW) Type() string { return TypeHNSW }

// Params returns the construction parameters.
func (h *HNSW) Params() HNSWParams { return h.params }

// Save exports the graph to path plus a JSON .meta sidecar.
func (h *HNSW) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove stale files if the index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("creating HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	return writeMeta(path, Meta{
		Type:           TypeHNSW,
		Dim:            h.dim,
		Count:          h.count,
		BuildTime:      time.Now(),
		M:              h.params.M,
		EfSearch:       h.params.EfSearch,
		EfConstruction: h.params.EfConstruction,
	})
}

// Load imports the graph from disk. A missing file leaves the index
// empty. A dimension or type mismatch discards the persisted index and
// starts empty; this is a data-loss event and is logged accordingly.
func (h *HNSW) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	meta, err := readMeta(path)
	if err != nil || meta.Type != TypeHNSW || meta.Dim != h.dim {
		log.Printf("WARNING: discarding persisted HNSW index %s (type=%q dim=%d, want type=%q dim=%d, meta err=%v); starting empty",
			path, meta.Type, meta.Dim, TypeHNSW, h.dim, err)
		h.graph = nil
		h.count = 0
		return nil
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("opening HNSW index file: %w", err)
	}
	defer f.Close()

	g := h.newGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		log.Printf("WARNING: discarding corrupt HNSW index %s: %v; starting empty", path, err)
		h.graph = nil
		h.count = 0
		return nil
	}

	h.graph = g
	h.count = meta.Count
	return nil
}
