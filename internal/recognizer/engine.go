// Package recognizer implements the face matching core: multi-frame
// enrollment with quality gating, and single-frame, multi-frame and
// multi-face recognition against the vector index.
package recognizer

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

// searchMultiplier requests more candidates than needed so enough remain
// after tombstone filtering.
const searchMultiplier = 3

// Engine owns the extractor handle, vector index and gallery store, and
// the single lock serializing enrollment (mutate + persist) against
// recognition. Recognition calls only take the read side and may run
// concurrently with each other.
type Engine struct {
	cfg    *config.Config
	ext    extractor.Extractor
	scorer *quality.Scorer
	idx    index.VectorIndex
	store  *gallery.Store

	mu sync.RWMutex

	counters counters
}

// New assembles an engine from already-loaded components.
func New(cfg *config.Config, ext extractor.Extractor, idx index.VectorIndex, store *gallery.Store) *Engine {
	return &Engine{
		cfg:    cfg,
		ext:    ext,
		scorer: quality.NewScorer(cfg.Quality),
		idx:    idx,
		store:  store,
	}
}

// Open loads (or creates) the persisted gallery and index from the
// configured data directory and returns a ready engine. The gallery
// snapshot is the source of truth; when the persisted index is missing,
// incompatible or out of step, it is rebuilt from the snapshot.
func Open(cfg *config.Config, ext extractor.Extractor) (*Engine, error) {
	dim := cfg.Extractor.Dim

	store := gallery.NewStore(cfg.Data.Dir, dim)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("loading gallery: %w", err)
	}

	idx := index.New(cfg.Recognition.IndexType, dim, cfg.Recognition.HNSW)
	if err := idx.Load(indexPath(cfg)); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}

	if idx.Size() != store.Size() {
		if idx.Size() > 0 {
			log.Printf("WARNING: persisted index size %d does not match gallery size %d; rebuilding index from gallery",
				idx.Size(), store.Size())
		}
		rebuilt, err := rebuildFromStore(cfg, store)
		if err != nil {
			return nil, err
		}
		idx = rebuilt
	}

	return New(cfg, ext, idx, store), nil
}

// rebuildFromStore builds a fresh index containing every gallery entry,
// tombstoned ones included, so positions stay aligned.
func rebuildFromStore(cfg *config.Config, store *gallery.Store) (index.VectorIndex, error) {
	idx := index.New(cfg.Recognition.IndexType, cfg.Extractor.Dim, cfg.Recognition.HNSW)
	for pos := 0; pos < store.Size(); pos++ {
		entry, ok := store.EntryAt(pos)
		if !ok {
			return nil, fmt.Errorf("gallery entry %d missing during index rebuild", pos)
		}
		if _, err := idx.Add(entry.Vector); err != nil {
			return nil, fmt.Errorf("rebuilding index at position %d: %w", pos, err)
		}
	}
	return idx, nil
}

// indexPath returns the index cache file path for the configured type.
func indexPath(cfg *config.Config) string {
	return filepath.Join(cfg.Data.Dir, "index."+cfg.Recognition.IndexType)
}

// extractBest runs the extractor and returns the best face with its
// unit-normalized embedding. The selection policy favors detection
// confidence and breaks near-ties by box area.
func (e *Engine) extractBest(ctx context.Context, imageData []byte) (*extractor.Face, []float32, error) {
	start := time.Now()
	faces, err := e.ext.Detect(ctx, imageData)
	e.counters.recordExtract(time.Since(start))
	if err != nil {
		return nil, nil, fmt.Errorf("extracting embedding: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil, ErrNoFaceDetected
	}

	best := extractor.BestFace(faces)
	if len(best.Embedding) != e.cfg.Extractor.Dim {
		return nil, nil, fmt.Errorf("embedding dimension %d does not match expected %d",
			len(best.Embedding), e.cfg.Extractor.Dim)
	}

	// The extractor normalizes embeddings already; normalize again so a
	// misbehaving server cannot poison similarity scores.
	return best, index.Normalize(best.Embedding), nil
}

// liveHit is a search result resolved to a live (non-tombstoned) identity.
type liveHit struct {
	IdentityID string
	Similarity float64
}

// searchLive returns the top-k live hits for a query. Callers must hold
// at least the read lock.
func (e *Engine) searchLive(query []float32, k int) ([]liveHit, error) {
	start := time.Now()
	results, err := e.idx.Search(query, k*searchMultiplier)
	e.counters.recordSearch(time.Since(start))
	if err != nil {
		return nil, err
	}
	return e.filterLive(results, k), nil
}

// searchLiveBatch answers all queries through a single batched index
// call. Callers must hold at least the read lock.
func (e *Engine) searchLiveBatch(queries [][]float32, k int) ([][]liveHit, error) {
	start := time.Now()
	batched, err := e.idx.SearchBatch(queries, k*searchMultiplier)
	e.counters.recordSearch(time.Since(start))
	if err != nil {
		return nil, err
	}

	out := make([][]liveHit, len(batched))
	for i, results := range batched {
		out[i] = e.filterLive(results, k)
	}
	return out, nil
}

func (e *Engine) filterLive(results []index.Result, k int) []liveHit {
	hits := make([]liveHit, 0, k)
	for _, r := range results {
		id, ok := e.store.IdentityAt(r.Position)
		if !ok {
			continue
		}
		hits = append(hits, liveHit{IdentityID: id, Similarity: r.Similarity})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// Remove tombstones all entries of an identity and persists the gallery.
// The vectors stay in the graph (it has no delete) but can no longer
// match; RebuildIndex reclaims the space. Returns the number of entries
// removed.
func (e *Engine) Remove(identityID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := e.store.TombstoneIdentity(identityID)
	if len(positions) == 0 {
		return 0, nil
	}

	prevMD, hadMD := e.store.Metadata(identityID)
	e.store.DeleteMetadata(identityID)

	if err := e.store.Save(); err != nil {
		for _, p := range positions {
			e.store.SetTombstone(p, false)
		}
		if hadMD {
			e.store.SetMetadata(prevMD)
		}
		return 0, fmt.Errorf("persisting gallery: %w", err)
	}
	return len(positions), nil
}

// RebuildIndex compacts tombstoned entries out of the index by building
// a fresh one from live gallery entries. Returns kept and dropped entry
// counts.
func (e *Engine) RebuildIndex() (kept, dropped int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := e.store.LiveEntries()
	dropped = e.store.Size() - len(live)

	fresh := index.New(e.cfg.Recognition.IndexType, e.cfg.Extractor.Dim, e.cfg.Recognition.HNSW)
	for i := range live {
		if _, err := fresh.Add(live[i].Vector); err != nil {
			return 0, 0, fmt.Errorf("rebuilding index: %w", err)
		}
	}

	e.store.ReplaceEntries(live)
	e.idx = fresh

	if err := e.store.Save(); err != nil {
		return 0, 0, fmt.Errorf("persisting gallery: %w", err)
	}
	if err := e.saveIndexLocked(); err != nil {
		return 0, 0, err
	}
	return len(live), dropped, nil
}

// saveIndexLocked rotates backups and writes the index cache file.
// Callers must hold the write lock.
func (e *Engine) saveIndexLocked() error {
	path := indexPath(e.cfg)
	if err := index.BackupBeforeSave(path, e.cfg.Data.BackupKeep); err != nil {
		return fmt.Errorf("rotating index backups: %w", err)
	}
	if err := e.idx.Save(path); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}
	return nil
}

// Store exposes the gallery for read-side callers (handlers, CLI).
func (e *Engine) Store() *gallery.Store { return e.store }
