// Package gallery is the bookkeeping side of the recognition core: which
// index position belongs to which enrolled identity, plus per-identity
// enrollment metadata. The entry table is the source of truth for stored
// vectors; the vector index is a derived cache rebuilt from it whenever
// the persisted index is missing or incompatible.
package gallery

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	snapshotFile = "gallery.gob"
	metadataFile = "metadata.yaml"

	snapshotVersion = 1
)

// Entry is one row of the append-only gallery table. Position equals the
// insertion order into the vector index; the table and the index must
// never diverge in length. Tombstoned rows stay in place (the graph
// index has no delete) and are skipped after every search.
type Entry struct {
	Position   int
	IdentityID string
	Vector     []float32
	Tombstone  bool
}

// EnrollmentMetadata describes one identity's enrollment. Created at
// enrollment, never mutated after; re-enrollment replaces it.
type EnrollmentMetadata struct {
	EnrollmentID  string    `yaml:"enrollment_id"`
	IdentityID    string    `yaml:"identity_id"`
	DisplayName   string    `yaml:"display_name,omitempty"`
	RegisteredAt  time.Time `yaml:"registered_at"`
	BestQuality   float64   `yaml:"best_quality"`
	AvgQuality    float64   `yaml:"avg_quality"`
	FramesUsed    int       `yaml:"frames_used"`
	FramesTotal   int       `yaml:"frames_total"`
	EmbeddingNorm float64   `yaml:"embedding_norm"`
	ThresholdUsed float64   `yaml:"threshold_used"`
}

// snapshot is the gob payload persisted to disk.
type snapshot struct {
	Version int
	Dim     int
	Entries []Entry
}

// Store holds the gallery table and enrollment metadata.
type Store struct {
	mu       sync.RWMutex
	dir      string
	dim      int
	entries  []Entry
	metadata map[string]EnrollmentMetadata
}

// NewStore creates an empty store persisting into dir.
func NewStore(dir string, dim int) *Store {
	return &Store{
		dir:      dir,
		dim:      dim,
		metadata: make(map[string]EnrollmentMetadata),
	}
}

// Load restores the gallery from disk. A missing snapshot leaves the
// store empty. A dimension mismatch discards the snapshot and starts
// empty; this loses the gallery and is logged loudly.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, snapshotFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return s.loadMetadataLocked()
		}
		return fmt.Errorf("reading gallery snapshot: %w", err)
	}

	var snap snapshot
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		log.Printf("WARNING: discarding corrupt gallery snapshot %s: %v; starting empty", path, err)
		s.entries = nil
		return s.loadMetadataLocked()
	}
	if snap.Dim != s.dim {
		log.Printf("WARNING: discarding gallery snapshot %s (dim=%d, want %d); all enrollments must be redone",
			path, snap.Dim, s.dim)
		s.entries = nil
		return s.loadMetadataLocked()
	}

	s.entries = snap.Entries
	return s.loadMetadataLocked()
}

func (s *Store) loadMetadataLocked() error {
	path := filepath.Join(s.dir, metadataFile)
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading enrollment metadata: %w", err)
	}

	metadata := make(map[string]EnrollmentMetadata)
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("unmarshaling enrollment metadata: %w", err)
	}
	s.metadata = metadata
	return nil
}

// Save persists the entry table and metadata. The snapshot is written
// via a temp file and rename so a crash never leaves a torn file.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(snapshot{Version: snapshotVersion, Dim: s.dim, Entries: s.entries}); err != nil {
		return fmt.Errorf("encoding gallery snapshot: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, snapshotFile), buf.Bytes()); err != nil {
		return fmt.Errorf("writing gallery snapshot: %w", err)
	}

	metaData, err := yaml.Marshal(s.metadata)
	if err != nil {
		return fmt.Errorf("marshaling enrollment metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, metadataFile), metaData); err != nil {
		return fmt.Errorf("writing enrollment metadata: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Append adds a new live entry and returns its position.
func (s *Store) Append(identityID string, vec []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vec) != s.dim {
		return 0, fmt.Errorf("vector dimension %d does not match gallery dimension %d", len(vec), s.dim)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	pos := len(s.entries)
	s.entries = append(s.entries, Entry{Position: pos, IdentityID: identityID, Vector: stored})
	return pos, nil
}

// RemoveLast drops the most recently appended entry. Used to roll back
// an enrollment whose persistence failed.
func (s *Store) RemoveLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 {
		s.entries = s.entries[:len(s.entries)-1]
	}
}

// TombstoneIdentity marks all live entries of an identity as tombstoned
// and returns their positions.
func (s *Store) TombstoneIdentity(identityID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var positions []int
	for i := range s.entries {
		if s.entries[i].IdentityID == identityID && !s.entries[i].Tombstone {
			s.entries[i].Tombstone = true
			positions = append(positions, s.entries[i].Position)
		}
	}
	return positions
}

// SetTombstone flips the tombstone flag of a single position.
func (s *Store) SetTombstone(pos int, tombstone bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos >= 0 && pos < len(s.entries) {
		s.entries[pos].Tombstone = tombstone
	}
}

// IdentityAt resolves an index position to a live identity. Returns
// false for out-of-range or tombstoned positions.
func (s *Store) IdentityAt(pos int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.entries) || s.entries[pos].Tombstone {
		return "", false
	}
	return s.entries[pos].IdentityID, true
}

// EntryAt returns a copy of the entry at a position, tombstoned or not.
func (s *Store) EntryAt(pos int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos < 0 || pos >= len(s.entries) {
		return Entry{}, false
	}
	return s.entries[pos], true
}

// Size returns the total number of entries including tombstones. This
// must always equal the vector index size.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LiveEntries returns a copy of all non-tombstoned entries in position order.
func (s *Store) LiveEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.Tombstone {
			live = append(live, e)
		}
	}
	return live
}

// TombstoneCount returns the number of tombstoned entries.
func (s *Store) TombstoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if e.Tombstone {
			n++
		}
	}
	return n
}

// ReplaceEntries swaps the whole table, renumbering positions. Used by
// index compaction.
func (s *Store) ReplaceEntries(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range entries {
		entries[i].Position = i
	}
	s.entries = entries
}

// Identities returns the distinct live identity ids in first-enrolled order.
func (s *Store) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, e := range s.entries {
		if e.Tombstone {
			continue
		}
		if _, ok := seen[e.IdentityID]; ok {
			continue
		}
		seen[e.IdentityID] = struct{}{}
		ids = append(ids, e.IdentityID)
	}
	return ids
}

// Metadata returns the enrollment metadata for an identity.
func (s *Store) Metadata(identityID string) (EnrollmentMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.metadata[identityID]
	return md, ok
}

// SetMetadata records the enrollment metadata for an identity.
func (s *Store) SetMetadata(md EnrollmentMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[md.IdentityID] = md
}

// DeleteMetadata removes the enrollment metadata for an identity.
func (s *Store) DeleteMetadata(identityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metadata, identityID)
}

// FindByName returns the ids of live identities whose display name
// matches after normalization (lowercase, diacritics stripped, dashes to
// spaces). Roster names arrive in wildly inconsistent formats.
func (s *Store) FindByName(name string) []string {
	want := NormalizeIdentityName(name)
	if want == "" {
		return nil
	}

	live := make(map[string]struct{})
	for _, id := range s.Identities() {
		live[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, md := range s.metadata {
		if _, ok := live[id]; !ok {
			continue
		}
		if NormalizeIdentityName(md.DisplayName) == want {
			ids = append(ids, id)
		}
	}
	return ids
}
