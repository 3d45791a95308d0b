package recognizer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/index"
)

// scoredFrame is a frame that survived extraction, with its quality.
type scoredFrame struct {
	quality   float64
	embedding []float32
}

// Enroll registers an identity from multiple candidate frames. Frames
// that fail extraction are skipped; at least min(MinFrames, submitted)
// must survive, and the best surviving frame must clear the quality
// gate. The top frames by quality are averaged into one representative
// embedding, re-normalized, and stored.
//
// A repeated enrollment supersedes the previous one: the old gallery
// entry is tombstoned so the identity can only match against its newest
// embedding.
func (e *Engine) Enroll(ctx context.Context, identityID, displayName string, frames [][]byte) (*gallery.EnrollmentMetadata, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity id must not be empty")
	}
	if len(frames) == 0 {
		return nil, &InsufficientFramesError{Valid: 0, Required: 1, Submitted: 0}
	}

	var scored []scoredFrame
	var frameErrors []FrameError
	for i, frame := range frames {
		face, vec, err := e.extractBest(ctx, frame)
		if err != nil {
			frameErrors = append(frameErrors, FrameError{Frame: i, Reason: err.Error()})
			continue
		}
		scored = append(scored, scoredFrame{
			quality:   e.scorer.Score(frame, face.BBox, face.DetScore),
			embedding: vec,
		})
	}

	required := min(e.cfg.Recognition.MinFrames, len(frames))
	if len(scored) < required {
		return nil, &InsufficientFramesError{
			Valid:     len(scored),
			Required:  required,
			Submitted: len(frames),
			Frames:    frameErrors,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].quality > scored[j].quality
	})

	if scored[0].quality < e.cfg.Recognition.MinEnrollQuality {
		return nil, &QualityTooLowError{
			Best:    scored[0].quality,
			Minimum: e.cfg.Recognition.MinEnrollQuality,
		}
	}

	topK := min(e.cfg.Recognition.AggregateTopK, len(scored))
	agg := aggregateEmbeddings(scored[:topK])

	var avgQuality float64
	for _, s := range scored[:topK] {
		avgQuality += s.quality
	}
	avgQuality /= float64(topK)

	md := gallery.EnrollmentMetadata{
		EnrollmentID:  uuid.NewString(),
		IdentityID:    identityID,
		DisplayName:   displayName,
		RegisteredAt:  time.Now().UTC(),
		BestQuality:   scored[0].quality,
		AvgQuality:    avgQuality,
		FramesUsed:    topK,
		FramesTotal:   len(frames),
		EmbeddingNorm: index.Norm(agg),
		ThresholdUsed: e.cfg.Recognition.MinEnrollQuality,
	}

	if err := e.commitEnrollment(identityID, agg, md); err != nil {
		return nil, err
	}

	e.counters.addEnrollment()
	return &md, nil
}

// commitEnrollment mutates gallery and index and persists them under the
// write lock. The gallery snapshot is the source of truth and is written
// first; the index file is a rebuildable cache, so a failed cache write
// does not fail the enrollment.
func (e *Engine) commitEnrollment(identityID string, agg []float32, md gallery.EnrollmentMetadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	superseded := e.store.TombstoneIdentity(identityID)
	if len(superseded) > 0 {
		log.Printf("re-enrollment of %s supersedes %d previous gallery entries", identityID, len(superseded))
	}
	prevMD, hadMD := e.store.Metadata(identityID)

	rollback := func() {
		e.store.RemoveLast()
		for _, p := range superseded {
			e.store.SetTombstone(p, false)
		}
		if hadMD {
			e.store.SetMetadata(prevMD)
		} else {
			e.store.DeleteMetadata(identityID)
		}
	}

	pos, err := e.store.Append(identityID, agg)
	if err != nil {
		for _, p := range superseded {
			e.store.SetTombstone(p, false)
		}
		return err
	}
	e.store.SetMetadata(md)

	if err := e.store.Save(); err != nil {
		rollback()
		return fmt.Errorf("persisting gallery: %w", err)
	}

	ipos, err := e.idx.Add(agg)
	if err != nil {
		rollback()
		_ = e.store.Save()
		return fmt.Errorf("adding embedding to index: %w", err)
	}
	if ipos != pos {
		// Gallery and index must assign the same position; anything else
		// would corrupt every later lookup.
		rollback()
		_ = e.store.Save()
		return fmt.Errorf("index position %d diverged from gallery position %d", ipos, pos)
	}

	if err := e.saveIndexLocked(); err != nil {
		log.Printf("WARNING: index cache write failed (will rebuild from gallery on next start): %v", err)
	}
	return nil
}

// aggregateEmbeddings averages the embeddings and re-normalizes the mean
// to unit length. Plain averaging of unit vectors does not preserve unit
// length, and an unnormalized stored vector would skew every similarity
// comparison against it.
func aggregateEmbeddings(frames []scoredFrame) []float32 {
	dim := len(frames[0].embedding)
	mean := make([]float32, dim)
	for _, f := range frames {
		for i, v := range f.embedding {
			mean[i] += v
		}
	}
	n := float32(len(frames))
	for i := range mean {
		mean[i] /= n
	}
	return index.Normalize(mean)
}
