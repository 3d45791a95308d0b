package recognizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/kozaktomas/face-attendance/internal/index"
)

// Result is the outcome of a recognition call. Recognized=false is a
// normal outcome (unknown face, empty gallery), not an error.
type Result struct {
	Recognized  bool    `json:"recognized"`
	IdentityID  string  `json:"student_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// Multi-frame fields.
	Frames      int `json:"frames,omitempty"`       // frames with a usable embedding
	ValidFrames int `json:"valid_frames,omitempty"` // frames at or above the threshold
	Votes       int `json:"votes,omitempty"`        // votes for the winning identity
}

// FaceResult is one face of a multi-face frame. Similarity and
// Confidence are nil when no embedding was produced or the index is
// empty.
type FaceResult struct {
	BBox       []float64 `json:"bbox"`
	Recognized bool      `json:"recognized"`
	IdentityID *string   `json:"student_id"`
	Similarity *float64  `json:"similarity"`
	Confidence *float64  `json:"confidence"`
}

// FrameResult is the outcome of multi-face recognition on one image.
type FrameResult struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Faces  []FaceResult `json:"faces"`
}

// Confidence rescales a similarity through the decision threshold: the
// threshold itself maps to 0, a perfect match (similarity 1) maps to 1.
func Confidence(similarity, threshold float64) float64 {
	if threshold >= 1 {
		return 0
	}
	c := (similarity - threshold) / (1 - threshold)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// RecognizeOne matches the best face of a single image against the
// gallery. A threshold <= 0 uses the configured default.
func (e *Engine) RecognizeOne(ctx context.Context, imageData []byte, threshold float64) (*Result, error) {
	if threshold <= 0 {
		threshold = e.cfg.Recognition.Threshold
	}

	_, vec, err := e.extractBest(ctx, imageData)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	hits, err := e.searchLive(vec, 1)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	e.counters.addRecognition()

	if len(hits) == 0 {
		return &Result{Recognized: false}, nil
	}

	top := hits[0]
	if top.Similarity < threshold {
		return &Result{Recognized: false, Similarity: top.Similarity}, nil
	}

	return &Result{
		Recognized:  true,
		IdentityID:  top.IdentityID,
		DisplayName: e.displayName(top.IdentityID),
		Similarity:  top.Similarity,
		Confidence:  Confidence(top.Similarity, threshold),
	}, nil
}

// RecognizeMulti matches a burst of frames by majority voting. A frame
// votes for an identity only when its top-1 similarity clears the
// threshold; the winner needs a super-majority (minVoteRatio) of those
// voting frames, which makes the rule independent of how many frames
// were submitted. One lucky or unlucky frame cannot flip attendance.
func (e *Engine) RecognizeMulti(ctx context.Context, frames [][]byte, threshold, minVoteRatio float64) (*Result, error) {
	if threshold <= 0 {
		threshold = e.cfg.Recognition.Threshold
	}
	if minVoteRatio <= 0 {
		minVoteRatio = e.cfg.Recognition.MinVoteRatio
	}

	votes := make(map[string]int)
	sims := make(map[string][]float64)
	totalFrames := 0
	validFrames := 0

	for _, frame := range frames {
		_, vec, err := e.extractBest(ctx, frame)
		if err != nil {
			continue // unusable frame, not fatal
		}
		totalFrames++

		e.mu.RLock()
		hits, err := e.searchLive(vec, 1)
		e.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 || hits[0].Similarity < threshold {
			continue
		}

		id := hits[0].IdentityID
		votes[id]++
		sims[id] = append(sims[id], hits[0].Similarity)
		validFrames++
	}
	e.counters.addRecognition()

	if validFrames == 0 {
		return &Result{Recognized: false, Frames: totalFrames}, nil
	}

	winner := ""
	for id, v := range votes {
		// Deterministic tie-break: lowest identity id wins.
		if winner == "" || v > votes[winner] || (v == votes[winner] && id < winner) {
			winner = id
		}
	}

	result := &Result{
		Frames:      totalFrames,
		ValidFrames: validFrames,
		Votes:       votes[winner],
	}
	if float64(votes[winner])/float64(validFrames) < minVoteRatio {
		return result, nil
	}

	// Confidence from the winner's strongest frames, not a single best
	// one: the mean of the top 3 similarities fed through the same
	// threshold-anchored rescaling as single-frame recognition.
	winnerSims := sims[winner]
	sort.Sort(sort.Reverse(sort.Float64Slice(winnerSims)))
	topN := min(3, len(winnerSims))
	var meanSim float64
	for _, s := range winnerSims[:topN] {
		meanSim += s
	}
	meanSim /= float64(topN)

	result.Recognized = true
	result.IdentityID = winner
	result.DisplayName = e.displayName(winner)
	result.Similarity = meanSim
	result.Confidence = Confidence(meanSim, threshold)
	return result, nil
}

// RecognizeAllFaces recognizes every face in one image independently.
// All embeddings go through a single batched index query; for F faces
// that is one call, not F sequential searches.
func (e *Engine) RecognizeAllFaces(ctx context.Context, imageData []byte, threshold float64) (*FrameResult, error) {
	if threshold <= 0 {
		threshold = e.cfg.Recognition.Threshold
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	start := time.Now()
	faces, err := e.ext.Detect(ctx, imageData)
	e.counters.recordExtract(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("extracting embeddings: %w", err)
	}

	result := &FrameResult{
		Width:  cfg.Width,
		Height: cfg.Height,
		Faces:  make([]FaceResult, len(faces)),
	}

	var queries [][]float32
	queryOf := make([]int, len(faces)) // face index -> query index, -1 when no embedding
	for i := range faces {
		result.Faces[i] = FaceResult{BBox: faces[i].BBox}
		queryOf[i] = -1
		if len(faces[i].Embedding) != e.cfg.Extractor.Dim {
			continue
		}
		queryOf[i] = len(queries)
		queries = append(queries, index.Normalize(faces[i].Embedding))
	}

	if len(queries) == 0 {
		e.counters.addRecognition()
		return result, nil
	}

	e.mu.RLock()
	batched, err := e.searchLiveBatch(queries, 1)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	e.counters.addRecognition()

	for i := range faces {
		q := queryOf[i]
		if q < 0 || len(batched[q]) == 0 {
			continue
		}
		top := batched[q][0]
		sim := top.Similarity
		result.Faces[i].Similarity = &sim
		if sim >= threshold {
			id := top.IdentityID
			conf := Confidence(sim, threshold)
			result.Faces[i].Recognized = true
			result.Faces[i].IdentityID = &id
			result.Faces[i].Confidence = &conf
		}
	}
	return result, nil
}

func (e *Engine) displayName(identityID string) string {
	if md, ok := e.store.Metadata(identityID); ok {
		return md.DisplayName
	}
	return ""
}
