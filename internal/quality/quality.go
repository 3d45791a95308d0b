// Package quality scores face capture quality on a 0..1 scale from raw
// pixel data. The score combines sharpness, brightness, face-size ratio
// and detector confidence; enrollment refuses captures below a hard
// minimum no matter how many frames were submitted.
package quality

// Config enumerates every weight, fallback value and reference constant
// of the scoring formula so the quality gate is a single auditable unit.
type Config struct {
	// Weights of the full 4-factor score, in order. They sum to 1.
	SharpnessWeight  float64
	BrightnessWeight float64
	FaceSizeWeight   float64
	DetScoreWeight   float64

	// SharpnessRef is the Laplacian variance that maps to a full
	// sharpness score. Tuned for webcam captures.
	SharpnessRef float64
	// BrightnessMid is the mean gray intensity with a full brightness
	// score; the score decays linearly to 0 at Mid distance away.
	BrightnessMid float64

	// Face-size sub-score: full score inside [FaceRatioMin, FaceRatioMax],
	// linear ramp below the minimum, and a decay above the maximum that
	// never drops under FaceSizeFloor. An oversized face is still usable.
	// FaceRatioDecay is the ratio excess over FaceRatioMax that would
	// decay the sub-score from 1 to 0 were it not floored.
	FaceRatioMin   float64
	FaceRatioMax   float64
	FaceRatioDecay float64
	FaceSizeFloor  float64

	// Fallbacks when a sub-score input is unavailable.
	FaceSizeDefault float64
	DetScoreDefault float64

	// Weights of the quick 2-factor score (sharpness + brightness only).
	QuickSharpnessWeight  float64
	QuickBrightnessWeight float64
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() Config {
	return Config{
		SharpnessWeight:  0.40,
		BrightnessWeight: 0.25,
		FaceSizeWeight:   0.20,
		DetScoreWeight:   0.15,

		SharpnessRef:  150.0,
		BrightnessMid: 125.0,

		FaceRatioMin:   0.15,
		FaceRatioMax:   0.40,
		FaceRatioDecay: 0.30,
		FaceSizeFloor:  0.4,

		FaceSizeDefault: 0.7,
		DetScoreDefault: 0.8,

		QuickSharpnessWeight:  0.7,
		QuickBrightnessWeight: 0.3,
	}
}

// Scorer computes quality scores. It is a pure function of pixel data
// and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the full 4-factor quality score for an image.
// bbox is the detected face box [x1, y1, x2, y2] in pixels, or nil when
// unavailable. detScore is the detector confidence, or <= 0 when
// unavailable. An unreadable image scores 0.0 rather than erroring.
func (s *Scorer) Score(imageData []byte, bbox []float64, detScore float64) float64 {
	plane, err := decodeGray(imageData)
	if err != nil {
		return 0.0
	}

	sharpness := clamp01(plane.laplacianVariance() / s.cfg.SharpnessRef)
	brightness := s.brightnessScore(plane.mean())
	faceSize := s.faceSizeScore(bbox, plane.w, plane.h)

	det := s.cfg.DetScoreDefault
	if detScore > 0 {
		det = min(detScore, 1.0)
	}

	return s.cfg.SharpnessWeight*sharpness +
		s.cfg.BrightnessWeight*brightness +
		s.cfg.FaceSizeWeight*faceSize +
		s.cfg.DetScoreWeight*det
}

// QuickScore computes the simpler 2-factor score (sharpness and
// brightness only), used where no detection data is at hand.
func (s *Scorer) QuickScore(imageData []byte) float64 {
	plane, err := decodeGray(imageData)
	if err != nil {
		return 0.0
	}
	sharpness := clamp01(plane.laplacianVariance() / s.cfg.SharpnessRef)
	brightness := s.brightnessScore(plane.mean())
	return s.cfg.QuickSharpnessWeight*sharpness + s.cfg.QuickBrightnessWeight*brightness
}

// brightnessScore peaks at BrightnessMid mean intensity and decays
// linearly to 0 at intensity 0 or 2*BrightnessMid.
func (s *Scorer) brightnessScore(mean float64) float64 {
	diff := mean - s.cfg.BrightnessMid
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - min(diff/s.cfg.BrightnessMid, 1.0)
}

// faceSizeScore rates the ratio of the face box area to the image area.
func (s *Scorer) faceSizeScore(bbox []float64, width, height int) float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return s.cfg.FaceSizeDefault
	}
	faceArea := (bbox[2] - bbox[0]) * (bbox[3] - bbox[1])
	if faceArea <= 0 {
		return s.cfg.FaceSizeDefault
	}
	ratio := faceArea / (float64(width) * float64(height))

	switch {
	case ratio >= s.cfg.FaceRatioMin && ratio <= s.cfg.FaceRatioMax:
		return 1.0
	case ratio < s.cfg.FaceRatioMin:
		return ratio / s.cfg.FaceRatioMin
	default:
		return max(s.cfg.FaceSizeFloor, 1.0-(ratio-s.cfg.FaceRatioMax)/s.cfg.FaceRatioDecay)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
