package quality

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

// encodeGrayPNG builds a PNG where each pixel intensity comes from fn(x, y).
func encodeGrayPNG(t *testing.T, w, h int, fn func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fn(x, y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func uniformImage(t *testing.T, w, h int, value uint8) []byte {
	return encodeGrayPNG(t, w, h, func(x, y int) uint8 { return value })
}

// checkerboard alternates 0 and 250, giving a mean of 125 and a huge
// Laplacian variance: the best image this scorer can see.
func checkerboard(t *testing.T, w, h int) []byte {
	return encodeGrayPNG(t, w, h, func(x, y int) uint8 {
		if (x+y)%2 == 0 {
			return 0
		}
		return 250
	})
}

func TestScoreUnreadableImage(t *testing.T) {
	s := NewScorer(DefaultConfig())
	if got := s.Score([]byte("not an image"), nil, 0); got != 0.0 {
		t.Errorf("Score(garbage) = %v, want 0.0", got)
	}
	if got := s.QuickScore(nil); got != 0.0 {
		t.Errorf("QuickScore(nil) = %v, want 0.0", got)
	}
}

func TestScoreFlatImagesAreLow(t *testing.T) {
	s := NewScorer(DefaultConfig())

	tests := []struct {
		name  string
		value uint8
	}{
		{"all black", 0},
		{"all white", 255},
		{"mid gray", 125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := uniformImage(t, 64, 64, tt.value)
			got := s.Score(img, nil, 0)
			// Zero sharpness caps flat frames well below the enrollment
			// minimum even with perfect brightness.
			if got >= 0.65 {
				t.Errorf("flat image scored %v, want < 0.65", got)
			}
		})
	}
}

func TestScoreSharpBalancedImageIsHigh(t *testing.T) {
	s := NewScorer(DefaultConfig())
	got := s.Score(checkerboard(t, 64, 64), nil, 0)
	if got < 0.85 {
		t.Errorf("checkerboard scored %v, want >= 0.85", got)
	}
}

func TestScoreDefaultsWithoutDetection(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg)
	img := checkerboard(t, 64, 64)

	// Without bbox and detScore the two sub-scores fall back to their
	// configured defaults; sharpness and brightness are both ~1.
	want := cfg.SharpnessWeight + cfg.BrightnessWeight +
		cfg.FaceSizeWeight*cfg.FaceSizeDefault + cfg.DetScoreWeight*cfg.DetScoreDefault
	got := s.Score(img, nil, 0)
	if math.Abs(got-want) > 0.02 {
		t.Errorf("Score without detection = %v, want ~%v", got, want)
	}
}

func TestBrightnessScore(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := []struct {
		name string
		mean float64
		want float64
	}{
		{"peak at mid", 125, 1.0},
		{"black", 0, 0.0},
		{"white", 255, 0.0},
		{"halfway dark", 62.5, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.brightnessScore(tt.mean)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("brightnessScore(%v) = %v, want %v", tt.mean, got, tt.want)
			}
		})
	}
}

func TestFaceSizeScore(t *testing.T) {
	s := NewScorer(DefaultConfig())
	// 100x100 image, so bbox area maps directly to ratio/10000.
	tests := []struct {
		name string
		bbox []float64
		want float64
	}{
		{"inside plateau", []float64{0, 0, 50, 50}, 1.0}, // ratio 0.25
		{"at minimum", []float64{0, 0, 50, 30}, 1.0},     // ratio 0.15
		{"tiny face ramps", []float64{0, 0, 30, 25}, 0.5}, // ratio 0.075
		{"oversized decays", []float64{0, 0, 100, 55}, 0.5}, // ratio 0.55
		{"huge face floors", []float64{0, 0, 100, 100}, 0.4},
		{"no bbox uses default", nil, 0.7},
		{"degenerate bbox uses default", []float64{10, 10, 10, 10}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.faceSizeScore(tt.bbox, 100, 100)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("faceSizeScore(%v) = %v, want %v", tt.bbox, got, tt.want)
			}
		})
	}
}

func TestFaceSizeScoreDecaySlope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FaceRatioDecay = 0.60
	s := NewScorer(cfg)

	// Ratio 0.55 exceeds the 0.40 maximum by 0.15; with a gentler slope
	// the penalty halves compared to the default 0.30 decay.
	got := s.faceSizeScore([]float64{0, 0, 100, 55}, 100, 100)
	if math.Abs(got-0.75) > 1e-6 {
		t.Errorf("faceSizeScore with decay 0.60 = %v, want 0.75", got)
	}
}

func TestQuickScore(t *testing.T) {
	s := NewScorer(DefaultConfig())

	sharp := s.QuickScore(checkerboard(t, 64, 64))
	flat := s.QuickScore(uniformImage(t, 64, 64, 125))

	if sharp <= flat {
		t.Errorf("sharp image %v should beat flat image %v", sharp, flat)
	}
	// A flat mid-gray image keeps only the brightness weight.
	if math.Abs(flat-0.3) > 1e-6 {
		t.Errorf("flat mid-gray QuickScore = %v, want 0.3", flat)
	}
}

func TestLaplacianVarianceTinyImage(t *testing.T) {
	img := uniformImage(t, 2, 2, 100)
	plane, err := decodeGray(img)
	if err != nil {
		t.Fatalf("decodeGray: %v", err)
	}
	if v := plane.laplacianVariance(); v != 0 {
		t.Errorf("variance of 2x2 image = %v, want 0", v)
	}
}

func TestDetScoreClamped(t *testing.T) {
	s := NewScorer(DefaultConfig())
	img := checkerboard(t, 64, 64)

	over := s.Score(img, nil, 1.5)
	exact := s.Score(img, nil, 1.0)
	if math.Abs(over-exact) > 1e-9 {
		t.Errorf("detScore above 1 not clamped: %v vs %v", over, exact)
	}
}
