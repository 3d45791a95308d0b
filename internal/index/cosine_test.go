package index

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical unit vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"empty", nil, nil, -1.0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityClamped(t *testing.T) {
	// Accumulated float error must never push the result out of [-1, 1].
	a := Normalize([]float32{0.3, 0.3, 0.3, 0.3})
	sim := CosineSimilarity(a, a)
	if sim > 1.0 || sim < -1.0 {
		t.Errorf("similarity %v out of [-1, 1]", sim)
	}
	if math.Abs(sim-1.0) > 1e-5 {
		t.Errorf("self-similarity = %v, want 1.0", sim)
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	n := Normalize(v)

	if math.Abs(Norm(n)-1.0) > 1e-6 {
		t.Errorf("norm after Normalize = %v, want 1.0", Norm(n))
	}
	// Input must stay untouched.
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Normalize mutated its input: %v", v)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	v := Normalize([]float32{1, 2, 3, 4})
	again := Normalize(v)
	for i := range v {
		if math.Abs(float64(v[i]-again[i])) > 1e-6 {
			t.Fatalf("normalizing twice changed component %d: %v vs %v", i, v[i], again[i])
		}
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	n := Normalize(v)
	for i := range n {
		if n[i] != 0 {
			t.Fatalf("zero vector changed by Normalize: %v", n)
		}
	}
}
