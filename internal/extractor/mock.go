package extractor

import "context"

// Mock is a configurable Extractor for tests and local development
// without an embedding server.
type Mock struct {
	// DetectFunc handles Detect calls. When nil, Detect returns no faces.
	DetectFunc func(ctx context.Context, imageData []byte) ([]Face, error)

	// Calls counts Detect invocations.
	Calls int
}

func (m *Mock) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	m.Calls++
	if m.DetectFunc == nil {
		return nil, nil
	}
	return m.DetectFunc(ctx, imageData)
}
