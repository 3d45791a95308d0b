package recognizer

import (
	"sync"
	"time"
)

// counters collects cheap operational numbers. Timings are summed so
// averages survive arbitrarily long uptimes without storing samples.
type counters struct {
	mu sync.Mutex

	enrollments  int64
	recognitions int64

	extractCalls int64
	extractTotal time.Duration
	searchCalls  int64
	searchTotal  time.Duration
}

func (c *counters) addEnrollment() {
	c.mu.Lock()
	c.enrollments++
	c.mu.Unlock()
}

func (c *counters) addRecognition() {
	c.mu.Lock()
	c.recognitions++
	c.mu.Unlock()
}

func (c *counters) recordExtract(d time.Duration) {
	c.mu.Lock()
	c.extractCalls++
	c.extractTotal += d
	c.mu.Unlock()
}

func (c *counters) recordSearch(d time.Duration) {
	c.mu.Lock()
	c.searchCalls++
	c.searchTotal += d
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of gallery state and service
// counters, shaped for the stats endpoint and CLI.
type Stats struct {
	IndexSize          int     `json:"index_size"`
	RegisteredStudents int     `json:"registered_students"`
	Tombstones         int     `json:"tombstones"`
	Dimension          int     `json:"dimension"`
	IndexType          string  `json:"index_type"`
	Threshold          float64 `json:"threshold"`
	MinVoteRatio       float64 `json:"min_vote_ratio"`
	MinEnrollQuality   float64 `json:"min_enroll_quality"`
	Enrollments        int64   `json:"enrollments"`
	Recognitions       int64   `json:"recognitions"`
	AvgExtractMs       float64 `json:"avg_extract_ms"`
	AvgSearchMs        float64 `json:"avg_search_ms"`
}

// Stats reports current gallery and counter state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	size := e.idx.Size()
	students := len(e.store.Identities())
	tombstones := e.store.TombstoneCount()
	e.mu.RUnlock()

	e.counters.mu.Lock()
	s := Stats{
		IndexSize:          size,
		RegisteredStudents: students,
		Tombstones:         tombstones,
		Dimension:          e.cfg.Extractor.Dim,
		IndexType:          e.cfg.Recognition.IndexType,
		Threshold:          e.cfg.Recognition.Threshold,
		MinVoteRatio:       e.cfg.Recognition.MinVoteRatio,
		MinEnrollQuality:   e.cfg.Recognition.MinEnrollQuality,
		Enrollments:        e.counters.enrollments,
		Recognitions:       e.counters.recognitions,
	}
	if e.counters.extractCalls > 0 {
		s.AvgExtractMs = float64(e.counters.extractTotal.Microseconds()) / float64(e.counters.extractCalls) / 1000.0
	}
	if e.counters.searchCalls > 0 {
		s.AvgSearchMs = float64(e.counters.searchTotal.Microseconds()) / float64(e.counters.searchCalls) / 1000.0
	}
	e.counters.mu.Unlock()
	return s
}
