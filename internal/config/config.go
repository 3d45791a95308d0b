package config

import (
	"os"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/quality"
)

type Config struct {
	Extractor   ExtractorConfig
	Data        DataConfig
	Recognition RecognitionConfig
	Quality     quality.Config
}

type ExtractorConfig struct {
	URL        string // embedding server base URL (e.g. http://localhost:8000)
	Dim        int    // embedding dimension, must match the served model (512 for ArcFace)
	MaxImagePx int    // longest image side sent to the server; larger captures are downscaled
}

type DataConfig struct {
	Dir        string // directory holding the gallery snapshot, index cache and metadata
	BackupKeep int    // rotated index backups to retain (oldest pruned first)
}

type RecognitionConfig struct {
	// Threshold is the minimum cosine similarity for a match. Raised from
	// an earlier 0.35 baseline: attendance marking prefers missing a
	// student (who can retry) over marking the wrong one present.
	Threshold float64
	// MinVoteRatio is the super-majority of above-threshold frames that
	// must agree on one identity in multi-frame recognition.
	MinVoteRatio float64
	// MinEnrollQuality is the hard quality gate: the best frame of an
	// enrollment must score at least this much.
	MinEnrollQuality float64

	MinFrames     int // minimum frames per enrollment request
	MaxFrames     int // maximum frames per enrollment request
	AggregateTopK int // frames averaged into the stored embedding

	IndexType string // "hnsw" or "flat"
	HNSW      index.HNSWParams
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func Load() *Config {
	indexType := os.Getenv("INDEX_TYPE")
	if indexType != index.TypeFlat {
		indexType = index.TypeHNSW
	}

	return &Config{
		Extractor: ExtractorConfig{
			URL:        os.Getenv("FACE_EXTRACTOR_URL"),
			Dim:        envInt("EMBEDDING_DIM", 512),
			MaxImagePx: envInt("EXTRACTOR_MAX_IMAGE_PX", 1600),
		},
		Data: DataConfig{
			Dir:        envOr("FACE_DATA_DIR", "facedata"),
			BackupKeep: envInt("INDEX_BACKUP_KEEP", 3),
		},
		Recognition: RecognitionConfig{
			Threshold:        envFloat("RECOGNITION_THRESHOLD", 0.70),
			MinVoteRatio:     envFloat("MIN_VOTE_RATIO", 0.6),
			MinEnrollQuality: envFloat("MIN_ENROLL_QUALITY", 0.65),
			MinFrames:        envInt("MIN_ENROLL_FRAMES", 3),
			MaxFrames:        envInt("MAX_ENROLL_FRAMES", 15),
			AggregateTopK:    envInt("ENROLL_TOP_K", 5),
			IndexType:        indexType,
			HNSW: index.HNSWParams{
				M:              envInt("HNSW_M", 32),
				EfSearch:       envInt("HNSW_EF_SEARCH", 32),
				EfConstruction: envInt("HNSW_EF_CONSTRUCTION", 40),
			},
		},
		Quality: quality.DefaultConfig(),
	}
}

// envOr returns the environment variable value or a default when unset.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
