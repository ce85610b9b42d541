// Package config handles engine configuration file management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Krichev/karaoke/internal/types"
)

// Config represents the engine configuration
type Config struct {
	// DataDir is where to store data files (pattern store, cache, etc.)
	DataDir string `json:"dataDir"`

	// Analysis settings
	Analysis AnalysisConfig `json:"analysis"`

	// Pool settings
	Pool PoolConfig `json:"pool"`
}

// AnalysisConfig contains signal-analysis settings
type AnalysisConfig struct {
	// SampleRate is the nominal analysis rate (default: 44100). Analysis
	// runs at each decoded source's own rate; the engine does not read this.
	SampleRate int `json:"sampleRate"`

	// BufferSize is the analysis window in samples (default: 2048)
	BufferSize int `json:"bufferSize"`

	// HopSize is the window hop in samples (default: BufferSize/2)
	HopSize int `json:"hopSize"`

	// SilenceThresholdDB is the onset silence floor (default: -40)
	SilenceThresholdDB float64 `json:"silenceThresholdDb"`

	// MinOnsetIntervalMs is the onset debounce interval (default: 100)
	MinOnsetIntervalMs float64 `json:"minOnsetIntervalMs"`
}

// PoolConfig contains scoring worker-pool settings
type PoolConfig struct {
	// Workers is the number of concurrent scoring workers (0 = NumCPU - 1)
	Workers int `json:"workers"`

	// QueueDepth bounds the pending-job queue (default: 16)
	QueueDepth int `json:"queueDepth"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			SampleRate:         types.DefaultSampleRate,
			BufferSize:         types.BufferSize,
			HopSize:            types.BufferSize / 2,
			SilenceThresholdDB: types.SilenceDefaultDB,
			MinOnsetIntervalMs: types.DefaultMinOnsetIntervalMs,
		},
		Pool: PoolConfig{
			Workers:    0,
			QueueDepth: 16,
		},
	}
}

// Load reads configuration from the given path, filling in defaults for
// missing fields. A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Analysis.SampleRate == 0 {
		c.Analysis.SampleRate = def.Analysis.SampleRate
	}
	if c.Analysis.BufferSize == 0 {
		c.Analysis.BufferSize = def.Analysis.BufferSize
	}
	if c.Analysis.HopSize == 0 {
		c.Analysis.HopSize = c.Analysis.BufferSize / 2
	}
	if c.Analysis.SilenceThresholdDB == 0 {
		c.Analysis.SilenceThresholdDB = def.Analysis.SilenceThresholdDB
	}
	if c.Analysis.MinOnsetIntervalMs == 0 {
		c.Analysis.MinOnsetIntervalMs = def.Analysis.MinOnsetIntervalMs
	}
	if c.Pool.QueueDepth == 0 {
		c.Pool.QueueDepth = def.Pool.QueueDepth
	}
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Analysis.BufferSize < 256 || c.Analysis.BufferSize&(c.Analysis.BufferSize-1) != 0 {
		return fmt.Errorf("bufferSize must be a power of two >= 256, got %d", c.Analysis.BufferSize)
	}
	if c.Analysis.HopSize <= 0 || c.Analysis.HopSize > c.Analysis.BufferSize {
		return fmt.Errorf("hopSize must be in (0, bufferSize], got %d", c.Analysis.HopSize)
	}
	if c.Analysis.SilenceThresholdDB > 0 {
		return fmt.Errorf("silenceThresholdDb must be <= 0 dBFS, got %g", c.Analysis.SilenceThresholdDB)
	}
	if c.Analysis.MinOnsetIntervalMs < 0 {
		return fmt.Errorf("minOnsetIntervalMs must be >= 0, got %g", c.Analysis.MinOnsetIntervalMs)
	}
	if c.Pool.Workers < 0 || c.Pool.QueueDepth < 1 {
		return fmt.Errorf("invalid pool settings: workers=%d queueDepth=%d", c.Pool.Workers, c.Pool.QueueDepth)
	}
	return nil
}
