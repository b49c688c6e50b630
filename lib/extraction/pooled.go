// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extraction

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pooled manages multiple Extractor instances for concurrent extraction.
type Pooled struct {
	extractors    []*Extractor
	sem           *semaphore.Weighted
	nextExtractor atomic.Uint64
	logger        *zap.Logger
	poolSize      int
	backendType   backends.BackendType
	config        *pipelines.ModelConfig
}

// PooledConfig holds configuration for loading a Pooled extractor.
type PooledConfig struct {
	// ModelPath is the path to the model directory.
	ModelPath string

	// PoolSize determines how many concurrent requests can be processed (0 = auto-detect from CPU count)
	PoolSize int

	// ModelBackends restricts which backends may load the model (nil = model config or all).
	ModelBackends []string

	// LoadOptions are passed to the backend loader.
	LoadOptions []backends.LoadOption

	// Options are the default extraction options. MaxSeqLen and PositionProb
	// fall back to the model config when unset.
	Options []Option

	// Logger for logging (nil = no logging)
	Logger *zap.Logger
}

// NewPooled wraps already constructed extractors in a pool.
func NewPooled(extractors []*Extractor, logger *zap.Logger) (*Pooled, error) {
	if len(extractors) == 0 {
		return nil, errors.New("at least one extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pooled{
		extractors: extractors,
		sem:        semaphore.NewWeighted(int64(len(extractors))),
		logger:     logger,
		poolSize:   len(extractors),
	}, nil
}

// LoadPooled loads PoolSize pipelines for the model at cfg.ModelPath.
func LoadPooled(cfg PooledConfig, sessionManager *backends.SessionManager) (*Pooled, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	logger.Info("Initializing pooled extractor",
		zap.String("modelPath", cfg.ModelPath),
		zap.Int("poolSize", poolSize))

	extractors := make([]*Extractor, 0, poolSize)
	closeAll := func() {
		for _, e := range extractors {
			_ = e.Close()
		}
	}

	var backendUsed backends.BackendType
	var modelConfig *pipelines.ModelConfig
	for i := 0; i < poolSize; i++ {
		pipeline, config, bt, err := pipelines.LoadPipeline(
			cfg.ModelPath,
			sessionManager,
			cfg.ModelBackends,
			pipelines.WithBackendOptions(cfg.LoadOptions...),
		)
		if err != nil {
			closeAll()
			logger.Error("Failed to create extraction pipeline",
				zap.Int("index", i),
				zap.Error(err))
			return nil, fmt.Errorf("creating extraction pipeline %d: %w", i, err)
		}

		opts := make([]Option, 0, len(cfg.Options)+2)
		if config.MaxSeqLen > 0 {
			opts = append(opts, WithMaxSeqLen(config.MaxSeqLen))
		}
		if config.PositionProb > 0 {
			opts = append(opts, WithPositionProb(config.PositionProb))
		}
		opts = append(opts, cfg.Options...)

		extractor, err := New(pipeline, logger, opts...)
		if err != nil {
			_ = pipeline.Close()
			closeAll()
			return nil, fmt.Errorf("creating extractor %d: %w", i, err)
		}
		extractors = append(extractors, extractor)
		backendUsed = bt
		modelConfig = config
		logger.Debug("Created extraction pipeline", zap.Int("index", i), zap.String("backend", string(bt)))
	}

	logger.Info("Successfully created pooled extractor pipelines",
		zap.Int("count", poolSize),
		zap.String("backend", string(backendUsed)))

	p, err := NewPooled(extractors, logger)
	if err != nil {
		return nil, err
	}
	p.backendType = backendUsed
	p.config = modelConfig
	return p, nil
}

// BackendType returns the backend type used by the pool.
func (p *Pooled) BackendType() backends.BackendType {
	return p.backendType
}

// ModelConfig returns the config of the loaded model, nil for pools built
// with NewPooled.
func (p *Pooled) ModelConfig() *pipelines.ModelConfig {
	return p.config
}

// PoolSize returns the number of extractors in the pool.
func (p *Pooled) PoolSize() int {
	return p.poolSize
}

// Options returns the default extraction options.
func (p *Pooled) Options() Options {
	return p.extractors[0].Options()
}

// Extract runs tree against texts on the next free extractor.
// Blocks while all extractors are busy.
func (p *Pooled) Extract(ctx context.Context, texts []string, tree *schema.Node, opts ...Option) ([]Document, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring extractor slot: %w", err)
	}
	defer p.sem.Release(1)

	idx := int(p.nextExtractor.Add(1) % uint64(p.poolSize))
	extractor := p.extractors[idx]

	p.logger.Debug("Using extractor",
		zap.Int("extractorIndex", idx),
		zap.Int("numTexts", len(texts)))

	docs, err := extractor.Extract(ctx, texts, tree, opts...)
	if err != nil {
		p.logger.Error("Extraction failed",
			zap.Int("extractorIndex", idx),
			zap.Error(err))
		return nil, err
	}
	return docs, nil
}

// Close releases all extractors.
func (p *Pooled) Close() error {
	var lastErr error
	for i, e := range p.extractors {
		if err := e.Close(); err != nil {
			p.logger.Warn("Failed to close extractor",
				zap.Int("index", i),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
