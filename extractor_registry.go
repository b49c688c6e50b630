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

package uie

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/schema"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// DefaultKeepAlive is the default time an unused model stays loaded.
const DefaultKeepAlive = 5 * time.Minute

// ErrModelNotFound is returned for model names that were not discovered.
var ErrModelNotFound = errors.New("model not found")

// Extractor runs schema trees against texts. Options reports the defaults
// that per-call options are applied to.
type Extractor interface {
	Extract(ctx context.Context, texts []string, tree *schema.Node, opts ...extraction.Option) ([]extraction.Document, error)
	Options() extraction.Options
	Close() error
}

var (
	_ Extractor = (*extraction.Pooled)(nil)
	_ Extractor = (*CachedExtractor)(nil)
)

// ExtractorProvider looks up extractors by model name.
type ExtractorProvider interface {
	Get(modelName string) (Extractor, error)
	List() []string
	Close() error
}

// ModelInfo holds metadata about a discovered model (not loaded yet).
type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"-"`
	Description string `json:"description,omitempty"`
	MaxSeqLen   int    `json:"max_seq_len,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	PoolSize    int    `json:"pool_size"`
}

// ExtractorLoader loads the model described by info.
type ExtractorLoader func(info *ModelInfo) (Extractor, error)

// ExtractorRegistryConfig configures the extractor registry.
type ExtractorRegistryConfig struct {
	ModelsDir       string
	KeepAlive       time.Duration // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64        // Max models in memory (0 = unlimited)
	PoolSize        int           // Pipelines per model (0 = number of CPUs)
	ModelBackends   []string      // Backends models may use (nil = model config)
	LoadOptions     []backends.LoadOption
	Options         []extraction.Option
}

// ExtractorRegistry discovers model directories and loads them on first use.
// Loaded models are evicted after KeepAlive of disuse or when more than
// MaxLoadedModels are loaded, and closed on eviction.
type ExtractorRegistry struct {
	modelsDir string
	logger    *zap.Logger
	load      ExtractorLoader

	discovered map[string]*ModelInfo
	mu         sync.RWMutex

	cache *ttlcache.Cache[string, Extractor]

	keepAlive       time.Duration
	maxLoadedModels uint64
}

// NewExtractorRegistry creates a registry loading models through sessionManager.
func NewExtractorRegistry(
	config ExtractorRegistryConfig,
	sessionManager *backends.SessionManager,
	logger *zap.Logger,
) (*ExtractorRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	load := func(info *ModelInfo) (Extractor, error) {
		return extraction.LoadPooled(extraction.PooledConfig{
			ModelPath:     info.Path,
			PoolSize:      info.PoolSize,
			ModelBackends: config.ModelBackends,
			LoadOptions:   config.LoadOptions,
			Options:       config.Options,
			Logger:        logger.Named(info.Name),
		}, sessionManager)
	}
	return newExtractorRegistry(config, load, logger)
}

// NewExtractorRegistryWithLoader creates a registry that loads models with load.
func NewExtractorRegistryWithLoader(config ExtractorRegistryConfig, load ExtractorLoader, logger *zap.Logger) (*ExtractorRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newExtractorRegistry(config, load, logger)
}

func newExtractorRegistry(config ExtractorRegistryConfig, load ExtractorLoader, logger *zap.Logger) (*ExtractorRegistry, error) {
	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL
	}

	registry := &ExtractorRegistry{
		modelsDir:       config.ModelsDir,
		logger:          logger,
		load:            load,
		discovered:      make(map[string]*ModelInfo),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
	}

	cacheOpts := []ttlcache.Option[string, Extractor]{
		ttlcache.WithTTL[string, Extractor](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, Extractor](config.MaxLoadedModels))
	}
	registry.cache = ttlcache.New(cacheOpts...)

	registry.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Extractor]) {
		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		case ttlcache.EvictionReasonDeleted:
			reasonStr = "manually deleted"
		}

		logger.Info("Unloading extraction model",
			zap.String("model", item.Key()),
			zap.String("reason", reasonStr))

		if err := item.Value().Close(); err != nil {
			logger.Warn("Error closing extraction model",
				zap.String("model", item.Key()),
				zap.Error(err))
		}
	})

	go registry.cache.Start()

	if err := registry.discoverModels(config.PoolSize); err != nil {
		registry.cache.Stop()
		return nil, err
	}
	return registry, nil
}

// discoverModels scans the models directory and records available models.
func (r *ExtractorRegistry) discoverModels(poolSize int) error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}

	if _, err := os.Stat(r.modelsDir); os.IsNotExist(err) {
		r.logger.Warn("Models directory does not exist",
			zap.String("dir", r.modelsDir))
		return nil
	}

	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		return fmt.Errorf("reading models directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		modelName := entry.Name()
		modelPath := filepath.Join(r.modelsDir, modelName)
		if !pipelines.IsUIEModel(modelPath) {
			r.logger.Debug("Skipping directory without model files",
				zap.String("dir", modelName))
			continue
		}

		config, err := pipelines.LoadModelConfig(modelPath)
		if err != nil {
			r.logger.Warn("Skipping model with invalid config",
				zap.String("dir", modelName),
				zap.Error(err))
			continue
		}

		r.discovered[modelName] = &ModelInfo{
			Name:        modelName,
			Path:        modelPath,
			Description: config.Description,
			MaxSeqLen:   config.MaxSeqLen,
			Endpoint:    config.Endpoint,
			PoolSize:    poolSize,
		}

		r.logger.Info("Discovered extraction model (not loaded)",
			zap.String("name", modelName),
			zap.String("path", modelPath))
	}

	r.logger.Info("Model discovery complete",
		zap.Int("models_discovered", len(r.discovered)),
		zap.Duration("keep_alive", r.keepAlive),
		zap.Uint64("max_loaded_models", r.maxLoadedModels))

	return nil
}

// Get returns an extractor by model name, loading it if necessary.
func (r *ExtractorRegistry) Get(modelName string) (Extractor, error) {
	if item := r.cache.Get(modelName); item != nil {
		r.logger.Debug("Extractor cache hit",
			zap.String("model", modelName))
		return item.Value(), nil
	}

	r.mu.RLock()
	info, known := r.discovered[modelName]
	r.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
	}
	return r.loadModel(info)
}

// loadModel loads a model on demand.
func (r *ExtractorRegistry) loadModel(info *ModelInfo) (Extractor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check cache after acquiring lock
	if item := r.cache.Get(info.Name); item != nil {
		return item.Value(), nil
	}

	r.logger.Info("Loading extraction model on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path),
		zap.Int("pool_size", info.PoolSize))

	start := time.Now()
	extractor, err := r.load(info)
	if err != nil {
		r.logger.Error("Failed to load extraction model",
			zap.String("model", info.Name),
			zap.Error(err))
		return nil, fmt.Errorf("loading extraction model %s: %w", info.Name, err)
	}
	RecordModelLoadDuration(info.Name, time.Since(start).Seconds())

	r.cache.Set(info.Name, extractor, ttlcache.DefaultTTL)

	r.logger.Info("Successfully loaded extraction model",
		zap.String("model", info.Name),
		zap.Duration("load_time", time.Since(start)),
		zap.Duration("keep_alive", r.keepAlive))

	return extractor, nil
}

// Info returns the discovery metadata of a model.
func (r *ExtractorRegistry) Info(modelName string) (*ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.discovered[modelName]
	return info, ok
}

// List returns all available (discovered) model names, sorted.
func (r *ExtractorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListLoaded returns currently loaded model names.
func (r *ExtractorRegistry) ListLoaded() []string {
	names := r.cache.Keys()
	slices.Sort(names)
	return names
}

// IsLoaded checks if a model is currently loaded.
func (r *ExtractorRegistry) IsLoaded(modelName string) bool {
	return r.cache.Has(modelName)
}

// Unload explicitly unloads a model (triggers eviction callback).
func (r *ExtractorRegistry) Unload(modelName string) {
	r.cache.Delete(modelName)
}

// Close unloads all models and stops the cache.
func (r *ExtractorRegistry) Close() error {
	r.cache.DeleteAll()
	r.cache.Stop()
	return nil
}
