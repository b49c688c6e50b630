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
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/schema"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ExtractionCacheTTL is the default TTL for cached extraction results
const ExtractionCacheTTL = 2 * time.Minute

// CachedExtractor wraps an Extractor with result caching. Cached documents
// are shared between callers and must not be modified.
type CachedExtractor struct {
	extractor Extractor
	name      string
	cache     *ttlcache.Cache[string, []extraction.Document]
	sfGroup   *singleflight.Group
	logger    *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCachedExtractor wraps an extractor with caching
func NewCachedExtractor(
	extractor Extractor,
	name string,
	cache *ttlcache.Cache[string, []extraction.Document],
	sfGroup *singleflight.Group,
	logger *zap.Logger,
) *CachedExtractor {
	if sfGroup == nil {
		sfGroup = &singleflight.Group{}
	}
	return &CachedExtractor{
		extractor: extractor,
		name:      name,
		cache:     cache,
		sfGroup:   sfGroup,
		logger:    logger,
	}
}

// Extract runs the extraction with caching support
func (c *CachedExtractor) Extract(ctx context.Context, texts []string, tree *schema.Node, opts ...extraction.Option) ([]extraction.Document, error) {
	key := c.cacheKey(texts, tree, opts)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("extraction")
		c.logger.Debug("Extraction cache hit",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	// Deduplicate concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("extraction")

		start := time.Now()
		docs, err := c.extractor.Extract(ctx, texts, tree, opts...)
		if err != nil {
			return nil, err
		}

		RecordRequestDuration("extract", c.name, "200", time.Since(start).Seconds())

		c.cache.Set(key, docs, ttlcache.DefaultTTL)

		c.logger.Debug("Extraction completed and cached",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)),
			zap.Duration("duration", time.Since(start)))

		return docs, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for extraction request",
			zap.String("model", c.name))
	}

	return result.([]extraction.Document), nil
}

// cacheKey hashes the model name, the schema outline, the options the
// extractor runs with and every text in order.
func (c *CachedExtractor) cacheKey(texts []string, tree *schema.Node, opts []extraction.Option) string {
	h := xxhash.New()

	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")
	if tree != nil {
		_, _ = h.WriteString(tree.String())
	}
	_, _ = h.WriteString("|")
	_, _ = fmt.Fprintf(h, "%+v", c.extractor.Options().Apply(opts...))
	_, _ = h.WriteString("|")

	for i, text := range texts {
		_, _ = h.WriteString("t")
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		_, _ = h.Write(idx[:])
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(text)
		_, _ = h.WriteString("|")
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Options returns the defaults of the underlying extractor.
func (c *CachedExtractor) Options() extraction.Options {
	return c.extractor.Options()
}

// Close closes the underlying extractor
func (c *CachedExtractor) Close() error {
	return c.extractor.Close()
}

// Stats returns cache statistics for this model
func (c *CachedExtractor) Stats() ExtractionCacheStats {
	return ExtractionCacheStats{
		Model:            c.name,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// ExtractionCacheStats holds cache statistics for a model
type ExtractionCacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// ExtractionCache manages caching for multiple extraction models
type ExtractionCache struct {
	cache   *ttlcache.Cache[string, []extraction.Document]
	sfGroup *singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewExtractionCache creates a new extraction cache
func NewExtractionCache(logger *zap.Logger) *ExtractionCache {
	return NewExtractionCacheWithTTL(ExtractionCacheTTL, logger)
}

// NewExtractionCacheWithTTL creates a new extraction cache with a custom TTL
func NewExtractionCacheWithTTL(ttl time.Duration, logger *zap.Logger) *ExtractionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []extraction.Document](ttl),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ec := &ExtractionCache{
		cache:   cache,
		sfGroup: &singleflight.Group{},
		logger:  logger,
		cancel:  cancel,
	}

	// Log cache stats periodically
	go ec.logStats(ctx)

	return ec
}

// WrapExtractor wraps an extractor with caching. Wrappers of the same
// cache share deduplication of in-flight requests.
func (ec *ExtractionCache) WrapExtractor(extractor Extractor, name string) *CachedExtractor {
	return NewCachedExtractor(extractor, name, ec.cache, ec.sfGroup, ec.logger.Named(name))
}

// Close stops the cache
func (ec *ExtractionCache) Close() {
	ec.cancel()
	ec.cache.Stop()
}

// logStats logs cache statistics periodically
func (ec *ExtractionCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := ec.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				hitRate := float64(0)
				total := metrics.Hits + metrics.Misses
				if total > 0 {
					hitRate = float64(metrics.Hits) / float64(total) * 100
				}
				ec.logger.Info("Extraction cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", ec.cache.Len()))
			}
		}
	}
}

// Stats returns global cache statistics
func (ec *ExtractionCache) Stats() map[string]any {
	metrics := ec.cache.Metrics()
	return map[string]any{
		"hits":   metrics.Hits,
		"misses": metrics.Misses,
		"items":  ec.cache.Len(),
	}
}
