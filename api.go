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
	"io"
	"net/http"
	"time"

	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/schema"
	"github.com/antflydb/uie/lib/span"
	"github.com/antflydb/uie/lib/splitter"
	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/encoder"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

const maxRequestBodySize = 32 << 20

// UIENode holds the state shared by the API handlers.
type UIENode struct {
	logger *zap.Logger

	extractorProvider ExtractorProvider

	// Request queue for backpressure control
	requestQueue *RequestQueue

	// Cache for extraction results (nil = no caching)
	extractionCache *ExtractionCache
}

// NewUIENode creates a node serving extractors from provider.
func NewUIENode(logger *zap.Logger, provider ExtractorProvider, queue *RequestQueue, cache *ExtractionCache) *UIENode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == nil {
		queue = NewRequestQueue(RequestQueueConfig{}, logger.Named("queue"))
	}
	return &UIENode{
		logger:            logger,
		extractorProvider: provider,
		requestQueue:      queue,
		extractionCache:   cache,
	}
}

// ExtractRequest is the body of POST /api/extract. Schema is any JSON
// schema literal: a label, a list or an object.
type ExtractRequest struct {
	Model   string          `json:"model"`
	Texts   []string        `json:"texts"`
	Options *ExtractOptions `json:"options,omitempty"`
}

// ExtractOptions are per-request overrides of the model's extraction
// options.
type ExtractOptions struct {
	MaxSeqLen       *int     `json:"max_seq_len,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	SplitSentence   *bool    `json:"split_sentence,omitempty"`
	PositionProb    *float64 `json:"position_prob,omitempty"`
	Scoring         *string  `json:"scoring,omitempty"`
	LinkingParticle *string  `json:"linking_particle,omitempty"`
	NormalizePrompt *bool    `json:"normalize_prompt,omitempty"`
}

// toOptions converts the overrides into extraction options.
func (o *ExtractOptions) toOptions() ([]extraction.Option, error) {
	if o == nil {
		return nil, nil
	}
	var opts []extraction.Option
	if o.MaxSeqLen != nil {
		opts = append(opts, extraction.WithMaxSeqLen(*o.MaxSeqLen))
	}
	if o.BatchSize != nil {
		opts = append(opts, extraction.WithBatchSize(*o.BatchSize))
	}
	if o.SplitSentence != nil {
		opts = append(opts, extraction.WithSplitSentence(*o.SplitSentence))
	}
	if o.PositionProb != nil {
		opts = append(opts, extraction.WithPositionProb(*o.PositionProb))
	}
	if o.Scoring != nil {
		scoring, err := span.ParseScoring(*o.Scoring)
		if err != nil {
			return nil, err
		}
		opts = append(opts, extraction.WithScoring(scoring))
	}
	if o.LinkingParticle != nil {
		opts = append(opts, extraction.WithLinkingParticle(*o.LinkingParticle))
	}
	if o.NormalizePrompt != nil {
		opts = append(opts, extraction.WithNormalizePrompt(*o.NormalizePrompt))
	}
	if err := extraction.DefaultOptions().Apply(opts...).Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// ExtractResponse is the response of POST /api/extract.
type ExtractResponse struct {
	Model   string                `json:"model"`
	Results []extraction.Document `json:"results"`
}

// ModelSummary describes one model in GET /api/models.
type ModelSummary struct {
	Name        string `json:"name"`
	Loaded      bool   `json:"loaded"`
	Description string `json:"description,omitempty"`
	MaxSeqLen   int    `json:"max_seq_len,omitempty"`
}

// ModelsResponse is the response of GET /api/models.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// NewUIEAPI returns the HTTP handler for the /api routes.
func NewUIEAPI(logger *zap.Logger, node *UIENode) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/extract", node.handleApiExtract)
	mux.HandleFunc("GET /api/models", node.handleApiModels)
	mux.HandleFunc("GET /api/version", node.handleApiVersion)
	return requestIDMiddleware(mux)
}

type requestIDKey struct{}

// requestIDMiddleware assigns every request an id, reusing the caller's.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (ln *UIENode) handleApiExtract(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()
	requestID := RequestID(r.Context())

	// Check if extraction is available
	if ln.extractorProvider == nil || len(ln.extractorProvider.List()) == 0 {
		http.Error(w, "extraction not available: no models configured", http.StatusServiceUnavailable)
		return
	}

	// Apply backpressure via request queue
	release, err := ln.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return
	}
	defer release()

	UpdateQueueMetrics(ln.requestQueue.Stats())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusBadRequest)
		return
	}

	var req ExtractRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Validate request
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if len(req.Texts) == 0 {
		http.Error(w, "texts are required", http.StatusBadRequest)
		return
	}

	// The schema is parsed from the raw body so object key order survives.
	rawSchema := gjson.GetBytes(body, "schema")
	if !rawSchema.Exists() {
		http.Error(w, "schema is required", http.StatusBadRequest)
		return
	}
	spec, err := schema.Parse([]byte(rawSchema.Raw))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tree, err := schema.Build(spec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts, err := req.Options.toOptions()
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid options: %v", err), http.StatusBadRequest)
		return
	}

	extractor, err := ln.extractorProvider.Get(req.Model)
	if err != nil {
		if errors.Is(err, ErrModelNotFound) {
			http.Error(w, fmt.Sprintf("model not found: %s", req.Model), http.StatusNotFound)
			return
		}
		ln.logger.Error("Loading model failed",
			zap.String("request_id", requestID),
			zap.String("model", req.Model),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("loading model failed: %v", err), http.StatusInternalServerError)
		return
	}

	// Wrap model with caching for deduplicated requests
	if ln.extractionCache != nil {
		extractor = ln.extractionCache.WrapExtractor(extractor, req.Model)
	}

	docs, err := extractor.Extract(r.Context(), req.Texts, tree, opts...)
	if err != nil {
		var tooShort *splitter.SequenceTooShortError
		if errors.As(err, &tooShort) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ln.logger.Error("Extraction failed",
			zap.String("request_id", requestID),
			zap.String("model", req.Model),
			zap.Int("num_texts", len(req.Texts)),
			zap.Error(err))
		RecordRequestDuration("extract", req.Model, "500", time.Since(start).Seconds())
		http.Error(w, fmt.Sprintf("extraction failed: %v", err), http.StatusInternalServerError)
		return
	}

	// Record metrics
	RecordExtractionRequest(req.Model)
	totalResults := 0
	for _, doc := range docs {
		for _, results := range doc {
			totalResults += len(results)
		}
	}
	RecordExtractionResults(req.Model, totalResults)

	ln.logger.Info("Extraction request completed",
		zap.String("request_id", requestID),
		zap.String("model", req.Model),
		zap.Int("num_texts", len(req.Texts)),
		zap.Int("schema_labels", tree.Count()),
		zap.Int("total_results", totalResults),
		zap.Duration("duration", time.Since(start)))

	w.Header().Set("Content-Type", "application/json")
	if err := extraction.JSON.NewEncoder(w).Encode(ExtractResponse{Model: req.Model, Results: docs}); err != nil {
		ln.logger.Error("Encoding response failed",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func (ln *UIENode) handleApiModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{Models: []ModelSummary{}}
	if ln.extractorProvider != nil {
		reg, isRegistry := ln.extractorProvider.(*ExtractorRegistry)
		for _, name := range ln.extractorProvider.List() {
			summary := ModelSummary{Name: name}
			if isRegistry {
				summary.Loaded = reg.IsLoaded(name)
				if info, ok := reg.Info(name); ok {
					summary.Description = info.Description
					summary.MaxSeqLen = info.MaxSeqLen
				}
			}
			resp.Models = append(resp.Models, summary)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
