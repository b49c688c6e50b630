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

// Package uie serves schema-driven information extraction over HTTP. Model
// directories are discovered under a models directory, loaded on first use
// and kept alive for a configurable duration.
package uie

import (
	"fmt"
	"time"

	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/span"
)

// Config configures a UIE node.
type Config struct {
	// ApiUrl is the address the API server listens on, e.g. http://localhost:11544.
	ApiUrl string `json:"api_url" yaml:"api_url"`

	// ModelsDir holds one subdirectory per model.
	ModelsDir string `json:"models_dir" yaml:"models_dir"`

	// KeepAlive is how long an unused model stays loaded ("0" keeps models forever).
	KeepAlive string `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`

	// MaxLoadedModels caps the number of models in memory (0 = unlimited).
	MaxLoadedModels int `json:"max_loaded_models,omitempty" yaml:"max_loaded_models,omitempty"`

	// PoolSize is the number of pipelines per model (0 = number of CPUs).
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`

	// BackendPriority orders the inference backends, e.g. ["onnx", "http"].
	BackendPriority []string `json:"backend_priority,omitempty" yaml:"backend_priority,omitempty"`

	// Gpu is the GPU mode: auto, cuda or off.
	Gpu string `json:"gpu,omitempty" yaml:"gpu,omitempty"`

	// MaxConcurrentRequests bounds in-flight extraction requests (0 = number of CPUs).
	MaxConcurrentRequests int `json:"max_concurrent_requests,omitempty" yaml:"max_concurrent_requests,omitempty"`

	// MaxQueueSize bounds requests waiting for a slot (0 = unbounded).
	MaxQueueSize int `json:"max_queue_size,omitempty" yaml:"max_queue_size,omitempty"`

	// RequestTimeout bounds the time a request waits in the queue.
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`

	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
}

// ExtractionConfig holds the default extraction options. Zero values keep
// the library defaults.
type ExtractionConfig struct {
	MaxSeqLen     int     `json:"max_seq_len,omitempty" yaml:"max_seq_len,omitempty"`
	BatchSize     int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	SplitSentence bool    `json:"split_sentence,omitempty" yaml:"split_sentence,omitempty"`
	PositionProb  float64 `json:"position_prob,omitempty" yaml:"position_prob,omitempty"`
	Scoring       string  `json:"scoring,omitempty" yaml:"scoring,omitempty"`
}

// Options converts the config into extraction options.
func (c ExtractionConfig) Options() ([]extraction.Option, error) {
	var opts []extraction.Option
	if c.MaxSeqLen > 0 {
		opts = append(opts, extraction.WithMaxSeqLen(c.MaxSeqLen))
	}
	if c.BatchSize > 0 {
		opts = append(opts, extraction.WithBatchSize(c.BatchSize))
	}
	if c.SplitSentence {
		opts = append(opts, extraction.WithSplitSentence(true))
	}
	if c.PositionProb > 0 {
		opts = append(opts, extraction.WithPositionProb(c.PositionProb))
	}
	if c.Scoring != "" {
		scoring, err := span.ParseScoring(c.Scoring)
		if err != nil {
			return nil, err
		}
		opts = append(opts, extraction.WithScoring(scoring))
	}
	if err := extraction.DefaultOptions().Apply(opts...).Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}
	return opts, nil
}

// parseDuration parses a config duration. Empty and "0" mean zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
