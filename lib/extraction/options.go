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
	"fmt"

	"github.com/antflydb/uie/lib/span"
)

// Options controls a single extraction run.
type Options struct {
	// MaxSeqLen is the model sequence length, special tokens included.
	MaxSeqLen int `json:"max_seq_len"`

	// BatchSize is the number of prompt/text pairs per forward pass.
	BatchSize int `json:"batch_size"`

	// SplitSentence moves chunk boundaries to sentence ends.
	SplitSentence bool `json:"split_sentence"`

	// PositionProb is the threshold a start or end probability must exceed.
	PositionProb float64 `json:"position_prob"`

	// Scoring combines the start and end probabilities of a span.
	Scoring span.Scoring `json:"scoring"`

	// LinkingParticle joins a parent result to a child label when building
	// relation prompts.
	LinkingParticle string `json:"linking_particle"`

	// NormalizePrompt folds full-width characters in prompts to half-width
	// before inference.
	NormalizePrompt bool `json:"normalize_prompt"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxSeqLen:       512,
		BatchSize:       64,
		SplitSentence:   false,
		PositionProb:    0.5,
		Scoring:         span.ScoringProduct,
		LinkingParticle: "的",
		NormalizePrompt: true,
	}
}

// Validate reports options that cannot drive an extraction.
func (o Options) Validate() error {
	if o.MaxSeqLen <= 0 {
		return fmt.Errorf("max sequence length must be positive, got %d", o.MaxSeqLen)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.PositionProb < 0 || o.PositionProb >= 1 {
		return fmt.Errorf("position probability must be in [0,1), got %g", o.PositionProb)
	}
	if _, err := span.ParseScoring(string(o.Scoring)); err != nil {
		return err
	}
	return nil
}

// Option is a functional option for configuring extraction.
type Option func(*Options)

// WithMaxSeqLen sets the model sequence length.
func WithMaxSeqLen(n int) Option {
	return func(o *Options) {
		o.MaxSeqLen = n
	}
}

// WithBatchSize sets the number of pairs per forward pass.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		o.BatchSize = n
	}
}

// WithSplitSentence enables sentence-aware chunking.
func WithSplitSentence(v bool) Option {
	return func(o *Options) {
		o.SplitSentence = v
	}
}

// WithPositionProb sets the boundary threshold.
func WithPositionProb(p float64) Option {
	return func(o *Options) {
		o.PositionProb = p
	}
}

// WithScoring sets the span scoring.
func WithScoring(s span.Scoring) Option {
	return func(o *Options) {
		o.Scoring = s
	}
}

// WithLinkingParticle sets the particle joining parent text and child label.
func WithLinkingParticle(s string) Option {
	return func(o *Options) {
		o.LinkingParticle = s
	}
}

// WithNormalizePrompt toggles prompt width folding.
func WithNormalizePrompt(v bool) Option {
	return func(o *Options) {
		o.NormalizePrompt = v
	}
}

// Apply returns a copy of o with opts applied.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
