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

// Package pipelines provides the Pipeline type that pairs a tokenizer with a
// span-pointer model for batched prompt/text inference.
package pipelines

import (
	"context"
	"fmt"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/tokenizer"
)

// PaddingStrategy specifies how to pad sequences.
type PaddingStrategy string

const (
	// PaddingLongest pads to the longest sequence in the batch.
	PaddingLongest PaddingStrategy = "longest"
	// PaddingMaxLength pads to the configured max length.
	PaddingMaxLength PaddingStrategy = "max_length"
)

// PipelineConfig holds configuration for a Pipeline.
type PipelineConfig struct {
	// MaxLength is the maximum sequence length, special tokens included.
	MaxLength int

	// Padding specifies the padding strategy.
	Padding PaddingStrategy

	// PadTokenID is the token ID used for padding. Taken from the tokenizer
	// when not set.
	PadTokenID *int32
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxLength: 512,
		Padding:   PaddingLongest,
	}
}

// PipelineOption is a functional option for configuring a Pipeline.
type PipelineOption func(*PipelineConfig)

// WithMaxLength sets the maximum sequence length.
func WithMaxLength(length int) PipelineOption {
	return func(c *PipelineConfig) {
		c.MaxLength = length
	}
}

// WithPadding sets the padding strategy.
func WithPadding(strategy PaddingStrategy) PipelineOption {
	return func(c *PipelineConfig) {
		c.Padding = strategy
	}
}

// WithPadTokenID sets the padding token ID.
func WithPadTokenID(id int32) PipelineOption {
	return func(c *PipelineConfig) {
		c.PadTokenID = &id
	}
}

// Pipeline pairs a tokenizer with a model for end-to-end inference.
// It handles pair encoding, padding and model execution.
type Pipeline struct {
	// Tokenizer handles text-to-token conversion.
	Tokenizer tokenizer.PairEncoder

	// Model performs inference on tokenized inputs.
	Model backends.Model

	// Config holds pipeline configuration.
	Config *PipelineConfig
}

// New creates a new Pipeline with the given tokenizer and model.
func New(tk tokenizer.PairEncoder, model backends.Model, opts ...PipelineOption) *Pipeline {
	config := DefaultPipelineConfig()
	for _, opt := range opts {
		opt(config)
	}
	if config.PadTokenID == nil {
		pad := tk.PadID()
		config.PadTokenID = &pad
	}
	return &Pipeline{
		Tokenizer: tk,
		Model:     model,
		Config:    config,
	}
}

// Pair is one prompt/text example.
type Pair struct {
	Prompt string
	Text   string
}

// EncodedBatch holds the result of encoding a batch of pairs. All
// per-token slices are [batch, seq].
type EncodedBatch struct {
	InputIDs      [][]int32
	TokenTypeIDs  [][]int32
	PositionIDs   [][]int32
	AttentionMask [][]int32

	// Offsets holds per-segment rune offsets; special and padding tokens
	// have (0,0).
	Offsets [][][2]int

	// OriginalLengths contains the pre-padding length of each sequence.
	OriginalLengths []int
}

// Len returns the batch size.
func (b *EncodedBatch) Len() int {
	return len(b.InputIDs)
}

// ModelInputs returns the batch as model inputs.
func (b *EncodedBatch) ModelInputs() *backends.ModelInputs {
	return &backends.ModelInputs{
		InputIDs:      b.InputIDs,
		TokenTypeIDs:  b.TokenTypeIDs,
		PositionIDs:   b.PositionIDs,
		AttentionMask: b.AttentionMask,
	}
}

// Encode tokenizes pairs and pads them according to the pipeline config.
func (p *Pipeline) Encode(pairs []Pair) (*EncodedBatch, error) {
	if len(pairs) == 0 {
		return &EncodedBatch{}, nil
	}

	encodings := make([]*tokenizer.Encoding, len(pairs))
	maxLen := 0
	for i, pair := range pairs {
		enc, err := p.Tokenizer.EncodePair(pair.Prompt, pair.Text, p.Config.MaxLength)
		if err != nil {
			return nil, fmt.Errorf("encoding pair %d: %w", i, err)
		}
		encodings[i] = enc
		maxLen = max(maxLen, enc.Len())
	}

	targetLen := maxLen
	if p.Config.Padding == PaddingMaxLength && p.Config.MaxLength > targetLen {
		targetLen = p.Config.MaxLength
	}

	n := len(pairs)
	batch := &EncodedBatch{
		InputIDs:        make([][]int32, n),
		TokenTypeIDs:    make([][]int32, n),
		PositionIDs:     make([][]int32, n),
		AttentionMask:   make([][]int32, n),
		Offsets:         make([][][2]int, n),
		OriginalLengths: make([]int, n),
	}
	pad := *p.Config.PadTokenID
	for i, enc := range encodings {
		batch.OriginalLengths[i] = enc.Len()
		batch.InputIDs[i] = padTo(enc.IDs, targetLen, pad)
		batch.TokenTypeIDs[i] = padTo(enc.TypeIDs, targetLen, 0)
		batch.PositionIDs[i] = padTo(enc.PositionIDs, targetLen, 0)
		batch.AttentionMask[i] = padTo(enc.AttentionMask, targetLen, 0)

		offsets := make([][2]int, targetLen)
		copy(offsets, enc.Offsets)
		batch.Offsets[i] = offsets
	}
	return batch, nil
}

func padTo(values []int32, length int, pad int32) []int32 {
	out := make([]int32, length)
	n := copy(out, values)
	for j := n; j < length; j++ {
		out[j] = pad
	}
	return out
}

// Forward encodes pairs and runs the model on them. The output is checked
// against the batch shape.
func (p *Pipeline) Forward(ctx context.Context, pairs []Pair) (*EncodedBatch, *backends.ModelOutput, error) {
	batch, err := p.Encode(pairs)
	if err != nil {
		return nil, nil, err
	}
	if batch.Len() == 0 {
		return batch, &backends.ModelOutput{}, nil
	}

	out, err := p.Model.Forward(ctx, batch.ModelInputs())
	if err != nil {
		return nil, nil, fmt.Errorf("running model %s: %w", p.Model.Name(), err)
	}
	seqLen := len(batch.InputIDs[0])
	if err := out.CheckShape(batch.Len(), seqLen); err != nil {
		return nil, nil, err
	}
	return batch, out, nil
}

// Close releases resources held by the pipeline.
func (p *Pipeline) Close() error {
	return p.Model.Close()
}
