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

// Package backends provides a unified interface for running span-pointer
// models on different inference backends:
//
//   - ONNX Runtime: local inference through onnxruntime_go, requires -tags="onnx,ORT"
//   - HTTP: forwards batches to a remote inference server
//
// Build example:
//
//	go build -tags="onnx,ORT" ./cmd
//
// Backend selection at runtime follows a configurable priority order
// (default: ONNX > HTTP). Model directories can restrict which backends they
// support through their config.
package backends

import (
	"errors"
	"fmt"
)

// BackendType identifies the inference backend
type BackendType string

const (
	// BackendONNX is the ONNX Runtime backend - fast CPU/GPU inference
	BackendONNX BackendType = "onnx"

	// BackendHTTP sends inference requests to a remote model server.
	BackendHTTP BackendType = "http"
)

// GPUMode controls how GPU acceleration is enabled.
type GPUMode string

const (
	GPUModeAuto GPUMode = "auto" // Auto-detect GPU availability
	GPUModeCuda GPUMode = "cuda" // Force CUDA
	GPUModeOff  GPUMode = "off"  // CPU only
)

var (
	// ErrOutputShape is returned when a model produces outputs whose shape
	// does not match its inputs.
	ErrOutputShape = errors.New("unexpected model output shape")

	// ErrClosed is returned by models and managers used after Close.
	ErrClosed = errors.New("closed")

	// ErrNotSupported is returned when no registered backend can serve a
	// request.
	ErrNotSupported = errors.New("not supported")
)

// ModelInputs is one padded batch of prompt/text pairs. All slices are
// [batch, seq].
type ModelInputs struct {
	InputIDs      [][]int32
	TokenTypeIDs  [][]int32
	PositionIDs   [][]int32
	AttentionMask [][]int32
}

// BatchSize returns the number of sequences in the batch.
func (in *ModelInputs) BatchSize() int {
	return len(in.InputIDs)
}

// SeqLen returns the padded sequence length, 0 for an empty batch.
func (in *ModelInputs) SeqLen() int {
	if len(in.InputIDs) == 0 {
		return 0
	}
	return len(in.InputIDs[0])
}

// Validate checks that every input has the same [batch, seq] shape.
func (in *ModelInputs) Validate() error {
	batch, seq := in.BatchSize(), in.SeqLen()
	for name, field := range map[string][][]int32{
		"token_type_ids": in.TokenTypeIDs,
		"position_ids":   in.PositionIDs,
		"attention_mask": in.AttentionMask,
	} {
		if len(field) != batch {
			return fmt.Errorf("%s has batch size %d, want %d", name, len(field), batch)
		}
	}
	for i := range batch {
		for name, field := range map[string][][]int32{
			"input_ids":      in.InputIDs,
			"token_type_ids": in.TokenTypeIDs,
			"position_ids":   in.PositionIDs,
			"attention_mask": in.AttentionMask,
		} {
			if len(field[i]) != seq {
				return fmt.Errorf("%s[%d] has length %d, want %d", name, i, len(field[i]), seq)
			}
		}
	}
	return nil
}

// ModelOutput holds per-token start and end pointer probabilities, each
// [batch, seq] with values in [0,1].
type ModelOutput struct {
	StartProbs [][]float32
	EndProbs   [][]float32
}

// CheckShape reports ErrOutputShape unless the output matches a batch of
// batch sequences of seq tokens.
func (out *ModelOutput) CheckShape(batch, seq int) error {
	if len(out.StartProbs) != batch || len(out.EndProbs) != batch {
		return fmt.Errorf("%w: got %d start and %d end rows for batch of %d",
			ErrOutputShape, len(out.StartProbs), len(out.EndProbs), batch)
	}
	for i := range batch {
		if len(out.StartProbs[i]) != seq || len(out.EndProbs[i]) != seq {
			return fmt.Errorf("%w: row %d has %d start and %d end probabilities for %d tokens",
				ErrOutputShape, i, len(out.StartProbs[i]), len(out.EndProbs[i]), seq)
		}
	}
	return nil
}
