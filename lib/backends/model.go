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

package backends

import (
	"context"
	"fmt"
	"time"
)

// Model is a span-pointer model: one forward pass turns a batch of encoded
// prompt/text pairs into start and end probabilities for every token.
type Model interface {
	// Forward runs inference on the given inputs and returns the model outputs.
	// The context can be used for cancellation and timeout.
	Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error)

	// Close releases resources associated with the model.
	Close() error

	// Name returns the model name for logging and debugging.
	Name() string

	// Backend returns the backend type this model uses.
	Backend() BackendType
}

// ModelLoader loads models for a specific backend.
type ModelLoader interface {
	// Load loads a model from the given directory with the specified options.
	Load(path string, opts ...LoadOption) (Model, error)

	// SupportsModel returns true if this loader can handle the model at the given path.
	SupportsModel(path string) bool

	// Backend returns the backend type this loader uses.
	Backend() BackendType
}

// TensorNames maps the four model inputs and two outputs to the tensor names
// of a particular export.
type TensorNames struct {
	InputIDs      string `json:"input_ids"`
	TokenTypeIDs  string `json:"token_type_ids"`
	PositionIDs   string `json:"position_ids"`
	AttentionMask string `json:"attention_mask"`
	StartProb     string `json:"start_prob"`
	EndProb       string `json:"end_prob"`
}

// DefaultTensorNames are the names used by the common UIE exports.
func DefaultTensorNames() TensorNames {
	return TensorNames{
		InputIDs:      "input_ids",
		TokenTypeIDs:  "token_type_ids",
		PositionIDs:   "pos_ids",
		AttentionMask: "att_mask",
		StartProb:     "start_prob",
		EndProb:       "end_prob",
	}
}

// merge fills empty names from defaults.
func (n TensorNames) merge(defaults TensorNames) TensorNames {
	if n.InputIDs == "" {
		n.InputIDs = defaults.InputIDs
	}
	if n.TokenTypeIDs == "" {
		n.TokenTypeIDs = defaults.TokenTypeIDs
	}
	if n.PositionIDs == "" {
		n.PositionIDs = defaults.PositionIDs
	}
	if n.AttentionMask == "" {
		n.AttentionMask = defaults.AttentionMask
	}
	if n.StartProb == "" {
		n.StartProb = defaults.StartProb
	}
	if n.EndProb == "" {
		n.EndProb = defaults.EndProb
	}
	return n
}

// LoadConfig holds configuration for model loading.
// Created via LoadOption functions.
type LoadConfig struct {
	// ONNXFilename specifies which ONNX file to load (e.g., "model.onnx")
	ONNXFilename string

	// Names are the input and output tensor names.
	Names TensorNames

	// Endpoint is the URL the HTTP backend posts batches to.
	Endpoint string

	// Timeout bounds a single remote forward pass. Zero means no timeout.
	Timeout time.Duration

	// GPUMode controls GPU acceleration
	GPUMode GPUMode

	// NumThreads is the number of inference threads (0 = auto)
	NumThreads int
}

// DefaultLoadConfig returns a LoadConfig with sensible defaults.
func DefaultLoadConfig() *LoadConfig {
	return &LoadConfig{
		ONNXFilename: "model.onnx",
		Names:        DefaultTensorNames(),
		Timeout:      60 * time.Second,
		GPUMode:      GPUModeAuto,
	}
}

// LoadOption is a functional option for configuring model loading.
type LoadOption func(*LoadConfig)

// WithONNXFile sets the ONNX filename to load.
func WithONNXFile(filename string) LoadOption {
	return func(c *LoadConfig) {
		if filename != "" {
			c.ONNXFilename = filename
		}
	}
}

// WithTensorNames overrides tensor names. Empty fields keep their defaults.
func WithTensorNames(names TensorNames) LoadOption {
	return func(c *LoadConfig) {
		c.Names = names.merge(c.Names)
	}
}

// WithEndpoint sets the remote inference URL.
func WithEndpoint(url string) LoadOption {
	return func(c *LoadConfig) {
		c.Endpoint = url
	}
}

// WithTimeout sets the remote request timeout.
func WithTimeout(d time.Duration) LoadOption {
	return func(c *LoadConfig) {
		c.Timeout = d
	}
}

// WithGPUMode sets the GPU mode.
func WithGPUMode(mode GPUMode) LoadOption {
	return func(c *LoadConfig) {
		c.GPUMode = mode
	}
}

// WithNumThreads sets the number of inference threads.
func WithNumThreads(n int) LoadOption {
	return func(c *LoadConfig) {
		c.NumThreads = n
	}
}

// ApplyOptions applies options on top of DefaultLoadConfig.
func ApplyOptions(opts ...LoadOption) *LoadConfig {
	config := DefaultLoadConfig()
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// flatten copies a [batch, seq] matrix into a row-major int64 slice.
func flatten(m [][]int32, batch, seq int) []int64 {
	flat := make([]int64, batch*seq)
	for i := 0; i < batch; i++ {
		for j := 0; j < seq; j++ {
			flat[i*seq+j] = int64(m[i][j])
		}
	}
	return flat
}

// unflatten splits a row-major [batch, seq] float slice into rows.
func unflatten(data []float32, batch, seq int) ([][]float32, error) {
	if len(data) != batch*seq {
		return nil, fmt.Errorf("%w: %d values for [%d, %d]", ErrOutputShape, len(data), batch, seq)
	}
	rows := make([][]float32, batch)
	for i := range batch {
		rows[i] = make([]float32, seq)
		copy(rows[i], data[i*seq:(i+1)*seq])
	}
	return rows, nil
}
