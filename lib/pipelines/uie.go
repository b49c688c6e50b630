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

package pipelines

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/tokenizer"
	"github.com/bytedance/sonic"
)

const (
	// ModelConfigFile is the per-model configuration file.
	ModelConfigFile = "uie_config.json"
	// VocabFile is the WordPiece vocabulary file.
	VocabFile = "vocab.txt"
)

// ModelConfig describes a UIE model directory. Every field is optional.
type ModelConfig struct {
	// Path to the model directory. Not read from the file.
	Path string `json:"-"`

	Description string `json:"description,omitempty"`

	// MaxSeqLen is the sequence length the model was exported for.
	MaxSeqLen int `json:"max_seq_len,omitempty"`

	// PositionProb is the model's preferred boundary threshold.
	PositionProb float64 `json:"position_prob,omitempty"`

	// ModelFile is the ONNX file name, relative to the directory.
	ModelFile string `json:"model_file,omitempty"`

	// TensorNames overrides the default input and output names.
	TensorNames backends.TensorNames `json:"tensor_names"`

	// Endpoint serves the model remotely through the HTTP backend.
	Endpoint string `json:"endpoint,omitempty"`

	// TimeoutSeconds bounds a remote forward pass.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// Lowercase controls tokenizer case folding. Defaults to true.
	Lowercase *bool `json:"lowercase,omitempty"`

	// Backends restricts which inference backends may load the model.
	Backends []string `json:"backends,omitempty"`
}

// IsUIEModel reports whether dir looks like a UIE model directory.
func IsUIEModel(dir string) bool {
	for _, name := range []string{ModelConfigFile, VocabFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// LoadModelConfig reads uie_config.json from modelPath.
func LoadModelConfig(modelPath string) (*ModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(modelPath, ModelConfigFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ModelConfigFile, err)
	}

	config := &ModelConfig{}
	if err := sonic.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ModelConfigFile, err)
	}
	config.Path = modelPath

	if config.ModelFile == "" {
		if found := FindONNXFile(modelPath, []string{"model.onnx", "inference.onnx", "model_quantized.onnx"}); found != "" {
			config.ModelFile = filepath.Base(found)
		}
	}
	return config, nil
}

// LoadOptions returns the backend load options described by the config.
func (c *ModelConfig) LoadOptions() []backends.LoadOption {
	opts := []backends.LoadOption{
		backends.WithONNXFile(c.ModelFile),
		backends.WithTensorNames(c.TensorNames),
	}
	if c.Endpoint != "" {
		opts = append(opts, backends.WithEndpoint(c.Endpoint))
	}
	if c.TimeoutSeconds > 0 {
		opts = append(opts, backends.WithTimeout(time.Duration(c.TimeoutSeconds)*time.Second))
	}
	return opts
}

// loaderConfig holds options for LoadPipeline.
type loaderConfig struct {
	maxLength int
	loadOpts  []backends.LoadOption
}

// LoaderOption configures LoadPipeline.
type LoaderOption func(*loaderConfig)

// WithLoaderMaxLength overrides the sequence length from the model config.
func WithLoaderMaxLength(n int) LoaderOption {
	return func(c *loaderConfig) {
		c.maxLength = n
	}
}

// WithBackendOptions appends backend load options, such as the GPU mode.
func WithBackendOptions(opts ...backends.LoadOption) LoaderOption {
	return func(c *loaderConfig) {
		c.loadOpts = append(c.loadOpts, opts...)
	}
}

// LoadPipeline loads the tokenizer and model in modelPath and joins them in
// a Pipeline. modelBackends, when non-empty, restricts the backends tried;
// otherwise the backends listed in the model config are used.
func LoadPipeline(
	modelPath string,
	sessionManager *backends.SessionManager,
	modelBackends []string,
	opts ...LoaderOption,
) (*Pipeline, *ModelConfig, backends.BackendType, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		opt(loaderCfg)
	}

	config, err := LoadModelConfig(modelPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading model config: %w", err)
	}

	var tkOpts []tokenizer.Option
	if config.Lowercase != nil {
		tkOpts = append(tkOpts, tokenizer.WithLowercase(*config.Lowercase))
	}
	tk, err := tokenizer.NewWordPieceFromFile(filepath.Join(modelPath, VocabFile), tkOpts...)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading tokenizer: %w", err)
	}

	if len(modelBackends) == 0 {
		modelBackends = config.Backends
	}
	loadOpts := append(config.LoadOptions(), loaderCfg.loadOpts...)
	model, backendType, err := sessionManager.LoadModel(modelPath, modelBackends, loadOpts...)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading model: %w", err)
	}

	pipeline := New(tk, model, WithMaxLength(FirstNonZero(loaderCfg.maxLength, config.MaxSeqLen, 512)))
	return pipeline, config, backendType, nil
}
