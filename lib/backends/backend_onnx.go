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

//go:build onnx && ORT

package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	RegisterBackend(&onnxBackend{})
}

// onnxBackend implements Backend using ONNX Runtime.
//
// Runtime Requirements:
//   - Set LD_LIBRARY_PATH (or ONNXRUNTIME_ROOT) before running:
//     export LD_LIBRARY_PATH=/path/to/onnxruntime/lib
//   - For CUDA: export LD_LIBRARY_PATH=/path/to/onnxruntime/lib:/usr/local/cuda/lib64
//
// Build Requirements:
//   - CGO must be enabled (CGO_ENABLED=1)
//   - ONNX Runtime libraries must be available at link time
type onnxBackend struct {
	gpuMode   GPUMode
	gpuModeMu sync.RWMutex

	initializedOnce sync.Once
	initErr         error
}

func (b *onnxBackend) Type() BackendType {
	return BackendONNX
}

func (b *onnxBackend) Name() string {
	if ShouldUseGPU(b.GetGPUMode()) {
		return "ONNX Runtime (CUDA)"
	}
	return "ONNX Runtime (CPU)"
}

// Available is always true: the build tags only include this file when
// ONNX Runtime is linked in.
func (b *onnxBackend) Available() bool {
	return true
}

func (b *onnxBackend) Priority() int {
	return 10
}

func (b *onnxBackend) Loader() ModelLoader {
	return &ortModelLoader{backend: b}
}

// SetGPUMode sets the GPU mode for this backend.
// Must be called before any sessions are created to take effect.
func (b *onnxBackend) SetGPUMode(mode GPUMode) {
	b.gpuModeMu.Lock()
	defer b.gpuModeMu.Unlock()
	b.gpuMode = mode
}

// GetGPUMode returns the current GPU mode.
func (b *onnxBackend) GetGPUMode() GPUMode {
	b.gpuModeMu.RLock()
	defer b.gpuModeMu.RUnlock()
	if b.gpuMode == "" {
		return GPUModeAuto
	}
	return b.gpuMode
}

// initONNX initializes the ONNX Runtime library.
func (b *onnxBackend) initONNX() error {
	b.initializedOnce.Do(func() {
		if libPath := getOnnxLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(filepath.Join(libPath, getOnnxLibraryName()))
		}
		b.initErr = ort.InitializeEnvironment()
	})
	return b.initErr
}

// getOnnxLibraryPath returns the directory containing libonnxruntime from environment.
// Checks ONNXRUNTIME_ROOT first, then LD_LIBRARY_PATH (or DYLD_LIBRARY_PATH on macOS).
func getOnnxLibraryPath() string {
	libName := getOnnxLibraryName()
	var candidates []string
	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		candidates = append(candidates,
			filepath.Join(root, runtime.GOOS+"-"+runtime.GOARCH, "lib"),
			filepath.Join(root, "lib"))
	}
	ldPath := os.Getenv("LD_LIBRARY_PATH")
	if runtime.GOOS == "darwin" {
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			ldPath = dyldPath
		}
	}
	candidates = append(candidates, filepath.SplitList(ldPath)...)

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, libName)); err == nil {
			return dir
		}
	}
	return ""
}

// getOnnxLibraryName returns the platform-specific library name.
func getOnnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ortModelLoader implements ModelLoader for ONNX Runtime.
type ortModelLoader struct {
	backend *onnxBackend
}

func (l *ortModelLoader) Load(path string, opts ...LoadOption) (Model, error) {
	if err := l.backend.initONNX(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	config := ApplyOptions(opts...)
	onnxPath := filepath.Join(path, config.ONNXFilename)
	if _, err := os.Stat(onnxPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("ONNX model not found: %s", onnxPath)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}
	inputNames := selectInputNames(inputs, config.Names)
	if len(inputNames) == 0 {
		return nil, fmt.Errorf("model %s has none of the expected inputs (%s, %s, %s, %s)", onnxPath,
			config.Names.InputIDs, config.Names.TokenTypeIDs, config.Names.PositionIDs, config.Names.AttentionMask)
	}
	outputNames := []string{config.Names.StartProb, config.Names.EndProb}
	for _, name := range outputNames {
		if !hasTensor(outputs, name) {
			return nil, fmt.Errorf("model %s has no output named %q", onnxPath, name)
		}
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if config.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}

	gpuMode := config.GPUMode
	if gpuMode == "" || gpuMode == GPUModeAuto {
		gpuMode = l.backend.GetGPUMode()
	}
	if ShouldUseGPU(gpuMode) {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
				// CUDA not available, fall back to CPU
				cudaOpts.Destroy()
			} else {
				defer cudaOpts.Destroy()
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &ortModel{
		path:        path,
		config:      config,
		session:     session,
		sessionOpts: sessionOpts,
		inputNames:  inputNames,
	}, nil
}

// selectInputNames returns the configured input names the model declares,
// in the model's own order.
func selectInputNames(inputs []ort.InputOutputInfo, names TensorNames) []string {
	known := map[string]bool{
		names.InputIDs:      true,
		names.TokenTypeIDs:  true,
		names.PositionIDs:   true,
		names.AttentionMask: true,
	}
	var selected []string
	for _, info := range inputs {
		if known[info.Name] {
			selected = append(selected, info.Name)
		}
	}
	return selected
}

func hasTensor(infos []ort.InputOutputInfo, name string) bool {
	for _, info := range infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

func (l *ortModelLoader) SupportsModel(path string) bool {
	matches, _ := filepath.Glob(filepath.Join(path, "*.onnx"))
	return len(matches) > 0
}

func (l *ortModelLoader) Backend() BackendType {
	return BackendONNX
}

// ortModel implements Model using ONNX Runtime.
type ortModel struct {
	path        string
	config      *LoadConfig
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputNames  []string
	mu          sync.RWMutex
}

func (m *ortModel) Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, fmt.Errorf("ONNX session for %s: %w", m.path, ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, seq := inputs.BatchSize(), inputs.SeqLen()
	if batch == 0 {
		return &ModelOutput{}, nil
	}
	if err := inputs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model inputs: %w", err)
	}

	names := m.config.Names
	byName := map[string][][]int32{
		names.InputIDs:      inputs.InputIDs,
		names.TokenTypeIDs:  inputs.TokenTypeIDs,
		names.PositionIDs:   inputs.PositionIDs,
		names.AttentionMask: inputs.AttentionMask,
	}
	shape := ort.NewShape(int64(batch), int64(seq))
	inputTensors := make([]ort.Value, 0, len(m.inputNames))
	defer func() {
		for _, t := range inputTensors {
			t.Destroy()
		}
	}()
	for _, name := range m.inputNames {
		tensor, err := ort.NewTensor(shape, flatten(byName[name], batch, seq))
		if err != nil {
			return nil, fmt.Errorf("creating %s tensor: %w", name, err)
		}
		inputTensors = append(inputTensors, tensor)
	}

	// Run inference - pass nil outputs to let session allocate them
	outputTensors := make([]ort.Value, 2)
	if err := m.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("running ONNX inference: %w", err)
	}
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	probs := make([][][]float32, 2)
	for i, t := range outputTensors {
		floatTensor, ok := t.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output tensor %d is not float32", i)
		}
		rows, err := unflatten(floatTensor.GetData(), batch, seq)
		if err != nil {
			return nil, err
		}
		probs[i] = rows
	}
	return &ModelOutput{StartProbs: probs[0], EndProbs: probs[1]}, nil
}

func (m *ortModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.sessionOpts != nil {
		m.sessionOpts.Destroy()
		m.sessionOpts = nil
	}
	return nil
}

func (m *ortModel) Name() string {
	return m.path
}

func (m *ortModel) Backend() BackendType {
	return BackendONNX
}
