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
	"fmt"
	"sync"
)

// SessionManager manages model loaders across multiple backends.
// It maintains at most one loader per backend type (lazy-created).
//
// Usage:
//
//	manager := backends.NewSessionManager()
//	defer manager.Close()
//
//	manager.SetPriority([]BackendType{BackendONNX, BackendHTTP})
//
//	// Load a model respecting backend restrictions
//	model, backend, err := manager.LoadModel(modelPath, []string{"onnx"})
type SessionManager struct {
	loaders  map[BackendType]ModelLoader
	priority []BackendType
	mu       sync.RWMutex
	closed   bool
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		loaders: make(map[BackendType]ModelLoader),
	}
}

// SetPriority configures the backend priority order used when selecting
// backends for model loading.
func (sm *SessionManager) SetPriority(priority []BackendType) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.priority = make([]BackendType, len(priority))
	copy(sm.priority, priority)
}

// getPriority returns the configured priority or the global default.
func (sm *SessionManager) getPriority() []BackendType {
	if len(sm.priority) > 0 {
		result := make([]BackendType, len(sm.priority))
		copy(result, sm.priority)
		return result
	}
	return GetPriority()
}

// GetLoader returns a model loader for the specified backend.
// Creates a new loader if one doesn't exist for this backend.
func (sm *SessionManager) GetLoader(backend BackendType) (ModelLoader, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil, fmt.Errorf("session manager: %w", ErrClosed)
	}
	if loader, ok := sm.loaders[backend]; ok {
		return loader, nil
	}

	b, ok := GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("backend %q not registered: %w", backend, ErrNotSupported)
	}
	if !b.Available() {
		return nil, fmt.Errorf("backend %q not available: %w", backend, ErrNotSupported)
	}

	loader := b.Loader()
	sm.loaders[backend] = loader
	return loader, nil
}

// GetLoaderForModel returns a loader for a model, respecting its backend restrictions.
// If modelBackends is empty, the model supports all backends and the default priority is used.
// Returns the loader and the backend type that was used.
func (sm *SessionManager) GetLoaderForModel(modelBackends []string) (ModelLoader, BackendType, error) {
	sm.mu.RLock()
	priority := sm.getPriority()
	sm.mu.RUnlock()

	modelBackendSet := make(map[BackendType]bool)
	for _, b := range modelBackends {
		modelBackendSet[BackendType(b)] = true
	}

	var lastErr error
	for _, backend := range priority {
		// Skip if model doesn't support this backend (unless model has no restrictions)
		if len(modelBackends) > 0 && !modelBackendSet[backend] {
			continue
		}
		loader, err := sm.GetLoader(backend)
		if err == nil {
			return loader, backend, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		if len(modelBackends) > 0 {
			return nil, "", fmt.Errorf("no available backends matching model requirements %v: last error: %w", modelBackends, lastErr)
		}
		return nil, "", fmt.Errorf("no available backends: last error: %w", lastErr)
	}
	if len(modelBackends) > 0 {
		return nil, "", fmt.Errorf("no available backends matching model requirements %v", modelBackends)
	}
	return nil, "", fmt.Errorf("no available backends")
}

// LoadModel loads a model using the best available backend that also
// reports support for the model directory.
// If modelBackends is non-empty, only those backends are considered.
func (sm *SessionManager) LoadModel(path string, modelBackends []string, opts ...LoadOption) (Model, BackendType, error) {
	sm.mu.RLock()
	priority := sm.getPriority()
	sm.mu.RUnlock()

	allowed := make(map[BackendType]bool)
	for _, b := range modelBackends {
		allowed[BackendType(b)] = true
	}

	var lastErr error
	for _, backend := range priority {
		if len(modelBackends) > 0 && !allowed[backend] {
			continue
		}
		loader, err := sm.GetLoader(backend)
		if err != nil {
			lastErr = err
			continue
		}
		if !loader.SupportsModel(path) {
			lastErr = fmt.Errorf("backend %q does not support model at %s: %w", backend, path, ErrNotSupported)
			continue
		}
		model, err := loader.Load(path, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("loading model with %s backend: %w", backend, err)
		}
		return model, backend, nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("no backend can load %s: %w", path, lastErr)
	}
	return nil, "", fmt.Errorf("no backend can load %s: %w", path, ErrNotSupported)
}

// ActiveBackends returns the list of backends with active loaders.
func (sm *SessionManager) ActiveBackends() []BackendType {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	backends := make([]BackendType, 0, len(sm.loaders))
	for t := range sm.loaders {
		backends = append(backends, t)
	}
	return backends
}

// Close releases all managed resources.
// After Close, the SessionManager cannot be reused.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return nil
	}
	sm.loaders = nil
	sm.closed = true
	return nil
}
