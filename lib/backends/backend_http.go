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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

func init() {
	RegisterBackend(&httpBackend{})
}

// httpBackend runs models hosted behind an HTTP inference server. Each
// forward pass is one POST whose JSON body maps input tensor names to
// [batch, seq] arrays; the reply maps output tensor names to [batch, seq]
// probabilities.
type httpBackend struct {
	client *http.Client
}

func (b *httpBackend) Type() BackendType {
	return BackendHTTP
}

func (b *httpBackend) Name() string {
	return "HTTP (remote)"
}

func (b *httpBackend) Available() bool {
	return true
}

func (b *httpBackend) Priority() int {
	return 50
}

func (b *httpBackend) Loader() ModelLoader {
	client := b.client
	if client == nil {
		client = http.DefaultClient
	}
	return &httpModelLoader{client: client}
}

type httpModelLoader struct {
	client *http.Client
}

// NewHTTPModel returns a model that forwards batches to endpoint.
func NewHTTPModel(name, endpoint string, client *http.Client, opts ...LoadOption) (Model, error) {
	config := ApplyOptions(append(opts, WithEndpoint(endpoint))...)
	if client == nil {
		client = http.DefaultClient
	}
	return newHTTPModel(name, config, client)
}

func (l *httpModelLoader) Load(path string, opts ...LoadOption) (Model, error) {
	return newHTTPModel(path, ApplyOptions(opts...), l.client)
}

func newHTTPModel(name string, config *LoadConfig, client *http.Client) (Model, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("http backend: no endpoint configured for %s", name)
	}
	return &httpModel{name: name, config: config, client: client}, nil
}

// SupportsModel always returns true; whether an endpoint is configured is
// checked at load time.
func (l *httpModelLoader) SupportsModel(path string) bool {
	return true
}

func (l *httpModelLoader) Backend() BackendType {
	return BackendHTTP
}

type httpModel struct {
	name   string
	config *LoadConfig
	client *http.Client
	closed atomic.Bool
}

func (m *httpModel) Forward(ctx context.Context, inputs *ModelInputs) (*ModelOutput, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("model %s: %w", m.name, ErrClosed)
	}
	batch, seq := inputs.BatchSize(), inputs.SeqLen()
	if batch == 0 {
		return &ModelOutput{}, nil
	}

	names := m.config.Names
	body := map[string][][]int32{
		names.InputIDs:      inputs.InputIDs,
		names.TokenTypeIDs:  inputs.TokenTypeIDs,
		names.PositionIDs:   inputs.PositionIDs,
		names.AttentionMask: inputs.AttentionMask,
	}
	var buf bytes.Buffer
	if err := encoder.NewStreamEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding inference request: %w", err)
	}

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending inference request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("inference server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var result map[string][][]float32
	if err := decoder.NewStreamDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding inference response: %w", err)
	}
	out := &ModelOutput{
		StartProbs: result[names.StartProb],
		EndProbs:   result[names.EndProb],
	}
	if err := out.CheckShape(batch, seq); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *httpModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *httpModel) Name() string {
	return m.name
}

func (m *httpModel) Backend() BackendType {
	return BackendHTTP
}
