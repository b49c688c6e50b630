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

// Package client provides a Go client for the UIE extraction API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antflydb/uie/lib/schema"
	"github.com/bytedance/sonic"
)

var (
	// ErrBadRequest is returned when the server rejects a request (HTTP 400).
	ErrBadRequest = errors.New("bad request")
	// ErrModelNotFound is returned for models the server does not know (HTTP 404).
	ErrModelNotFound = errors.New("model not found")
	// ErrUnavailable is returned when the server has no models or its queue is full.
	ErrUnavailable = errors.New("service unavailable")
)

// UIEClient is a client for interacting with the UIE API.
type UIEClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewUIEClient creates a new UIE client.
// The baseURL should be the server address (e.g., "http://localhost:11544").
// The /api prefix is automatically appended.
func NewUIEClient(baseURL string, httpClient *http.Client) (*UIEClient, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UIEClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api",
	}, nil
}

// ExtractOptions override the model's extraction options for one request.
// Nil fields keep the server defaults.
type ExtractOptions struct {
	MaxSeqLen       *int     `json:"max_seq_len,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	SplitSentence   *bool    `json:"split_sentence,omitempty"`
	PositionProb    *float64 `json:"position_prob,omitempty"`
	Scoring         *string  `json:"scoring,omitempty"`
	LinkingParticle *string  `json:"linking_particle,omitempty"`
	NormalizePrompt *bool    `json:"normalize_prompt,omitempty"`
}

// Result is one extracted span or classification label. Classification
// results carry no offsets.
type Result struct {
	Text        string               `json:"text"`
	Start       *int                 `json:"start,omitempty"`
	End         *int                 `json:"end,omitempty"`
	Probability float64              `json:"probability"`
	Relations   map[string][]*Result `json:"relations,omitempty"`
}

// Document maps each top-level schema label to its results.
type Document map[string][]*Result

// ModelSummary describes one model known to the server.
type ModelSummary struct {
	Name        string `json:"name"`
	Loaded      bool   `json:"loaded"`
	Description string `json:"description,omitempty"`
	MaxSeqLen   int    `json:"max_seq_len,omitempty"`
}

// VersionResponse is the server build information.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

type extractRequest struct {
	Model   string          `json:"model"`
	Texts   []string        `json:"texts"`
	Schema  json.RawMessage `json:"schema"`
	Options *ExtractOptions `json:"options,omitempty"`
}

type extractResponse struct {
	Model   string     `json:"model"`
	Results []Document `json:"results"`
}

type modelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// Extract runs a JSON schema literal against texts. The schema is sent
// verbatim so object key order is kept.
func (c *UIEClient) Extract(ctx context.Context, model string, texts []string, schemaJSON string, opts *ExtractOptions) ([]Document, error) {
	if _, err := schema.ParseString(schemaJSON); err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(extractRequest{
		Model:   model,
		Texts:   texts,
		Schema:  json.RawMessage(schemaJSON),
		Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var resp extractResponse
	if err := c.do(ctx, http.MethodPost, "/extract", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListModels returns the models known to the server.
func (c *UIEClient) ListModels(ctx context.Context) ([]ModelSummary, error) {
	var resp modelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// GetVersion returns the server build information.
func (c *UIEClient) GetVersion(ctx context.Context) (*VersionResponse, error) {
	var resp VersionResponse
	if err := c.do(ctx, http.MethodGet, "/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *UIEClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	msg := strings.TrimSpace(string(data))
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	case http.StatusInternalServerError:
		return fmt.Errorf("server error: %s", msg)
	default:
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, msg)
	}

	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
