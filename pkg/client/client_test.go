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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antflydb/uie"
	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// echoExtractor answers every label with the whole text.
type echoExtractor struct{}

func (echoExtractor) Extract(_ context.Context, texts []string, tree *schema.Node, _ ...extraction.Option) ([]extraction.Document, error) {
	docs := make([]extraction.Document, len(texts))
	for i, text := range texts {
		start, end := 0, len([]rune(text))
		docs[i] = extraction.Document{}
		for _, label := range tree.Labels() {
			docs[i][label] = []*extraction.Result{{Text: text, Start: &start, End: &end, Probability: 0.75}}
		}
	}
	return docs, nil
}

func (echoExtractor) Options() extraction.Options { return extraction.DefaultOptions() }

func (echoExtractor) Close() error { return nil }

type staticProvider map[string]uie.Extractor

func (p staticProvider) Get(name string) (uie.Extractor, error) {
	if e, ok := p[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", uie.ErrModelNotFound, name)
}

func (p staticProvider) List() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	return names
}

func (p staticProvider) Close() error { return nil }

func newTestServer(t *testing.T, provider uie.ExtractorProvider) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	server := httptest.NewServer(uie.NewHandler(logger, uie.NewUIENode(logger, provider, nil, nil)))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Extract(t *testing.T) {
	server := newTestServer(t, staticProvider{"uie-base": echoExtractor{}})

	c, err := NewUIEClient(server.URL+"/", nil)
	require.NoError(t, err)

	prob := 0.4
	docs, err := c.Extract(context.Background(), "uie-base", []string{"北京", "上海市"}, `{"地点":["面积"]}`, &ExtractOptions{PositionProb: &prob})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Len(t, docs[1]["地点"], 1)
	assert.Equal(t, "上海市", docs[1]["地点"][0].Text)
	assert.Equal(t, 3, *docs[1]["地点"][0].End)
	assert.InDelta(t, 0.75, docs[1]["地点"][0].Probability, 1e-9)
}

func TestClient_Extract_SendsSchemaVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/extract", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &req))
		assert.JSONEq(t, `{"b":[],"a":["x"]}`, string(req["schema"]))
		assert.Contains(t, string(body), `{"b":[],"a":["x"]}`)
		_, hasOptions := req["options"]
		assert.False(t, hasOptions)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m","results":[{}]}`))
	}))
	defer server.Close()

	c, err := NewUIEClient(server.URL, server.Client())
	require.NoError(t, err)

	docs, err := c.Extract(context.Background(), "m", []string{"t"}, `{"b":[],"a":["x"]}`, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestClient_Extract_Errors(t *testing.T) {
	server := newTestServer(t, staticProvider{"uie-base": echoExtractor{}})
	c, err := NewUIEClient(server.URL, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Extract(ctx, "missing", []string{"t"}, `"a"`, nil)
	assert.ErrorIs(t, err, ErrModelNotFound)

	batch := 0
	_, err = c.Extract(ctx, "uie-base", []string{"t"}, `"a"`, &ExtractOptions{BatchSize: &batch})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = c.Extract(ctx, "uie-base", nil, `"a"`, nil)
	assert.ErrorIs(t, err, ErrBadRequest)

	// Invalid schemas fail before any request is sent.
	var schemaErr *schema.SchemaTypeError
	_, err = c.Extract(ctx, "uie-base", []string{"t"}, `[1]`, nil)
	assert.ErrorAs(t, err, &schemaErr)

	empty := newTestServer(t, staticProvider{})
	c, err = NewUIEClient(empty.URL, nil)
	require.NoError(t, err)
	_, err = c.Extract(ctx, "uie-base", []string{"t"}, `"a"`, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ListModelsAndVersion(t *testing.T) {
	server := newTestServer(t, staticProvider{"uie-base": echoExtractor{}})
	c, err := NewUIEClient(server.URL, nil)
	require.NoError(t, err)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "uie-base", models[0].Name)

	version, err := c.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uie.Version, version.Version)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	c, err := NewUIEClient(server.URL, nil)
	require.NoError(t, err)
	_, err = c.ListModels(context.Background())
	assert.ErrorContains(t, err, "unexpected status code 418")

	_, err = NewUIEClient("", nil)
	assert.Error(t, err)
}

// The client keeps its own copies of the API types; every field must encode
// exactly as the server's does.
func TestClient_TypesMatchServer(t *testing.T) {
	seqLen, batch, split, prob, scoring, particle, normalize := 256, 4, true, 0.4, "mean", "和", true
	serverOpts, err := json.Marshal(uie.ExtractOptions{
		MaxSeqLen: &seqLen, BatchSize: &batch, SplitSentence: &split, PositionProb: &prob,
		Scoring: &scoring, LinkingParticle: &particle, NormalizePrompt: &normalize,
	})
	require.NoError(t, err)
	clientOpts, err := json.Marshal(ExtractOptions{
		MaxSeqLen: &seqLen, BatchSize: &batch, SplitSentence: &split, PositionProb: &prob,
		Scoring: &scoring, LinkingParticle: &particle, NormalizePrompt: &normalize,
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(serverOpts), string(clientOpts))

	start, end := 0, 2
	serverDoc, err := json.Marshal(extraction.Document{"地点": {{
		Text: "北京", Start: &start, End: &end, Probability: 0.9,
		Relations: map[string][]*extraction.Result{"面积": {{Text: "1.6万", Probability: 0.8}}},
	}}})
	require.NoError(t, err)
	clientDoc, err := json.Marshal(Document{"地点": {{
		Text: "北京", Start: &start, End: &end, Probability: 0.9,
		Relations: map[string][]*Result{"面积": {{Text: "1.6万", Probability: 0.8}}},
	}}})
	require.NoError(t, err)
	assert.JSONEq(t, string(serverDoc), string(clientDoc))

	serverModel, err := json.Marshal(uie.ModelSummary{Name: "m", Loaded: true, Description: "d", MaxSeqLen: 512})
	require.NoError(t, err)
	clientModel, err := json.Marshal(ModelSummary{Name: "m", Loaded: true, Description: "d", MaxSeqLen: 512})
	require.NoError(t, err)
	assert.JSONEq(t, string(serverModel), string(clientModel))

	serverVersion, err := json.Marshal(uie.VersionResponse{Version: "v", GitCommit: "c", BuildTime: "b", GoVersion: "g"})
	require.NoError(t, err)
	clientVersion, err := json.Marshal(VersionResponse{Version: "v", GitCommit: "c", BuildTime: "b", GoVersion: "g"})
	require.NoError(t, err)
	assert.JSONEq(t, string(serverVersion), string(clientVersion))
}
