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
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/tokenizer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	clsID int32 = 1
	sepID int32 = 2
)

// runeEncoder encodes one token per rune, using the code point as id.
type runeEncoder struct{}

func (runeEncoder) PadID() int32 { return 0 }

func (runeEncoder) EncodePair(prompt, text string, maxLength int) (*tokenizer.Encoding, error) {
	p, t := []rune(prompt), []rune(text)
	if maxLength > 0 && len(p)+len(t)+3 > maxLength {
		if len(p)+3 > maxLength {
			return nil, tokenizer.ErrPromptTooLong
		}
		t = t[:maxLength-len(p)-3]
	}
	enc := &tokenizer.Encoding{}
	add := func(id, typ int32, a, b int) {
		enc.IDs = append(enc.IDs, id)
		enc.TypeIDs = append(enc.TypeIDs, typ)
		enc.Offsets = append(enc.Offsets, [2]int{a, b})
		enc.PositionIDs = append(enc.PositionIDs, int32(len(enc.PositionIDs)))
		enc.AttentionMask = append(enc.AttentionMask, 1)
	}
	add(clsID, 0, 0, 0)
	for i, r := range p {
		add(int32(r), 0, i, i+1)
	}
	add(sepID, 0, 0, 0)
	for i, r := range t {
		add(int32(r), 1, i, i+1)
	}
	add(sepID, 1, 0, 0)
	return enc, nil
}

// answerModel points at fixed answers. For every row it decodes the prompt
// and text back from the rune ids and flags each answer of the prompt,
// looking in the text first and then in the prompt.
type answerModel struct {
	answers map[string][]string
	prob    float32

	mu      sync.Mutex
	prompts []string
	batches int
}

func newAnswerModel(answers map[string][]string) *answerModel {
	return &answerModel{answers: answers, prob: 0.9}
}

func (m *answerModel) Forward(_ context.Context, in *backends.ModelInputs) (*backends.ModelOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++

	out := &backends.ModelOutput{}
	for i, ids := range in.InputIDs {
		starts := make([]float32, len(ids))
		ends := make([]float32, len(ids))

		sep := 1
		for ids[sep] != sepID {
			sep++
		}
		last := sep + 1
		for last < len(ids) && in.AttentionMask[i][last] == 1 && ids[last] != sepID {
			last++
		}
		prompt := idsToString(ids[1:sep])
		text := idsToString(ids[sep+1 : last])
		m.prompts = append(m.prompts, prompt)

		for _, answer := range m.answers[prompt] {
			n := utf8.RuneCountInString(answer)
			if at := runeIndex(text, answer); at >= 0 {
				starts[sep+1+at] = m.prob
				ends[sep+at+n] = m.prob
			} else if at := runeIndex(prompt, answer); at >= 0 {
				starts[1+at] = m.prob
				ends[at+n] = m.prob
			}
		}
		out.StartProbs = append(out.StartProbs, starts)
		out.EndProbs = append(out.EndProbs, ends)
	}
	return out, nil
}

func (m *answerModel) Close() error                  { return nil }
func (m *answerModel) Name() string                  { return "answers" }
func (m *answerModel) Backend() backends.BackendType { return "fake" }

func (m *answerModel) seenPrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func idsToString(ids []int32) string {
	rs := make([]rune, len(ids))
	for i, id := range ids {
		rs[i] = rune(id)
	}
	return string(rs)
}

func runeIndex(s, sub string) int {
	at := strings.Index(s, sub)
	if at < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:at])
}

func newTestExtractor(t *testing.T, model backends.Model, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(pipelines.New(runeEncoder{}, model), zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return e
}

// fakePredictor answers every example through fn and records the calls.
type fakePredictor struct {
	fn    func(Example) []*Result
	err   error
	calls [][]Example
}

func (f *fakePredictor) Predict(_ context.Context, examples []Example, _ Options) ([][]*Result, error) {
	f.calls = append(f.calls, examples)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]*Result, len(examples))
	for i, ex := range examples {
		out[i] = f.fn(ex)
	}
	return out, nil
}

func (f *fakePredictor) Close() error { return nil }

func newFakeExtractor(t *testing.T, f *fakePredictor) *Extractor {
	t.Helper()
	return &Extractor{
		name:      "fake",
		predictor: f,
		opts:      DefaultOptions(),
		logger:    zaptest.NewLogger(t),
	}
}

func resultTexts(rs ...*Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Text
	}
	return out
}
