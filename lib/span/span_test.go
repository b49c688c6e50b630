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

package span

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagPositions(t *testing.T) {
	probs := []float32{0.1, 0.5, 0.51, 0.9, 0.2}
	got := FlagPositions(probs, 0.5)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Index)
	assert.InDelta(t, 0.51, got[0].Prob, 1e-6)
	assert.Equal(t, 3, got[1].Index)

	assert.Empty(t, FlagPositions(nil, 0.5))
}

func TestDecode_NearestUnconsumedEnd(t *testing.T) {
	starts := []Position{{Index: 2, Prob: 0.9}, {Index: 5, Prob: 0.8}}
	ends := []Position{{Index: 4, Prob: 0.7}, {Index: 6, Prob: 0.6}}

	spans := Decode(starts, ends)
	require.Len(t, spans, 2)
	assert.Equal(t, 2, spans[0].Start.Index)
	assert.Equal(t, 4, spans[0].End.Index)
	assert.Equal(t, 5, spans[1].Start.Index)
	assert.Equal(t, 6, spans[1].End.Index)
	assert.InDelta(t, 0.63, spans[0].Probability(ScoringProduct), 1e-9)
	assert.InDelta(t, 0.48, spans[1].Probability(ScoringProduct), 1e-9)
}

func TestDecode_EndsAreNotShared(t *testing.T) {
	// Both starts precede the only end; the second start has nothing left.
	starts := []Position{{Index: 1, Prob: 0.9}, {Index: 2, Prob: 0.9}}
	ends := []Position{{Index: 5, Prob: 0.9}}

	spans := Decode(starts, ends)
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].Start.Index)
	assert.Equal(t, 5, spans[0].End.Index)
}

func TestDecode_Cases(t *testing.T) {
	tests := []struct {
		name   string
		starts []int
		ends   []int
		want   [][2]int
	}{
		{name: "empty starts", starts: nil, ends: []int{1}, want: nil},
		{name: "empty ends", starts: []int{1}, ends: nil, want: nil},
		{name: "single token span", starts: []int{3}, ends: []int{3}, want: [][2]int{{3, 3}}},
		{name: "start after every end", starts: []int{7}, ends: []int{2, 4}, want: [][2]int{}},
		{name: "skips earlier ends", starts: []int{1, 6}, ends: []int{2, 3, 8}, want: [][2]int{{1, 2}, {6, 8}}},
		{name: "unsorted input", starts: []int{6, 1}, ends: []int{8, 2}, want: [][2]int{{1, 2}, {6, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := Decode(positions(tt.starts), positions(tt.ends))
			got := make([][2]int, 0, len(spans))
			for _, s := range spans {
				got = append(got, [2]int{s.Start.Index, s.End.Index})
			}
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func positions(idx []int) []Position {
	out := make([]Position, len(idx))
	for i, x := range idx {
		out[i] = Position{Index: x, Prob: 0.9}
	}
	return out
}

func TestScoring(t *testing.T) {
	assert.InDelta(t, 0.72, ScoringProduct.Combine(0.9, 0.8), 1e-9)
	assert.InDelta(t, 0.85, ScoringMean.Combine(0.9, 0.8), 1e-9)
	assert.InDelta(t, 0.8, ScoringMin.Combine(0.9, 0.8), 1e-9)
	assert.Equal(t, 1.0, ScoringMean.Combine(1.5, 1.5))
	assert.Equal(t, 0.0, ScoringMin.Combine(-0.1, 0.5))

	s, err := ParseScoring("")
	require.NoError(t, err)
	assert.Equal(t, ScoringProduct, s)
	s, err = ParseScoring("MEAN")
	require.NoError(t, err)
	assert.Equal(t, ScoringMean, s)
	_, err = ParseScoring("max")
	assert.Error(t, err)
}

func TestToTokenIndex(t *testing.T) {
	offsets := [][2]int{{0, 0}, {0, 2}, {2, 3}, {3, 6}, {0, 0}}

	assert.Equal(t, 1, ToTokenIndex(0, offsets))
	assert.Equal(t, 1, ToTokenIndex(1, offsets))
	// Boundary belongs to the token that starts there.
	assert.Equal(t, 2, ToTokenIndex(2, offsets))
	assert.Equal(t, 3, ToTokenIndex(3, offsets))
	assert.Equal(t, NotFound, ToTokenIndex(6, offsets))
	assert.Equal(t, NotFound, ToTokenIndex(-1, offsets))
}

// encoding of "[CLS] 情 感 [ 正 , 负 ] [SEP] 很 好 [SEP]"
func classificationLayout() ([]rune, []rune, [][2]int) {
	prompt := []rune("情感[正,负]")
	text := []rune("很好")
	offsets := [][2]int{
		{0, 0},
		{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}, {5, 6}, {6, 7},
		{0, 0},
		{0, 1}, {1, 2},
		{0, 0},
	}
	return prompt, text, offsets
}

func TestPromptRegion(t *testing.T) {
	_, _, offsets := classificationLayout()
	start, end := PromptRegion(offsets)
	assert.Equal(t, 1, start)
	assert.Equal(t, 8, end)
}

func TestShiftPrompt(t *testing.T) {
	prompt, _, offsets := classificationLayout()
	shifted := ShiftPrompt(offsets, len(prompt))

	assert.Equal(t, [2]int{-8, -7}, shifted[1])
	assert.Equal(t, [2]int{-2, -1}, shifted[7])
	assert.Equal(t, [2]int{0, 0}, shifted[8])
	assert.Equal(t, [2]int{0, 1}, shifted[9])
	// Input is untouched.
	assert.Equal(t, [2]int{0, 1}, offsets[1])
}

func TestToTextSpan(t *testing.T) {
	prompt, text, offsets := classificationLayout()
	shifted := ShiftPrompt(offsets, len(prompt))

	t.Run("text span", func(t *testing.T) {
		ts, ok := ToTextSpan(9, 10, shifted, prompt, text)
		require.True(t, ok)
		assert.Equal(t, TextSpan{Start: 0, End: 2, Text: "很好"}, ts)
	})

	t.Run("prompt span", func(t *testing.T) {
		ts, ok := ToTextSpan(4, 4, shifted, prompt, text)
		require.True(t, ok)
		assert.True(t, ts.FromPrompt)
		assert.Equal(t, "正", ts.Text)
		assert.Equal(t, 3, ts.Start)
		assert.Equal(t, 4, ts.End)
	})

	t.Run("prompt into text", func(t *testing.T) {
		_, ok := ToTextSpan(4, 9, shifted, prompt, text)
		assert.False(t, ok)
	})

	t.Run("special token", func(t *testing.T) {
		_, ok := ToTextSpan(0, 2, shifted, prompt, text)
		assert.False(t, ok)
		_, ok = ToTextSpan(9, 11, shifted, prompt, text)
		assert.False(t, ok)
	})

	t.Run("out of range", func(t *testing.T) {
		_, ok := ToTextSpan(9, 40, shifted, prompt, text)
		assert.False(t, ok)
		_, ok = ToTextSpan(10, 9, shifted, prompt, text)
		assert.False(t, ok)
	})
}
