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

// NotFound is returned by ToTokenIndex when no token covers an offset.
const NotFound = -1

// ToTokenIndex returns the index of the first token whose half-open offset
// range [a,b) contains rawOffset, or NotFound. Offsets past a truncation
// boundary legitimately have no token.
func ToTokenIndex(rawOffset int, offsets [][2]int) int {
	for i, o := range offsets {
		if o[0] <= rawOffset && rawOffset < o[1] {
			return i
		}
	}
	return NotFound
}

func zeroWidth(o [2]int) bool {
	return o[0] == 0 && o[1] == 0
}

// PromptRegion returns the token range [start,end) holding the prompt: the
// run of tokens after the leading special token up to the first zero-width
// separator.
func PromptRegion(offsets [][2]int) (start, end int) {
	if len(offsets) < 2 {
		return 1, 1
	}
	end = 1
	for end < len(offsets) && !zeroWidth(offsets[end]) {
		end++
	}
	return 1, end
}

// ShiftPrompt returns a copy of offsets in which the prompt tokens are moved
// to negative positions by subtracting promptLen+1. Text offsets and the
// zero-width special tokens are unchanged, so the sign of an offset tells
// which segment it indexes.
func ShiftPrompt(offsets [][2]int, promptLen int) [][2]int {
	shifted := make([][2]int, len(offsets))
	copy(shifted, offsets)
	start, end := PromptRegion(offsets)
	bias := promptLen + 1
	for i := start; i < end; i++ {
		shifted[i][0] -= bias
		shifted[i][1] -= bias
	}
	return shifted
}

// TextSpan is a span resolved to characters of the prompt or the text.
type TextSpan struct {
	Start int
	End   int
	Text  string
	// FromPrompt marks a classification result whose text was taken from
	// the prompt. Start and End then index the prompt.
	FromPrompt bool
}

// ToTextSpan resolves the inclusive token span [startTok,endTok] against
// offsets produced by ShiftPrompt. Spans that touch a special token, cross
// from the prompt into the text, or fall outside either segment are
// rejected.
func ToTextSpan(startTok, endTok int, offsets [][2]int, prompt, text []rune) (TextSpan, bool) {
	if startTok < 0 || endTok < startTok || endTok >= len(offsets) {
		return TextSpan{}, false
	}
	if zeroWidth(offsets[startTok]) || zeroWidth(offsets[endTok]) {
		return TextSpan{}, false
	}
	start, end := offsets[startTok][0], offsets[endTok][1]
	switch {
	case start < 0 && end >= 0:
		return TextSpan{}, false
	case end < 0:
		bias := len(prompt) + 1
		start += bias
		end += bias
		if start < 0 || end > len(prompt) || start >= end {
			return TextSpan{}, false
		}
		return TextSpan{Start: start, End: end, Text: string(prompt[start:end]), FromPrompt: true}, true
	default:
		if end > len(text) || start >= end {
			return TextSpan{}, false
		}
		return TextSpan{Start: start, End: end, Text: string(text[start:end])}, true
	}
}
