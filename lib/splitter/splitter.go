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

// Package splitter cuts documents into model-sized chunks and merges the
// chunk-level predictions back into document-level predictions.
package splitter

import (
	"fmt"
)

// SpecialTokenOverhead is the number of positions taken by the [CLS] and
// two [SEP] tokens of a prompt/text pair.
const SpecialTokenOverhead = 3

// SequenceTooShortError reports a sequence budget that leaves no room for
// content once the prompt and special tokens are placed.
type SequenceTooShortError struct {
	MaxSeqLen int
	PromptLen int
}

func (e *SequenceTooShortError) Error() string {
	return fmt.Sprintf("max sequence length %d is too short for a prompt of %d characters (need at least %d)",
		e.MaxSeqLen, e.PromptLen, e.PromptLen+SpecialTokenOverhead+1)
}

// ContentBudget returns how many characters of text fit next to a prompt of
// promptLen characters in a sequence of maxSeqLen positions.
func ContentBudget(maxSeqLen, promptLen int) (int, error) {
	budget := maxSeqLen - promptLen - SpecialTokenOverhead
	if budget <= 0 {
		return 0, &SequenceTooShortError{MaxSeqLen: maxSeqLen, PromptLen: promptLen}
	}
	return budget, nil
}

// InputMapping maps each document index to the ordered indices of the
// chunks cut from it. Every chunk belongs to exactly one document.
type InputMapping [][]int

// Split cuts texts into chunks of at most maxLen characters. Lengths are
// counted in runes. With splitSentence set, boundaries are moved back to the
// nearest sentence end that keeps the chunk within maxLen; a sentence longer
// than maxLen is cut into fixed windows. No character is dropped: the chunks
// of a document concatenate back to the document.
func Split(texts []string, maxLen int, splitSentence bool) ([]string, InputMapping, error) {
	if maxLen <= 0 {
		return nil, nil, fmt.Errorf("splitting texts: max length must be positive, got %d", maxLen)
	}
	var chunks []string
	mapping := make(InputMapping, len(texts))
	for i, text := range texts {
		var pieces []string
		if splitSentence {
			pieces = packSentences(Sentences(text), maxLen)
		} else {
			pieces = windows([]rune(text), maxLen)
		}
		mapping[i] = make([]int, len(pieces))
		for j, p := range pieces {
			mapping[i][j] = len(chunks)
			chunks = append(chunks, p)
		}
	}
	return chunks, mapping, nil
}

// windows cuts text into consecutive pieces of maxLen runes. An empty text
// yields a single empty piece so every document keeps one chunk.
func windows(text []rune, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{string(text)}
	}
	pieces := make([]string, 0, (len(text)+maxLen-1)/maxLen)
	for start := 0; start < len(text); start += maxLen {
		end := min(start+maxLen, len(text))
		pieces = append(pieces, string(text[start:end]))
	}
	return pieces
}

// packSentences greedily groups consecutive sentences into chunks of at most
// maxLen runes.
func packSentences(sentences []string, maxLen int) []string {
	if len(sentences) == 0 {
		return []string{""}
	}
	var pieces []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			pieces = append(pieces, string(cur))
			cur = nil
		}
	}
	for _, s := range sentences {
		rs := []rune(s)
		if len(rs) > maxLen {
			flush()
			pieces = append(pieces, windows(rs, maxLen)...)
			continue
		}
		if len(cur)+len(rs) > maxLen {
			flush()
		}
		cur = append(cur, rs...)
	}
	flush()
	return pieces
}
