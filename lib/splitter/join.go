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

package splitter

import "unicode/utf8"

// Prediction is a single chunk-level result. Span predictions carry rune
// offsets into their chunk; classification predictions carry none.
type Prediction struct {
	Text           string
	Start          int
	End            int
	Probability    float64
	Classification bool
}

// Join merges chunk predictions into document predictions using the mapping
// returned by Split.
//
// The mode is taken from the first non-empty chunk. In classification mode
// each chunk votes with its first prediction; the label with the most votes
// wins, ties go to the higher summed probability and then to the label seen
// first. The winner is reported with its mean probability. In span mode the
// offsets of every chunk are shifted by the length of the chunks before it
// and the lists are concatenated in chunk order.
func Join(chunkResults [][]Prediction, chunkTexts []string, mapping InputMapping) [][]Prediction {
	out := make([][]Prediction, len(mapping))
	if isClassification(chunkResults) {
		for doc, chunks := range mapping {
			out[doc] = vote(chunkResults, chunks)
		}
		return out
	}
	for doc, chunks := range mapping {
		offset := 0
		var merged []Prediction
		for _, idx := range chunks {
			for _, p := range chunkResults[idx] {
				if !p.Classification {
					p.Start += offset
					p.End += offset
				}
				merged = append(merged, p)
			}
			offset += utf8.RuneCountInString(chunkTexts[idx])
		}
		out[doc] = merged
	}
	return out
}

func isClassification(chunkResults [][]Prediction) bool {
	for _, preds := range chunkResults {
		if len(preds) > 0 {
			return preds[0].Classification
		}
	}
	return false
}

type tally struct {
	label string
	count int
	sum   float64
}

func vote(chunkResults [][]Prediction, chunks []int) []Prediction {
	var tallies []*tally
	byLabel := make(map[string]*tally)
	for _, idx := range chunks {
		if len(chunkResults[idx]) == 0 {
			continue
		}
		p := chunkResults[idx][0]
		t, ok := byLabel[p.Text]
		if !ok {
			t = &tally{label: p.Text}
			byLabel[p.Text] = t
			tallies = append(tallies, t)
		}
		t.count++
		t.sum += p.Probability
	}
	if len(tallies) == 0 {
		return nil
	}
	best := tallies[0]
	for _, t := range tallies[1:] {
		if t.count > best.count || (t.count == best.count && t.sum > best.sum) {
			best = t
		}
	}
	return []Prediction{{
		Text:           best.label,
		Probability:    best.sum / float64(best.count),
		Classification: true,
	}}
}
