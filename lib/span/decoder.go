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

// Package span decodes start/end pointer probabilities into spans and maps
// token positions back to text offsets.
package span

import (
	"fmt"
	"sort"
	"strings"
)

// Position is a token index flagged as a span boundary, together with the
// probability that flagged it.
type Position struct {
	Index int
	Prob  float64
}

// Span pairs a start boundary with an end boundary. Both indices are
// inclusive token positions.
type Span struct {
	Start Position
	End   Position
}

// Scoring combines the start and end probabilities of a span.
type Scoring string

const (
	// ScoringProduct multiplies the two probabilities.
	ScoringProduct Scoring = "product"
	// ScoringMean averages them.
	ScoringMean Scoring = "mean"
	// ScoringMin takes the smaller one.
	ScoringMin Scoring = "min"
)

// ParseScoring parses a scoring name. The empty string selects ScoringProduct.
func ParseScoring(s string) (Scoring, error) {
	switch strings.ToLower(s) {
	case "", "product":
		return ScoringProduct, nil
	case "mean":
		return ScoringMean, nil
	case "min":
		return ScoringMin, nil
	default:
		return "", fmt.Errorf("unknown scoring: %q (valid: product, mean, min)", s)
	}
}

// Combine returns the span probability for the given boundary
// probabilities, clipped to [0,1].
func (s Scoring) Combine(start, end float64) float64 {
	var p float64
	switch s {
	case ScoringMean:
		p = (start + end) / 2
	case ScoringMin:
		p = min(start, end)
	default:
		p = start * end
	}
	return max(0, min(1, p))
}

// Probability returns the confidence of the span under the given scoring.
func (s Span) Probability(scoring Scoring) float64 {
	return scoring.Combine(s.Start.Prob, s.End.Prob)
}

// FlagPositions returns the positions whose probability is strictly greater
// than threshold, in ascending index order.
func FlagPositions(probs []float32, threshold float64) []Position {
	var flagged []Position
	for i, p := range probs {
		if float64(p) > threshold {
			flagged = append(flagged, Position{Index: i, Prob: float64(p)})
		}
	}
	return flagged
}

// Decode pairs start and end boundaries into spans.
//
// Starts are scanned in ascending order. Each start takes the nearest end at
// or after it that no earlier start has taken; a start left without such an
// end is dropped. Ends are never shared, so the spans come out
// non-overlapping and ordered by start.
func Decode(starts, ends []Position) []Span {
	if len(starts) == 0 || len(ends) == 0 {
		return nil
	}
	starts = sortedPositions(starts)
	ends = sortedPositions(ends)

	spans := make([]Span, 0, min(len(starts), len(ends)))
	next := 0
	for _, s := range starts {
		for next < len(ends) && ends[next].Index < s.Index {
			next++
		}
		if next == len(ends) {
			break
		}
		spans = append(spans, Span{Start: s, End: ends[next]})
		next++
	}
	return spans
}

func sortedPositions(ps []Position) []Position {
	if sort.SliceIsSorted(ps, func(i, j int) bool { return ps[i].Index < ps[j].Index }) {
		return ps
	}
	out := make([]Position, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
