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
	"strings"

	"github.com/antflydb/uie/lib/splitter"
	"github.com/bytedance/sonic"
	"golang.org/x/text/width"
)

// JSON encodes documents with labels in sorted order, so identical results
// always produce identical bytes.
var JSON = sonic.Config{SortMapKeys: true}.Froze()

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

// Example is one prompt applied to one text.
type Example struct {
	Text   string
	Prompt string
}

func toResults(preds []splitter.Prediction) []*Result {
	if len(preds) == 0 {
		return nil
	}
	results := make([]*Result, len(preds))
	for i, p := range preds {
		r := &Result{Text: p.Text, Probability: p.Probability}
		if !p.Classification {
			start, end := p.Start, p.End
			r.Start, r.End = &start, &end
		}
		results[i] = r
	}
	return results
}

// NormalizePrompt maps full-width ASCII variants (U+FF01 to U+FF5E) and the
// ideographic space to their half-width forms. Other characters, half-width
// katakana and full-width symbols such as U+FFE5 included, are kept.
func NormalizePrompt(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\u3000':
			return ' '
		case r >= '\uff01' && r <= '\uff5e':
			return width.LookupRune(r).Narrow()
		default:
			return r
		}
	}, s)
}
