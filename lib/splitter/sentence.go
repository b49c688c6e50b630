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

import "strings"

const (
	terminals     = "。！？?"
	closingQuotes = "”’"
	// characters that keep a closing quote attached to the following text
	continuation = "，。！？?"
)

// Sentences cuts text after sentence-ending punctuation and after newlines.
// A sentence ends at 。！？ or ?, at a run of six periods, or at a double
// ellipsis, unless a closing quote follows; the quote then ends the sentence
// unless more punctuation follows it. A newline stays with the sentence
// before it. The pieces concatenate back to text.
func Sentences(text string) []string {
	rs := []rune(text)
	if len(rs) == 0 {
		return nil
	}
	var out []string
	start := 0
	cut := func(end int) {
		if end > start {
			out = append(out, string(rs[start:end]))
			start = end
		}
	}
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '\n' {
			cut(i + 1)
			continue
		}
		if i+1 >= len(rs) {
			break
		}
		next := rs[i+1]
		if next == '\n' {
			continue
		}
		switch {
		case strings.ContainsRune(terminals, r):
			if strings.ContainsRune(terminals, next) {
				// cut once after a run like "？！"
				break
			}
			if !strings.ContainsRune(closingQuotes, next) {
				cut(i + 1)
			} else if i+2 < len(rs) && rs[i+2] != '\n' && !strings.ContainsRune(continuation, rs[i+2]) {
				cut(i + 2)
				i++
			}
		case r == '.' && runOf(rs, i, '.') >= 6:
			if !strings.ContainsRune(closingQuotes, next) {
				cut(i + 1)
			}
		case r == '…' && runOf(rs, i, '…') >= 2:
			if !strings.ContainsRune(closingQuotes, next) {
				cut(i + 1)
			}
		}
	}
	cut(len(rs))
	return out
}

// runOf returns the length of the run of r that ends at index end, or 0 if
// the run continues past end.
func runOf(rs []rune, end int, r rune) int {
	n := 0
	for i := end; i >= 0 && rs[i] == r; i-- {
		n++
	}
	if n > 0 && end+1 < len(rs) && rs[end+1] == r {
		return 0
	}
	return n
}
