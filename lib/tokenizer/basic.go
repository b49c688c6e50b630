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

package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// word is a pre-token. origin[i] is the rune offset in the input of the
// i-th rune of the normalized text.
type word struct {
	text   string
	origin []int
}

// preTokenize cleans, normalizes and splits text the way BERT's basic
// tokenizer does: whitespace separates words, and every CJK character and
// punctuation mark is a word of its own. Offsets are kept per rune.
func (t *WordPiece) preTokenize(text string) []word {
	var words []word
	var sb strings.Builder
	var origin []int
	flush := func() {
		if sb.Len() > 0 {
			words = append(words, word{text: sb.String(), origin: origin})
			sb.Reset()
			origin = nil
		}
	}

	i := 0
	for _, r := range text {
		pos := i
		i++
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
			continue
		case unicode.IsSpace(r):
			flush()
		case isCJK(r) || isPunctuation(r):
			flush()
			if n := t.normalizeRune(r); n != "" {
				sb.WriteString(n)
				for range []rune(n) {
					origin = append(origin, pos)
				}
				flush()
			}
		default:
			for _, nr := range t.normalizeRune(r) {
				sb.WriteRune(nr)
				origin = append(origin, pos)
			}
		}
	}
	flush()
	return words
}

// normalizeRune lowercases and strips accents from a single rune. The
// result may be empty (a lone combining mark) or longer than one rune.
func (t *WordPiece) normalizeRune(r rune) string {
	s := string(r)
	if t.cfg.lowercase {
		s = strings.ToLower(s)
	}
	if t.cfg.stripAccents {
		s = stripAccents(s)
	}
	return s
}

func stripAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var sb strings.Builder
	sb.Grow(len(decomposed))
	for _, r := range decomposed {
		if !unicode.Is(unicode.Mn, r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || unicode.In(r, unicode.Cf)
}

// isPunctuation treats all non-alphanumeric ASCII symbols as punctuation,
// along with the Unicode P categories.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
