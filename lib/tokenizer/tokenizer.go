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

// Package tokenizer encodes prompt/text pairs for span-pointer models.
//
// Sub-word splitting is delegated to the WordPiece model of
// github.com/sugarme/tokenizer. The basic pre-tokenizer lives here because
// extraction needs per-token character offsets into each segment, which the
// library's BERT normalizer does not report reliably.
package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	sgtokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/util"
)

// ErrPromptTooLong is returned when the prompt alone does not fit in the
// requested sequence length.
var ErrPromptTooLong = errors.New("prompt does not fit in max sequence length")

// Encoding is a tokenized prompt/text pair laid out as
// [CLS] prompt [SEP] text [SEP].
type Encoding struct {
	IDs           []int32
	TypeIDs       []int32
	PositionIDs   []int32
	AttentionMask []int32
	// Offsets holds rune offsets into the segment each token came from.
	// Special tokens have (0,0).
	Offsets           [][2]int
	SpecialTokensMask []int32
}

// Len returns the number of tokens.
func (e *Encoding) Len() int {
	return len(e.IDs)
}

// PairEncoder is what the extraction pipeline needs from a tokenizer.
type PairEncoder interface {
	// EncodePair encodes prompt and text into at most maxLength tokens,
	// truncating only the text.
	EncodePair(prompt, text string, maxLength int) (*Encoding, error)
	// PadID returns the id used to pad batches.
	PadID() int32
}

// Token is a sub-word with its rune offsets in the input text.
type Token struct {
	ID    int32
	Value string
	Start int
	End   int
}

type config struct {
	lowercase       bool
	stripAccents    bool
	unkToken        string
	clsToken        string
	sepToken        string
	padToken        string
	maxCharsPerWord int
}

// Option configures a WordPiece tokenizer.
type Option func(*config)

// WithLowercase controls lowercasing. Enabled by default.
func WithLowercase(v bool) Option {
	return func(c *config) { c.lowercase = v }
}

// WithStripAccents controls accent stripping. Enabled by default.
func WithStripAccents(v bool) Option {
	return func(c *config) { c.stripAccents = v }
}

// WithSpecialTokens overrides the special token strings.
func WithSpecialTokens(cls, sep, unk, pad string) Option {
	return func(c *config) {
		c.clsToken, c.sepToken, c.unkToken, c.padToken = cls, sep, unk, pad
	}
}

// WithMaxCharsPerWord sets the word length above which a word becomes the
// unknown token.
func WithMaxCharsPerWord(n int) Option {
	return func(c *config) { c.maxCharsPerWord = n }
}

// WordPiece is a BERT-style tokenizer. It is safe for concurrent use.
type WordPiece struct {
	cfg   config
	model sgtokenizer.Model
	vocab model.Vocab
	cls   int32
	sep   int32
	unk   int32
	pad   int32
}

var _ PairEncoder = (*WordPiece)(nil)

// LoadVocab reads a vocab.txt file: one token per line, the id is the line
// number.
func LoadVocab(path string) (model.Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocab: %w", err)
	}
	defer func() { _ = f.Close() }()

	vocab := make(model.Vocab)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; scanner.Scan(); i++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			vocab[line] = i
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}
	return vocab, nil
}

// NewWordPieceFromFile loads vocab.txt and builds a tokenizer from it.
func NewWordPieceFromFile(path string, opts ...Option) (*WordPiece, error) {
	vocab, err := LoadVocab(path)
	if err != nil {
		return nil, err
	}
	return NewWordPiece(vocab, opts...)
}

// NewWordPiece builds a tokenizer over vocab.
func NewWordPiece(vocab model.Vocab, opts ...Option) (*WordPiece, error) {
	cfg := config{
		lowercase:       true,
		stripAccents:    true,
		unkToken:        "[UNK]",
		clsToken:        "[CLS]",
		sepToken:        "[SEP]",
		padToken:        "[PAD]",
		maxCharsPerWord: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &WordPiece{cfg: cfg, vocab: vocab}
	for _, special := range []struct {
		token string
		dst   *int32
	}{
		{cfg.clsToken, &t.cls},
		{cfg.sepToken, &t.sep},
		{cfg.unkToken, &t.unk},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("cannot find ID for %s token", special.token)
		}
		*special.dst = int32(id)
	}
	if id, ok := vocab[cfg.padToken]; ok {
		t.pad = int32(id)
	}

	wp, err := wordpiece.New(vocab, util.NewParams(map[string]any{
		"unk_token":                 cfg.unkToken,
		"max_input_chars_per_word":  cfg.maxCharsPerWord,
		"continuing_subword_prefix": "##",
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create wordpiece model: %w", err)
	}
	t.model = wp
	return t, nil
}

// PadID returns the padding token id, 0 if the vocab has none.
func (t *WordPiece) PadID() int32 {
	return t.pad
}

// VocabSize returns the number of entries in the vocabulary.
func (t *WordPiece) VocabSize() int {
	return len(t.vocab)
}

// Tokenize splits text into sub-word tokens with rune offsets.
func (t *WordPiece) Tokenize(text string) ([]Token, error) {
	var tokens []Token
	for _, w := range t.preTokenize(text) {
		pieces, err := t.tokenizeWord(w)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, pieces...)
	}
	return tokens, nil
}

// tokenizeWord runs WordPiece on one normalized word and maps each piece
// back to rune offsets in the original text.
func (t *WordPiece) tokenizeWord(w word) (tokens []Token, err error) {
	// github.com/sugarme/tokenizer can panic on unusual input.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wordpiece tokenization of %q panicked: %v", w.text, r)
		}
	}()

	pieces, err := t.model.Tokenize(w.text)
	if err != nil {
		return nil, fmt.Errorf("wordpiece tokenization of %q: %w", w.text, err)
	}
	wordStart, wordEnd := w.origin[0], w.origin[len(w.origin)-1]+1
	if len(pieces) == 1 && pieces[0].Value == t.cfg.unkToken {
		return []Token{{ID: t.unk, Value: t.cfg.unkToken, Start: wordStart, End: wordEnd}}, nil
	}

	tokens = make([]Token, 0, len(pieces))
	pos := 0
	for _, p := range pieces {
		n := len([]rune(strings.TrimPrefix(p.Value, "##")))
		if n == 0 || pos+n > len(w.origin) {
			// Offsets cannot be recovered; attribute the piece to the whole word.
			tokens = append(tokens, Token{ID: int32(p.Id), Value: p.Value, Start: wordStart, End: wordEnd})
			continue
		}
		tokens = append(tokens, Token{
			ID:    int32(p.Id),
			Value: p.Value,
			Start: w.origin[pos],
			End:   w.origin[pos+n-1] + 1,
		})
		pos += n
	}
	return tokens, nil
}

// EncodePair encodes prompt and text as [CLS] prompt [SEP] text [SEP]. When
// the pair is longer than maxLength the text is truncated from the right.
func (t *WordPiece) EncodePair(prompt, text string, maxLength int) (*Encoding, error) {
	promptTokens, err := t.Tokenize(prompt)
	if err != nil {
		return nil, fmt.Errorf("tokenizing prompt: %w", err)
	}
	textTokens, err := t.Tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("tokenizing text: %w", err)
	}

	if maxLength > 0 {
		room := maxLength - len(promptTokens) - 3
		if room < 0 {
			return nil, fmt.Errorf("%w: %d prompt tokens, max length %d", ErrPromptTooLong, len(promptTokens), maxLength)
		}
		if len(textTokens) > room {
			textTokens = textTokens[:room]
		}
	}

	n := len(promptTokens) + len(textTokens) + 3
	enc := &Encoding{
		IDs:               make([]int32, 0, n),
		TypeIDs:           make([]int32, 0, n),
		PositionIDs:       make([]int32, n),
		AttentionMask:     make([]int32, n),
		Offsets:           make([][2]int, 0, n),
		SpecialTokensMask: make([]int32, 0, n),
	}
	add := func(id, typeID int32, start, end int, special bool) {
		enc.IDs = append(enc.IDs, id)
		enc.TypeIDs = append(enc.TypeIDs, typeID)
		enc.Offsets = append(enc.Offsets, [2]int{start, end})
		if special {
			enc.SpecialTokensMask = append(enc.SpecialTokensMask, 1)
		} else {
			enc.SpecialTokensMask = append(enc.SpecialTokensMask, 0)
		}
	}

	add(t.cls, 0, 0, 0, true)
	for _, tok := range promptTokens {
		add(tok.ID, 0, tok.Start, tok.End, false)
	}
	add(t.sep, 0, 0, 0, true)
	for _, tok := range textTokens {
		add(tok.ID, 1, tok.Start, tok.End, false)
	}
	add(t.sep, 1, 0, 0, true)

	for i := range n {
		enc.PositionIDs[i] = int32(i)
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}
