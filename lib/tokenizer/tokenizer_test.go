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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/tokenizer/model"
)

var testTokens = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"时", "间", "选", "手", "北", "京",
	"hel", "##lo", "world", ",", "!", "2022", "年",
}

func testVocab() model.Vocab {
	vocab := make(model.Vocab, len(testTokens))
	for i, tok := range testTokens {
		vocab[tok] = i
	}
	return vocab
}

func newTestTokenizer(t *testing.T, opts ...Option) *WordPiece {
	t.Helper()
	tk, err := NewWordPiece(testVocab(), opts...)
	require.NoError(t, err)
	return tk
}

func values(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Value
	}
	return out
}

func TestTokenize_SubwordsAndOffsets(t *testing.T) {
	tk := newTestTokenizer(t)

	tokens, err := tk.Tokenize("Hello, World!")
	require.NoError(t, err)
	assert.Equal(t, []string{"hel", "##lo", ",", "world", "!"}, values(tokens))

	assert.Equal(t, Token{ID: 10, Value: "hel", Start: 0, End: 3}, tokens[0])
	assert.Equal(t, Token{ID: 11, Value: "##lo", Start: 3, End: 5}, tokens[1])
	assert.Equal(t, 5, tokens[2].Start)
	assert.Equal(t, 7, tokens[3].Start)
	assert.Equal(t, 12, tokens[3].End)
	assert.Equal(t, 12, tokens[4].Start)
}

func TestTokenize_CJKIsSplitPerCharacter(t *testing.T) {
	tk := newTestTokenizer(t)

	tokens, err := tk.Tokenize("2022年北京")
	require.NoError(t, err)
	assert.Equal(t, []string{"2022", "年", "北", "京"}, values(tokens))
	assert.Equal(t, 4, tokens[1].Start)
	assert.Equal(t, 5, tokens[1].End)
	assert.Equal(t, 6, tokens[3].Start)
}

func TestTokenize_Unknown(t *testing.T) {
	tk := newTestTokenizer(t)

	tokens, err := tk.Tokenize("xyz 北")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, Token{ID: 1, Value: "[UNK]", Start: 0, End: 3}, tokens[0])
	assert.Equal(t, 4, tokens[1].Start)
}

func TestTokenize_StripsAccentsAndControls(t *testing.T) {
	tk := newTestTokenizer(t)

	tokens, err := tk.Tokenize("Hél\u0000lo")
	require.NoError(t, err)
	assert.Equal(t, []string{"hel", "##lo"}, values(tokens))
	// The control character is dropped but still counts as a position.
	assert.Equal(t, 0, tokens[0].Start)
	assert.Equal(t, 3, tokens[0].End)
	assert.Equal(t, 4, tokens[1].Start)
	assert.Equal(t, 6, tokens[1].End)
}

func TestTokenize_CaseSensitive(t *testing.T) {
	tk := newTestTokenizer(t, WithLowercase(false))

	tokens, err := tk.Tokenize("World")
	require.NoError(t, err)
	assert.Equal(t, []string{"[UNK]"}, values(tokens))
}

func TestEncodePair(t *testing.T) {
	tk := newTestTokenizer(t)

	enc, err := tk.EncodePair("时间", "2022年北京", 32)
	require.NoError(t, err)

	// [CLS] 时 间 [SEP] 2022 年 北 京 [SEP]
	assert.Equal(t, []int32{2, 4, 5, 3, 15, 16, 8, 9, 3}, enc.IDs)
	assert.Equal(t, []int32{0, 0, 0, 0, 1, 1, 1, 1, 1}, enc.TypeIDs)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8}, enc.PositionIDs)
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 1, 1, 1, 1}, enc.AttentionMask)
	assert.Equal(t, []int32{1, 0, 0, 1, 0, 0, 0, 0, 1}, enc.SpecialTokensMask)
	assert.Equal(t, [][2]int{
		{0, 0}, {0, 1}, {1, 2}, {0, 0}, {0, 4}, {4, 5}, {5, 6}, {6, 7}, {0, 0},
	}, enc.Offsets)
	assert.Equal(t, 9, enc.Len())
}

func TestEncodePair_TruncatesText(t *testing.T) {
	tk := newTestTokenizer(t)

	enc, err := tk.EncodePair("时间", "2022年北京", 7)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 4, 5, 3, 15, 16, 3}, enc.IDs)

	_, err = tk.EncodePair("时间选手", "北京", 6)
	assert.ErrorIs(t, err, ErrPromptTooLong)
}

func TestNewWordPiece_MissingSpecialToken(t *testing.T) {
	vocab := model.Vocab{"[CLS]": 0, "[SEP]": 1}
	_, err := NewWordPiece(vocab)
	assert.Error(t, err)
}

func TestLoadVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(testTokens, "\r\n")+"\n"), 0o644))

	tk, err := NewWordPieceFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, len(testTokens), tk.VocabSize())
	assert.Equal(t, int32(0), tk.PadID())

	_, err = LoadVocab(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
