package embeddings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"hello", "world", ",", "!",
	"un", "##aff", "##able",
	"cafe", "中", "the",
}

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(tokens, "\n")+"\n"), 0o644))
	return path
}

func TestLoadVocabulary(t *testing.T) {
	t.Run("ids are line numbers", func(t *testing.T) {
		v, err := LoadVocabulary(writeVocab(t, testVocab))
		require.NoError(t, err)
		assert.Equal(t, len(testVocab), v.Size())
		assert.Equal(t, int64(4), v.Lookup("hello"))
		assert.Equal(t, int64(1), v.Lookup("missing"))
		assert.True(t, v.Contains("##aff"))

		cls, ok := v.Special(TokenCLS)
		assert.True(t, ok)
		assert.Equal(t, int64(2), cls)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadVocabulary(filepath.Join(t.TempDir(), "nope.txt"))
		assert.ErrorIs(t, err, ErrConfigError)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vocab.txt")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := LoadVocabulary(path)
		assert.ErrorIs(t, err, ErrConfigError)
	})

	t.Run("missing special token", func(t *testing.T) {
		_, err := NewVocabulary([]string{"[PAD]", "[UNK]", "[CLS]", "hello"})
		assert.ErrorIs(t, err, ErrConfigError)
		assert.Contains(t, err.Error(), "[SEP]")
	})
}

func TestWordPieceTokenizer(t *testing.T) {
	tok, err := LoadWordPieceTokenizer(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  string
		tokens []string
		ids    []int64
	}{
		{"punctuation split", "Hello, World!", []string{"hello", ",", "world", "!"}, []int64{4, 6, 5, 7}},
		{"wordpiece continuation", "unaffable", []string{"un", "##aff", "##able"}, []int64{8, 9, 10}},
		{"accents stripped", "Café", []string{"cafe"}, []int64{11}},
		{"unknown word", "xyz", []string{"[UNK]"}, []int64{1}},
		{"cjk split", "中the", []string{"中", "the"}, []int64{12, 13}},
		{"whitespace and control chars", " hello\t\x00world\n", []string{"hello", "world"}, []int64{4, 5}},
		{"overlong word", strings.Repeat("a", maxWordRunes+1), []string{"[UNK]"}, []int64{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tokens, tok.Tokens(tt.input))
			ids, err := tok.Tokenize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.ids, ids)
		})
	}

	t.Run("empty text", func(t *testing.T) {
		ids, err := tok.Tokenize("")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("special tokens", func(t *testing.T) {
		sep, err := tok.SpecialTokenID(TokenSEP)
		require.NoError(t, err)
		assert.Equal(t, int64(3), sep)

		_, err = tok.SpecialTokenID(SpecialToken("[MASK]"))
		assert.ErrorIs(t, err, ErrTokenizationFailed)
	})
}

func TestWordPieceTokenizerCaseSensitive(t *testing.T) {
	tok, err := LoadWordPieceTokenizer(writeVocab(t, testVocab), false)
	require.NoError(t, err)

	ids, err := tok.Tokenize("Hello hello")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids)
}

func TestWordPieceTokenizerDropsFormatChars(t *testing.T) {
	vocab := append(append([]string(nil), testVocab...), "foobar", "softhyphen")
	for _, lower := range []bool{true, false} {
		tok, err := LoadWordPieceTokenizer(writeVocab(t, vocab), lower)
		require.NoError(t, err)

		assert.Equal(t, []string{"foobar"}, tok.Tokens("foo​bar"), "zero width space")
		assert.Equal(t, []string{"softhyphen"}, tok.Tokens("soft­hyphen"), "soft hyphen")
		assert.Equal(t, []string{"foobar"}, tok.Tokens("\uFEFFfoobar"), "byte order mark")
	}
}
