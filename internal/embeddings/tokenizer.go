package embeddings

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxWordRunes is the longest basic token WordPiece will try to split.
const maxWordRunes = 200

// Tokenizer converts text into vocabulary ids.
type Tokenizer interface {
	// Tokenize returns ids for text without special tokens and without truncation.
	Tokenize(text string) ([]int64, error)
	// SpecialTokenID resolves a reserved token such as [CLS] or [SEP].
	SpecialTokenID(kind SpecialToken) (int64, error)
}

// WordPieceTokenizer performs BERT-style basic tokenization followed by WordPiece.
type WordPieceTokenizer struct {
	vocab       *Vocabulary
	doLowerCase bool
}

// NewWordPieceTokenizer creates a tokenizer over vocab.
func NewWordPieceTokenizer(vocab *Vocabulary, doLowerCase bool) *WordPieceTokenizer {
	return &WordPieceTokenizer{vocab: vocab, doLowerCase: doLowerCase}
}

// LoadWordPieceTokenizer reads vocab.txt at path.
func LoadWordPieceTokenizer(path string, doLowerCase bool) (*WordPieceTokenizer, error) {
	v, err := LoadVocabulary(path)
	if err != nil {
		return nil, err
	}
	return NewWordPieceTokenizer(v, doLowerCase), nil
}

// Tokenize implements Tokenizer.
func (t *WordPieceTokenizer) Tokenize(text string) ([]int64, error) {
	pieces := t.wordpiece(t.basicTokenize(text))
	ids := make([]int64, len(pieces))
	for i, p := range pieces {
		ids[i] = t.vocab.Lookup(p)
	}
	return ids, nil
}

// Tokens returns the WordPiece strings for text. Useful for debugging vocabularies.
func (t *WordPieceTokenizer) Tokens(text string) []string {
	return t.wordpiece(t.basicTokenize(text))
}

// SpecialTokenID implements Tokenizer.
func (t *WordPieceTokenizer) SpecialTokenID(kind SpecialToken) (int64, error) {
	id, ok := t.vocab.Special(kind)
	if !ok {
		return 0, fmt.Errorf("%w: unknown special token %s", ErrTokenizationFailed, kind)
	}
	return id, nil
}

// VocabSize returns the vocabulary size.
func (t *WordPieceTokenizer) VocabSize() int {
	return t.vocab.Size()
}

func (t *WordPieceTokenizer) basicTokenize(text string) []string {
	text = cleanText(text)
	text = tokenizeChineseChars(text)
	if t.doLowerCase {
		text = strings.ToLower(text)
		text = stripAccents(text)
	}

	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, splitOnPunctuation(word)...)
	}
	return tokens
}

func (t *WordPieceTokenizer) wordpiece(tokens []string) []string {
	var result []string
	for _, token := range tokens {
		if len(token) == 0 {
			continue
		}
		result = append(result, t.wordpieceToken(token)...)
	}
	return result
}

// wordpieceToken splits one basic token greedily, longest match first.
func (t *WordPieceTokenizer) wordpieceToken(token string) []string {
	runes := []rune(token)
	if len(runes) > maxWordRunes {
		return []string{string(TokenUnk)}
	}

	var subTokens []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if t.vocab.Contains(sub) {
				subTokens = append(subTokens, sub)
				found = true
				break
			}
			end--
		}
		if !found {
			return []string{string(TokenUnk)}
		}
		start = end
	}
	return subTokens
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripAccents drops combining marks after NFD decomposition.
func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tokenizeChineseChars(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if isChineseChar(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitOnPunctuation(word string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range word {
		if isPunctuation(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.C)
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, like BERT.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
