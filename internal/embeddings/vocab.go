package embeddings

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// SpecialToken names a reserved vocabulary entry.
type SpecialToken string

const (
	TokenPad SpecialToken = "[PAD]"
	TokenUnk SpecialToken = "[UNK]"
	TokenCLS SpecialToken = "[CLS]"
	TokenSEP SpecialToken = "[SEP]"
)

// Vocabulary is a WordPiece vocabulary loaded from vocab.txt.
// Token ids are line numbers, 0-indexed.
type Vocabulary struct {
	tokenToID map[string]int64
	idToToken []string
	specials  map[SpecialToken]int64
}

// LoadVocabulary reads a vocab.txt file. Every special token must be present.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open vocabulary: %v", ErrConfigError, err)
	}
	defer f.Close()

	tokens := make([]string, 0, 32000)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read vocabulary: %v", ErrConfigError, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: vocabulary is empty: %s", ErrConfigError, path)
	}
	return NewVocabulary(tokens)
}

// NewVocabulary builds a vocabulary from tokens listed in id order.
func NewVocabulary(tokens []string) (*Vocabulary, error) {
	v := &Vocabulary{
		tokenToID: make(map[string]int64, len(tokens)),
		idToToken: tokens,
		specials:  make(map[SpecialToken]int64, 4),
	}
	for i, tok := range tokens {
		if _, dup := v.tokenToID[tok]; !dup {
			v.tokenToID[tok] = int64(i)
		}
	}

	for _, s := range []SpecialToken{TokenPad, TokenUnk, TokenCLS, TokenSEP} {
		id, ok := v.tokenToID[string(s)]
		if !ok {
			return nil, fmt.Errorf("%w: vocabulary missing special token %s", ErrConfigError, s)
		}
		v.specials[s] = id
	}
	return v, nil
}

// Lookup returns the id for token, or the [UNK] id.
func (v *Vocabulary) Lookup(token string) int64 {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return v.specials[TokenUnk]
}

// Contains reports whether the token is in the vocabulary.
func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// Special returns the id of a reserved token.
func (v *Vocabulary) Special(kind SpecialToken) (int64, bool) {
	id, ok := v.specials[kind]
	return id, ok
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int {
	return len(v.idToToken)
}
