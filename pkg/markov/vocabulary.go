package markov

import "fmt"

// Vocabulary is a bidirectional token <-> index interning table. Indices are
// dense, 0-based and assigned in first-seen order. Once a chain is built its
// vocabulary is never modified.
type Vocabulary struct {
	tokens  []string
	indexes map[string]int
}

func newVocabulary() *Vocabulary {
	return &Vocabulary{indexes: make(map[string]int)}
}

// intern returns the index of token, assigning the next free index if the
// token has not been seen before.
func (v *Vocabulary) intern(token string) int {
	if idx, ok := v.indexes[token]; ok {
		return idx
	}
	idx := len(v.tokens)
	v.tokens = append(v.tokens, token)
	v.indexes[token] = idx
	return idx
}

// IndexOf looks up the index of a token without modifying the vocabulary.
func (v *Vocabulary) IndexOf(token string) (int, bool) {
	if v == nil {
		return 0, false
	}
	idx, ok := v.indexes[token]
	return idx, ok
}

// TokenAt returns the token assigned to idx. Indices that were never assigned
// mean the trie and vocabulary disagree, so TokenAt panics instead of
// returning an error.
func (v *Vocabulary) TokenAt(idx int) string {
	if idx < 0 || idx >= v.Len() {
		panic(fmt.Sprintf("markov: vocabulary index %d out of range [0, %d)", idx, v.Len()))
	}
	return v.tokens[idx]
}

// Len returns the number of distinct tokens. A nil Vocabulary is empty.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.tokens)
}

// Tokens returns a copy of the tokens in index order.
func (v *Vocabulary) Tokens() []string {
	if v == nil {
		return []string{}
	}
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}
