package markov

import (
	"fmt"
	"io"
	"log/slog"
)

// DefaultDepth is the n-gram order used when no depth is configured.
const DefaultDepth = 3

// Config holds the parameters used when building a Chain.
type Config struct {
	// Depth is the maximum number of preceding tokens considered when
	// predicting the next one. Each training window holds up to Depth+1 tokens.
	// Default: 3
	Depth int
	// Logger receives build diagnostics. Default: discards everything.
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with the default values.
func DefaultConfig() *Config {
	return &Config{
		Depth:  DefaultDepth,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Chain is a trained n-gram model: a vocabulary and a weighted prefix trie
// rooted at the empty context. A Chain is immutable once built and safe for
// concurrent readers. The zero value is an empty chain of depth 0 and can be
// used as a decode target.
type Chain struct {
	depth int
	vocab *Vocabulary
	root  *Node
}

// Build trains a chain of the given depth from a token sequence. It is a
// shorthand for BuildWithConfig with only Depth set.
func Build(tokens []string, depth int) (*Chain, error) {
	cfg := DefaultConfig()
	cfg.Depth = depth
	return BuildWithConfig(tokens, cfg)
}

// BuildWithConfig trains a chain from a token sequence in a single pass.
// Every token is interned first, so vocabulary indices follow first-seen
// order. Then the window tokens[i : min(i+depth+1, n)] starting at every
// position i is inserted as a path from the root, adding one to the weight of
// every prefix of the window, the empty prefix included. A nil cfg uses
// DefaultConfig.
//
// An empty token sequence yields an empty chain, not an error.
func BuildWithConfig(tokens []string, cfg *Config) (*Chain, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("%w: depth must be non-negative, got %d", ErrInvalidArgument, cfg.Depth)
	}

	vocab := newVocabulary()
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		ids[i] = vocab.intern(token)
	}

	root := &Node{}
	for i := range ids {
		end := min(i+cfg.Depth+1, len(ids))
		node := root
		for _, id := range ids[i:end] {
			node.weight++
			node = node.childOrCreate(id)
		}
		node.weight++
	}

	c := &Chain{depth: cfg.Depth, vocab: vocab, root: root}

	if cfg.Logger != nil {
		cfg.Logger.Debug("Chain built",
			slog.Int("depth", c.depth),
			slog.Int("tokens_processed", len(tokens)),
			slog.Int("vocab_size", vocab.Len()),
		)
	}

	return c, nil
}

// Depth returns the maximum n-gram order of the chain.
func (c *Chain) Depth() int {
	return c.depth
}

// Vocabulary returns the chain's vocabulary.
func (c *Chain) Vocabulary() *Vocabulary {
	return c.vocab
}

// Root returns the node for the empty context. Its weight is the number of
// token positions the chain was trained on.
func (c *Chain) Root() *Node {
	if c.root == nil {
		return emptyRoot
	}
	return c.root
}

var emptyRoot = &Node{}

// lookup follows the context from the root. A context that is empty after
// truncation to the last Depth tokens, or one that leaves the trie, resolves
// to the root.
func (c *Chain) lookup(context []string) *Node {
	if len(context) > c.depth {
		context = context[len(context)-c.depth:]
	}
	root := c.Root()
	node := root
	for _, token := range context {
		idx, ok := c.vocab.IndexOf(token)
		if !ok {
			return root
		}
		next, ok := node.Child(idx)
		if !ok {
			return root
		}
		node = next
	}
	return node
}
