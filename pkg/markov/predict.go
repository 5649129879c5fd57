package markov

import (
	"cmp"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// NoToken is emitted by PredictSequence and Sequence when a chain has an empty
// vocabulary and therefore nothing to fall back to.
const NoToken = ""

// candidate is a possible next token: its vocabulary index and the raw ratio
// child.weight / parent.weight.
type candidate struct {
	idx int
	p   float64
}

// predictOptions is used by the predict functions to configure sampling.
type predictOptions struct {
	weighted    bool
	temperature float64
	topK        int
	rng         *rand.Rand
}

// PredictOption is a function that configures sampling. It is used as a
// variadic argument to Predict, PredictSequence and Sequence.
type PredictOption func(*predictOptions)

// WithWeighted selects weighted sampling (true, the default) or a uniform pick
// among the distinct candidates (false).
func WithWeighted(weighted bool) PredictOption {
	return func(o *predictOptions) { o.weighted = weighted }
}

// Unweighted is shorthand for WithWeighted(false).
func Unweighted() PredictOption {
	return WithWeighted(false)
}

// WithTemperature adjusts weighted sampling. A value of 1.0 is plain weighted
// selection. Values above 1.0 flatten the distribution, values below 1.0
// sharpen it, and a value of 0 or less always picks the heaviest candidate.
// It has no effect on unweighted sampling.
func WithTemperature(t float64) PredictOption {
	return func(o *predictOptions) { o.temperature = t }
}

// WithTopK restricts weighted sampling to the k heaviest candidates.
// A value of 0 disables the restriction.
func WithTopK(k int) PredictOption {
	return func(o *predictOptions) { o.topK = k }
}

// WithRand sets the random source. By default the global math/rand/v2 source
// is used. A *rand.Rand is not safe for concurrent use, so do not share one
// between goroutines.
func WithRand(r *rand.Rand) PredictOption {
	return func(o *predictOptions) { o.rng = r }
}

func newPredictOptions(opts []PredictOption) *predictOptions {
	o := &predictOptions{
		weighted:    true,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *predictOptions) float64() float64 {
	if o.rng != nil {
		return o.rng.Float64()
	}
	return rand.Float64()
}

func (o *predictOptions) intN(n int) int {
	if o.rng != nil {
		return o.rng.IntN(n)
	}
	return rand.IntN(n)
}

// candidates lists the children of n in creation order.
func candidates(n *Node) []candidate {
	if n.Len() == 0 {
		return nil
	}
	out := make([]candidate, 0, n.Len())
	for idx, child := range n.Children() {
		out = append(out, candidate{idx: idx, p: float64(child.weight) / float64(n.weight)})
	}
	return out
}

// PredictionsFor returns the next-token distribution for a context. Only the
// last Depth tokens of the context are used. An empty context, or one that
// was never seen in training, falls back to the unconditional statistics of
// the root.
//
// The values are raw ratios child.weight / node.weight. Windows that end
// exactly at the resolved node contribute to its weight without producing a
// child, so the values may sum to less than 1.
func (c *Chain) PredictionsFor(context []string) map[string]float64 {
	cands := candidates(c.lookup(context))
	result := make(map[string]float64, len(cands))
	for _, cand := range cands {
		result[c.vocab.TokenAt(cand.idx)] = cand.p
	}
	return result
}

// Predict samples the next token for a context. It reports false when the
// resolved node has no children.
func (c *Chain) Predict(context []string, opts ...PredictOption) (string, bool) {
	return c.predict(context, newPredictOptions(opts))
}

func (c *Chain) predict(context []string, o *predictOptions) (string, bool) {
	cands := candidates(c.lookup(context))
	if len(cands) == 0 {
		return NoToken, false
	}
	return c.vocab.TokenAt(chooseNext(cands, o)), true
}

// fallback samples from the root, which has one child per vocabulary entry.
func (c *Chain) fallback(o *predictOptions) string {
	cands := candidates(c.Root())
	if len(cands) == 0 {
		return NoToken
	}
	return c.vocab.TokenAt(chooseNext(cands, o))
}

// PredictSequence generates exactly length tokens (none if length <= 0)
// continuing the given context. After each step the produced token is
// appended to the context and only the last Depth tokens are kept.
//
// When a step has no candidates the token is drawn from the unconditional
// root statistics instead, so the output never shrinks. On a chain with an
// empty vocabulary every element is NoToken.
func (c *Chain) PredictSequence(context []string, length int, opts ...PredictOption) []string {
	if length <= 0 {
		return []string{}
	}
	out := make([]string, 0, length)
	for token := range c.Sequence(context, opts...) {
		out = append(out, token)
		if len(out) == length {
			break
		}
	}
	return out
}

// Sequence returns an unbounded iterator over generated tokens, following the
// same sliding context and fallback rules as PredictSequence.
func (c *Chain) Sequence(context []string, opts ...PredictOption) iter.Seq[string] {
	o := newPredictOptions(opts)
	return func(yield func(string) bool) {
		seed := context
		if len(seed) > c.depth {
			seed = seed[len(seed)-c.depth:]
		}
		window := make([]string, len(seed), c.depth)
		copy(window, seed)

		for {
			token, ok := c.predict(window, o)
			if !ok {
				token = c.fallback(o)
			}
			if !yield(token) {
				return
			}
			switch {
			case c.depth == 0:
			case len(window) < c.depth:
				window = append(window, token)
			default:
				copy(window, window[1:])
				window[len(window)-1] = token
			}
		}
	}
}

// chooseNext picks a vocabulary index from a non-empty candidate list.
func chooseNext(cands []candidate, o *predictOptions) int {
	if !o.weighted {
		return cands[o.intN(len(cands))].idx
	}

	// topK filtering
	if o.topK > 0 && o.topK < len(cands) {
		sorted := slices.Clone(cands)
		slices.SortStableFunc(sorted, func(a, b candidate) int {
			return cmp.Compare(b.p, a.p)
		})
		cands = sorted[:o.topK]
	}

	if o.temperature <= 0 { // Deterministic
		best := cands[0]
		for _, cand := range cands[1:] {
			if cand.p > best.p {
				best = cand
			}
		}
		return best.idx
	}

	weights := make([]float64, len(cands))
	for i, cand := range cands {
		weights[i] = cand.p
	}
	if o.temperature != 1.0 {
		for i := range weights {
			weights[i] = math.Log(weights[i]) / o.temperature
		}
		maxLog := floats.Max(weights)
		for i := range weights {
			weights[i] = math.Exp(weights[i] - maxLog)
		}
	}

	// Renormalize and spin the roulette wheel over the cumulative weights.
	floats.Scale(1/floats.Sum(weights), weights)
	cumulative := floats.CumSum(make([]float64, len(weights)), weights)
	r := o.float64()
	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > r })
	if i == len(cumulative) {
		i = len(cumulative) - 1
	}
	return cands[i].idx
}
