package markov

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// skewed gives the context ["a"] three continuations with weights 4, 1 and 1.
var skewed = []string{"a", "x", "a", "x", "a", "x", "a", "x", "a", "y", "a", "z"}

func TestPredictionsFor(t *testing.T) {
	c := mustBuild(t, []string{"the", "the", "the", "dog"}, 0)

	got := c.PredictionsFor(nil)
	want := map[string]float64{"the": 0.75, "dog": 0.25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PredictionsFor([]) = %v, want %v", got, want)
	}
}

func TestPredictionsForRawRatios(t *testing.T) {
	c := mustBuild(t, []string{"a", "b", "a"}, 1)

	// "a" starts [a b] and the tail window [a]; only one of them continues.
	got := c.PredictionsFor([]string{"a"})
	want := map[string]float64{"b": 0.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PredictionsFor([a]) = %v, want %v", got, want)
	}
}

func TestPredictionsForFallsBackToRoot(t *testing.T) {
	c := mustBuild(t, quickFox, 3)
	root := c.PredictionsFor(nil)

	testCases := []struct {
		name    string
		context []string
	}{
		{name: "empty", context: []string{}},
		{name: "unknown tokens", context: []string{"zebra", "unicorn"}},
		{name: "known tokens, unseen path", context: []string{"dog", "the"}},
		{name: "unknown token after known", context: []string{"the", "zebra"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.PredictionsFor(tc.context)
			if !reflect.DeepEqual(got, root) {
				t.Errorf("PredictionsFor(%v) = %v, want root distribution %v", tc.context, got, root)
			}
		})
	}
}

func TestPredictionsForTruncatesContext(t *testing.T) {
	c := mustBuild(t, quickFox, 3)

	got := c.PredictionsFor([]string{"zebra", "and", "the", "quick", "brown"})
	want := map[string]float64{"fox": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PredictionsFor = %v, want %v", got, want)
	}
}

func TestPredict(t *testing.T) {
	c := mustBuild(t, quickFox, 3)

	for _, opts := range [][]PredictOption{nil, {Unweighted()}, {WithTemperature(0)}, {WithTopK(1)}} {
		token, ok := c.Predict([]string{"brown"}, opts...)
		if !ok || token != "fox" {
			t.Errorf("Predict([brown]) = %q, %v, want \"fox\", true", token, ok)
		}
	}
}

func TestPredictMiss(t *testing.T) {
	c := mustBuild(t, quickFox, 3)

	// "dog" only ever ends the corpus, so its node has no children.
	token, ok := c.Predict([]string{"dog"})
	if ok || token != NoToken {
		t.Errorf("Predict([dog]) = %q, %v, want no prediction", token, ok)
	}
}

func TestPredictSequence(t *testing.T) {
	c := mustBuild(t, quickFox, 3)

	testCases := []struct {
		name string
		opts []PredictOption
	}{
		{name: "weighted"},
		{name: "unweighted", opts: []PredictOption{Unweighted()}},
		{name: "seeded", opts: []PredictOption{WithRand(newTestRand())}},
	}

	want := []string{"brown", "fox", "and", "the", "lazy"}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.PredictSequence([]string{"the", "quick"}, 5, tc.opts...)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("PredictSequence = %v, want %v", got, want)
			}
		})
	}
}

func TestPredictSequenceDoesNotModifyContext(t *testing.T) {
	c := mustBuild(t, quickFox, 2)
	context := []string{"the", "quick", "brown"}
	_ = c.PredictSequence(context, 10)
	if !reflect.DeepEqual(context, []string{"the", "quick", "brown"}) {
		t.Errorf("context was modified: %v", context)
	}
}

func TestPredictSequenceLength(t *testing.T) {
	empty := mustBuild(t, nil, 3)
	single := mustBuild(t, []string{"only"}, 2)
	pair := mustBuild(t, []string{"a", "b"}, 1)
	fox := mustBuild(t, quickFox, 3)
	flat := mustBuild(t, quickFox, 0)

	chains := map[string]*Chain{"empty": empty, "single": single, "pair": pair, "fox": fox, "flat": flat}
	for name, c := range chains {
		for _, length := range []int{-3, 0, 1, 7, 50} {
			for _, ctx := range [][]string{nil, {"dog"}, {"zebra"}, quickFox} {
				got := c.PredictSequence(ctx, length, WithRand(newTestRand()))
				if len(got) != max(length, 0) {
					t.Errorf("%s: PredictSequence(%v, %d) returned %d tokens", name, ctx, length, len(got))
				}
			}
		}
	}
}

func TestPredictSequenceFallback(t *testing.T) {
	// "b" is a dead end, so every other step falls back to the root.
	c := mustBuild(t, []string{"a", "b"}, 1)
	got := c.PredictSequence([]string{"b"}, 20, WithRand(newTestRand()))
	for i, token := range got {
		if token != "a" && token != "b" {
			t.Errorf("token %d = %q, want a vocabulary token", i, token)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] == "a" && got[i] != "b" {
			t.Errorf("token %d follows \"a\" with %q, want \"b\"", i, got[i])
		}
	}
}

func TestPredictSequenceEmptyChain(t *testing.T) {
	c := mustBuild(t, nil, 3)

	if got := c.PredictionsFor([]string{"anything"}); len(got) != 0 {
		t.Errorf("PredictionsFor on empty chain = %v, want empty", got)
	}
	if token, ok := c.Predict(nil); ok {
		t.Errorf("Predict on empty chain returned %q", token)
	}
	got := c.PredictSequence(nil, 4)
	want := []string{NoToken, NoToken, NoToken, NoToken}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PredictSequence on empty chain = %q, want %q", got, want)
	}
}

func TestSequenceStops(t *testing.T) {
	c := mustBuild(t, quickFox, 3)
	var got []string
	for token := range c.Sequence([]string{"the", "quick"}) {
		got = append(got, token)
		if len(got) == 3 {
			break
		}
	}
	if want := []string{"brown", "fox", "and"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Sequence = %v, want %v", got, want)
	}
}

// chiSquarePValue draws trials predictions for context and tests the observed
// counts against the expected proportions.
func chiSquarePValue(t *testing.T, c *Chain, context []string, expected map[string]float64, trials int, opts ...PredictOption) float64 {
	t.Helper()
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	counts := make(map[string]float64)
	for i := 0; i < trials; i++ {
		token, ok := c.Predict(context, opts...)
		if !ok {
			t.Fatalf("Predict(%v) returned no token", context)
		}
		if _, known := expected[token]; !known {
			t.Fatalf("Predict(%v) returned unexpected token %q", context, token)
		}
		counts[token]++
	}
	obs := make([]float64, len(keys))
	exp := make([]float64, len(keys))
	for i, k := range keys {
		obs[i] = counts[k]
		exp[i] = expected[k] * float64(trials)
	}
	x := stat.ChiSquare(obs, exp)
	return 1 - distuv.ChiSquared{K: float64(len(keys) - 1)}.CDF(x)
}

func TestPredictUnweightedIsUniform(t *testing.T) {
	c := mustBuild(t, skewed, 1)
	keys := c.PredictionsFor([]string{"a"})
	if len(keys) != 3 {
		t.Fatalf("expected 3 candidates after \"a\", got %v", keys)
	}

	expected := make(map[string]float64)
	for k := range keys {
		expected[k] = 1.0 / 3
	}
	p := chiSquarePValue(t, c, []string{"a"}, expected, 3000, Unweighted(), WithRand(newTestRand()))
	if p < 0.001 {
		t.Errorf("unweighted draws are not uniform (p = %g)", p)
	}
}

func TestPredictWeightedFollowsDistribution(t *testing.T) {
	c := mustBuild(t, skewed, 1)
	dist := c.PredictionsFor([]string{"a"})

	var sum float64
	for _, p := range dist {
		sum += p
	}
	expected := make(map[string]float64)
	for k, p := range dist {
		expected[k] = p / sum
	}
	if math.Abs(expected["x"]-4.0/6) > 1e-12 {
		t.Fatalf("expected x to carry 4/6 of the mass, got %g", expected["x"])
	}

	p := chiSquarePValue(t, c, []string{"a"}, expected, 6000, WithRand(newTestRand()))
	if p < 0.001 {
		t.Errorf("weighted draws do not follow the distribution (p = %g)", p)
	}
}

func TestPredictOptions(t *testing.T) {
	c := mustBuild(t, skewed, 1)

	testCases := []struct {
		name    string
		opts    []PredictOption
		allowed map[string]bool
	}{
		{name: "Greedy", opts: []PredictOption{WithTemperature(0)}, allowed: map[string]bool{"x": true}},
		{name: "TopK1", opts: []PredictOption{WithTopK(1)}, allowed: map[string]bool{"x": true}},
		{name: "TopK2", opts: []PredictOption{WithTopK(2)}, allowed: map[string]bool{"x": true, "y": true}},
		{name: "HotTemperature", opts: []PredictOption{WithTemperature(5)}, allowed: map[string]bool{"x": true, "y": true, "z": true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := append([]PredictOption{WithRand(newTestRand())}, tc.opts...)
			for i := 0; i < 200; i++ {
				token, ok := c.Predict([]string{"a"}, opts...)
				if !ok || !tc.allowed[token] {
					t.Fatalf("Predict = %q, %v, want one of %v", token, ok, tc.allowed)
				}
			}
		})
	}
}

func BenchmarkPredictSequence(b *testing.B) {
	corpus := createBenchmarkCorpus()
	c := mustBuild(b, corpus, 3)

	optSets := map[string][]PredictOption{
		"Weighted":   nil,
		"Unweighted": {Unweighted()},
		"WithTemp":   {WithTemperature(0.7)},
		"WithTopK":   {WithTopK(10)},
	}

	for name, opts := range optSets {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if got := c.PredictSequence(corpus[:2], 50, opts...); len(got) != 50 {
					b.Fatalf("PredictSequence returned %d tokens", len(got))
				}
			}
		})
	}
}

func ExampleChain_PredictSequence() {
	c, err := Build([]string{"the", "quick", "brown", "fox", "and", "the", "lazy", "dog"}, 3)
	if err != nil {
		panic(err)
	}
	fmt.Println(c.PredictSequence([]string{"the", "quick"}, 5))
	// Output: [brown fox and the lazy]
}
