package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/dustin/go-humanize"
)

var defaultBenchSizes = []int{1_000, 10_000, 100_000, 1_000_000}

// benchResult is one row of the bench command.
type benchResult struct {
	Tokens    int
	Vocab     int
	Nodes     int
	Build     time.Duration
	JSONBytes int
	CBORBytes int
}

// benchCorpus returns exactly n tokens taken from corpus, cycling through it
// when it is shorter than n.
func benchCorpus(corpus []string, n int) []string {
	if len(corpus) == 0 || n <= 0 {
		return nil
	}
	if len(corpus) >= n {
		return corpus[:n]
	}
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = corpus[i%len(corpus)]
	}
	return tokens
}

// syntheticCorpus draws n tokens from a Zipf distribution over a vocabulary of
// vocabSize words, which roughly resembles natural text.
func syntheticCorpus(n, vocabSize int, seed uint64) []string {
	r := rand.New(rand.NewPCG(seed, seed))
	zipf := rand.NewZipf(r, 1.1, 1, uint64(vocabSize-1))
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = "w" + strconv.FormatUint(zipf.Uint64(), 10)
	}
	return tokens
}

// runBench builds a chain for every size and measures the build time and
// the encoded size in both formats.
func runBench(ctx context.Context, corpus []string, sizes []int, depth int, logger *slog.Logger) ([]benchResult, error) {
	results := make([]benchResult, 0, len(sizes))
	for _, size := range sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens := benchCorpus(corpus, size)

		start := time.Now()
		c, err := markov.Build(tokens, depth)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		var jsonBuf, cborBuf bytes.Buffer
		if err = markov.Encode(&jsonBuf, c, markov.FormatJSON); err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		if err = markov.Encode(&cborBuf, c, markov.FormatCBOR); err != nil {
			return nil, fmt.Errorf("failed to encode cbor: %w", err)
		}

		stats := c.Stats()
		result := benchResult{
			Tokens:    len(tokens),
			Vocab:     stats.VocabSize,
			Nodes:     stats.Nodes,
			Build:     elapsed,
			JSONBytes: jsonBuf.Len(),
			CBORBytes: cborBuf.Len(),
		}
		logger.DebugContext(ctx, "Benchmark step finished",
			slog.Int("tokens", result.Tokens),
			slog.Duration("build", result.Build),
		)
		results = append(results, result)
	}
	return results, nil
}

func printBench(w io.Writer, depth int, results []benchResult) {
	var data [][]string
	for _, r := range results {
		data = append(data, []string{
			humanize.Comma(int64(r.Tokens)),
			humanize.Comma(int64(r.Vocab)),
			humanize.Comma(int64(r.Nodes)),
			r.Build.Round(time.Microsecond).String(),
			humanize.Bytes(uint64(r.JSONBytes)),
			humanize.Bytes(uint64(r.CBORBytes)),
		})
	}

	fmt.Fprintf(w, "depth %d\n", depth)
	table := newTable(w, []string{"TOKENS", "VOCAB", "NODES", "BUILD", "JSON", "CBOR"})
	table.AppendBulk(data)
	table.Render()
}
