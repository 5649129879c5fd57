package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/CTAG07/coil/pkg/tokenize"
	"golang.org/x/sync/errgroup"
)

// stdinPath names standard input in a list of corpus files.
const stdinPath = "-"

// readCorpus tokenizes every corpus file concurrently and returns the tokens
// concatenated in argument order.
func readCorpus(ctx context.Context, tok *tokenize.Tokenizer, paths []string, stdin io.Reader) ([]string, error) {
	var stdinCount int
	for _, path := range paths {
		if path == stdinPath {
			stdinCount++
		}
	}
	if stdinCount > 1 {
		return nil, errors.New("standard input can only be read once")
	}

	parts := make([][]string, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tokens, err := readCorpusFile(tok, path, stdin)
			if err != nil {
				return err
			}
			parts[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, part := range parts {
		total += len(part)
	}
	tokens := make([]string, 0, total)
	for _, part := range parts {
		tokens = append(tokens, part...)
	}
	return tokens, nil
}

func readCorpusFile(tok *tokenize.Tokenizer, path string, stdin io.Reader) ([]string, error) {
	if path == stdinPath {
		tokens, err := tok.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("could not read standard input: %w", err)
		}
		return tokens, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open corpus: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	tokens, err := tok.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("could not read corpus %q: %w", path, err)
	}
	return tokens, nil
}
