package markov

import (
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// quickFox is the corpus used by the deterministic prediction tests. Every
// context in it has exactly one continuation.
var quickFox = []string{"the", "quick", "brown", "fox", "and", "the", "lazy", "dog"}

// mustBuild builds a chain or fails the test.
func mustBuild(t testing.TB, tokens []string, depth int) *Chain {
	t.Helper()
	c, err := Build(tokens, depth)
	if err != nil {
		t.Fatalf("Build(%d tokens, %d) error = %v", len(tokens), depth, err)
	}
	return c
}

// newTestRand returns a seeded source so that sampling tests are repeatable.
func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 2024))
}

// nodeAt follows a path of tokens from the root, failing the test if any edge
// is missing.
func nodeAt(t *testing.T, c *Chain, tokens ...string) *Node {
	t.Helper()
	n := c.Root()
	for _, token := range tokens {
		idx, ok := c.Vocabulary().IndexOf(token)
		if !ok {
			t.Fatalf("token %q not in vocabulary", token)
		}
		if n, ok = n.Child(idx); !ok {
			t.Fatalf("no edge for %q on path %v", token, tokens)
		}
	}
	return n
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				sb.Reset()
				sb.WriteString("this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. ")
				break
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = strings.Fields(strings.ToLower(sb.String()))
	})
	return benchmarkCorpus
}
