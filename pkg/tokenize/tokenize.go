// Package tokenize turns raw text into the normalized token sequences consumed
// by the markov package.
package tokenize

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxTokenSize bounds a single whitespace-delimited token read from a stream.
const maxTokenSize = 1 << 20

// Tokenizer splits text on whitespace and normalizes every token: Unicode
// NFC composition, lower-casing and, optionally, stripping special
// characters. Its behavior can be customized with functional options.
type Tokenizer struct {
	excludeRegex *regexp.Regexp
	normalize    bool
}

// Option is a function that configures a Tokenizer.
type Option func(*Tokenizer)

// WithExcludeSpecialChars removes every character that is not a letter, a
// digit or an apostrophe. Tokens left empty are dropped.
// Default: false
func WithExcludeSpecialChars(exclude bool) Option {
	return func(t *Tokenizer) {
		if exclude {
			t.excludeRegex = regexp.MustCompile(`[^\p{L}\p{N}']+`)
		} else {
			t.excludeRegex = nil
		}
	}
}

// WithExcludeRegex sets a custom regex whose matches are removed from every
// token, replacing the special character filter.
func WithExcludeRegex(expr string) Option {
	return func(t *Tokenizer) {
		t.excludeRegex = regexp.MustCompile(expr)
	}
}

// WithUnicodeNormalization toggles NFC normalization of tokens.
// Default: true
func WithUnicodeNormalization(normalize bool) Option {
	return func(t *Tokenizer) {
		t.normalize = normalize
	}
}

// New creates a new tokenizer with default settings, which can be overridden
// by providing one or more Option functions.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{normalize: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// normalizeToken returns the normalized form of a raw token, or "" if nothing
// is left of it.
func (t *Tokenizer) normalizeToken(raw string) string {
	if t.normalize {
		raw = norm.NFC.String(raw)
	}
	token := strings.ToLower(raw)
	if t.excludeRegex != nil {
		token = t.excludeRegex.ReplaceAllString(token, "")
	}
	return token
}

// Tokenize splits a string into normalized tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if token := t.normalizeToken(field); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// ReadAll tokenizes everything read from r.
func (t *Tokenizer) ReadAll(r io.Reader) ([]string, error) {
	stream := t.NewStream(r)
	var tokens []string
	for {
		token, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return tokens, nil
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
}

// NewStream returns a stream tokenizer reading from r.
func (t *Tokenizer) NewStream(r io.Reader) *Stream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTokenSize)
	scanner.Split(bufio.ScanWords)
	return &Stream{scanner: scanner, t: t}
}

// Stream is a stateful tokenizer that processes a stream of text, returning
// one token at a time.
type Stream struct {
	scanner *bufio.Scanner
	t       *Tokenizer
}

// Next returns the next token from the stream. When the stream is exhausted,
// it returns "" and io.EOF. Any other error indicates a problem reading from
// the underlying stream.
func (s *Stream) Next() (string, error) {
	for s.scanner.Scan() {
		if token := s.t.normalizeToken(s.scanner.Text()); token != "" {
			return token, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
