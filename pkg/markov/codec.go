package markov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the wire encoding of a serialized chain. Both formats carry
// the same structure:
//
//	chain = [depth, [token0, token1, ...], node]
//	node  = [weight, 0]                          a leaf
//	      | [weight, [idx, node, idx, node, ...]] children in creation order
type Format int

const (
	// FormatJSON is the JSON array form of the chain triple.
	FormatJSON Format = iota
	// FormatCBOR is the compact binary (RFC 8949) form of the chain triple.
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a format name ("json" or "cbor") to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unknown chain format %q", name)
	}
}

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxNestedLevels:  65535,
		MaxArrayElements: math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Encode writes the chain to w in the given format.
func Encode(w io.Writer, c *Chain, f Format) error {
	var data []byte
	var err error
	switch f {
	case FormatJSON:
		data, err = c.MarshalJSON()
	case FormatCBOR:
		data, err = c.MarshalBinary()
	default:
		return fmt.Errorf("unknown chain format %v", f)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a whole chain in the given format from r.
func Decode(r io.Reader, f Format) (*Chain, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read chain data: %w", err)
	}
	switch f {
	case FormatJSON:
		return decodeJSON(data)
	case FormatCBOR:
		return decodeCBOR(data)
	default:
		return nil, fmt.Errorf("unknown chain format %v", f)
	}
}

// MarshalJSON encodes the chain as a JSON array triple.
func (c *Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.encodeTriple())
}

// UnmarshalJSON replaces the receiver with the decoded chain. The receiver is
// left untouched if data is malformed.
func (c *Chain) UnmarshalJSON(data []byte) error {
	decoded, err := decodeJSON(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// MarshalBinary encodes the chain as a CBOR array triple.
func (c *Chain) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(c.encodeTriple())
}

// UnmarshalBinary replaces the receiver with the decoded CBOR chain. The
// receiver is left untouched if data is malformed.
func (c *Chain) UnmarshalBinary(data []byte) error {
	decoded, err := decodeCBOR(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

func (c *Chain) encodeTriple() []any {
	return []any{c.depth, c.vocab.Tokens(), encodeNode(c.Root())}
}

// encodeNode recurses once per trie level, at most depth+1 times.
func encodeNode(n *Node) []any {
	if n.Len() == 0 {
		return []any{n.weight, 0}
	}
	children := make([]any, 0, 2*n.Len())
	for idx, child := range n.Children() {
		children = append(children, idx, encodeNode(child))
	}
	return []any{n.weight, children}
}

func decodeJSON(data []byte) (*Chain, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	c, err := ReadJSON(dec)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: chain is null", ErrDeserialization)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after chain", ErrDeserialization)
	}
	return c, nil
}

// ReadJSON decodes the next JSON value from dec as a chain. A JSON null yields
// a nil chain and no error. The value is read token by token with an explicit
// stack, so chains nested deeper than encoding/json's value limit still
// decode.
func ReadJSON(dec *json.Decoder) (*Chain, error) {
	v, err := readJSONValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if v == nil {
		return nil, nil
	}
	return decodeTriple(v)
}

// readJSONValue rebuilds one JSON value as nested []any. Objects are
// rejected. Once the depth element has been read, nesting is bounded by the
// deepest node a chain of that depth can hold.
func readJSONValue(dec *json.Decoder) (any, error) {
	var stack [][]any
	maxNesting := -1
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}

		var v any
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '[':
				if maxNesting >= 0 && len(stack) >= maxNesting {
					return nil, fmt.Errorf("nesting exceeds %d levels", maxNesting)
				}
				stack = append(stack, []any{})
				continue
			case ']':
				v = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			default:
				return nil, errors.New("unexpected JSON object")
			}
		default:
			v = t
		}

		if len(stack) == 0 {
			return v, nil
		}
		top := append(stack[len(stack)-1], v)
		stack[len(stack)-1] = top
		if len(stack) == 1 && len(top) == 1 && maxNesting < 0 {
			if depth, err := toInt(v); err == nil && depth >= 0 && depth < math.MaxInt/2-2 {
				// The chain array, then a node and a children array per level
				// from the root down to level depth+1.
				maxNesting = 2*depth + 5
			}
		}
	}
}

func decodeCBOR(data []byte) (*Chain, error) {
	var v any
	if err := cborDecMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	return decodeTriple(v)
}

// decodeTriple rebuilds a chain from the generic array form produced by
// either decoder.
func decodeTriple(v any) (*Chain, error) {
	triple, ok := v.([]any)
	if !ok || len(triple) != 3 {
		return nil, fmt.Errorf("%w: chain must be a 3-element array", ErrDeserialization)
	}

	depth, err := nonNegativeInt(triple[0], "depth")
	if err != nil {
		return nil, err
	}

	rawTokens, ok := triple[1].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: tokens must be an array", ErrDeserialization)
	}
	vocab := newVocabulary()
	for i, raw := range rawTokens {
		token, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: token %d is not a string", ErrDeserialization, i)
		}
		if _, dup := vocab.IndexOf(token); dup {
			return nil, fmt.Errorf("%w: duplicate token %q at index %d", ErrDeserialization, token, i)
		}
		vocab.intern(token)
	}

	root, err := decodeNode(triple[2], vocab.Len(), depth+1, 0)
	if err != nil {
		return nil, err
	}

	return &Chain{depth: depth, vocab: vocab, root: root}, nil
}

// decodeNode rebuilds one node. A window holds at most depth+1 tokens, so
// nodes below level maxLevel cannot have children; that bound also limits
// the recursion.
func decodeNode(v any, vocabSize, maxLevel, level int) (*Node, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("%w: node at level %d must be a 2-element array", ErrDeserialization, level)
	}
	weight, err := nonNegativeInt(pair[0], "weight")
	if err != nil {
		return nil, err
	}
	n := &Node{weight: weight}

	children, ok := pair[1].([]any)
	if !ok {
		if z, err := toInt(pair[1]); err != nil || z != 0 {
			return nil, fmt.Errorf("%w: children at level %d must be 0 or an array", ErrDeserialization, level)
		}
		return n, nil
	}
	if len(children)%2 != 0 {
		return nil, fmt.Errorf("%w: children at level %d have odd length %d", ErrDeserialization, level, len(children))
	}
	if len(children) > 0 && level >= maxLevel {
		return nil, fmt.Errorf("%w: trie deeper than %d levels", ErrDeserialization, maxLevel)
	}
	childWeights := 0
	for i := 0; i < len(children); i += 2 {
		idx, err := nonNegativeInt(children[i], "child index")
		if err != nil {
			return nil, err
		}
		if idx >= vocabSize {
			return nil, fmt.Errorf("%w: child index %d outside vocabulary of %d tokens", ErrDeserialization, idx, vocabSize)
		}
		child, err := decodeNode(children[i+1], vocabSize, maxLevel, level+1)
		if err != nil {
			return nil, err
		}
		// Every window through a child first passed through its parent.
		if child.weight == 0 {
			return nil, fmt.Errorf("%w: child %d at level %d has zero weight", ErrDeserialization, idx, level)
		}
		if child.weight > n.weight-childWeights {
			return nil, fmt.Errorf("%w: children at level %d outweigh their parent weight %d",
				ErrDeserialization, level, n.weight)
		}
		childWeights += child.weight
		if !n.addChild(idx, child) {
			return nil, fmt.Errorf("%w: duplicate child index %d at level %d", ErrDeserialization, idx, level)
		}
	}
	return n, nil
}

func nonNegativeInt(v any, what string) (int, error) {
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDeserialization, what, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s is negative (%d)", ErrDeserialization, what, n)
	}
	return n, nil
}

// toInt converts the integer representations produced by encoding/json
// (with UseNumber) and fxamacker/cbor into an int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n.String())
		}
		if i > math.MaxInt || i < math.MinInt {
			return 0, fmt.Errorf("%d overflows int", i)
		}
		return int(i), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%d overflows int", n)
		}
		return int(n), nil
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return 0, fmt.Errorf("%d overflows int", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt || n < math.MinInt {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
