package markov

import "errors"

var (
	// ErrInvalidArgument is returned when a chain is built with a bad parameter,
	// such as a negative depth.
	ErrInvalidArgument = errors.New("markov: invalid argument")
	// ErrDeserialization is returned when encoded chain data is malformed.
	// Decoding is all-or-nothing, no partial chain is ever produced.
	ErrDeserialization = errors.New("markov: malformed chain data")
)
