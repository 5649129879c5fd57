/*
Package markov provides an in-memory n-gram Markov chain engine for Go.

A Chain is built once from an already-tokenized sequence. Every token is
interned into a Vocabulary, and every sliding window of up to Depth+1 tokens is
inserted into a single weighted prefix trie, so one structure answers queries
for every context length from 0 to Depth. Built chains are immutable; they can
be queried concurrently, sampled with weighted or uniform selection, and
serialized to JSON or CBOR and back.

Tokenization, storage and presentation are left to the caller. See the
tokenize and store packages for the implementations used by the coil command.
*/
package markov
