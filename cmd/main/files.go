package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/CTAG07/coil/pkg/store"
	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"
)

const zstdSuffix = ".zst"

// modelFile describes how a model file is encoded, as derived from its name:
// "fox.json", "fox.cbor" or either of them with a ".zst" suffix.
type modelFile struct {
	Path       string
	Format     markov.Format
	Compressed bool
}

func parseModelPath(path string) (modelFile, error) {
	name := strings.ToLower(path)
	compressed := strings.HasSuffix(name, zstdSuffix)
	name = strings.TrimSuffix(name, zstdSuffix)

	var f markov.Format
	switch filepath.Ext(name) {
	case ".json":
		f = markov.FormatJSON
	case ".cbor":
		f = markov.FormatCBOR
	default:
		return modelFile{}, fmt.Errorf("unsupported model file %q: want .json, .cbor, .json.zst or .cbor.zst", path)
	}
	return modelFile{Path: path, Format: f, Compressed: compressed}, nil
}

// modelName derives a default model name from a file path.
func (mf modelFile) modelName() string {
	base := filepath.Base(mf.Path)
	if mf.Compressed {
		base = base[:len(base)-len(zstdSuffix)]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// open returns a reader over the decompressed file contents.
func (mf modelFile) open() (io.ReadCloser, error) {
	f, err := os.Open(mf.Path)
	if err != nil {
		return nil, err
	}
	if !mf.Compressed {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not open zstd stream: %w", err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// write encodes the file contents produced by fn, compressing them when
// needed, and replaces the file atomically.
func (mf modelFile) write(fn func(io.Writer) error) error {
	var buf bytes.Buffer
	if mf.Compressed {
		enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("could not create zstd encoder: %w", err)
		}
		if err = fn(enc); err != nil {
			_ = enc.Close()
			return err
		}
		if err = enc.Close(); err != nil {
			return fmt.Errorf("could not finish zstd stream: %w", err)
		}
	} else if err := fn(&buf); err != nil {
		return err
	}

	if dir := filepath.Dir(mf.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create directory for %q: %w", mf.Path, err)
		}
	}
	if err := atomic.WriteFile(mf.Path, &buf); err != nil {
		return fmt.Errorf("failed to write %q: %w", mf.Path, err)
	}
	return nil
}

// readModelFile loads a chain from a model file. JSON files may hold either a
// bare chain or an export envelope; the envelope's name is returned when
// present.
func readModelFile(path string) (string, *markov.Chain, error) {
	mf, err := parseModelPath(path)
	if err != nil {
		return "", nil, err
	}
	r, err := mf.open()
	if err != nil {
		return "", nil, fmt.Errorf("could not open model file: %w", err)
	}
	defer func(r io.ReadCloser) {
		_ = r.Close()
	}(r)

	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("could not read model file %q: %w", path, err)
	}

	if mf.Format == markov.FormatJSON && isEnvelope(data) {
		m, err := store.DecodeExportedModel(bytes.NewReader(data))
		if err != nil {
			return "", nil, fmt.Errorf("could not decode %q: %w", path, err)
		}
		return m.Name, m.Chain, nil
	}

	c, err := markov.Decode(bytes.NewReader(data), mf.Format)
	if err != nil {
		return "", nil, fmt.Errorf("could not decode %q: %w", path, err)
	}
	return "", c, nil
}

// writeModelFile stores a bare chain in the format named by path.
func writeModelFile(path string, c *markov.Chain) error {
	mf, err := parseModelPath(path)
	if err != nil {
		return err
	}
	return mf.write(func(w io.Writer) error {
		return markov.Encode(w, c, mf.Format)
	})
}

// isEnvelope reports whether JSON data is an object rather than a chain array.
func isEnvelope(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
