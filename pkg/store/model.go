package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CTAG07/coil/pkg/markov"
)

// ModelInfo holds the metadata of a stored model. Size is the length of the
// stored binary chain in bytes.
type ModelInfo struct {
	Id         int
	Name       string
	Depth      int
	VocabSize  int
	RootWeight int
	Nodes      int
	Size       int64
	UpdatedAt  time.Time
}

// ExportedModel is the JSON envelope used by ExportModel and ImportModel. The
// chain is embedded in its [depth, tokens, node] JSON form.
type ExportedModel struct {
	Name  string        `json:"name"`
	Depth int           `json:"depth"`
	Chain *markov.Chain `json:"chain"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModelInfo(row rowScanner) (ModelInfo, error) {
	var m ModelInfo
	var updated int64
	if err := row.Scan(&m.Id, &m.Name, &m.Depth, &m.VocabSize, &m.RootWeight, &m.Nodes, &m.Size, &updated); err != nil {
		return ModelInfo{}, err
	}
	m.UpdatedAt = time.Unix(updated, 0)
	return m, nil
}

// GetModelInfos retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		model, err := scanModelInfo(rows)
		if err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model specified by name.
// A missing model yields an error wrapping sql.ErrNoRows.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	m, err := scanModelInfo(s.stmtGetModelInfo.QueryRowContext(ctx, modelName))
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not get model %q: %w", modelName, err)
	}
	return m, nil
}

// Save stores c under name, replacing any model previously saved with that
// name, and returns the metadata of the stored model.
func (s *Store) Save(ctx context.Context, name string, c *markov.Chain) (ModelInfo, error) {
	if name == "" {
		return ModelInfo{}, fmt.Errorf("%w: empty model name", ErrInvalidModel)
	}
	if c == nil {
		return ModelInfo{}, fmt.Errorf("%w: nil chain", ErrInvalidModel)
	}

	data, err := c.MarshalBinary()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to encode model %q: %w", name, err)
	}
	stats := c.Stats()
	now := time.Now()

	var id int
	err = s.stmtSaveModel.QueryRowContext(ctx,
		name, stats.Depth, stats.VocabSize, stats.RootWeight, stats.Nodes, data, now.Unix(),
	).Scan(&id)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to save model %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", name),
		slog.Int("model_id", id),
		slog.Int("depth", stats.Depth),
		slog.Int("vocab_size", stats.VocabSize),
		slog.Int("nodes", stats.Nodes),
		slog.Int("bytes", len(data)),
	)

	return ModelInfo{
		Id:         id,
		Name:       name,
		Depth:      stats.Depth,
		VocabSize:  stats.VocabSize,
		RootWeight: stats.RootWeight,
		Nodes:      stats.Nodes,
		Size:       int64(len(data)),
		UpdatedAt:  time.Unix(now.Unix(), 0),
	}, nil
}

// Load reads the model stored under name. A missing model yields an error
// wrapping sql.ErrNoRows; a corrupt one wraps markov.ErrDeserialization.
func (s *Store) Load(ctx context.Context, name string) (*markov.Chain, error) {
	var depth int
	var data []byte
	if err := s.stmtLoadModel.QueryRowContext(ctx, name).Scan(&depth, &data); err != nil {
		return nil, fmt.Errorf("could not load model %q: %w", name, err)
	}

	var c markov.Chain
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("could not decode model %q: %w", name, err)
	}
	if c.Depth() != depth {
		return nil, fmt.Errorf("%w: model %q has depth %d, stored chain has %d", markov.ErrDeserialization, name, depth, c.Depth())
	}

	s.logger.DebugContext(ctx, "Model loaded",
		slog.String("model_name", name),
		slog.Int("bytes", len(data)),
	)
	return &c, nil
}

// RemoveModel deletes a model from the database. Removing a model that does
// not exist yields an error wrapping sql.ErrNoRows.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	res, err := s.stmtRemoveModel.ExecContext(ctx, model.Id)
	if err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to remove model %q: %w", model.Name, sql.ErrNoRows)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)
	return nil
}

// ExportModel writes the given model as a JSON envelope to w. This is useful
// for backups or for transferring models between databases.
func (s *Store) ExportModel(ctx context.Context, modelInfo ModelInfo, w io.Writer) error {
	c, err := s.Load(ctx, modelInfo.Name)
	if err != nil {
		return err
	}

	exported := ExportedModel{
		Name:  modelInfo.Name,
		Depth: c.Depth(),
		Chain: c,
	}
	if err := writeExportedModel(w, exported); err != nil {
		return fmt.Errorf("failed to export model %q: %w", modelInfo.Name, err)
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", modelInfo.Name),
		slog.Int("model_id", modelInfo.Id),
		slog.Int("vocab_size", c.Vocabulary().Len()),
	)
	return nil
}

// ImportModel reads a JSON envelope written by ExportModel and saves the chain
// it carries under the envelope's name. An existing model with that name is
// replaced; chains are never merged.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) (ModelInfo, error) {
	imported, err := DecodeExportedModel(r)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to decode json model: %w", err)
	}

	info, err := s.Save(ctx, imported.Name, imported.Chain)
	if err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", info.Name),
		slog.Int("target_model_id", info.Id),
	)
	return info, nil
}

// writeExportedModel writes the envelope field by field. Passing the chain
// through json.Encoder would re-scan its output, and the scanner rejects the
// nesting of very deep chains.
func writeExportedModel(w io.Writer, m ExportedModel) error {
	name, err := json.Marshal(m.Name)
	if err != nil {
		return err
	}
	chain, err := m.Chain.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "{\"name\":%s,\"depth\":%d,\"chain\":%s}\n", name, m.Depth, chain)
	return err
}

// DecodeExportedModel reads one envelope written by ExportModel and checks
// that it carries a chain of the declared depth. Unknown fields are skipped.
// The chain is read with markov.ReadJSON, so envelopes of any trie depth
// decode.
func DecodeExportedModel(r io.Reader) (ExportedModel, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return ExportedModel{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ExportedModel{}, fmt.Errorf("%w: envelope must be a JSON object", ErrInvalidModel)
	}

	var m ExportedModel
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ExportedModel{}, err
		}
		key, _ := tok.(string)
		switch key {
		case "name":
			err = dec.Decode(&m.Name)
		case "depth":
			err = dec.Decode(&m.Depth)
		case "chain":
			m.Chain, err = markov.ReadJSON(dec)
		default:
			var skipped json.RawMessage
			err = dec.Decode(&skipped)
		}
		if err != nil {
			return ExportedModel{}, fmt.Errorf("invalid envelope field %q: %w", key, err)
		}
	}
	if _, err := dec.Token(); err != nil {
		return ExportedModel{}, err
	}

	if m.Chain == nil {
		return ExportedModel{}, fmt.Errorf("%w: %q has no chain", ErrInvalidModel, m.Name)
	}
	if m.Chain.Depth() != m.Depth {
		return ExportedModel{}, fmt.Errorf("%w: %q declares depth %d, chain has %d",
			ErrInvalidModel, m.Name, m.Depth, m.Chain.Depth())
	}
	return m, nil
}

// IsNotFound reports whether err means a model does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
