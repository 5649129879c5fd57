// Package store persists trained markov chains in a SQLite database. Each
// model is one row holding its metadata and the chain in its compact binary
// form, so a stored model is replaced as a whole and never merged.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrInvalidModel is returned when a model name or an imported model is
// unusable.
var ErrInvalidModel = errors.New("store: invalid model")

// SetupSchema initializes the model table in the provided database. It should
// be called once on a new database before any other operations are performed.
// It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS coil_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    depth INTEGER NOT NULL,
    vocab_size INTEGER NOT NULL,
    root_weight INTEGER NOT NULL,
    node_count INTEGER NOT NULL,
    data BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`
		indexUpdated = `CREATE INDEX IF NOT EXISTS coil_models_updated ON coil_models (updated_at);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// A no-op once Commit has succeeded.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	if _, err = tx.Exec(indexUpdated); err != nil {
		return fmt.Errorf("could not create index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is the persistence layer for trained chains. It holds the database
// connection and the prepared statements used to read and write models.
type Store struct {
	db               *sql.DB
	stmtGetModelInfo *sql.Stmt
	stmtGetModels    *sql.Stmt
	stmtSaveModel    *sql.Stmt
	stmtLoadModel    *sql.Stmt
	stmtRemoveModel  *sql.Stmt
	stmtTotals       *sql.Stmt
	logger           *slog.Logger
}

const modelColumns = `model_id, model_name, depth, vocab_size, root_weight, node_count, length(data), updated_at`

// New creates a Store on top of db, whose schema must already be set up with
// SetupSchema. It pre-compiles all SQL statements, returning an error if any
// preparation fails.
func New(db *sql.DB) (*Store, error) {
	stmtGetModelInfo, err := db.Prepare(`SELECT ` + modelColumns + ` FROM coil_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetModels, err := db.Prepare(`SELECT ` + modelColumns + ` FROM coil_models ORDER BY model_name;`)
	if err != nil {
		return nil, err
	}

	stmtSaveModel, err := db.Prepare(`
INSERT INTO coil_models (model_name, depth, vocab_size, root_weight, node_count, data, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(model_name) DO UPDATE SET
    depth = excluded.depth,
    vocab_size = excluded.vocab_size,
    root_weight = excluded.root_weight,
    node_count = excluded.node_count,
    data = excluded.data,
    updated_at = excluded.updated_at
RETURNING model_id;`)
	if err != nil {
		return nil, err
	}

	stmtLoadModel, err := db.Prepare(`SELECT depth, data FROM coil_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtRemoveModel, err := db.Prepare(`DELETE FROM coil_models WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtTotals, err := db.Prepare(`SELECT COUNT(*), coalesce(SUM(root_weight), 0), coalesce(SUM(node_count), 0), coalesce(SUM(length(data)), 0) FROM coil_models;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:               db,
		stmtGetModelInfo: stmtGetModelInfo,
		stmtGetModels:    stmtGetModels,
		stmtSaveModel:    stmtSaveModel,
		stmtLoadModel:    stmtLoadModel,
		stmtRemoveModel:  stmtRemoveModel,
		stmtTotals:       stmtTotals,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. The database
// connection itself is left open.
func (s *Store) Close() {
	_ = s.stmtGetModelInfo.Close()
	_ = s.stmtGetModels.Close()
	_ = s.stmtSaveModel.Close()
	_ = s.stmtLoadModel.Close()
	_ = s.stmtRemoveModel.Close()
	_ = s.stmtTotals.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
