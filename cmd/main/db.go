package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/coil/pkg/store"
)

// openStore opens the model database at dataSource, creating its directory
// and schema when needed. The returned close function releases both the
// store and the connection.
func openStore(dataSource string, logger *slog.Logger) (*store.Store, func(), error) {
	path, _, _ := strings.Cut(dataSource, "?")
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open database: %w", err)
	}

	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup model schema: %w", err)
	}

	s, err := store.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to prepare model store: %w", err)
	}
	s.SetLogger(logger)

	closeFn := func() {
		s.Close()
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}
	return s, closeFn, nil
}
