//go:build cgo_sqlite

package main

import (
	_ "github.com/mattn/go-sqlite3"
)

// sqliteDriver is the database/sql driver name registered by mattn/go-sqlite3.
const sqliteDriver = "sqlite3"
