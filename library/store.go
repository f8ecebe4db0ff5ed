// Package library persists saved wallpaper backgrounds and the user configuration.
//
// Everything lives in one sqlite database, ~/.opaper/db/main.sqlite by default. The schema is
// created by the SQL files under migrations/, applied in semver order at open.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

type Library struct {
	db *sql.DB
}

// DefaultDir returns ~/.opaper.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("unable to find home directory: %w", err)
	}
	return filepath.Join(home, ".opaper"), nil
}

func OpenMemory() (*Library, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("unable to create database: %w", err)
	}
	// every connection to :memory: is a different database
	db.SetMaxOpenConns(1)
	return open(db)
}

// Open opens (creating if needed) the library stored under dir. A leading ~ is expanded.
func Open(dir string) (*Library, error) {
	dir, err := homedir.Expand(dir)
	if err != nil {
		return nil, err
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	mainfile := filepath.Join(dir, "db", "main.sqlite")
	if err := os.MkdirAll(filepath.Dir(mainfile), 0755); err != nil {
		return nil, fmt.Errorf("unable to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", mainfile+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("unable to create database file: %w", err)
	}
	return open(db)
}

func open(db *sql.DB) (*Library, error) {
	if err := initDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize database: %w", err)
	}
	return &Library{db: db}, nil
}

func (l *Library) Close() error {
	return l.db.Close()
}

func inTX(ctx context.Context, db *sql.DB, txn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()
	if err := txn(tx); err != nil {
		return err
	}
	err = tx.Commit()
	tx = nil
	return err
}
