// Package db provides sqlite connectivity, migrations, and persistence for
// grid runs and the rule search registry.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the sqlite database at path, creating it if needed, applies the
// connection pragmas and runs any pending migrations. The pool is capped at a
// single connection; the run loop persists from one goroutine only.
func Open(path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	for _, pragma := range []string{"foreign_keys=ON", "busy_timeout=5000"} {
		if _, err := handle.Exec("PRAGMA " + pragma + ";"); err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	// WAL can be refused on some filesystems; run without it.
	if _, err := handle.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warn().Err(err).Msg("sqlite: WAL mode not enabled")
	}

	if err := migrate(handle); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return handle, nil
}

func migrate(handle *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(handle, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
