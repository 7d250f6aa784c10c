// Package db opens the target database that generated queries run against.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

type Dialect string

const (
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

// DisplayName is the dialect name as LLM prompts should spell it.
func (d Dialect) DisplayName() string {
	if d == DialectPostgres {
		return "PostgreSQL"
	}
	return "DuckDB"
}

type Config struct {
	Driver   string
	Path     string
	ReadOnly bool
}

// Target wraps the *sql.DB handle together with the dialect tag the
// prompt builder and schema introspection need.
type Target struct {
	DB      *sql.DB
	Dialect Dialect
	Path    string
}

func Open(ctx context.Context, cfg Config) (*Target, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("target path is required")
	}

	switch cfg.Driver {
	case "duckdb":
		return openDuckDB(ctx, path, cfg.ReadOnly)
	case "postgres":
		return openPostgres(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported target driver: %q", cfg.Driver)
	}
}

func openDuckDB(ctx context.Context, path string, readOnly bool) (*Target, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file %q: %w", path, err)
	}

	dsn := path
	if readOnly {
		dsn = path + "?" + url.Values{"access_mode": []string{"read_only"}}.Encode()
	}
	handle, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping duckdb %q: %w", path, err)
	}
	return &Target{DB: handle, Dialect: DialectDuckDB, Path: path}, nil
}

func openPostgres(ctx context.Context, dsn string) (*Target, error) {
	handle, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Target{DB: handle, Dialect: DialectPostgres, Path: dsn}, nil
}

func (t *Target) Close() error {
	if t == nil || t.DB == nil {
		return nil
	}
	return t.DB.Close()
}
