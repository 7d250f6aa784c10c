// Package schema introspects and caches the target database schema used
// as LLM prompt context.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/querywright/querywright/internal/db"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Catalog holds the introspected schema. Tables and columns keep the
// ordinal order reported by the database.
type Catalog struct {
	mu          sync.RWMutex
	tables      []Table
	lastRefresh time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Load introspects the schema and replaces the cached descriptor.
func (c *Catalog) Load(ctx context.Context, handle *sql.DB, dialect db.Dialect) error {
	tables, err := introspect(ctx, handle, dialect)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}

	c.mu.Lock()
	c.tables = tables
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Tables() []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tables := make([]Table, len(c.tables))
	copy(tables, c.tables)
	return tables
}

func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for _, table := range c.tables {
		names = append(names, table.Name)
	}
	return names
}

func (c *Catalog) TableCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

func (c *Catalog) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// ToText serializes the descriptor in the compact one-line-per-table
// form the prompt builder embeds.
func (c *Catalog) ToText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.tables) == 0 {
		return "(no tables found)"
	}

	var sb strings.Builder
	for i, table := range c.tables {
		if i > 0 {
			sb.WriteString("\n")
		}
		cols := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			cols = append(cols, fmt.Sprintf("%s (%s)", col.Name, col.Type))
		}
		sb.WriteString(fmt.Sprintf("Table %s: %s", table.Name, strings.Join(cols, ", ")))
	}
	return sb.String()
}

func introspect(ctx context.Context, handle *sql.DB, dialect db.Dialect) ([]Table, error) {
	schemaName := "main"
	if dialect == db.DialectPostgres {
		schemaName = "public"
	}

	names, err := tableNames(ctx, handle, schemaName)
	if err != nil {
		return nil, err
	}
	columns, err := tableColumns(ctx, handle, schemaName)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, Table{Name: name, Columns: columns[name]})
	}
	return tables, nil
}

func tableNames(ctx context.Context, handle *sql.DB, schemaName string) ([]string, error) {
	query := `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
  AND table_type = 'BASE TABLE'
ORDER BY table_name`

	rows, err := handle.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableColumns(ctx context.Context, handle *sql.DB, schemaName string) (map[string][]Column, error) {
	query := `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	rows, err := handle.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make(map[string][]Column)
	for rows.Next() {
		var tableName string
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns[tableName] = append(columns[tableName], col)
	}
	return columns, rows.Err()
}
