// Package executor runs generated SQL against the target database and
// normalizes results for rendering and comparison.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/querywright/querywright/internal/observability"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"-"`
}

type Executor struct {
	handle *sql.DB
}

func New(handle *sql.DB) *Executor {
	return &Executor{handle: handle}
}

func (e *Executor) Execute(ctx context.Context, request Request) (Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := e.handle.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	elapsed := time.Since(start)
	observability.ObserveQueryLatency(elapsed)

	return Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: elapsed,
	}, nil
}

// Validate checks syntactic validity (and binding against the schema)
// by asking the database to plan the statement without running it.
// A nil return means the statement is executable.
func (e *Executor) Validate(ctx context.Context, sqlText string) error {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return fmt.Errorf("sql is required")
	}

	rows, err := e.handle.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	return rows.Err()
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
