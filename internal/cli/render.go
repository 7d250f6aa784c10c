package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/querywright/querywright/internal/executor"
)

// RenderResult writes a query result in the requested format. The
// default is a boxed table; json emits one object per row.
func RenderResult(w io.Writer, result executor.Result, format string) error {
	switch format {
	case "json":
		return renderJSON(w, result)
	case "csv":
		return renderCSV(w, result)
	case "", "table":
		return renderTable(w, result)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderTable(w io.Writer, result executor.Result) error {
	if len(result.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(result.Columns))
	for i, col := range result.Columns {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, row := range result.Rows {
		prettyRow := make(table.Row, len(row))
		copy(prettyRow, row)
		t.AppendRow(prettyRow)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(result.Rows))
	return nil
}

func renderJSON(w io.Writer, result executor.Result) error {
	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func renderCSV(w io.Writer, result executor.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return err
	}
	for _, row := range result.Rows {
		record := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				continue
			}
			record[i] = fmt.Sprintf("%v", value)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
