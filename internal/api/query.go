package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/querywright/querywright/internal/config"
	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/writer"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	Prompt   string `json:"prompt"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	SQL        string             `json:"sql"`
	Columns    []string           `json:"columns"`
	Rows       [][]any            `json:"rows"`
	DurationMs int64              `json:"duration_ms"`
	Generation *writer.Generation `json:"generation,omitempty"`
}

// handleQuery executes SQL directly or translates a prompt first when
// sql is absent.
func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_runner"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	sqlText := strings.TrimSpace(request.SQL)
	var generation *writer.Generation
	if sqlText == "" {
		if strings.TrimSpace(request.Prompt) == "" {
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_OR_PROMPT_REQUIRED", "sql or prompt is required", false, nil)
			return
		}
		if deps.Writer == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query writer is not configured", false, nil)
			return
		}
		result, err := deps.Writer.GenerateQuery(r.Context(), request.Prompt)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATION_FAILED", "query generation failed", true, map[string]any{"details": err.Error()})
			return
		}
		generation = &result
		sqlText = result.SQL
	}

	if !isAllowedSQL(sqlText) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only read-only SELECT/WITH queries are allowed", false, nil)
		return
	}

	rowLimit := request.RowLimit
	if rowLimit <= 0 {
		rowLimit = cfg.Writer.RowLimit
	}
	result, err := deps.Executor.Execute(r.Context(), executor.Request{SQL: sqlText, RowLimit: rowLimit})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		SQL:        sqlText,
		Columns:    result.Columns,
		Rows:       result.Rows,
		DurationMs: result.Duration.Milliseconds(),
		Generation: generation,
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables":       deps.Catalog.Tables(),
		"text":         deps.Catalog.ToText(),
		"refreshed_at": deps.Catalog.LastRefresh(),
	})
}

func handleKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Knowledge == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "KNOWLEDGE_NOT_CONFIGURED", "knowledge store is not configured", false, nil)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}
	entries, err := deps.Knowledge.ListLearnedQueries(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "KNOWLEDGE_ERROR", "failed to list learned queries", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func isAllowedSQL(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" {
		return false
	}
	if strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with") {
		return true
	}
	return false
}
