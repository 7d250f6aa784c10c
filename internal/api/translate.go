package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/querywright/querywright/internal/auth"
	"github.com/querywright/querywright/internal/writer"
)

type translateRequest struct {
	Prompt string `json:"prompt"`
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Writer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query writer is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_runner"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request translateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	generation, err := deps.Writer.GenerateQuery(r.Context(), request.Prompt)
	if err != nil {
		if errors.Is(err, writer.ErrEmptyPrompt) {
			writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATION_FAILED", "query generation failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, generation)
}

type learnRequest struct {
	Prompt string `json:"prompt"`
	SQL    string `json:"sql"`
}

func handleLearn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Writer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LEARN_NOT_CONFIGURED", "query writer is not configured", false, nil)
		return
	}
	if err := requireRole(r, "knowledge_writer"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request learnRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid learn request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Prompt) == "" || strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_AND_SQL_REQUIRED", "prompt and sql are required", false, nil)
		return
	}

	if err := deps.Writer.Learn(r.Context(), request.Prompt, request.SQL); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "LEARN_FAILED", "failed to persist learned query", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "learned"})
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
