// Package writer turns natural-language questions into SQL for the
// target database. Generation retrieves few-shot context from the
// knowledge base, prompts the chat backend, validates the candidate
// with EXPLAIN and retries with the error fed back into the prompt.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/knowledge"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/observability"
	"github.com/querywright/querywright/internal/schema"
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// Validator checks a candidate statement without running it.
type Validator interface {
	Validate(ctx context.Context, sqlText string) error
}

// KnowledgeBase is the slice of the knowledge API the writer needs.
type KnowledgeBase interface {
	Search(ctx context.Context, prompt string, k int) (knowledge.Context, error)
	AddLearnedQuery(ctx context.Context, prompt, sqlText string) (knowledge.LearnedQuery, error)
}

type Config struct {
	Chat            llm.ChatClient
	Model           string
	Dialect         db.Dialect
	Catalog         *schema.Catalog
	Validator       Validator
	Knowledge       KnowledgeBase
	Logger          *slog.Logger
	MaxAttempts     int
	ContextExamples int
}

// Generation is the outcome of one GenerateQuery call. Validated is
// false when the attempt budget ran out and SQL is the best-effort
// last candidate.
type Generation struct {
	SQL       string `json:"sql"`
	Model     string `json:"model"`
	Attempts  int    `json:"attempts"`
	Validated bool   `json:"validated"`
}

type Writer struct {
	chat            llm.ChatClient
	model           string
	dialect         db.Dialect
	catalog         *schema.Catalog
	validator       Validator
	knowledge       KnowledgeBase
	logger          *slog.Logger
	maxAttempts     int
	contextExamples int
}

func New(cfg Config) (*Writer, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("schema catalog is required")
	}
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ContextExamples <= 0 {
		cfg.ContextExamples = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		chat:            cfg.Chat,
		model:           cfg.Model,
		dialect:         cfg.Dialect,
		catalog:         cfg.Catalog,
		validator:       cfg.Validator,
		knowledge:       cfg.Knowledge,
		logger:          cfg.Logger,
		maxAttempts:     cfg.MaxAttempts,
		contextExamples: cfg.ContextExamples,
	}, nil
}

// GenerateQuery produces a single SQL statement for the question. The
// returned SQL is fence free and never empty on a nil error. When every
// attempt fails validation the last candidate is returned best effort
// with Validated set to false.
func (w *Writer) GenerateQuery(ctx context.Context, prompt string) (Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Generation{}, ErrEmptyPrompt
	}

	start := time.Now()
	ragContext := w.retrieveContext(ctx, prompt)
	schemaText := w.catalog.ToText()

	var errorHistory strings.Builder
	var lastSQL string
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		fullPrompt := buildPrompt(schemaText, ragContext, prompt, errorHistory.String(), w.dialect)
		raw, err := w.chat.Chat(ctx, w.model, []llm.Message{{Role: "user", Content: fullPrompt}})
		if err != nil {
			if ctx.Err() != nil {
				return Generation{}, ctx.Err()
			}
			w.logger.WarnContext(ctx, "llm generation failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}

		sqlText := CleanResponse(raw)
		if sqlText == "" {
			lastErr = fmt.Errorf("attempt %d: model returned no SQL", attempt)
			fmt.Fprintf(&errorHistory, "\nAttempt %d returned no SQL.\n", attempt)
			continue
		}
		lastSQL = sqlText

		if err := w.validator.Validate(ctx, sqlText); err != nil {
			if ctx.Err() != nil {
				return Generation{}, ctx.Err()
			}
			observability.IncrementValidationFailure()
			w.logger.InfoContext(ctx, "candidate failed validation",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(&errorHistory, "\nAttempt %d SQL:\n%s\nError: %s\n", attempt, sqlText, err)
			lastErr = err
			continue
		}

		observability.ObserveTranslate(attempt, false, time.Since(start))
		return Generation{SQL: sqlText, Model: w.model, Attempts: attempt, Validated: true}, nil
	}

	observability.ObserveTranslate(w.maxAttempts, true, time.Since(start))
	if lastSQL == "" {
		return Generation{}, fmt.Errorf("generate query: %w", lastErr)
	}
	w.logger.WarnContext(ctx, "attempt budget exhausted, returning unvalidated SQL",
		slog.Int("attempts", w.maxAttempts),
	)
	return Generation{SQL: lastSQL, Model: w.model, Attempts: w.maxAttempts, Validated: false}, nil
}

// Learn persists a confirmed-good pair. No-op without a knowledge base.
func (w *Writer) Learn(ctx context.Context, prompt, sqlText string) error {
	if w.knowledge == nil {
		return nil
	}
	if _, err := w.knowledge.AddLearnedQuery(ctx, prompt, sqlText); err != nil {
		return fmt.Errorf("learn query: %w", err)
	}
	observability.IncrementKnowledgeLearned()
	return nil
}

// retrieveContext degrades to an empty context on search failure; a
// broken embedding backend must not block generation.
func (w *Writer) retrieveContext(ctx context.Context, prompt string) knowledge.Context {
	if w.knowledge == nil {
		return knowledge.Context{}
	}
	result, err := w.knowledge.Search(ctx, prompt, w.contextExamples)
	if err != nil {
		w.logger.WarnContext(ctx, "knowledge search failed", slog.String("error", err.Error()))
		return knowledge.Context{}
	}
	observability.ObserveKnowledgeHits(len(result.Learned) + len(result.Docs))
	return result
}
