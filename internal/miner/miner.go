// Package miner harvests SQL snippets from configured source URLs,
// adapts each concept to the target schema through the LLM and
// memorizes the adaptations that validate against the database.
package miner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/schema"
)

// Learner persists adapted pairs; *writer.Writer satisfies it.
type Learner interface {
	Learn(ctx context.Context, prompt, sqlText string) error
}

type Validator interface {
	Validate(ctx context.Context, sqlText string) error
}

type Executor interface {
	Execute(ctx context.Context, request executor.Request) (executor.Result, error)
}

type Config struct {
	Sources       []string
	Workers       int
	FetchTimeout  time.Duration
	MinSnippetLen int
	MaxSnippetLen int
	RowLimit      int
}

type Service struct {
	Chat      llm.ChatClient
	Model     string
	Catalog   *schema.Catalog
	Validator Validator
	Executor  Executor
	Learner   Learner
	Config    Config
	Logger    *slog.Logger

	// HTTPClient is swappable for tests; defaults to a client with
	// the configured fetch timeout.
	HTTPClient *http.Client
}

type Summary struct {
	SourcesFetched int `json:"sources_fetched"`
	FetchFailures  int `json:"fetch_failures"`
	SnippetsFound  int `json:"snippets_found"`
	Adapted        int `json:"adapted"`
	Memorized      int `json:"memorized"`
	Invalid        int `json:"invalid"`
}

var sqlFenceRe = regexp.MustCompile("(?is)```sql(.*?)```")

const adaptTemplate = `/* Task: Adapt SQL Concept from Source to Target Schema */

/* Source SQL (Example of a concept like Window Function, CTE, or Complex Join) */
%s

/* Target Database Schema */
%s

/* Goal */
1. Analyze what the Source SQL is doing (e.g. "Calculate running total", "Rank items").
2. Create a SIMILAR query for the Target Schema.
3. If the concept doesn't apply, return "N/A".
4. Output Format:
-- QUESTION: <Natural Language Description of what the query does>
-- SQL: <The Valid Query for Target Schema>
SELECT ...
`

// Run fetches every configured source through a worker pool and
// returns aggregate counts. Cancelling the context stops the pool.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if err := s.ensureDefaults(); err != nil {
		return Summary{}, err
	}
	if len(s.Config.Sources) == 0 {
		return Summary{}, fmt.Errorf("at least one source URL is required")
	}

	sources := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	summary := Summary{}

	for i := 0; i < s.Config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for source := range sources {
				partial := s.mineSource(ctx, source)
				mu.Lock()
				summary.SourcesFetched += partial.SourcesFetched
				summary.FetchFailures += partial.FetchFailures
				summary.SnippetsFound += partial.SnippetsFound
				summary.Adapted += partial.Adapted
				summary.Memorized += partial.Memorized
				summary.Invalid += partial.Invalid
				mu.Unlock()
			}
		}()
	}

	for _, source := range s.Config.Sources {
		select {
		case <-ctx.Done():
			close(sources)
			wg.Wait()
			return summary, ctx.Err()
		case sources <- source:
		}
	}
	close(sources)
	wg.Wait()
	return summary, nil
}

func (s *Service) mineSource(ctx context.Context, source string) Summary {
	summary := Summary{}
	body, err := s.fetch(ctx, source)
	if err != nil {
		summary.FetchFailures++
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "source fetch failed",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
		}
		return summary
	}
	summary.SourcesFetched++

	snippets := ExtractSnippets(source, body, s.Config.MinSnippetLen)
	summary.SnippetsFound = len(snippets)

	for _, snippet := range snippets {
		if ctx.Err() != nil {
			return summary
		}
		if len(snippet) > s.Config.MaxSnippetLen {
			snippet = snippet[:s.Config.MaxSnippetLen]
		}
		question, adapted, err := s.adaptSnippet(ctx, snippet)
		if err != nil || adapted == "" {
			continue
		}
		summary.Adapted++

		if err := s.Validator.Validate(ctx, adapted); err != nil {
			summary.Invalid++
			continue
		}
		if _, err := s.Executor.Execute(ctx, executor.Request{SQL: adapted, RowLimit: s.Config.RowLimit}); err != nil {
			summary.Invalid++
			continue
		}
		if err := s.Learner.Learn(ctx, question, adapted); err != nil {
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "memorize failed", slog.String("error", err.Error()))
			}
			continue
		}
		summary.Memorized++
	}
	return summary
}

func (s *Service) fetch(ctx context.Context, source string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	// Some snippet hosts reject default Go user agents.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; querywright-miner)")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", source, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", source, err)
	}
	return string(body), nil
}

// adaptSnippet asks the model to transfer the snippet's concept onto
// the target schema using the QUESTION/SQL comment contract.
func (s *Service) adaptSnippet(ctx context.Context, snippet string) (question, sqlText string, err error) {
	prompt := fmt.Sprintf(adaptTemplate, snippet, s.Catalog.ToText())
	content, err := s.Chat.Chat(ctx, s.Model, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", "", err
	}
	return ParseAdaptation(content)
}

var (
	questionRe = regexp.MustCompile(`-- QUESTION: (.*)`)
	sqlMarkRe  = regexp.MustCompile(`(?s)-- SQL:(.*)`)
)

// ParseAdaptation extracts the question and SQL from a model reply
// following the "-- QUESTION: / -- SQL:" contract. Replies declining
// with N/A yield empty results.
func ParseAdaptation(content string) (question, sqlText string, err error) {
	if strings.Contains(content, "N/A") {
		return "", "", nil
	}

	question = "Complex Query"
	if match := questionRe.FindStringSubmatch(content); match != nil {
		question = strings.TrimSpace(match[1])
	}

	if match := sqlMarkRe.FindStringSubmatch(content); match != nil {
		sqlText = strings.TrimSpace(match[1])
	} else if match := sqlFenceRe.FindStringSubmatch(content); match != nil {
		sqlText = strings.TrimSpace(match[1])
	} else {
		sqlText = strings.TrimSpace(content)
	}

	upper := strings.ToUpper(sqlText)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		index := strings.Index(upper, "SELECT")
		if index == -1 {
			index = strings.Index(upper, "WITH")
		}
		if index == -1 {
			return "", "", fmt.Errorf("no SELECT statement in adaptation")
		}
		sqlText = sqlText[index:]
	}
	return question, sqlText, nil
}

// ExtractSnippets pulls candidate SQL from a fetched page. Raw SQL
// files are taken whole; markdown pages contribute their sql fences.
func ExtractSnippets(source, body string, minLen int) []string {
	if !strings.Contains(strings.ToUpper(body), "SELECT") {
		return nil
	}

	var blocks []string
	if strings.HasSuffix(source, ".sql") || strings.Contains(source, "/raw/") {
		blocks = append(blocks, body)
	} else {
		for _, match := range sqlFenceRe.FindAllStringSubmatch(body, -1) {
			blocks = append(blocks, match[1])
		}
	}

	snippets := make([]string, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if len(block) < minLen {
			continue
		}
		snippets = append(snippets, block)
	}
	return snippets
}

func (s *Service) ensureDefaults() error {
	if s.Chat == nil {
		return fmt.Errorf("chat client is required")
	}
	if s.Catalog == nil {
		return fmt.Errorf("schema catalog is required")
	}
	if s.Validator == nil || s.Executor == nil {
		return fmt.Errorf("validator and executor are required")
	}
	if s.Learner == nil {
		return fmt.Errorf("learner is required")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if s.Config.Workers <= 0 {
		s.Config.Workers = 2
	}
	if s.Config.FetchTimeout <= 0 {
		s.Config.FetchTimeout = 10 * time.Second
	}
	if s.Config.MinSnippetLen <= 0 {
		s.Config.MinSnippetLen = 50
	}
	if s.Config.MaxSnippetLen <= 0 {
		s.Config.MaxSnippetLen = 2000
	}
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{Timeout: s.Config.FetchTimeout}
	}
	return nil
}
