// Package trainer runs a curriculum self-training loop: a generator
// model invents question/SQL pairs per difficulty level, the writer
// solves each question, and matching result sets are memorized into
// the knowledge base.
package trainer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/schema"
	"github.com/querywright/querywright/internal/writer"
)

// QueryWriter is the slice of the writer API the trainer drives.
type QueryWriter interface {
	GenerateQuery(ctx context.Context, prompt string) (writer.Generation, error)
	Learn(ctx context.Context, prompt, sqlText string) error
}

type Executor interface {
	Execute(ctx context.Context, request executor.Request) (executor.Result, error)
}

type Config struct {
	GeneratorModel string
	Dialect        db.Dialect
	TargetPerLevel int
	MaxConsecutive int
	RowLimit       int
}

type Service struct {
	Writer   QueryWriter
	Chat     llm.ChatClient
	Executor Executor
	Catalog  *schema.Catalog
	Config   Config
	Logger   *slog.Logger

	seen map[string]struct{}
}

type LevelSummary struct {
	Level     string `json:"level"`
	Memorized int    `json:"memorized"`
	Attempts  int    `json:"attempts"`
	Aborted   bool   `json:"aborted"`
}

type Summary struct {
	Levels    []LevelSummary `json:"levels"`
	Memorized int            `json:"memorized"`
}

type level struct {
	name   string
	recipe string
}

var curriculum = []level{
	{"easy", "Use single table, basic SELECT ... WHERE filtering."},
	{"medium", "Use JOIN between 2 tables."},
	{"hard", "Use JOINs across 3+ tables, GROUP BY, and Aggregates."},
	{"expert", "Use Window Functions (RANK, LEAD), CTEs, or Subqueries."},
}

const groundTruthTemplate = `You are a SQL Teacher.
Schema:
%s

Task: Generate 1 unique SQL query and its corresponding natural language question.
Difficulty: %s (%s).
Constraint: The SQL MUST be valid %s syntax and return data (not empty).

Output Format JSON ONLY:
{
  "question": "...",
  "sql": "..."
}
`

type groundTruth struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`

	result executor.Result
}

// Run works through every curriculum level until each reaches the
// target count or aborts after too many consecutive failures.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	if err := s.ensureDefaults(); err != nil {
		return Summary{}, err
	}

	summary := Summary{}
	for _, lvl := range curriculum {
		levelSummary, err := s.runLevel(ctx, lvl)
		summary.Levels = append(summary.Levels, levelSummary)
		summary.Memorized += levelSummary.Memorized
		if err != nil {
			return summary, err
		}
	}
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "training complete", slog.Int("memorized", summary.Memorized))
	}
	return summary, nil
}

func (s *Service) runLevel(ctx context.Context, lvl level) (LevelSummary, error) {
	summary := LevelSummary{Level: lvl.name}
	consecutiveFails := 0

	for summary.Memorized < s.Config.TargetPerLevel {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if consecutiveFails >= s.Config.MaxConsecutive {
			summary.Aborted = true
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "aborting level after consecutive failures",
					slog.String("level", lvl.name),
					slog.Int("failures", consecutiveFails),
				)
			}
			return summary, nil
		}

		truth, ok := s.generateGroundTruth(ctx, lvl)
		if !ok {
			consecutiveFails++
			continue
		}
		summary.Attempts++

		if s.solve(ctx, truth) {
			summary.Memorized++
			consecutiveFails = 0
		} else {
			consecutiveFails++
		}
	}
	return summary, nil
}

// solve has the writer answer the question and compares its result set
// with the ground truth after canonical sorting.
func (s *Service) solve(ctx context.Context, truth groundTruth) bool {
	generation, err := s.Writer.GenerateQuery(ctx, truth.Question)
	if err != nil {
		return false
	}
	studentResult, err := s.Executor.Execute(ctx, executor.Request{SQL: generation.SQL, RowLimit: s.Config.RowLimit})
	if err != nil {
		return false
	}
	if !resultsMatch(truth.result, studentResult) {
		if s.Logger != nil {
			s.Logger.DebugContext(ctx, "student result mismatch",
				slog.String("question", truth.Question),
				slog.String("student_sql", generation.SQL),
			)
		}
		return false
	}
	if err := s.Writer.Learn(ctx, truth.Question, generation.SQL); err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "memorize failed", slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

// generateGroundTruth asks the generator model for a question/SQL pair
// and only accepts pairs that are unseen, executable and non-empty.
func (s *Service) generateGroundTruth(ctx context.Context, lvl level) (groundTruth, bool) {
	prompt := fmt.Sprintf(groundTruthTemplate, s.Catalog.ToText(), lvl.name, lvl.recipe, s.Config.Dialect.DisplayName())

	const maxGenerateAttempts = 5
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		if ctx.Err() != nil {
			return groundTruth{}, false
		}
		raw, err := s.Chat.Chat(ctx, s.Config.GeneratorModel, []llm.Message{{Role: "user", Content: prompt}})
		if err != nil {
			continue
		}
		truth, err := parseGroundTruth(raw)
		if err != nil {
			continue
		}

		digest := pairDigest(truth.Question, truth.SQL)
		if _, dup := s.seen[digest]; dup {
			continue
		}

		result, err := s.Executor.Execute(ctx, executor.Request{SQL: truth.SQL, RowLimit: s.Config.RowLimit})
		if err != nil || len(result.Rows) == 0 {
			continue
		}

		s.seen[digest] = struct{}{}
		truth.result = result
		return truth, true
	}
	return groundTruth{}, false
}

func (s *Service) ensureDefaults() error {
	if s.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	if s.Chat == nil {
		return fmt.Errorf("chat client is required")
	}
	if s.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if s.Catalog == nil {
		return fmt.Errorf("schema catalog is required")
	}
	if s.Config.TargetPerLevel <= 0 {
		s.Config.TargetPerLevel = 5
	}
	if s.Config.MaxConsecutive <= 0 {
		s.Config.MaxConsecutive = 10
	}
	if strings.TrimSpace(s.Config.GeneratorModel) == "" {
		s.Config.GeneratorModel = "mistral:7b-instruct-q4_K_M"
	}
	if s.Config.Dialect == "" {
		s.Config.Dialect = db.DialectDuckDB
	}
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	return nil
}

// parseGroundTruth tolerates fenced or chatty replies by slicing the
// outermost JSON object before unmarshalling.
func parseGroundTruth(raw string) (groundTruth, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return groundTruth{}, fmt.Errorf("no JSON object in response")
	}
	var truth groundTruth
	if err := json.Unmarshal([]byte(raw[start:end+1]), &truth); err != nil {
		return groundTruth{}, fmt.Errorf("parse ground truth: %w", err)
	}
	truth.Question = strings.TrimSpace(truth.Question)
	truth.SQL = strings.TrimSpace(truth.SQL)
	if truth.Question == "" || truth.SQL == "" {
		return groundTruth{}, fmt.Errorf("ground truth missing question or sql")
	}
	return truth, nil
}

func pairDigest(question, sqlText string) string {
	sum := sha256.Sum256([]byte(question + sqlText))
	return hex.EncodeToString(sum[:])
}

// resultsMatch compares two result sets ignoring row order. Values are
// compared by string rendering since drivers disagree on numeric types.
func resultsMatch(truth, student executor.Result) bool {
	if len(truth.Columns) != len(student.Columns) {
		return false
	}
	if len(truth.Rows) != len(student.Rows) {
		return false
	}
	return equalCanonical(canonicalRows(truth.Rows), canonicalRows(student.Rows))
}

func canonicalRows(rows [][]any) []string {
	rendered := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, value := range row {
			cells = append(cells, fmt.Sprintf("%v", value))
		}
		rendered = append(rendered, strings.Join(cells, "\x1f"))
	}
	sort.Strings(rendered)
	return rendered
}

func equalCanonical(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
