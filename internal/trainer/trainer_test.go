package trainer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/schema"
	"github.com/querywright/querywright/internal/writer"
)

type scriptedChat struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *scriptedChat) Chat(_ context.Context, _ string, messages []llm.Message) (string, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	if s.calls >= len(s.responses) {
		return "", fmt.Errorf("no scripted response left")
	}
	response := s.responses[s.calls]
	s.calls++
	return response, nil
}

type fakeWriter struct {
	sql      string
	err      error
	learned  []string
	learnErr error
}

func (f *fakeWriter) GenerateQuery(_ context.Context, _ string) (writer.Generation, error) {
	if f.err != nil {
		return writer.Generation{}, f.err
	}
	return writer.Generation{SQL: f.sql, Validated: true, Attempts: 1}, nil
}

func (f *fakeWriter) Learn(_ context.Context, prompt, sqlText string) error {
	if f.learnErr != nil {
		return f.learnErr
	}
	f.learned = append(f.learned, prompt+"|"+sqlText)
	return nil
}

type fakeExecutor struct {
	results map[string]executor.Result
}

func (f *fakeExecutor) Execute(_ context.Context, request executor.Request) (executor.Result, error) {
	result, ok := f.results[request.SQL]
	if !ok {
		return executor.Result{}, fmt.Errorf("Catalog Error: unknown statement")
	}
	return result, nil
}

func testService(chat *scriptedChat, w *fakeWriter, exec *fakeExecutor) *Service {
	return &Service{
		Writer:   w,
		Chat:     chat,
		Executor: exec,
		Catalog:  schema.NewCatalog(),
		Config:   Config{TargetPerLevel: 1, MaxConsecutive: 2},
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func groundTruthJSON(question, sqlText string) string {
	return fmt.Sprintf(`{"question": %q, "sql": %q}`, question, sqlText)
}

func TestRunMemorizesMatchingResults(t *testing.T) {
	rows := executor.Result{Columns: []string{"n"}, Rows: [][]any{{int64(7)}}}
	chat := &scriptedChat{responses: []string{
		groundTruthJSON("how many stores?", "SELECT COUNT(*) FROM stores"),
		groundTruthJSON("q2", "SELECT COUNT(*) FROM staffs"),
		groundTruthJSON("q3", "SELECT COUNT(*) FROM brands"),
		groundTruthJSON("q4", "SELECT COUNT(*) FROM categories"),
	}}
	w := &fakeWriter{sql: "SELECT COUNT(*) AS n FROM stores"}
	exec := &fakeExecutor{results: map[string]executor.Result{
		"SELECT COUNT(*) FROM stores":      rows,
		"SELECT COUNT(*) FROM staffs":      rows,
		"SELECT COUNT(*) FROM brands":      rows,
		"SELECT COUNT(*) FROM categories":  rows,
		"SELECT COUNT(*) AS n FROM stores": rows,
	}}

	summary, err := testService(chat, w, exec).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Memorized)
	require.Len(t, summary.Levels, 4)
	for _, lvl := range summary.Levels {
		require.False(t, lvl.Aborted)
		require.Equal(t, 1, lvl.Memorized)
	}
	require.Len(t, w.learned, 4)
}

func TestRunAbortsLevelAfterConsecutiveFailures(t *testing.T) {
	// Ground truth generation keeps succeeding but the student never
	// matches, so every level aborts at MaxConsecutive.
	responses := make([]string, 0, 16)
	for i := 0; i < 16; i++ {
		responses = append(responses, groundTruthJSON(fmt.Sprintf("q%d", i), fmt.Sprintf("SELECT %d", i)))
	}
	chat := &scriptedChat{responses: responses}
	w := &fakeWriter{sql: "SELECT 'wrong'"}
	results := map[string]executor.Result{
		"SELECT 'wrong'": {Columns: []string{"c"}, Rows: [][]any{{"wrong"}}},
	}
	for i := 0; i < 16; i++ {
		results[fmt.Sprintf("SELECT %d", i)] = executor.Result{Columns: []string{"c"}, Rows: [][]any{{int64(i)}}}
	}

	summary, err := testService(chat, w, &fakeExecutor{results: results}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Memorized)
	for _, lvl := range summary.Levels {
		require.True(t, lvl.Aborted)
	}
}

func TestGenerateGroundTruthSkipsDuplicatesAndEmptyResults(t *testing.T) {
	truthJSON := groundTruthJSON("count stores", "SELECT COUNT(*) FROM stores")
	chat := &scriptedChat{responses: []string{
		"```json\n" + truthJSON + "\n```",
		truthJSON,
		groundTruthJSON("empty", "SELECT * FROM orders WHERE 1=0"),
		groundTruthJSON("fresh", "SELECT COUNT(*) FROM brands"),
	}}
	exec := &fakeExecutor{results: map[string]executor.Result{
		"SELECT COUNT(*) FROM stores":    {Columns: []string{"n"}, Rows: [][]any{{int64(3)}}},
		"SELECT * FROM orders WHERE 1=0": {Columns: []string{"id"}},
		"SELECT COUNT(*) FROM brands":    {Columns: []string{"n"}, Rows: [][]any{{int64(9)}}},
	}}
	service := testService(chat, &fakeWriter{}, exec)
	require.NoError(t, service.ensureDefaults())

	truth, ok := service.generateGroundTruth(context.Background(), curriculum[0])
	require.True(t, ok)
	require.Equal(t, "count stores", truth.Question)

	// Same pair again is a duplicate; the empty result is skipped too.
	truth, ok = service.generateGroundTruth(context.Background(), curriculum[0])
	require.True(t, ok)
	require.Equal(t, "fresh", truth.Question)
}

func TestGroundTruthPromptNamesTargetDialect(t *testing.T) {
	chat := &scriptedChat{responses: []string{`{"question": "count rows", "sql": "SELECT 1"}`}}
	exec := &fakeExecutor{results: map[string]executor.Result{
		"SELECT 1": {Columns: []string{"n"}, Rows: [][]any{{int64(1)}}},
	}}
	service := testService(chat, &fakeWriter{sql: "SELECT 1"}, exec)
	service.Config.Dialect = db.DialectPostgres
	require.NoError(t, service.ensureDefaults())

	_, ok := service.generateGroundTruth(context.Background(), curriculum[0])
	require.True(t, ok)
	require.Contains(t, chat.prompts[0], "valid PostgreSQL syntax")
}

func TestParseGroundTruthRejectsGarbage(t *testing.T) {
	_, err := parseGroundTruth("sorry, I cannot help with that")
	require.Error(t, err)

	_, err = parseGroundTruth(`{"question": "", "sql": "SELECT 1"}`)
	require.Error(t, err)
}

func TestResultsMatchIgnoresRowOrder(t *testing.T) {
	a := executor.Result{Columns: []string{"name"}, Rows: [][]any{{"trek"}, {"surly"}}}
	b := executor.Result{Columns: []string{"name"}, Rows: [][]any{{"surly"}, {"trek"}}}
	require.True(t, resultsMatch(a, b))

	c := executor.Result{Columns: []string{"name"}, Rows: [][]any{{"trek"}}}
	require.False(t, resultsMatch(a, c))
}

func TestRunValidatesDependencies(t *testing.T) {
	service := &Service{}
	_, err := service.Run(context.Background())
	require.Error(t, err)
}
