package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/executor"
)

func newREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive question loop with learn-on-feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return runREPL(cmd, a)
		},
	}
}

func runREPL(cmd *cobra.Command, a *app) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "querywright> ",
		HistoryFile:     historyFilePath(a),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("initialize repl: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "querywright REPL (target: %s, model: %s)\n", a.cfg.Target.Path, a.cfg.LLM.Model)
	_, _ = fmt.Fprintln(out, "Ask a question in plain language. Type .help for commands, .quit to exit.")
	_, _ = fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(cmd, a, line); quit {
				return nil
			}
			continue
		}

		askAndRender(cmd, a, rl, line)
	}
}

// askAndRender drives one question through generate, execute and the
// y/n feedback step that feeds the knowledge base.
func askAndRender(cmd *cobra.Command, a *app, rl *readline.Instance, question string) {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	generation, err := a.writer.GenerateQuery(cmd.Context(), question)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(out, "\nSQL: %s\n\n", generation.SQL)
	if !generation.Validated {
		_, _ = fmt.Fprintf(errOut, "warning: SQL did not validate after %d attempts\n", generation.Attempts)
	}

	result, err := a.executor.Execute(cmd.Context(), executor.Request{
		SQL:      generation.SQL,
		RowLimit: a.cfg.Writer.RowLimit,
	})
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		return
	}
	if err := RenderResult(out, result, formatFlag); err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		return
	}

	if a.base == nil {
		return
	}
	rl.SetPrompt("Was this correct? [y/N] ")
	answer, err := rl.Readline()
	rl.SetPrompt("querywright> ")
	if err != nil {
		return
	}
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		if err := a.writer.Learn(cmd.Context(), question, generation.SQL); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		_, _ = fmt.Fprintln(out, "Memorized.")
	}
}

func handleDotCommand(cmd *cobra.Command, a *app, line string) (quit bool) {
	out := cmd.OutOrStdout()
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ".quit", ".exit":
		return true
	case ".help":
		_, _ = fmt.Fprint(out, `
Commands:
  .help       Show this help message
  .schema     Print the target database schema
  .quit       Exit the REPL

Anything else is treated as a natural-language question.
`)
	case ".schema":
		_, _ = fmt.Fprintln(out, a.catalog.ToText())
	default:
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command: %s (type .help for commands)\n", line)
	}
	return false
}

func historyFilePath(a *app) string {
	if a.cfg.Knowledge.Path != "" && a.cfg.Knowledge.Path != ":memory:" {
		return filepath.Join(filepath.Dir(a.cfg.Knowledge.Path), "repl_history")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".querywright_history")
}
