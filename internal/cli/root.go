// Package cli implements the querywright command-line harness.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/config"
	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/knowledge"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/observability"
	"github.com/querywright/querywright/internal/schema"
	"github.com/querywright/querywright/internal/writer"
)

var (
	dbFlag     string
	driverFlag string
	formatFlag string
)

// NewRootCmd builds the querywright command tree. Configuration comes
// from QUERYWRIGHT_* environment variables with a few flag overrides.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "querywright",
		Short: "querywright - natural language to SQL agent",
		Long: `querywright turns natural-language questions into validated SQL
against a DuckDB file or Postgres database, keeps a knowledge base of
confirmed queries, and can self-train against its own schema.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "target database path or DSN (overrides QUERYWRIGHT_TARGET_PATH)")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "target driver: duckdb or postgres")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "table", "output format (table|json|csv)")

	_ = rootCmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "csv"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newREPLCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newTrainCommand())
	rootCmd.AddCommand(newMineCommand())
	rootCmd.AddCommand(newKnowledgeCommand())
	rootCmd.AddCommand(newVersionCommand(version))
	return rootCmd
}

// app holds the wired components a command needs. Commands build it on
// demand so flag parsing stays cheap for help output.
type app struct {
	cfg      config.Config
	target   *db.Target
	catalog  *schema.Catalog
	executor *executor.Executor
	client   *llm.OpenAIClient
	base     *knowledge.Base
	store    *knowledge.Store
	writer   *writer.Writer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFromEnv("querywright")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dbFlag) != "" {
		cfg.Target.Path = dbFlag
	}
	if strings.TrimSpace(driverFlag) != "" {
		cfg.Target.Driver = driverFlag
	}

	target, err := db.Open(ctx, db.Config{
		Driver:   cfg.Target.Driver,
		Path:     cfg.Target.Path,
		ReadOnly: cfg.Target.ReadOnly,
	})
	if err != nil {
		return nil, err
	}

	catalog := schema.NewCatalog()
	if err := catalog.Load(ctx, target.DB, target.Dialect); err != nil {
		_ = target.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		_ = target.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		target:   target,
		catalog:  catalog,
		executor: executor.New(target.DB),
		client:   client,
	}

	if cfg.Knowledge.Enabled {
		store, err := knowledge.OpenStore(cfg.Knowledge.Path)
		if err != nil {
			_ = target.Close()
			return nil, err
		}
		a.store = store
		a.base = knowledge.NewBase(store, client, cfg.LLM.EmbedModel)
	}

	writerCfg := writer.Config{
		Chat:            client,
		Model:           cfg.LLM.Model,
		Dialect:         target.Dialect,
		Catalog:         catalog,
		Validator:       a.executor,
		Logger:          observability.NewLogger(cfg, os.Stderr),
		MaxAttempts:     cfg.Writer.MaxAttempts,
		ContextExamples: cfg.Writer.ContextExamples,
	}
	if a.base != nil {
		writerCfg.Knowledge = a.base
	}
	a.writer, err = writer.New(writerCfg)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.target != nil {
		_ = a.target.Close()
	}
}
