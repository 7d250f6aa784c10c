package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/miner"
	"github.com/querywright/querywright/internal/observability"
)

func newMineCommand() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine SQL snippets from source URLs into the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(sources) == 0 {
				return fmt.Errorf("at least one --source URL is required")
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if a.base == nil {
				return fmt.Errorf("mining requires the knowledge base (set QUERYWRIGHT_KNOWLEDGE_ENABLED=true)")
			}

			service := &miner.Service{
				Chat:      a.client,
				Model:     a.cfg.LLM.Model,
				Catalog:   a.catalog,
				Validator: a.executor,
				Executor:  a.executor,
				Learner:   a.writer,
				Config: miner.Config{
					Sources:       sources,
					Workers:       a.cfg.Miner.Workers,
					FetchTimeout:  a.cfg.Miner.FetchTimeout,
					MinSnippetLen: a.cfg.Miner.MinSnippetLen,
					RowLimit:      a.cfg.Writer.RowLimit,
				},
				Logger: observability.NewLogger(a.cfg, os.Stderr),
			}
			summary, err := service.Run(cmd.Context())
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(summary)
		},
	}

	cmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "source URL to mine (repeatable)")
	return cmd
}
