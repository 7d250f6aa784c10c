package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/observability"
	"github.com/querywright/querywright/internal/trainer"
)

func newTrainCommand() *cobra.Command {
	var targetPerLevel int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the curriculum self-training loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if a.base == nil {
				return fmt.Errorf("training requires the knowledge base (set QUERYWRIGHT_KNOWLEDGE_ENABLED=true)")
			}

			cfg := trainer.Config{
				GeneratorModel: a.cfg.Trainer.GeneratorModel,
				Dialect:        a.target.Dialect,
				TargetPerLevel: a.cfg.Trainer.TargetPerLevel,
				MaxConsecutive: a.cfg.Trainer.MaxConsecutive,
				RowLimit:       a.cfg.Writer.RowLimit,
			}
			if targetPerLevel > 0 {
				cfg.TargetPerLevel = targetPerLevel
			}

			service := &trainer.Service{
				Writer:   a.writer,
				Chat:     a.client,
				Executor: a.executor,
				Catalog:  a.catalog,
				Config:   cfg,
				Logger:   observability.NewLogger(a.cfg, os.Stderr),
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

	cmd.Flags().IntVar(&targetPerLevel, "target-per-level", 0, "override the per-level success target")
	return cmd
}
