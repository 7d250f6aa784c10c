package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/executor"
)

func newAskCommand() *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "ask \"question\"",
		Short: "Translate a question into SQL (optionally execute it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			generation, err := a.writer.GenerateQuery(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), generation.SQL)
			if !generation.Validated {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: SQL did not validate after %d attempts\n", generation.Attempts)
			}
			if !execute {
				return nil
			}

			result, err := a.executor.Execute(cmd.Context(), executor.Request{
				SQL:      generation.SQL,
				RowLimit: a.cfg.Writer.RowLimit,
			})
			if err != nil {
				return fmt.Errorf("execute generated SQL: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
			return RenderResult(cmd.OutOrStdout(), result, formatFlag)
		},
	}

	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "run the generated SQL and print the result")
	return cmd
}
