package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/querywright/querywright/internal/knowledge"
	"github.com/querywright/querywright/internal/storage"
	s3store "github.com/querywright/querywright/internal/storage/s3"
)

func newKnowledgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect and back up the learned knowledge base",
	}
	cmd.AddCommand(newKnowledgeListCommand())
	cmd.AddCommand(newKnowledgeExportCommand())
	cmd.AddCommand(newKnowledgeImportCommand())
	return cmd
}

func newKnowledgeListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently learned prompt/SQL pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return fmt.Errorf("knowledge base is not enabled")
			}

			entries, err := a.store.ListLearnedQueries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")
	return cmd
}

func newKnowledgeExportCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the knowledge corpus to the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return fmt.Errorf("knowledge base is not enabled")
			}

			objects, err := objectStoreFromConfig(cmd, a)
			if err != nil {
				return err
			}
			if existing, err := objects.Stat(cmd.Context(), key); err == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "replacing snapshot %s (%d bytes)\n", existing.Key, existing.Size)
			} else if !errors.Is(err, storage.ErrObjectNotFound) {
				return err
			}
			info, err := knowledge.Backup(cmd.Context(), a.store, objects, key)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d bytes)\n", info.Key, info.Size)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "backups/knowledge.json", "object key for the snapshot")
	return cmd
}

func newKnowledgeImportCommand() *cobra.Command {
	var (
		key   string
		prune bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a knowledge corpus snapshot from the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return fmt.Errorf("knowledge base is not enabled")
			}

			objects, err := objectStoreFromConfig(cmd, a)
			if err != nil {
				return err
			}
			learned, docs, err := knowledge.Restore(cmd.Context(), a.store, objects, key)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d learned queries and %d doc snippets\n", learned, docs)
			if prune {
				if err := objects.Delete(cmd.Context(), key); err != nil {
					return fmt.Errorf("prune snapshot: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "backups/knowledge.json", "object key of the snapshot")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete the snapshot object after a successful import")
	return cmd
}

func objectStoreFromConfig(cmd *cobra.Command, a *app) (*s3store.Store, error) {
	return s3store.New(cmd.Context(), s3store.Config{
		Endpoint:         a.cfg.ObjectStore.Endpoint,
		Region:           a.cfg.ObjectStore.Region,
		Bucket:           a.cfg.ObjectStore.Bucket,
		AccessKeyID:      a.cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  a.cfg.ObjectStore.SecretAccessKey,
		UseSSL:           a.cfg.ObjectStore.UseSSL,
		Prefix:           a.cfg.ObjectStore.Prefix,
		AutoCreateBucket: a.cfg.ObjectStore.AutoCreateBucket,
	})
}
