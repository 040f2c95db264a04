package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gormdb "github.com/thebtf/venuescout/internal/db/gorm"
	"github.com/thebtf/venuescout/internal/worker"
)

var vocabularyCmd = &cobra.Command{
	Use:   "vocabulary",
	Short: "Print the shared tag vocabulary from the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := worker.OpenStore(cfg)
		if err != nil {
			return err
		}
		repo := gormdb.NewRepository(store)
		defer func() { _ = repo.Close() }()

		vocab, err := repo.LoadVocabulary(cmd.Context())
		if err != nil {
			return fmt.Errorf("load vocabulary: %w", err)
		}
		if vocab.Tags == nil {
			vocab.Tags = []string{}
		}
		return writeOutput(cmd, vocab)
	},
}

func init() {
	rootCmd.AddCommand(vocabularyCmd)
}
