package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"semlink/internal/pipeline"
	"semlink/internal/store"
)

var indexRebuildVec bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the workspace and embed all new or changed content",
	Long: `Walks the workspace, ingests markdown/text files into source and
section entities, embeds whatever is stale and checkpoints the result.
Unchanged content is neither re-read nor re-embedded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		res, err := a.vault.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d files (%d changed, %d removed) in %v\n",
			res.Files, res.Changed, res.Removed, res.Duration)

		val, err := a.orch.RunEmbed("index").Wait(ctx)
		if err != nil {
			return err
		}
		stats := val.(pipeline.Stats)
		fmt.Printf("Embedded %d/%d entities (%d failed, %d skipped) in %v\n",
			stats.Success, stats.Total, stats.Failed, stats.Skipped, stats.Duration)

		if indexRebuildVec {
			if !store.VecIndexAvailable {
				fmt.Println("Vector index not available in this build (rebuild with -tags sqlite_vec)")
				return nil
			}
			m, ok := a.orch.Model()
			if !ok {
				return fmt.Errorf("no model installed")
			}
			if err := a.db.RebuildVectorIndex(ctx, m, a.sources, a.blocks); err != nil {
				return err
			}
			fmt.Println("Vector index rebuilt")
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexRebuildVec, "rebuild-vec-index", false,
		"rebuild the sqlite-vec sidecar index after embedding")
}
