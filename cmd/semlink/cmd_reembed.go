package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"semlink/internal/pipeline"
)

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Force a full re-embed of every entity",
	Long: `Re-ingests all content, marks every entity stale for the active model
and embeds everything from scratch. Use after provider-side model updates
that keep the same model key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		val, err := a.orch.Reimport().Wait(ctx)
		if err != nil {
			return err
		}
		stats := val.(pipeline.Stats)
		fmt.Printf("Re-embedded %d/%d entities (%d failed, %d skipped) in %v\n",
			stats.Success, stats.Total, stats.Failed, stats.Skipped, stats.Duration)
		return nil
	},
}
