package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"semlink/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Embed all currently stale entities without rescanning",
	Long: `Runs the embedding pipeline over entities already known to be stale.
Use "index" to also pick up new and edited files first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		// Content must be loaded for staleness to be decidable; a scan
		// re-reads text but skips unchanged files cheaply.
		if _, err := a.vault.Scan(ctx); err != nil {
			return err
		}

		val, err := a.orch.RunEmbed("manual run").Wait(ctx)
		if err != nil {
			return err
		}
		stats := val.(pipeline.Stats)
		fmt.Printf("Embedded %d/%d entities (%d failed, %d skipped) in %v\n",
			stats.Success, stats.Total, stats.Failed, stats.Skipped, stats.Duration)
		return nil
	},
}
