package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"semlink/internal/entity"
	"semlink/internal/kernel"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model, entity and staleness counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if _, err := a.vault.Scan(ctx); err != nil {
			return err
		}

		s := a.kern.GetState()
		fmt.Printf("Status:  %s\n", kernel.LegacyStatus(s))
		if s.Model != nil {
			fmt.Printf("Model:   %s/%s (%d dims)\n", s.Model.Adapter, s.Model.ModelKey, s.Model.Dims)
		}
		fmt.Printf("Sources: %d\n", a.sources.Len())
		fmt.Printf("Blocks:  %d\n", a.blocks.Len())

		m, ok := a.orch.Model()
		if !ok {
			return nil
		}
		snap := kernel.ComputeQueueSnapshot(
			[]*entity.Collection{a.sources, a.blocks}, m, a.cfg.Vault.MinChars, a.queue.Size())
		fmt.Printf("Stale:   %d (%d embeddable)\n", snap.StaleTotal, snap.StaleEmbeddableTotal)
		fmt.Printf("Queued:  %d\n", snap.QueuedTotal)
		if s.LastError != nil {
			fmt.Printf("Error:   [%s] %s\n", s.LastError.Code, s.LastError.Message)
		}
		return nil
	},
}
