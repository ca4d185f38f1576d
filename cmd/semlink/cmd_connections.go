package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectionsLimit int

var connectionsCmd = &cobra.Command{
	Use:   "connections [key]",
	Short: "Show the notes and sections most connected to one entity",
	Long: `Finds the nearest neighbors of the given entity across both sources
and sections, merged so each connected note appears once, represented by
its best-scoring entry. Keys are workspace-relative paths, with an
optional "#Heading" suffix for sections.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.scanAndRun(ctx, "connections"); err != nil {
			return err
		}

		opts := a.connectionOptions()
		if connectionsLimit > 0 {
			opts.Limit = connectionsLimit
		}
		results, err := a.orch.Connections(args[0], opts)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No connections found.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%6.3f  %s\n", r.Score, r.Key)
		}
		return nil
	},
}

func init() {
	connectionsCmd.Flags().IntVarP(&connectionsLimit, "limit", "n", 0, "maximum connections to show")
}
