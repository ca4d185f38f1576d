package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"semlink/internal/search"
)

var (
	searchLimit    int
	searchFurthest bool
)

var searchCmd = &cobra.Command{
	Use:   "search [text...]",
	Short: "Semantic search over all entities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.scanAndRun(ctx, "search"); err != nil {
			return err
		}

		query, err := a.orch.EmbedQuery(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		m, _ := a.orch.Model()
		entities := append(a.sources.All(), a.blocks.All()...)
		f := search.Filter{Limit: searchLimit, MinScore: a.cfg.Search.MinScore}
		var results []search.Result
		if searchFurthest {
			results = search.FindFurthest(query, entities, m, f)
		} else {
			results = search.FindNearest(query, entities, m, f)
		}

		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%6.3f  %s\n", r.Score, r.Key)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchFurthest, "furthest", false, "least similar instead of most similar")
}
