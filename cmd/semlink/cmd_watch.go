package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"semlink/internal/vault"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace and keep embeddings fresh",
	Long: `Performs an initial index, then watches the workspace for changes and
re-embeds edited content after each burst of edits settles. Runs until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if err := a.scanAndRun(ctx, "watch startup"); err != nil {
			return err
		}
		fmt.Println("Initial index complete; watching for changes (Ctrl-C to stop)")

		w, err := vault.NewWatcher(a.vault, func() {
			// Each settled burst becomes one refresh job; the queue dedups
			// bursts that land while a refresh is still pending.
			a.orch.Refresh()
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))

		if err := a.orch.Stop(context.Background(), a.cfg.StopTimeout()); err != nil {
			logger.Warn("stop not confirmed", zap.Error(err))
		}
		return nil
	},
}
