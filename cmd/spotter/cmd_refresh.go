package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edwardlthompson/linear-trend-spotter/internal/app"
)

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "refresh [listings|mappings|all]",
		Short:     "Rebuild the slow-cadence lookup tables",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"listings", "mappings", "all"},
		RunE:      runRefresh,
	}
	return cmd
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := args[0]
	if target == "listings" || target == "all" {
		if err := a.ListingsRefresher.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh listings: %w", err)
		}
	}
	if target == "mappings" || target == "all" {
		if err := a.MappingsRefresher.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh mappings: %w", err)
		}
	}
	return nil
}
