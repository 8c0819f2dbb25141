package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edwardlthompson/linear-trend-spotter/internal/app"
	"github.com/edwardlthompson/linear-trend-spotter/internal/scan"
	"github.com/edwardlthompson/linear-trend-spotter/internal/store"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the scan pipeline once, or continuously with --loop",
		RunE:  runScan,
	}
	cmd.Flags().Bool("loop", false, "Keep scanning on an interval until interrupted")
	cmd.Flags().Duration("interval", 0, "Loop interval (defaults to scan.loop_interval)")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
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

	loop, _ := cmd.Flags().GetBool("loop")
	if !loop {
		res, err := a.RunScan(ctx)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = cfg.Scan.LoopInterval
	}
	log.Info().Dur("interval", interval).Msg("loop mode, press Ctrl-C to stop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := a.RunScan(ctx)
		switch {
		case err == nil:
			printResult(res)
		case errors.Is(err, store.ErrContention):
			// Another process holds the scan lock; skip this tick.
			log.Warn().Err(err).Msg("scan skipped")
		case ctx.Err() != nil:
			return nil
		default:
			log.Error().Err(err).Msg("scan failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info().Msg("loop stopped")
			return nil
		}
	}
}

func printResult(res *scan.Result) {
	fmt.Println(res.Summary())
}
