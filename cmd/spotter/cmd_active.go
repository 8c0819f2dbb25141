package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edwardlthompson/linear-trend-spotter/internal/app"
)

func newActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Print the current qualifying set",
		RunE:  runActive,
	}
	cmd.Flags().Bool("json", false, "Emit JSON instead of a table")
	return cmd
}

func runActive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Tracker.ActiveList(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("no active qualifiers")
		return nil
	}
	fmt.Printf("%-8s %-20s %7s %8s %8s  %s\n", "SYMBOL", "NAME", "SCORE", "7D", "30D", "ENTERED")
	for _, q := range rows {
		fmt.Printf("%-8s %-20s %7.1f %+7.1f%% %+7.1f%%  %s\n",
			q.Symbol, q.Name, q.UniformityScore, q.Gain7d, q.Gain30d,
			q.EnteredAt.Format("2006-01-02 15:04"))
	}
	return nil
}
