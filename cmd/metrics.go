package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trackscout/internal/monitoring"
)

var metricsLookback int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print outcome and dead-letter metrics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback := metricsLookback
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}
		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(snap), "encode metrics")
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsLookback, "lookback-hours", 0, "lookback window (default from config)")
	rootCmd.AddCommand(metricsCmd)
}
