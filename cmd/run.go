package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trackscout/internal/model"
)

var runISRC string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich and score a single ISRC",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnrichment(ctx, cfg, "enrichment")
		if err != nil {
			return err
		}
		defer env.Close()

		out := env.Orchestrator.ProcessOne(ctx, runISRC)
		if err := writeOutcome(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if out.Status == model.JobStatusFailed {
			return eris.Errorf("job %s failed", out.ID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runISRC, "isrc", "", "ISRC to enrich (required)")
	_ = runCmd.MarkFlagRequired("isrc")
	rootCmd.AddCommand(runCmd)
}

func writeOutcome(w io.Writer, out *model.JobOutcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return eris.Wrap(err, "encode outcome")
	}
	return nil
}
