package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trackscout/internal/resilience"
)

var (
	dlqRetry     bool
	dlqLimit     int
	dlqErrorType string
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered identifiers, or retry the due ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if !dlqRetry {
			if err := cfg.Validate("store"); err != nil {
				return err
			}
			st, err := initStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit})
			if err != nil {
				return eris.Wrap(err, "list dlq")
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDLQ(entries))
			return nil
		}

		env, err := initEnrichment(ctx, cfg, "enrichment")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.RetryDLQ(ctx, env.Store, dlqLimit)
		if report != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return eris.Wrap(encErr, "encode retry report")
			}
		}
		return err
	},
}

func init() {
	dlqCmd.Flags().BoolVar(&dlqRetry, "retry", false, "re-run due transient entries")
	dlqCmd.Flags().IntVar(&dlqLimit, "limit", 100, "max entries to list or retry")
	dlqCmd.Flags().StringVar(&dlqErrorType, "error-type", "", "filter by error type: transient or permanent")
	rootCmd.AddCommand(dlqCmd)
}

func renderDLQ(entries []resilience.DLQEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Identifier,
			string(e.ErrorKind),
			e.ErrorType,
			e.FailedStage,
			fmt.Sprintf("%d/%d", e.RetryCount, e.MaxRetries),
			e.NextRetryAt.UTC().Format(time.RFC3339),
			e.Error,
		})
	}
	out := renderTable(
		[]string{"ISRC", "Kind", "Type", "Stage", "Retries", "Next Retry", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
	return out + "\n" + strconv.Itoa(len(entries)) + " entries"
}
