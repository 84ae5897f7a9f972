package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/fetcher"
	"github.com/sells-group/trackscout/internal/model"
)

var (
	batchFile string
	batchSize int
	batchJSON bool
)

var batchCmd = &cobra.Command{
	Use:   "batch [ISRC...]",
	Short: "Enrich and score a batch of ISRCs from arguments or a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ids, err := collectIdentifiers(ctx, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), batchFile, args)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return eris.New("no identifiers given: pass ISRCs as arguments or use --file")
		}

		env, err := initEnrichment(ctx, cfg, "enrichment")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, batchErr := env.Orchestrator.ProcessBatch(ctx, ids, batchSize)
		if summary != nil {
			if batchJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return eris.Wrap(err, "encode summary")
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			}
		}
		if batchErr != nil {
			return eris.Wrap(batchErr, "batch processing")
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "identifier list: .txt, .csv or .xlsx path or URL")
	batchCmd.Flags().IntVar(&batchSize, "batch-size", 0, "identifiers per sequential group (default from config)")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(batchCmd)
}

// collectIdentifiers reads the file, if any, and appends the positional
// identifiers.
func collectIdentifiers(ctx context.Context, dl fetcher.Downloader, file string, args []string) ([]string, error) {
	var ids []string
	if file != "" {
		fromFile, err := fetcher.ReadIdentifiersFrom(ctx, dl, file)
		if err != nil {
			return nil, eris.Wrap(err, "read identifiers")
		}
		ids = append(ids, fromFile...)
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			ids = append(ids, a)
		}
	}
	zap.L().Debug("identifiers collected", zap.Int("count", len(ids)))
	return ids, nil
}

// renderSummary formats a batch summary and its per-job lines as tables.
func renderSummary(s *model.BatchSummary) string {
	totals := renderTable(
		[]string{"Total", "Completed", "Failed", "Skipped", "Success", "Avg Time", "Total Time"},
		[][]string{{
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Completed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Skipped),
			fmt.Sprintf("%.1f%%", s.SuccessRate),
			s.AverageTime.Round(time.Millisecond).String(),
			s.TotalTime.Round(time.Millisecond).String(),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)

	tiers := make([]string, 0, len(s.TierCounts))
	for t := range s.TierCounts {
		tiers = append(tiers, string(t))
	}
	sort.Strings(tiers)
	tierRows := make([][]string, 0, len(tiers))
	for _, t := range tiers {
		tierRows = append(tierRows, []string{t, strconv.Itoa(s.TierCounts[model.Tier(t)])})
	}

	jobRows := make([][]string, 0, len(s.Outcomes))
	for _, out := range s.Outcomes {
		total, tier := "-", "-"
		if out.Score != nil {
			total = fmt.Sprintf("%.1f", out.Score.Total)
			tier = string(out.Score.Tier)
		}
		artist := ""
		if out.Profile != nil {
			artist = out.Profile.Artist.Name
		}
		jobRows = append(jobRows, []string{out.Identifier, string(out.Status), artist, total, tier, strconv.Itoa(len(out.Errors))})
	}

	parts := []string{totals}
	if len(tierRows) > 0 {
		parts = append(parts, renderTable([]string{"Tier", "Count"}, tierRows, []columnAlignment{alignLeft, alignRight}))
	}
	if len(jobRows) > 0 {
		parts = append(parts, renderTable(
			[]string{"ISRC", "Status", "Artist", "Score", "Tier", "Errors"},
			jobRows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
		))
	}
	if s.Error != "" {
		parts = append(parts, "error: "+s.Error)
	}
	return strings.Join(parts, "\n")
}
