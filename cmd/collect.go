package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reviewsignal/collector/internal/collect"
)

func newCollectCmd() *cobra.Command {
	var (
		tool     string
		sources  []string
		maxItems int
		fromRaw  string
		toRaw    string
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Runs a single collection and prints the result as JSON",
		Long: `Collects reviews for one tool across the configured sources, writes
them to the configured store, and prints the merged result to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tool == "" {
				return errors.New("--tool is required")
			}
			req := collect.Request{Tool: tool, MaxItems: maxItems}
			for _, raw := range sources {
				src, err := collect.ParseSource(raw)
				if err != nil {
					return err
				}
				req.Sources = append(req.Sources, src)
			}
			dates, err := parseDateRange(fromRaw, toRaw)
			if err != nil {
				return err
			}
			req.Dates = dates

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			app, err := buildApplication(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.orchestrator.Collect(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "tool name to collect reviews for")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "sources to query (default: all configured)")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "cap on returned reviews (default: configured max)")
	cmd.Flags().StringVar(&fromRaw, "from", "", "earliest review date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toRaw, "to", "", "latest review date (YYYY-MM-DD)")

	return cmd
}

func parseDateRange(fromRaw, toRaw string) (*collect.DateRange, error) {
	if fromRaw == "" && toRaw == "" {
		return nil, nil
	}
	var dates collect.DateRange
	if fromRaw != "" {
		t, err := time.Parse("2006-01-02", fromRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid --from date %q", fromRaw)
		}
		dates.From = &t
	}
	if toRaw != "" {
		t, err := time.Parse("2006-01-02", toRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid --to date %q", toRaw)
		}
		// Include the whole end day.
		end := t.Add(24*time.Hour - time.Nanosecond)
		dates.To = &end
	}
	if dates.From != nil && dates.To != nil && dates.To.Before(*dates.From) {
		return nil, errors.New("--to precedes --from")
	}
	return &dates, nil
}
