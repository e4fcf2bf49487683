package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/scenfuzz/scenfuzz/internal/config"
	"github.com/scenfuzz/scenfuzz/pkg/experiment"
	"github.com/scenfuzz/scenfuzz/pkg/expstore"
)

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored experiments",
	Long: `List experiments from the experiment database, newest first.

Examples:
  # List the most recent experiments
  scenfuzz experiment list

  # List more rows with JSON output
  scenfuzz experiment list --limit 100 --json`,
	RunE: runExperimentList,
}

func init() {
	experimentCmd.AddCommand(experimentListCmd)

	experimentListCmd.Flags().Int("limit", 20, "Maximum number of experiments to show")
	experimentListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runExperimentList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
	}

	store, err := expstore.Open(ctx, expstore.Config{Path: cfg.Storage.DatabasePath})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "failed to open experiment database", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No experiments found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	return printExperimentTable(records)
}

func printExperimentTable(records []*experiment.Record) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tMETHOD\tSTATUS\tSCENARIOS\tBEST\tCREATED")

	for _, rec := range records {
		best := "-"
		if rec.BestReward != nil {
			best = fmt.Sprintf("%.4f", *rec.BestReward)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			shortID(rec.ID),
			rec.Name,
			rec.Method,
			rec.Status,
			rec.ScenariosExecuted,
			rec.TotalScenarios,
			best,
			formatRelativeTime(rec.CreatedAt),
		)
	}
	return nil
}

// shortID truncates a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatRelativeTime formats a time as relative to now.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
