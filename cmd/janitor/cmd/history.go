package cmd

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/javi11/mediajanitor/internal/api"
	"github.com/javi11/mediajanitor/internal/journal"
	"github.com/javi11/mediajanitor/internal/view"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List runs started from this machine, or show one run",
		Long: `Without arguments, list the runs recorded in the local journal.
With a run id, fetch the run and its per-item results from the server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
	historyCmd.Flags().Int("limit", journal.DefaultListLimit, "number of runs to list")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(cmd, appOptions{withJournal: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		if a.journal == nil {
			return fmt.Errorf("the run journal is disabled or unavailable")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.journal.Repository.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No runs recorded")
			return nil
		}
		writeJournal(out, entries)
		return nil
	}

	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	details, err := a.client.GetRunDetails(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to fetch run %d: %w", runID, err)
	}

	if a.journal != nil {
		entry, err := a.journal.Repository.GetRun(ctx, runID)
		if err == nil && entry != nil && entry.Status != details.Run.Status {
			if err := a.journal.Repository.UpdateStatus(ctx, runID, details.Run.Status); err != nil {
				a.logger.Warn("Failed to update run journal", "run_id", runID, "error", err)
			}
		}
	}

	writeRun(out, details)
	return nil
}

func writeJournal(w io.Writer, entries []journal.Entry) {
	now := time.Now()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Run", "Plan", "Started", "Items", "Size", "Status")

	for _, e := range entries {
		t.Row(
			strconv.FormatInt(e.RunID, 10),
			e.PlanID,
			humanize.RelTime(e.StartedAt, now, "ago", "from now"),
			humanize.Comma(int64(e.ItemCount)),
			view.Bytes(e.Bytes),
			e.Status,
		)
	}
	fmt.Fprintln(w, t.String())
}

func writeRun(w io.Writer, d api.RunDetails) {
	run := d.Run
	fmt.Fprintf(w, "Run %d for plan %s: %s\n", run.ID, run.PlanID, run.Status)
	fmt.Fprintf(w, "Started:  %s\n", formatTime(run.StartedAt.Time))
	if run.IsFinished() {
		fmt.Fprintf(w, "Finished: %s (%s)\n", formatTime(run.FinishedAt.Time),
			run.FinishedAt.Sub(run.StartedAt.Time).Round(time.Second))
	}

	if len(run.Results) > 0 {
		keys := make([]string, 0, len(run.Results))
		for k := range run.Results {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, run.Results[k])
		}
	}

	if len(d.Logs) == 0 {
		return
	}

	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "-"
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Item", "Title", "Status", "Torrent", "Arr", "Plex", "Error")
	for _, l := range d.Logs {
		t.Row(
			strconv.FormatInt(l.PlanItemID, 10),
			l.Title,
			l.Status,
			yes(l.QBRemoved),
			yes(l.RadarrSonarrRemoved),
			yes(l.PlexRefreshed),
			l.Error,
		)
	}
	fmt.Fprintln(w, t.String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
