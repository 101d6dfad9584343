package cmd

import (
	"github.com/javi11/mediajanitor/internal/filter"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/tui"
	"github.com/spf13/cobra"
)

func init() {
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive plan reviewer",
		Long: `Start a scan and review the resulting plan interactively, or open an
existing plan with --plan. Log lines only go to the configured log file.`,
		Args: cobra.NoArgs,
		RunE: runTUI,
	}
	tuiCmd.Flags().String("plan", "", "open this plan instead of starting a scan")

	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd, appOptions{fileOnly: true, withJournal: true})
	if err != nil {
		return err
	}
	defer a.Close()

	stopReload := a.watchReload()
	defer stopReload()

	session := a.newSession(true)
	defer func() { _ = session.Close() }()

	store := a.newStore()
	defer func() { _ = store.Close() }()

	// The root command runs this too and has no --plan flag
	planID, _ := cmd.Flags().GetString("plan")

	a.logger.Info("Starting interactive session", "plan_id", planID)

	return tui.Run(ctx, tui.Deps{
		Session: session,
		Store:   store,
		Bus:     a.bus,
	}, tui.Options{
		PlanID: model.PlanID(planID),
		Sort:   filter.SortSpec{Key: filter.SortSize, Direction: filter.Descending},
	})
}
