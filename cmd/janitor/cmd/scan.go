package cmd

import (
	"fmt"
	"math"
	"sync"

	"github.com/javi11/mediajanitor/internal/scan"
	"github.com/spf13/cobra"
)

func init() {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Start a library scan",
		Long: `Start a scan on the server. With --wait the command follows the scan
progress and prints the id of the resulting plan.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	scanCmd.Flags().Bool("wait", false, "follow progress until the plan is ready")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		res, err := a.client.StartScan(ctx)
		if err != nil {
			return fmt.Errorf("failed to start scan: %w", err)
		}
		if !res.PlanID.IsUnset() {
			fmt.Fprintf(out, "Scan finished, plan %s\n", res.PlanID)
			return nil
		}
		fmt.Fprintf(out, "Scan %s started\n", res.ScanID)
		return nil
	}

	session := a.newSession(false)
	defer func() { _ = session.Close() }()

	var (
		mu       sync.Mutex
		lastStep string
		lastPct  = -1
	)
	session.OnChange(func(st scan.Status) {
		if st.State != scan.StateRunning {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		pct := int(math.Floor(st.Progress))
		if st.CurrentStep == lastStep && pct == lastPct {
			return
		}
		lastStep, lastPct = st.CurrentStep, pct
		fmt.Fprintf(out, "[%3d%%] %s\n", pct, st.CurrentStep)
	})

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	select {
	case id, ok := <-session.Resolved():
		if ok {
			fmt.Fprintf(out, "Scan finished, plan %s\n", id)
			return nil
		}
		st := session.Status()
		if st.State == scan.StateError {
			return fmt.Errorf("scan failed: %s", st.Error)
		}
		return fmt.Errorf("scan ended without a plan")
	case <-ctx.Done():
		return ctx.Err()
	}
}
