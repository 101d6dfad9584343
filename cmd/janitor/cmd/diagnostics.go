package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/javi11/mediajanitor/internal/arrs"
	"github.com/spf13/cobra"
)

func init() {
	diagnosticsCmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Check connectivity to the server and its services",
		Long: `Report the server's view of its upstream services (Plex, Radarr, Sonarr,
qBittorrent, ...) and check the Radarr/Sonarr instances listed in the
client config directly.`,
		Args: cobra.NoArgs,
		RunE: runDiagnostics,
	}

	rootCmd.AddCommand(diagnosticsCmd)
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ok := lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Render("ok")
	failed := lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Render("failed")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Source", "Service", "Status", "Detail")

	var unhealthy int

	diag, err := a.client.Diagnostics(ctx)
	if err != nil {
		t.Row("server", a.config().Server.URL, failed, err.Error())
		unhealthy++
	} else {
		names := make([]string, 0, len(diag))
		for name := range diag {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			st := diag[name]
			status := ok
			if !st.Connected {
				status = failed
				unhealthy++
			}
			t.Row("server", name, status, st.Error)
		}
	}

	service := arrs.NewService(a.configManager.GetConfigGetter())
	for _, st := range service.TestConnections(ctx) {
		status := ok
		detail := fmt.Sprintf("v%s in %s", st.Version, st.Latency.Round(time.Millisecond))
		if !st.Connected {
			status = failed
			detail = st.Error
			unhealthy++
		}
		t.Row("local", fmt.Sprintf("%s (%s)", st.Name, st.Type), status, detail)
	}

	fmt.Fprintln(out, t.String())

	if unhealthy > 0 {
		return fmt.Errorf("%d service(s) unreachable", unhealthy)
	}
	return nil
}
