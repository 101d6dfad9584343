package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "janitor",
	Short:         "Review and apply Media Janitor deletion plans",
	Long:          `Client for a Media Janitor server: run scans, review the proposed deletion plan, adjust the selection and apply it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Interactive terminals get the TUI, pipes get the help text
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return runTUI(cmd, args)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./config.yaml, then the user config dir)")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootCmd.PrintErrln("Error:", err)
		stop()
		os.Exit(1)
	}
}
