package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/view"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	applyCmd := &cobra.Command{
		Use:   "apply <plan-id>",
		Short: "Delete the selected items of a plan",
		Long: `Submit a plan for execution. When the server requires a confirmation
phrase it must be passed with --phrase or typed at the prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: runApply,
	}
	applyCmd.Flags().String("phrase", "", "confirmation phrase required by the server")

	protectCmd := &cobra.Command{
		Use:   "protect <plan-id> <item-id>",
		Short: "Exclude an item's media from future plans",
		Args:  cobra.ExactArgs(2),
		RunE:  runProtect,
	}
	protectCmd.Flags().String("reason", "", "why the media is kept")

	rootCmd.AddCommand(applyCmd, protectCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd, appOptions{withJournal: true})
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.newStore()
	defer func() { _ = store.Close() }()

	if _, err := store.Load(ctx, model.PlanID(args[0])); err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	phrase, _ := cmd.Flags().GetString("phrase")
	if phrase == "" {
		required, err := a.client.RequiredConfirmPhrase(ctx)
		if err != nil {
			return fmt.Errorf("failed to read server config: %w", err)
		}
		if required != "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("the server requires a confirmation phrase, pass it with --phrase")
			}
			totals := store.Totals()
			fmt.Fprintf(cmd.OutOrStdout(), "About to delete %d item(s), %s. Type %q to confirm: ",
				totals.Selected, view.Bytes(totals.SelectedBytes), required)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			phrase = strings.TrimRight(line, "\r\n")
		}
	}

	res, err := store.Apply(ctx, phrase)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %d started", res.RunID)
	if res.Message != "" {
		fmt.Fprintf(cmd.OutOrStdout(), ": %s", res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runProtect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	itemID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q", args[1])
	}
	reason, _ := cmd.Flags().GetString("reason")

	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.newStore()
	defer func() { _ = store.Close() }()

	p, err := store.Load(ctx, model.PlanID(args[0]))
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	item, _, ok := p.Item(itemID)
	if !ok {
		return fmt.Errorf("item %d is not in plan %s", itemID, p.ID)
	}

	if err := store.Protect(ctx, itemID, reason); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Protected %s\n", item.Title)
	return nil
}
