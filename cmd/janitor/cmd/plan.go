package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/javi11/mediajanitor/internal/filter"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/view"
	"github.com/spf13/cobra"
)

func init() {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and edit deletion plans",
	}

	showCmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show the items of a plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlanShow,
	}
	addFilterFlags(showCmd)
	showCmd.Flags().Bool("json", false, "print JSON instead of a table")

	selectCmd := &cobra.Command{
		Use:   "select <plan-id> [item-id...]",
		Short: "Select or deselect plan items",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlanSelect,
	}
	selectCmd.Flags().Bool("all", false, "select every item")
	selectCmd.Flags().Bool("none", false, "deselect every item")
	selectCmd.Flags().Bool("deselect", false, "deselect the given items instead of selecting them")
	selectCmd.MarkFlagsMutuallyExclusive("all", "none")

	planCmd.AddCommand(showCmd, selectCmd)
	rootCmd.AddCommand(planCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("never-watched", false, "only items without plays")
	flags.Int("last-watched-days", 0, "only items not watched in the last N days")
	flags.Int("added-months", 0, "only items added more than N months ago")
	flags.String("torrents", "", "torrent presence: with or without")
	flags.String("protection", "", "protection state: protected or unprotected")
	flags.String("rule", "", "only items matched by this rule")
	flags.String("media-type", "", "only items of this media type (movie, series, episode)")
	flags.String("sort", string(filter.SortSize), "sort key: title, view_count, last_viewed, added_date, size")
	flags.String("order", "desc", "sort order: asc or desc")
}

func criteriaFromFlags(cmd *cobra.Command) (filter.Criteria, filter.SortSpec, error) {
	flags := cmd.Flags()

	var c filter.Criteria
	c.NeverWatchedOnly, _ = flags.GetBool("never-watched")
	c.LastWatchedDays, _ = flags.GetInt("last-watched-days")
	c.AddedMonths, _ = flags.GetInt("added-months")
	c.Rule, _ = flags.GetString("rule")

	mediaType, _ := flags.GetString("media-type")
	c.MediaType = model.MediaType(mediaType)

	var err error
	torrents, _ := flags.GetString("torrents")
	if c.Torrents, err = filter.ParseTorrentFilter(torrents); err != nil {
		return c, filter.SortSpec{}, err
	}
	protection, _ := flags.GetString("protection")
	if c.Protection, err = filter.ParseProtectionFilter(protection); err != nil {
		return c, filter.SortSpec{}, err
	}

	var spec filter.SortSpec
	key, _ := flags.GetString("sort")
	if spec.Key, err = filter.ParseSortKey(key); err != nil {
		return c, filter.SortSpec{}, err
	}
	order, _ := flags.GetString("order")
	if spec.Direction, err = filter.ParseDirection(order); err != nil {
		return c, filter.SortSpec{}, err
	}

	return c, spec, nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	criteria, sortSpec, err := criteriaFromFlags(cmd)
	if err != nil {
		return err
	}

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

	v := view.Compose(p, view.Options{Criteria: criteria, Sort: sortSpec})

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writePlanJSON(cmd.OutOrStdout(), p, v)
	}

	writePlanTable(cmd.OutOrStdout(), v)
	return nil
}

type planJSON struct {
	ID        model.PlanID    `json:"id"`
	Status    string          `json:"status"`
	CreatedAt model.Timestamp `json:"created_at"`
	Totals    totalsJSON      `json:"totals"`
	Items     []model.Item    `json:"items"`
}

type totalsJSON struct {
	Count         int   `json:"count"`
	SizeBytes     int64 `json:"size_bytes"`
	Selected      int   `json:"selected"`
	SelectedBytes int64 `json:"selected_bytes"`
	Protected     int   `json:"protected"`
	Shown         int   `json:"shown"`
}

func writePlanJSON(w io.Writer, p *model.Plan, v view.View) error {
	items := make([]model.Item, 0, len(v.Rows))
	for _, row := range v.Rows {
		item, _, ok := p.Item(row.ID)
		if !ok {
			continue
		}
		item.Selected = item.IsSelected()
		items = append(items, item)
	}

	out := planJSON{
		ID:        p.ID,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		Totals: totalsJSON{
			Count:         v.All.Count,
			SizeBytes:     v.All.SizeBytes,
			Selected:      v.All.Selected,
			SelectedBytes: v.All.SelectedBytes,
			Protected:     v.All.Protected,
			Shown:         v.Filtered.Count,
		},
		Items: items,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writePlanTable(w io.Writer, v view.View) {
	now := time.Now()
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	mutedStyle := cellStyle.Foreground(lipgloss.Color("242"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("", "ID", "Title", "Type", "Size", "Views", "Last viewed", "Added", "Rule").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(v.Rows) && v.Rows[row].Protected:
				return mutedStyle
			default:
				return cellStyle
			}
		})

	for _, r := range v.Rows {
		mark := "[ ]"
		switch {
		case r.Protected:
			mark = " - "
		case r.Selected:
			mark = "[x]"
		}
		t.Row(
			mark,
			strconv.FormatInt(r.ID, 10),
			view.Title(r),
			string(r.MediaType),
			view.Bytes(r.SizeBytes),
			strconv.Itoa(r.ViewCount),
			view.LastViewed(r.LastViewedAt, now),
			view.Date(r.Added),
			r.Rule,
		)
	}

	fmt.Fprintf(w, "Plan %s, sorted by %s\n", v.PlanID, v.Sort)
	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w, view.Summary(v))
}

func runPlanSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	all, _ := flags.GetBool("all")
	none, _ := flags.GetBool("none")
	deselect, _ := flags.GetBool("deselect")

	planID := model.PlanID(args[0])
	ids := make([]int64, 0, len(args)-1)
	for _, raw := range args[1:] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", raw)
		}
		ids = append(ids, id)
	}
	if !all && !none && len(ids) == 0 {
		return errors.New("give item ids, --all or --none")
	}

	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.newStore()
	defer func() { _ = store.Close() }()

	if _, err := store.Load(ctx, planID); err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	if all || none {
		if err := store.SelectAll(all).Wait(ctx); err != nil {
			return err
		}
	}

	var failed int
	for _, id := range ids {
		if err := store.ToggleSelection(id, !deselect).Wait(ctx); err != nil {
			a.logger.Warn("Failed to update item", "plan_id", planID, "item_id", id, "error", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "item %d: %v\n", id, err)
			failed++
		}
	}

	totals := store.Totals()
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d selected (%s)\n",
		totals.Selected, totals.Count, view.Bytes(totals.SelectedBytes))

	if failed > 0 {
		return fmt.Errorf("%d item(s) could not be updated", failed)
	}
	return nil
}
