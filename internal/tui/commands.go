package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/javi11/mediajanitor/internal/plan"
	"github.com/javi11/mediajanitor/internal/scan"
)

// Store and session calls run inside commands: their observers call
// Program.Send, which must not happen from within Update.

type scanStartedMsg struct {
	resolved <-chan model.PlanID
	err      error
}

type scanStatusMsg struct {
	status scan.Status
}

type scanResolvedMsg struct {
	planID model.PlanID
	ok     bool
}

type planChangedMsg struct {
	change plan.Change
}

type notificationsMsg struct {
	list []notify.Notification
}

type opDoneMsg struct {
	op    string
	event string
	err   error
}

func startScanCmd(ctx context.Context, session *scan.Session) tea.Cmd {
	return func() tea.Msg {
		err := session.Start(ctx)
		if err != nil && !errors.Is(err, scan.ErrScanInProgress) {
			return scanStartedMsg{err: err}
		}
		return scanStartedMsg{resolved: session.Resolved()}
	}
}

func waitResolvedCmd(ch <-chan model.PlanID) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-ch
		return scanResolvedMsg{planID: id, ok: ok}
	}
}

func loadPlanCmd(ctx context.Context, store *plan.Store, id model.PlanID) tea.Cmd {
	return func() tea.Msg {
		_, err := store.Load(ctx, id)
		if errors.Is(err, plan.ErrSuperseded) {
			return nil
		}
		return opDoneMsg{op: "Load plan", err: err}
	}
}

func reloadCmd(ctx context.Context, store *plan.Store) tea.Cmd {
	return func() tea.Msg {
		_, err := store.Reload(ctx)
		if errors.Is(err, plan.ErrSuperseded) {
			return nil
		}
		return opDoneMsg{op: "Reload", event: "Plan reloaded", err: err}
	}
}

func toggleCmd(ctx context.Context, store *plan.Store, itemID int64, selected bool) tea.Cmd {
	return func() tea.Msg {
		err := store.ToggleSelection(itemID, selected).Wait(ctx)
		return opDoneMsg{op: "Update selection", err: err}
	}
}

func selectAllCmd(ctx context.Context, store *plan.Store, selected bool) tea.Cmd {
	return func() tea.Msg {
		err := store.SelectAll(selected).Wait(ctx)
		event := "Selected all items"
		if !selected {
			event = "Deselected all items"
		}
		return opDoneMsg{op: "Update selection", event: event, err: err}
	}
}

func applyCmd(ctx context.Context, store *plan.Store, phrase string) tea.Cmd {
	return func() tea.Msg {
		res, err := store.Apply(ctx, phrase)
		if err != nil {
			return opDoneMsg{op: "Apply", err: err}
		}
		return opDoneMsg{op: "Apply", event: fmt.Sprintf("Run %d started: %s", res.RunID, res.Message)}
	}
}

func protectCmd(ctx context.Context, store *plan.Store, itemID int64, reason string) tea.Cmd {
	return func() tea.Msg {
		err := store.Protect(ctx, itemID, reason)
		return opDoneMsg{op: "Protect", event: "Item protected", err: err}
	}
}

func dismissCmd(bus *notify.Bus, id string) tea.Cmd {
	return func() tea.Msg {
		bus.Dismiss(id)
		return nil
	}
}
