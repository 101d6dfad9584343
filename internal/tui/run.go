package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/javi11/mediajanitor/internal/plan"
	"github.com/javi11/mediajanitor/internal/scan"
)

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, deps Deps, opts Options) error {
	if deps.Session == nil || deps.Store == nil {
		return fmt.Errorf("tui: session and store are required")
	}

	p := tea.NewProgram(New(ctx, deps, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	deps.Session.OnChange(func(st scan.Status) {
		p.Send(scanStatusMsg{status: st})
	})
	deps.Store.OnChange(func(c plan.Change) {
		p.Send(planChangedMsg{change: c})
	})

	if deps.Bus != nil {
		subID, ch := deps.Bus.Subscribe()
		defer deps.Bus.Unsubscribe(subID)

		go func() {
			for list := range ch {
				p.Send(notificationsMsg{list: list})
			}
		}()
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
