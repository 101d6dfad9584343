package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Toggle      key.Binding
	SelectAll   key.Binding
	DeselectAll key.Binding
	Sort        key.Binding
	Direction   key.Binding
	Filter      key.Binding
	Rule        key.Binding
	Protect     key.Binding
	Apply       key.Binding
	Rescan      key.Binding
	Reload      key.Binding
	Dismiss     key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Toggle: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "select"),
		),
		SelectAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "select all"),
		),
		DeselectAll: key.NewBinding(
			key.WithKeys("A"),
			key.WithHelp("A", "deselect all"),
		),
		Sort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "sort"),
		),
		Direction: key.NewBinding(
			key.WithKeys("S"),
			key.WithHelp("S", "reverse"),
		),
		Filter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "filter"),
		),
		Rule: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "rule"),
		),
		Protect: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "protect"),
		),
		Apply: key.NewBinding(
			key.WithKeys("enter", "x"),
			key.WithHelp("enter/x", "apply"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "new scan"),
		),
		Reload: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reload"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.SelectAll, k.Sort, k.Filter, k.Apply, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.SelectAll, k.DeselectAll, k.Protect, k.Apply},
		{k.Sort, k.Direction, k.Filter, k.Rule},
		{k.Rescan, k.Reload, k.Dismiss, k.Help, k.Quit},
	}
}
