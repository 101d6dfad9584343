// Package tui is the interactive front-end: it follows a scan until its plan
// is ready, then lets the user review, select, protect and apply the plan.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/javi11/mediajanitor/internal/filter"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/javi11/mediajanitor/internal/plan"
	"github.com/javi11/mediajanitor/internal/scan"
	"github.com/javi11/mediajanitor/internal/view"
)

type screen int

const (
	screenScan screen = iota
	screenPlan
)

type inputMode int

const (
	modeNormal inputMode = iota
	modeConfirmApply
	modeProtectReason
)

// Deps are the long-lived components the model drives.
type Deps struct {
	Session *scan.Session
	Store   *plan.Store
	Bus     *notify.Bus
	// Now is used for relative filters and dates. Nil means time.Now.
	Now func() time.Time
}

// Options select how the model starts.
type Options struct {
	// PlanID opens this plan instead of starting a scan.
	PlanID model.PlanID
	Sort   filter.SortSpec
}

type filterPreset struct {
	name     string
	criteria filter.Criteria
}

var presets = []filterPreset{
	{name: "all"},
	{name: "never watched", criteria: filter.Criteria{NeverWatchedOnly: true}},
	{name: "not watched in 90d", criteria: filter.Criteria{LastWatchedDays: 90}},
	{name: "added over 6 months ago", criteria: filter.Criteria{AddedMonths: 6}},
	{name: "with torrents", criteria: filter.Criteria{Torrents: filter.TorrentsWith}},
	{name: "unprotected", criteria: filter.Criteria{Protection: filter.ProtectionUnprotected}},
	{name: "protected", criteria: filter.Criteria{Protection: filter.ProtectionProtected}},
}

const maxLogLines = 8

// Model is the bubbletea model.
type Model struct {
	ctx     context.Context
	session *scan.Session
	store   *plan.Store
	bus     *notify.Bus
	now     func() time.Time

	keys    keyMap
	help    help.Model
	table   table.Model
	spinner spinner.Model
	bar     progress.Model
	input   textinput.Model

	screen        screen
	mode          inputMode
	scanStatus    scan.Status
	view          view.View
	sort          filter.SortSpec
	presetIdx     int
	rule          string
	notifications []notify.Notification
	lastEvent     string
	busy          bool
	initialPlan   model.PlanID
	width         int
	height        int
}

// New builds the model. Nothing runs until Init.
func New(ctx context.Context, deps Deps, opts Options) Model {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	// Letter keys belong to the plan actions; the table keeps arrows and paging keys
	tk := table.DefaultKeyMap()
	tk.LineUp = key.NewBinding(key.WithKeys("up", "k"))
	tk.LineDown = key.NewBinding(key.WithKeys("down", "j"))
	tk.PageUp = key.NewBinding(key.WithKeys("pgup"))
	tk.PageDown = key.NewBinding(key.WithKeys("pgdown"))
	tk.HalfPageUp = key.NewBinding(key.WithKeys("ctrl+u"))
	tk.HalfPageDown = key.NewBinding(key.WithKeys("ctrl+d"))
	tk.GotoTop = key.NewBinding(key.WithKeys("home"))
	tk.GotoBottom = key.NewBinding(key.WithKeys("end"))

	t := table.New(
		table.WithColumns(columnsFor(100)),
		table.WithFocused(true),
		table.WithKeyMap(tk),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("238")).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)
	t.SetStyles(ts)

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))

	in := textinput.New()
	in.CharLimit = 128

	sortSpec := opts.Sort
	if sortSpec.Key == filter.SortNone {
		sortSpec = filter.SortSpec{Key: filter.SortSize, Direction: filter.Descending}
	}

	return Model{
		ctx:         ctx,
		session:     deps.Session,
		store:       deps.Store,
		bus:         deps.Bus,
		now:         now,
		keys:        newKeyMap(),
		help:        help.New(),
		table:       t,
		spinner:     sp,
		bar:         progress.New(progress.WithDefaultGradient()),
		input:       in,
		sort:        sortSpec,
		initialPlan: opts.PlanID,
	}
}

func (m Model) Init() tea.Cmd {
	if !m.initialPlan.IsUnset() {
		return tea.Batch(m.spinner.Tick, loadPlanCmd(m.ctx, m.store, m.initialPlan))
	}
	return tea.Batch(m.spinner.Tick, startScanCmd(m.ctx, m.session))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.updateLayout(msg.Width, msg.Height)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		updated, cmd := m.bar.Update(msg)
		if next, ok := updated.(progress.Model); ok {
			m.bar = next
		}
		cmds = append(cmds, cmd)

	case scanStartedMsg:
		if msg.err != nil {
			m.lastEvent = fmt.Sprintf("Scan failed to start: %v", msg.err)
			break
		}
		m.screen = screenScan
		cmds = append(cmds, waitResolvedCmd(msg.resolved))

	case scanStatusMsg:
		m.scanStatus = msg.status
		cmds = append(cmds, m.bar.SetPercent(msg.status.Progress/100))

	case scanResolvedMsg:
		if !msg.ok {
			break
		}
		m.lastEvent = fmt.Sprintf("Scan finished, loading plan %s", msg.planID)
		cmds = append(cmds, loadPlanCmd(m.ctx, m.store, msg.planID))

	case planChangedMsg:
		m.refresh(msg.change.Kind.ResetsScroll())
		if msg.change.Kind == plan.ChangeLoaded {
			m.screen = screenPlan
		}

	case notificationsMsg:
		m.notifications = msg.list

	case opDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.lastEvent = fmt.Sprintf("%s: %v", msg.op, msg.err)
		} else if msg.event != "" {
			m.lastEvent = msg.event
		}

	case tea.KeyMsg:
		if m.mode != modeNormal {
			cmd := m.updateInput(msg)
			cmds = append(cmds, cmd)
			return m, tea.Batch(cmds...)
		}
		if cmd, quit := m.handleKey(msg); quit {
			return m, tea.Quit
		} else if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	if m.screen == screenPlan && m.mode == modeNormal {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return nil, true
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Rescan):
		st := m.scanStatus.State
		if st == scan.StateStarting || st == scan.StateRunning {
			m.lastEvent = "A scan is already running"
			return nil, false
		}
		m.screen = screenScan
		m.scanStatus = scan.Status{State: scan.StateStarting}
		return startScanCmd(m.ctx, m.session), false
	case key.Matches(msg, m.keys.Dismiss):
		if len(m.notifications) > 0 && m.bus != nil {
			return dismissCmd(m.bus, m.notifications[len(m.notifications)-1].ID), false
		}
	}

	if m.screen != screenPlan {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Toggle):
		row, ok := m.currentRow()
		if !ok {
			return nil, false
		}
		if row.Protected {
			m.lastEvent = fmt.Sprintf("%s is protected (%s)", row.Title, row.ProtectedReason)
			return nil, false
		}
		return toggleCmd(m.ctx, m.store, row.ID, !row.Selected), false
	case key.Matches(msg, m.keys.SelectAll):
		return selectAllCmd(m.ctx, m.store, true), false
	case key.Matches(msg, m.keys.DeselectAll):
		return selectAllCmd(m.ctx, m.store, false), false
	case key.Matches(msg, m.keys.Sort):
		m.sort.Key = filter.NextSortKey(m.sort.Key)
		m.refresh(false)
		m.lastEvent = fmt.Sprintf("Sorted by %s", m.sort)
	case key.Matches(msg, m.keys.Direction):
		m.sort.Direction = m.sort.Direction.Toggle()
		m.refresh(false)
		m.lastEvent = fmt.Sprintf("Sorted by %s", m.sort)
	case key.Matches(msg, m.keys.Filter):
		m.presetIdx = (m.presetIdx + 1) % len(presets)
		m.refresh(true)
		m.lastEvent = fmt.Sprintf("Filter: %s", presets[m.presetIdx].name)
	case key.Matches(msg, m.keys.Rule):
		m.rule = nextRule(m.view.Rules, m.rule)
		m.refresh(true)
		m.lastEvent = fmt.Sprintf("Rule: %s", ruleLabel(m.rule))
	case key.Matches(msg, m.keys.Reload):
		m.busy = true
		return reloadCmd(m.ctx, m.store), false
	case key.Matches(msg, m.keys.Protect):
		row, ok := m.currentRow()
		if !ok || row.Protected {
			return nil, false
		}
		m.mode = modeProtectReason
		m.input.Placeholder = "reason (optional)"
		m.input.SetValue("")
		return m.input.Focus(), false
	case key.Matches(msg, m.keys.Apply):
		if m.view.All.Selected == 0 {
			m.lastEvent = "No items selected"
			return nil, false
		}
		m.mode = modeConfirmApply
		m.input.Placeholder = "confirmation phrase"
		m.input.SetValue("")
		return m.input.Focus(), false
	}

	return nil, false
}

func (m *Model) updateInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeNormal
		m.input.Blur()
		m.lastEvent = "Cancelled"
		return nil
	case tea.KeyEnter:
		value := m.input.Value()
		mode := m.mode
		m.mode = modeNormal
		m.input.Blur()
		m.busy = true

		switch mode {
		case modeConfirmApply:
			m.lastEvent = "Applying plan…"
			return applyCmd(m.ctx, m.store, value)
		case modeProtectReason:
			row, ok := m.currentRow()
			if !ok {
				m.busy = false
				return nil
			}
			m.lastEvent = fmt.Sprintf("Protecting %s…", row.Title)
			return protectCmd(m.ctx, m.store, row.ID, strings.TrimSpace(value))
		}
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// refresh recomposes the view from the store. Cursor and scroll survive
// unless resetScroll is set.
func (m *Model) refresh(resetScroll bool) {
	criteria := presets[m.presetIdx].criteria
	criteria.Rule = m.rule

	m.view = view.Compose(m.store.Snapshot(), view.Options{
		Criteria: criteria,
		Sort:     m.sort,
		Now:      m.now(),
	})
	m.setTableRows()

	if resetScroll {
		m.table.GotoTop()
	} else if c := m.table.Cursor(); c >= len(m.view.Rows) && len(m.view.Rows) > 0 {
		m.table.SetCursor(len(m.view.Rows) - 1)
	}
}

func (m *Model) setTableRows() {
	now := m.now()
	rows := make([]table.Row, 0, len(m.view.Rows))
	for _, r := range m.view.Rows {
		mark := "[ ]"
		if r.Selected {
			mark = "[x]"
		}
		status := ""
		switch {
		case r.Protected:
			mark = " - "
			status = "protected"
		case r.HasTorrents:
			status = fmt.Sprintf("%d torrent(s)", len(r.QBHashes))
		}
		rows = append(rows, table.Row{
			mark,
			view.Title(r),
			string(r.MediaType),
			view.Bytes(r.SizeBytes),
			fmt.Sprintf("%d", r.ViewCount),
			view.LastViewed(r.LastViewedAt, now),
			view.Date(r.Added),
			r.Rule,
			status,
		})
	}
	m.table.SetRows(rows)
}

func (m Model) currentRow() (view.Row, bool) {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.view.Rows) {
		return view.Row{}, false
	}
	return m.view.Rows[idx], true
}

func (m *Model) updateLayout(width, height int) {
	if width == 0 || height == 0 {
		return
	}
	width = max(width, 80)
	height = max(height, 16)
	m.width = width
	m.height = height

	m.table.SetColumns(columnsFor(width))

	headerHeight := lipgloss.Height(m.headerView())
	statusHeight := lipgloss.Height(m.statusView())
	footerHeight := lipgloss.Height(m.footerView())
	m.table.SetHeight(max(height-headerHeight-statusHeight-footerHeight-4, 5))
	m.table.SetWidth(width - 4)
	m.bar.Width = max(width-28, 20)
	m.help.Width = width - 4
}

func columnsFor(width int) []table.Column {
	const (
		markWidth  = 3
		typeWidth  = 8
		sizeWidth  = 10
		viewsWidth = 6
		lastWidth  = 14
		addedWidth = 10
		ruleWidth  = 14
		infoWidth  = 12
	)
	fixed := markWidth + typeWidth + sizeWidth + viewsWidth + lastWidth + addedWidth + ruleWidth + infoWidth
	titleWidth := max(width-fixed-22, 20)

	return []table.Column{
		{Title: "", Width: markWidth},
		{Title: "Title", Width: titleWidth},
		{Title: "Type", Width: typeWidth},
		{Title: "Size", Width: sizeWidth},
		{Title: "Views", Width: viewsWidth},
		{Title: "Last viewed", Width: lastWidth},
		{Title: "Added", Width: addedWidth},
		{Title: "Rule", Width: ruleWidth},
		{Title: "Info", Width: infoWidth},
	}
}

func nextRule(rules []string, current string) string {
	if len(rules) == 0 {
		return ""
	}
	if current == "" {
		return rules[0]
	}
	for i, r := range rules {
		if r == current {
			if i+1 < len(rules) {
				return rules[i+1]
			}
			return ""
		}
	}
	return ""
}

func ruleLabel(rule string) string {
	if rule == "" {
		return filter.RuleAll
	}
	return rule
}
