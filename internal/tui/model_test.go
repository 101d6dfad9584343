package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/filter"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/javi11/mediajanitor/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu     sync.Mutex
	plan   *model.Plan
	phrase string
}

func (b *memBackend) GetPlan(_ context.Context, _ model.PlanID) (*model.Plan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plan.Clone(), nil
}

func (b *memBackend) UpdateItems(_ context.Context, _ model.PlanID, updates []model.SelectionUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range updates {
		if _, idx, ok := b.plan.Item(u.ID); ok {
			b.plan.Items[idx].Selected = u.Selected
		}
	}
	return nil
}

func (b *memBackend) SetAllSelected(_ context.Context, _ model.PlanID, selected bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.plan.Items {
		b.plan.Items[i].Selected = selected
	}
	return nil
}

func (b *memBackend) ApplyPlan(context.Context, model.PlanID, string) (model.ApplyResult, error) {
	return model.ApplyResult{RunID: 7, Message: "started"}, nil
}

func (b *memBackend) Protect(context.Context, model.ProtectRequest) error { return nil }

func (b *memBackend) RequiredConfirmPhrase(context.Context) (string, error) {
	return b.phrase, nil
}

func testPlan() *model.Plan {
	return &model.Plan{
		ID: "42",
		Items: []model.Item{
			{ID: 1, Title: "Alpha", MediaType: model.MediaMovie, SizeBytes: 100, Selected: true, Rule: "old", ViewCount: 4},
			{ID: 2, Title: "Bravo", MediaType: model.MediaMovie, SizeBytes: 300, Selected: false, Rule: "unwatched", NeverWatched: true},
			{ID: 3, Title: "Charlie", MediaType: model.MediaSeries, SizeBytes: 200, ViewCount: 12, ProtectedReason: "favourite"},
		},
	}
}

func newTestModel(t *testing.T) (Model, *plan.Store) {
	t.Helper()
	return newTestModelWithPhrase(t, "DELETE")
}

func newTestModelWithPhrase(t *testing.T, phrase string) (Model, *plan.Store) {
	t.Helper()

	bus := notify.NewBus(time.Minute)
	t.Cleanup(func() { _ = bus.Close() })

	store := plan.NewStore(&memBackend{plan: testPlan(), phrase: phrase}, plan.Options{Bus: bus})
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	_, err := store.Load(ctx, "42")
	require.NoError(t, err)

	m := New(ctx, Deps{Store: store, Bus: bus}, Options{PlanID: "42"})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, planChangedMsg{change: plan.Change{Kind: plan.ChangeLoaded, PlanID: "42"}})
	return m, store
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func keyPress(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func TestModel_LoadedPlanFillsTable(t *testing.T) {
	m, _ := newTestModel(t)

	assert.Equal(t, screenPlan, m.screen)
	require.Len(t, m.view.Rows, 3)
	// size descending by default
	assert.Equal(t, []int64{2, 3, 1}, []int64{m.view.Rows[0].ID, m.view.Rows[1].ID, m.view.Rows[2].ID})
	assert.Len(t, m.table.Rows(), 3)
	assert.Contains(t, m.View(), "mediajanitor")
}

func TestModel_SortKeyCycles(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, keyPress("s"))
	assert.Equal(t, filter.NextSortKey(filter.SortSize), m.sort.Key)

	m = update(t, m, keyPress("S"))
	assert.Equal(t, filter.Ascending, m.sort.Direction)
}

func TestModel_FilterPresetNarrowsRows(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, keyPress("f"))
	assert.Equal(t, "never watched", presets[m.presetIdx].name)
	require.Len(t, m.view.Rows, 1)
	assert.Equal(t, int64(2), m.view.Rows[0].ID)
	assert.Equal(t, 3, m.view.All.Count)
}

func TestModel_RuleCycle(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, keyPress("g"))
	assert.Equal(t, "old", m.rule)
	require.Len(t, m.view.Rows, 1)

	m = update(t, m, keyPress("g"))
	assert.Equal(t, "unwatched", m.rule)

	m = update(t, m, keyPress("g"))
	assert.Empty(t, m.rule)
	assert.Len(t, m.view.Rows, 3)
}

func TestModel_ToggleRunsThroughStore(t *testing.T) {
	m, store := newTestModel(t)

	row, ok := m.currentRow()
	require.True(t, ok)
	require.Equal(t, int64(2), row.ID)
	require.False(t, row.Selected)

	_, cmd := m.Update(keyPress(" "))
	require.NotNil(t, cmd)

	msg := toggleCmd(context.Background(), store, row.ID, true)()
	done, ok := msg.(opDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)

	m = update(t, m, planChangedMsg{change: plan.Change{Kind: plan.ChangeItem, PlanID: "42", ItemID: row.ID}})
	assert.True(t, m.view.Rows[0].Selected)
	assert.Equal(t, 2, store.SelectedCount())
}

func TestModel_ProtectedRowIsNotToggled(t *testing.T) {
	m, store := newTestModel(t)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	row, ok := m.currentRow()
	require.True(t, ok)
	require.True(t, row.Protected)

	next, cmd := m.Update(keyPress(" "))
	assert.Nil(t, cmd)
	assert.Contains(t, next.(Model).lastEvent, "protected")
	assert.Equal(t, 1, store.SelectedCount())
}

func TestModel_ApplyAsksForPhrase(t *testing.T) {
	m, store := newTestModel(t)

	m = update(t, m, keyPress("x"))
	assert.Equal(t, modeConfirmApply, m.mode)
	assert.Contains(t, m.View(), "confirmation phrase")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeNormal, m.mode)

	msg := applyCmd(context.Background(), store, "DELETE")()
	done := msg.(opDoneMsg)
	require.NoError(t, done.err)
	assert.Contains(t, done.event, "Run 7")

	msg = applyCmd(context.Background(), store, "nope")()
	assert.Error(t, msg.(opDoneMsg).err)
}

func TestModel_ApplyPhraseIsNotTrimmed(t *testing.T) {
	m, _ := newTestModelWithPhrase(t, " delete all ")

	m = update(t, m, keyPress("x"))
	require.Equal(t, modeConfirmApply, m.mode)
	m.input.SetValue(" delete all ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	done, ok := cmd().(opDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	assert.Contains(t, done.event, "Run 7")

	// m is still waiting for the phrase; Update works on a copy
	m.input.SetValue("delete all")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	done = cmd().(opDoneMsg)
	assert.ErrorIs(t, done.err, sharedErrors.ErrConfirmPhraseMismatch)
}

func TestModel_ApplyWithNothingSelected(t *testing.T) {
	m, store := newTestModel(t)

	require.NoError(t, store.SelectAll(false).Wait(context.Background()))
	m = update(t, m, planChangedMsg{change: plan.Change{Kind: plan.ChangeAll, PlanID: "42"}})

	m = update(t, m, keyPress("x"))
	assert.Equal(t, modeNormal, m.mode)
	assert.Equal(t, "No items selected", m.lastEvent)
}

func TestModel_NotificationsShowLatest(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, notificationsMsg{list: []notify.Notification{
		{ID: "a", Level: notify.LevelInfo, Message: "first"},
		{ID: "b", Level: notify.LevelError, Message: "Plan not found"},
	}})
	out := m.View()
	assert.Contains(t, out, "Plan not found (+1)")
}

func TestNextRule(t *testing.T) {
	rules := []string{"a", "b"}
	assert.Equal(t, "a", nextRule(rules, ""))
	assert.Equal(t, "b", nextRule(rules, "a"))
	assert.Equal(t, "", nextRule(rules, "b"))
	assert.Equal(t, "", nextRule(nil, "a"))
	assert.Equal(t, filter.RuleAll, ruleLabel(""))
}
