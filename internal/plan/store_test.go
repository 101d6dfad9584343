package plan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/journal"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op        string
	planID    model.PlanID
	updates   []model.SelectionUpdate
	selectAll *bool
	phrase    string
}

// fakeBackend keeps a server-side copy of each plan and applies edits to it.
type fakeBackend struct {
	mu       sync.Mutex
	plans    map[model.PlanID]*model.Plan
	calls    []call
	phrase   string
	failNext map[string]error
	gates    map[model.PlanID]chan struct{}
	runID    int64
}

func newFakeBackend(plans ...*model.Plan) *fakeBackend {
	b := &fakeBackend{
		plans:    make(map[model.PlanID]*model.Plan),
		failNext: make(map[string]error),
		gates:    make(map[model.PlanID]chan struct{}),
		runID:    100,
	}
	for _, p := range plans {
		b.plans[p.ID] = p
	}
	return b
}

func (b *fakeBackend) record(c call) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
	if err, ok := b.failNext[c.op]; ok {
		delete(b.failNext, c.op)
		return err
	}
	return nil
}

func (b *fakeBackend) failOnce(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[op] = err
}

func (b *fakeBackend) callsFor(op string) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBackend) gate(id model.PlanID) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.gates[id] = ch
	return ch
}

func (b *fakeBackend) GetPlan(ctx context.Context, id model.PlanID) (*model.Plan, error) {
	b.mu.Lock()
	gate := b.gates[id]
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := b.record(call{op: "get", planID: id}); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.plans[id]
	if !ok {
		return nil, &sharedErrors.ServerError{StatusCode: 404, Detail: "Plan not found"}
	}
	return p.Clone(), nil
}

func (b *fakeBackend) UpdateItems(_ context.Context, id model.PlanID, updates []model.SelectionUpdate) error {
	if err := b.record(call{op: "update", planID: id, updates: updates}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.plans[id]
	for _, u := range updates {
		if _, idx, ok := p.Item(u.ID); ok {
			p.Items[idx].Selected = u.Selected
		}
	}
	return nil
}

func (b *fakeBackend) SetAllSelected(_ context.Context, id model.PlanID, selected bool) error {
	if err := b.record(call{op: "select_all", planID: id, selectAll: &selected}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.plans[id]
	for idx := range p.Items {
		p.Items[idx].Selected = selected
	}
	return nil
}

func (b *fakeBackend) ApplyPlan(_ context.Context, id model.PlanID, phrase string) (model.ApplyResult, error) {
	if err := b.record(call{op: "apply", planID: id, phrase: phrase}); err != nil {
		return model.ApplyResult{}, err
	}
	return model.ApplyResult{RunID: b.runID, Message: "Run started"}, nil
}

func (b *fakeBackend) Protect(_ context.Context, req model.ProtectRequest) error {
	if err := b.record(call{op: "protect"}); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.plans {
		for idx := range p.Items {
			if p.Items[idx].Path == req.Path {
				p.Items[idx].ProtectedReason = req.Reason
				p.Items[idx].Selected = false
			}
		}
	}
	return nil
}

func (b *fakeBackend) RequiredConfirmPhrase(context.Context) (string, error) {
	if err := b.record(call{op: "config"}); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phrase, nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRecorder) RecordRun(_ context.Context, e journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func samplePlan(id model.PlanID) *model.Plan {
	return &model.Plan{
		ID:     id,
		Status: "draft",
		Items: []model.Item{
			{ID: 1, Title: "Alien", Path: "/movies/alien", SizeBytes: 100, Selected: true},
			{ID: 2, Title: "Brazil", Path: "/movies/brazil", SizeBytes: 200, Selected: true},
			{ID: 3, Title: "Cube", Path: "/movies/cube", SizeBytes: 300, Selected: false, ProtectedReason: "tag keep"},
		},
	}
}

func newTestStore(t *testing.T, b *fakeBackend, opts Options) *Store {
	t.Helper()
	s := NewStore(b, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func wait(t *testing.T, p *Pending) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func selections(p *model.Plan) map[int64]bool {
	out := make(map[int64]bool)
	for _, item := range p.Items {
		out[item.ID] = item.IsSelected()
	}
	return out
}

func TestStore_LoadUnsetIDsMakeNoRequest(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})

	for _, id := range []model.PlanID{"", "null", "undefined", "  "} {
		p, err := s.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Empty(t, b.callsFor("get"))
	assert.Nil(t, s.Snapshot())
}

func TestStore_LoadNotFound(t *testing.T) {
	bus := notify.NewBus(0)
	defer bus.Close()
	_, ch := bus.Subscribe()

	s := newTestStore(t, newFakeBackend(), Options{Bus: bus})

	_, err := s.Load(context.Background(), "9")
	require.Error(t, err)
	assert.True(t, sharedErrors.IsNotFound(err))
	assert.Equal(t, err, s.Err())
	assert.Nil(t, s.Snapshot())

	list := <-ch
	require.Len(t, list, 1)
	assert.Equal(t, "Plan not found", list[0].Message)
}

func TestStore_LastLoadWins(t *testing.T) {
	b := newFakeBackend(samplePlan("1"), samplePlan("2"))
	gate := b.gate("1")
	s := newTestStore(t, b, Options{})

	slowErr := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), "1")
		slowErr <- err
	}()
	require.Eventually(t, func() bool { return s.PlanID() == "1" }, time.Second, time.Millisecond)

	p, err := s.Load(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, model.PlanID("2"), p.ID)

	close(gate)
	assert.ErrorIs(t, <-slowErr, ErrSuperseded)
	assert.Equal(t, model.PlanID("2"), s.Snapshot().ID)
}

func TestStore_EditsDuringLoadTargetDisplayedPlan(t *testing.T) {
	b := newFakeBackend(samplePlan("1"), samplePlan("2"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	gate := b.gate("2")
	loaded := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), "2")
		loaded <- err
	}()
	require.Eventually(t, s.Loading, time.Second, time.Millisecond)

	require.NoError(t, wait(t, s.ToggleSelection(1, false)))
	assert.Equal(t, model.PlanID("1"), s.Snapshot().ID)

	calls := b.callsFor("update")
	require.Len(t, calls, 1)
	assert.Equal(t, model.PlanID("1"), calls[0].planID)

	close(gate)
	require.NoError(t, <-loaded)

	p2 := s.Snapshot()
	assert.Equal(t, model.PlanID("2"), p2.ID)
	assert.True(t, selections(p2)[1], "plan 2 is untouched")
}

func TestStore_ApplyDuringLoadIsRejected(t *testing.T) {
	b := newFakeBackend(samplePlan("1"), samplePlan("2"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	gate := b.gate("2")
	loaded := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), "2")
		loaded <- err
	}()
	require.Eventually(t, s.Loading, time.Second, time.Millisecond)

	_, err = s.Apply(context.Background(), "")
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Empty(t, b.callsFor("apply"))

	close(gate)
	require.NoError(t, <-loaded)

	_, err = s.Apply(context.Background(), "")
	require.NoError(t, err)
	calls := b.callsFor("apply")
	require.Len(t, calls, 1)
	assert.Equal(t, model.PlanID("2"), calls[0].planID)
}

func TestStore_ProtectedItemsAreNeverSelected(t *testing.T) {
	p := samplePlan("1")
	p.Items[2].Selected = true // server says selected but the item is protected

	s := newTestStore(t, newFakeBackend(p), Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	assert.False(t, selections(s.Snapshot())[3])
	assert.Equal(t, 2, s.SelectedCount())
	assert.Equal(t, int64(300), s.SelectedSize())
	assert.Equal(t, 3, s.TotalCount())
	assert.Equal(t, int64(600), s.TotalSize())
}

func TestStore_ToggleRejectsProtectedAndUnknown(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	assert.ErrorIs(t, wait(t, s.ToggleSelection(3, true)), sharedErrors.ErrProtectedItem)
	assert.ErrorIs(t, wait(t, s.ToggleSelection(99, true)), sharedErrors.ErrUnknownItem)
	require.NoError(t, s.Flush(context.Background()))

	assert.Empty(t, b.callsFor("update"))
	assert.False(t, selections(s.Snapshot())[3])
}

func TestStore_ToggleIsOptimistic(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	var changes []Change
	var mu sync.Mutex
	s.OnChange(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	pending := s.ToggleSelection(1, false)
	assert.False(t, selections(s.Snapshot())[1], "applied before the server answers")

	require.NoError(t, wait(t, pending))
	calls := b.callsFor("update")
	require.Len(t, calls, 1)
	assert.Equal(t, []model.SelectionUpdate{{ID: 1, Selected: false}}, calls[0].updates)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, ChangeItem, changes[0].Kind)
	assert.False(t, changes[0].Kind.ResetsScroll())
}

func TestStore_FailedToggleReconcilesWithServer(t *testing.T) {
	bus := notify.NewBus(0)
	defer bus.Close()

	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{Bus: bus})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	var kinds []ChangeKind
	var mu sync.Mutex
	s.OnChange(func(c Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})

	b.failOnce("update", &sharedErrors.ServerError{StatusCode: 500, Detail: "database locked"})
	err = wait(t, s.ToggleSelection(2, false))
	require.Error(t, err)

	fresh, err := b.GetPlan(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, fresh, s.Snapshot(), "state equals a fresh load")
	assert.True(t, selections(s.Snapshot())[2])

	mu.Lock()
	assert.Equal(t, []ChangeKind{ChangeItem, ChangeReconciled}, kinds)
	mu.Unlock()

	active := bus.Active()
	require.NotEmpty(t, active)
	assert.Equal(t, notify.LevelError, active[0].Level)
	assert.Equal(t, "database locked", active[0].Message)
	assert.Equal(t, int64(1), s.Stats().SyncFailed)
}

func TestStore_SelectAllKeepsIssueOrder(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	first := s.SelectAll(true)
	second := s.SelectAll(false)

	for _, sel := range selections(s.Snapshot()) {
		assert.False(t, sel)
	}

	require.NoError(t, wait(t, first))
	require.NoError(t, wait(t, second))

	calls := b.callsFor("select_all")
	require.Len(t, calls, 2)
	assert.True(t, *calls[0].selectAll)
	assert.False(t, *calls[1].selectAll)

	server, err := b.GetPlan(context.Background(), "1")
	require.NoError(t, err)
	for _, item := range server.Items {
		assert.False(t, item.Selected)
	}
}

func TestStore_ReconcileWaitsForQueuedEdits(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	b.failOnce("update", errors.New("connection reset"))
	failed := s.ToggleSelection(1, false)
	ok := s.ToggleSelection(2, false)

	require.Error(t, wait(t, failed))
	require.NoError(t, wait(t, ok))

	sel := selections(s.Snapshot())
	assert.True(t, sel[1], "rejected edit rolled back")
	assert.False(t, sel[2], "later accepted edit survives the reload")
	assert.Len(t, b.callsFor("get"), 2)
}

func TestStore_ApplyChecksPhraseLocally(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	b.phrase = "DELETE"
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), "delete")
	assert.ErrorIs(t, err, sharedErrors.ErrConfirmPhraseMismatch)
	assert.Empty(t, b.callsFor("apply"))

	rec := &memRecorder{}
	s.recorder = rec
	res, err := s.Apply(context.Background(), "DELETE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.RunID)

	calls := b.callsFor("apply")
	require.Len(t, calls, 1)
	assert.Equal(t, "DELETE", calls[0].phrase)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, int64(100), rec.entries[0].RunID)
	assert.Equal(t, "1", rec.entries[0].PlanID)
	assert.Equal(t, 2, rec.entries[0].ItemCount)
	assert.Equal(t, int64(300), rec.entries[0].Bytes)
}

func TestStore_ApplyWithoutRequiredPhrase(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, b.callsFor("apply")[0].phrase, "phrase not sent when not required")
}

func TestStore_ApplyNothingSelected(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	s.SelectAll(false)

	_, err = s.Apply(context.Background(), "")
	assert.ErrorIs(t, err, sharedErrors.ErrNothingSelected)
	assert.Empty(t, b.callsFor("apply"))
	assert.Len(t, b.callsFor("select_all"), 1, "queued edits flushed before the check")
}

func TestStore_ApplyWithoutPlan(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), Options{})
	_, err := s.Apply(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoPlan)
}

func TestStore_ProtectReloads(t *testing.T) {
	b := newFakeBackend(samplePlan("1"))
	s := newTestStore(t, b, Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	require.NoError(t, s.Protect(context.Background(), 1, "favourite"))

	item, _, ok := s.Snapshot().Item(1)
	require.True(t, ok)
	assert.Equal(t, "favourite", item.ProtectedReason)
	assert.False(t, item.IsSelected())
	assert.Len(t, b.callsFor("get"), 2)

	assert.ErrorIs(t, s.Protect(context.Background(), 42, ""), sharedErrors.ErrUnknownItem)
}

func TestStore_SnapshotIsIndependent(t *testing.T) {
	s := newTestStore(t, newFakeBackend(samplePlan("1")), Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Items[0].Selected = false
	snap.Items[0].Title = "changed"

	again := s.Snapshot()
	assert.True(t, again.Items[0].Selected)
	assert.Equal(t, "Alien", again.Items[0].Title)
}

func TestStore_ClosedStore(t *testing.T) {
	s := NewStore(newFakeBackend(samplePlan("1")), Options{})
	_, err := s.Load(context.Background(), "1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, wait(t, s.ToggleSelection(1, false)), ErrClosed)
	assert.ErrorIs(t, s.Flush(context.Background()), ErrClosed)
	require.NoError(t, s.Close())
}
