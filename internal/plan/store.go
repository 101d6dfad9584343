// Package plan holds the plan being reviewed and keeps its item selection in
// sync with the server. Selection edits are applied locally first and sent to
// the server in the order they were made; a rejected edit triggers a reload of
// the authoritative plan.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/journal"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/notify"
	"github.com/sourcegraph/conc"
)

var (
	// ErrSuperseded is returned by a load that was overtaken by a newer one.
	ErrSuperseded = errors.New("plan load superseded by a newer request")
	// ErrNoPlan is returned by operations that need a loaded plan.
	ErrNoPlan = errors.New("no plan loaded")
	// ErrClosed is returned once the store is closed.
	ErrClosed = errors.New("plan store closed")
)

// Backend is the server surface the store needs.
type Backend interface {
	GetPlan(ctx context.Context, id model.PlanID) (*model.Plan, error)
	UpdateItems(ctx context.Context, id model.PlanID, updates []model.SelectionUpdate) error
	SetAllSelected(ctx context.Context, id model.PlanID, selected bool) error
	ApplyPlan(ctx context.Context, id model.PlanID, confirmPhrase string) (model.ApplyResult, error)
	Protect(ctx context.Context, req model.ProtectRequest) error
	RequiredConfirmPhrase(ctx context.Context) (string, error)
}

// Recorder keeps a local trace of started runs.
type Recorder interface {
	RecordRun(ctx context.Context, entry journal.Entry) error
}

// ChangeKind tells observers what changed.
type ChangeKind string

const (
	ChangeLoaded     ChangeKind = "loaded"
	ChangeItem       ChangeKind = "item"
	ChangeAll        ChangeKind = "all"
	ChangeReconciled ChangeKind = "reconciled"
	ChangeCleared    ChangeKind = "cleared"
)

// ResetsScroll reports whether a view should drop its scroll position.
// Selection edits keep it; anything that replaces the item list does not.
func (k ChangeKind) ResetsScroll() bool {
	return k == ChangeLoaded || k == ChangeReconciled || k == ChangeCleared
}

// Change is passed to OnChange observers.
type Change struct {
	Kind   ChangeKind
	PlanID model.PlanID
	ItemID int64
}

// Options configures a Store.
type Options struct {
	Bus      *notify.Bus
	Recorder Recorder
	Logger   *slog.Logger
}

// Stats counts sync traffic since the store was created.
type Stats struct {
	SyncSent       int64
	SyncFailed     int64
	Reconciliation int64
}

// Store owns the current plan.
type Store struct {
	backend  Backend
	bus      *notify.Bus
	recorder Recorder
	log      *slog.Logger

	mu         sync.Mutex
	plan       *model.Plan
	planID     model.PlanID // requested, may still be loading
	shown      model.PlanID // id of plan, set once it is fetched
	loading    bool
	err        error
	generation uint64
	closed     bool

	queue    []syncJob
	inflight *syncJob
	failed   map[model.PlanID][]failedJob
	wake     chan struct{}
	cancel   context.CancelFunc
	wg       conc.WaitGroup

	syncSent   atomic.Int64
	syncFailed atomic.Int64
	reconciled atomic.Int64

	emitMu    sync.Mutex
	listeners []func(Change)
}

// NewStore creates an empty store and starts its sync worker.
func NewStore(backend Backend, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:  backend,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		log:      logger.With("component", "plan-store"),
		failed:   make(map[model.PlanID][]failedJob),
		wake:     make(chan struct{}, 1),
		cancel:   cancel,
	}

	s.wg.Go(func() { s.runSync(ctx) })

	return s
}

// OnChange registers an observer. Observers run one at a time on the
// goroutine that made the change and must not call back into mutating methods.
func (s *Store) OnChange(fn func(Change)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load fetches a plan and makes it current. Unset ids clear the store without
// a request. When several loads overlap only the most recent one is kept;
// the others return ErrSuperseded.
func (s *Store) Load(ctx context.Context, id model.PlanID) (*model.Plan, error) {
	if id.IsUnset() {
		s.Clear()
		return nil, nil
	}
	return s.load(ctx, id, ChangeLoaded, false)
}

// Reload fetches the current plan again.
func (s *Store) Reload(ctx context.Context) (*model.Plan, error) {
	s.mu.Lock()
	id := s.planID
	s.mu.Unlock()

	if id.IsUnset() {
		return nil, ErrNoPlan
	}
	return s.load(ctx, id, ChangeReconciled, true)
}

func (s *Store) load(ctx context.Context, id model.PlanID, kind ChangeKind, onlyIfCurrent bool) (*model.Plan, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if onlyIfCurrent && s.planID != id {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.generation++
	gen := s.generation
	s.planID = id
	s.loading = true
	s.mu.Unlock()

	s.log.DebugContext(ctx, "Loading plan", "plan_id", id, "generation", gen)

	p, err := s.backend.GetPlan(ctx, id)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "Discarding superseded plan load", "plan_id", id, "generation", gen)
		return nil, ErrSuperseded
	}
	s.loading = false

	if err != nil {
		s.err = err
		s.plan = nil
		s.shown = ""
		s.log.ErrorContext(ctx, "Failed to load plan", "plan_id", id, "error", err)
		s.notifyError(err)
		s.emitLocked(Change{Kind: ChangeCleared, PlanID: id})
		return nil, err
	}

	s.overlayLocked(id, p)
	s.err = nil
	s.plan = p
	s.shown = id
	out := p.Clone()
	s.log.InfoContext(ctx, "Plan loaded", "plan_id", id, "items", len(p.Items))
	s.emitLocked(Change{Kind: kind, PlanID: id})

	return out, nil
}

// Clear drops the current plan and invalidates in-flight loads.
func (s *Store) Clear() {
	s.mu.Lock()
	s.generation++
	s.plan = nil
	s.planID = ""
	s.shown = ""
	s.err = nil
	s.loading = false
	s.emitLocked(Change{Kind: ChangeCleared})
}

// ToggleSelection sets one item's selection. The local plan changes before
// the call returns; the server request is queued behind earlier edits.
func (s *Store) ToggleSelection(itemID int64, selected bool) *Pending {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolvedPending(ErrClosed)
	}
	if s.plan == nil {
		s.mu.Unlock()
		return resolvedPending(ErrNoPlan)
	}

	item, idx, ok := s.plan.Item(itemID)
	if !ok {
		s.mu.Unlock()
		return resolvedPending(fmt.Errorf("item %d: %w", itemID, sharedErrors.ErrUnknownItem))
	}
	if item.IsProtected() {
		s.mu.Unlock()
		s.publish(notify.LevelWarning, fmt.Sprintf("%s is protected (%s)", item.Title, item.ProtectedReason))
		return resolvedPending(fmt.Errorf("item %d: %w", itemID, sharedErrors.ErrProtectedItem))
	}

	s.plan.Items[idx].Selected = selected

	pending := newPending()
	s.enqueueLocked(syncJob{
		planID:  s.shown,
		updates: []model.SelectionUpdate{{ID: itemID, Selected: selected}},
		pending: pending,
	})
	s.emitLocked(Change{Kind: ChangeItem, PlanID: s.shown, ItemID: itemID})

	return pending
}

// SelectAll sets every unprotected item's selection with one bulk request.
func (s *Store) SelectAll(selected bool) *Pending {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolvedPending(ErrClosed)
	}
	if s.plan == nil {
		s.mu.Unlock()
		return resolvedPending(ErrNoPlan)
	}

	for idx := range s.plan.Items {
		if s.plan.Items[idx].IsProtected() {
			continue
		}
		s.plan.Items[idx].Selected = selected
	}

	pending := newPending()
	s.enqueueLocked(syncJob{
		planID:    s.shown,
		selectAll: &selected,
		pending:   pending,
	})
	s.emitLocked(Change{Kind: ChangeAll, PlanID: s.shown})

	return pending
}

// Flush waits until every edit queued so far has been sent and, if any of
// them failed, the plan has been reloaded.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pending := newPending()
	s.enqueueLocked(syncJob{planID: s.shown, barrier: true, pending: pending})
	s.mu.Unlock()

	return pending.Wait(ctx)
}

// Apply submits the displayed plan for execution. The confirmation phrase is
// checked locally against the server requirement and an empty selection is
// rejected; in both cases nothing is sent. While another plan is loading the
// call fails with ErrSuperseded.
func (s *Store) Apply(ctx context.Context, confirmPhrase string) (model.ApplyResult, error) {
	s.mu.Lock()
	if s.plan == nil {
		s.mu.Unlock()
		return model.ApplyResult{}, ErrNoPlan
	}
	id := s.shown
	switching := s.planID != id
	s.mu.Unlock()

	if switching {
		return model.ApplyResult{}, ErrSuperseded
	}

	required, err := s.backend.RequiredConfirmPhrase(ctx)
	if err != nil {
		s.notifyError(err)
		return model.ApplyResult{}, fmt.Errorf("failed to read confirmation requirement: %w", err)
	}
	if required != "" && confirmPhrase != required {
		s.publish(notify.LevelError, fmt.Sprintf("Type %q to confirm", required))
		return model.ApplyResult{}, sharedErrors.ErrConfirmPhraseMismatch
	}

	// Queued selection edits must reach the server before it executes the plan
	if err := s.Flush(ctx); err != nil {
		return model.ApplyResult{}, err
	}

	s.mu.Lock()
	if s.plan == nil || s.shown != id || s.planID != id {
		s.mu.Unlock()
		return model.ApplyResult{}, ErrSuperseded
	}
	totals := model.Summarize(s.plan.Items)
	s.mu.Unlock()

	if totals.Selected == 0 {
		s.publish(notify.LevelWarning, "No items selected")
		return model.ApplyResult{}, sharedErrors.ErrNothingSelected
	}

	if required == "" {
		confirmPhrase = ""
	}

	result, err := s.backend.ApplyPlan(ctx, id, confirmPhrase)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to apply plan", "plan_id", id, "error", err)
		s.notifyError(err)
		return model.ApplyResult{}, err
	}

	s.log.InfoContext(ctx, "Plan applied", "plan_id", id, "run_id", result.RunID,
		"items", totals.Selected, "bytes", totals.SelectedBytes)

	if s.recorder != nil {
		entry := journal.Entry{
			RunID:     result.RunID,
			PlanID:    id.String(),
			StartedAt: time.Now(),
			ItemCount: totals.Selected,
			Bytes:     totals.SelectedBytes,
			Status:    journal.StatusStarted,
			Message:   result.Message,
		}
		if err := s.recorder.RecordRun(ctx, entry); err != nil {
			s.log.WarnContext(ctx, "Failed to record run in journal", "run_id", result.RunID, "error", err)
		}
	}

	msg := result.Message
	if msg == "" {
		msg = fmt.Sprintf("Run %d started", result.RunID)
	}
	s.publish(notify.LevelSuccess, msg)

	return result, nil
}

// Protect excludes an item's media from future plans and reloads the plan.
func (s *Store) Protect(ctx context.Context, itemID int64, reason string) error {
	s.mu.Lock()
	if s.plan == nil {
		s.mu.Unlock()
		return ErrNoPlan
	}
	item, _, ok := s.plan.Item(itemID)
	id := s.shown
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("item %d: %w", itemID, sharedErrors.ErrUnknownItem)
	}

	if err := s.backend.Protect(ctx, model.ProtectRequestFor(item, reason)); err != nil {
		s.log.ErrorContext(ctx, "Failed to protect item", "plan_id", id, "item_id", itemID, "error", err)
		s.notifyError(err)
		return err
	}

	s.publish(notify.LevelSuccess, fmt.Sprintf("Protected %s", item.Title))

	if _, err := s.load(ctx, id, ChangeReconciled, true); err != nil && !errors.Is(err, ErrSuperseded) {
		return fmt.Errorf("protected, but failed to reload plan: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current plan, or nil.
func (s *Store) Snapshot() *model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Clone()
}

// PlanID returns the id of the current or loading plan.
func (s *Store) PlanID() model.PlanID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planID
}

// Loading reports whether a load is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the error of the last load, if it failed.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Totals summarizes the current plan using effective selection.
func (s *Store) Totals() model.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return model.Totals{}
	}
	return model.Summarize(s.plan.Items)
}

func (s *Store) SelectedCount() int  { return s.Totals().Selected }
func (s *Store) TotalCount() int     { return s.Totals().Count }
func (s *Store) SelectedSize() int64 { return s.Totals().SelectedBytes }
func (s *Store) TotalSize() int64    { return s.Totals().SizeBytes }

// Stats returns sync counters.
func (s *Store) Stats() Stats {
	return Stats{
		SyncSent:       s.syncSent.Load(),
		SyncFailed:     s.syncFailed.Load(),
		Reconciliation: s.reconciled.Load(),
	}
}

// Close stops the sync worker. Edits still queued resolve with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Store) notifyError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.publish(notify.LevelError, sharedErrors.UserMessage(err))
}

func (s *Store) publish(level notify.Level, msg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(level, msg)
}

// emitLocked releases s.mu and notifies observers in mutation order.
func (s *Store) emitLocked(change Change) {
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, fn := range s.listeners {
		fn(change)
	}
}
