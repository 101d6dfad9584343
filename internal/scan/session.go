// Package scan drives a server-side scan from start to a resolved plan id.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/javi11/mediajanitor/internal/slogutil"
	"github.com/sourcegraph/conc"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// IsTerminal reports whether no further events are applied.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// DefaultSettleDelay is how long a completed scan stays visible before its
// plan id is handed over.
const DefaultSettleDelay = 1500 * time.Millisecond

// DefaultErrorMessage is used when the server reports an error without text.
const DefaultErrorMessage = "Scan failed"

var (
	// ErrScanInProgress is returned by Start while a scan is starting or running.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrSessionClosed is returned when the session was closed during Start.
	ErrSessionClosed = errors.New("scan session closed")
	// ErrNoResult is returned when the server answered with neither a scan id nor a plan id.
	ErrNoResult = errors.New("server returned neither a scan id nor a plan id")
)

// Status is a snapshot of the session.
type Status struct {
	State       State
	ScanID      string
	PlanID      model.PlanID
	Progress    float64
	CurrentStep string
	Logs        []model.LogEntry
	Error       string
}

// Options configures a Session.
type Options struct {
	// SettleDelay between completion and plan hand-over. Negative means DefaultSettleDelay.
	SettleDelay time.Duration
	// PollInterval enables the fallback poller when > 0.
	PollInterval time.Duration
	// Poller is consulted every PollInterval while running. Nil means NoopPoller.
	Poller Poller
	Logger *slog.Logger
}

// Session tracks one scan at a time. It is safe for concurrent use; events
// from the stream and the poller are applied one at a time in arrival order.
type Session struct {
	starter      Starter
	dialer       Dialer
	poller       Poller
	settleDelay  time.Duration
	pollInterval time.Duration
	log          *slog.Logger

	mu          sync.Mutex
	status      Status
	generation  uint64
	cancel      context.CancelFunc
	stream      Stream
	settleTimer *time.Timer
	resolved    chan model.PlanID
	resolveDone bool
	closed      bool
	wg          conc.WaitGroup

	emitMu    sync.Mutex
	listeners []func(Status)
}

// NewSession creates an idle session.
func NewSession(starter Starter, dialer Dialer, opts Options) *Session {
	settle := opts.SettleDelay
	if settle < 0 {
		settle = DefaultSettleDelay
	}

	poller := opts.Poller
	if poller == nil {
		poller = NoopPoller{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		starter:      starter,
		dialer:       dialer,
		poller:       poller,
		settleDelay:  settle,
		pollInterval: opts.PollInterval,
		log:          logger.With("component", "scan-session"),
		status:       Status{State: StateIdle},
		resolved:     make(chan model.PlanID, 1),
	}
}

// OnChange registers a callback invoked after every state change. Callbacks
// run on the goroutine that made the change, one at a time; they must not
// block for long or call Start, Close or Reset.
func (s *Session) OnChange(fn func(Status)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Status returns a snapshot of the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Resolved returns the channel that delivers the plan id of the current scan.
// It yields at most one value and is then closed. A close without a value
// means the scan was superseded, closed or failed.
func (s *Session) Resolved() <-chan model.PlanID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// Start begins a new scan. It is allowed from idle, completed and error;
// a terminal previous scan is discarded first.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.status.State == StateStarting || s.status.State == StateRunning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	s.teardownLocked()
	s.mu.Unlock()

	// Goroutines of the previous scan must be gone before its state is replaced
	s.wg.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.status.State == StateStarting || s.status.State == StateRunning {
		s.mu.Unlock()
		return ErrScanInProgress
	}
	s.generation++
	gen := s.generation
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.status = Status{State: StateStarting}
	s.resolved = make(chan model.PlanID, 1)
	s.resolveDone = false
	s.emitLocked()

	startCtx, stopStart := context.WithCancel(ctx)
	defer stopStart()
	context.AfterFunc(runCtx, stopStart)

	ctx = slogutil.With(ctx, "scan_generation", gen)
	s.log.InfoContext(ctx, "Starting scan")

	result, err := s.starter.StartScan(startCtx)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	switch {
	case err != nil:
		s.failLocked(sharedErrors.UserMessage(err))
		s.log.ErrorContext(ctx, "Failed to start scan", "error", err)
		s.emitLocked()
		return err

	case !result.PlanID.IsUnset():
		// Synchronous scan: the plan is ready now
		s.status.State = StateCompleted
		s.status.PlanID = result.PlanID
		s.status.Progress = 100
		s.releaseTransportLocked()
		s.deliverLocked(gen, result.PlanID)
		s.log.InfoContext(ctx, "Scan completed immediately", "plan_id", result.PlanID)
		s.emitLocked()
		return nil

	case result.ScanID != "":
		s.status.State = StateRunning
		s.status.ScanID = result.ScanID
		scanID := result.ScanID

		s.wg.Go(func() { s.consume(runCtx, gen, scanID) })
		if s.pollInterval > 0 {
			s.wg.Go(func() { s.poll(runCtx, gen, scanID) })
		}

		s.log.InfoContext(ctx, "Scan running", "scan_id", scanID)
		s.emitLocked()
		return nil

	default:
		s.failLocked(DefaultErrorMessage)
		s.log.ErrorContext(ctx, "Invalid scan start response", "error", ErrNoResult)
		s.emitLocked()
		return ErrNoResult
	}
}

// Close releases the stream, the poller and any pending plan hand-over.
// Nothing is sent to the server; the scan keeps running there. A closed
// session cannot be started again.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.release()
	return nil
}

// Reset abandons the current scan and returns the session to idle.
func (s *Session) Reset() {
	s.release()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = Status{State: StateIdle}
	s.resolved = make(chan model.PlanID, 1)
	s.resolveDone = false
	s.emitLocked()
}

// Apply feeds an event through the same path the stream uses. It is exported
// for callers that receive events from elsewhere (e.g. a custom transport).
func (s *Session) Apply(event model.ScanEvent) {
	s.mu.Lock()
	s.applyLocked(s.generation, event)
}

func (s *Session) release() {
	s.mu.Lock()
	s.generation++
	s.teardownLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Session) consume(ctx context.Context, gen uint64, scanID string) {
	stream, err := s.dialer.Dial(ctx, scanID)
	if err != nil {
		// Fail open: the server keeps scanning and the poller may still report
		s.log.WarnContext(ctx, "Scan stream unavailable, staying in running state", "scan_id", scanID, "error", err)
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.status.State != StateRunning {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.WarnContext(ctx, "Scan stream ended", "scan_id", scanID, "error", err)
			}
			return
		}

		s.mu.Lock()
		s.applyLocked(gen, event)

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Session) poll(ctx context.Context, gen uint64, scanID string) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		event, err := s.poller.Poll(ctx, scanID)
		if err != nil {
			s.log.DebugContext(ctx, "Scan poll failed", "scan_id", scanID, "error", err)
			continue
		}
		if event == nil {
			continue
		}

		s.mu.Lock()
		s.applyLocked(gen, *event)
	}
}

// applyLocked applies one event and releases s.mu.
func (s *Session) applyLocked(gen uint64, event model.ScanEvent) {
	if s.generation != gen || s.status.State != StateRunning {
		s.mu.Unlock()
		return
	}

	if event.Progress != nil {
		s.status.Progress = *event.Progress
	}
	if event.CurrentStep != "" {
		s.status.CurrentStep = event.CurrentStep
	}
	if event.Logs != nil {
		s.status.Logs = slices.Clone(event.Logs)
	}

	switch event.Status {
	case model.ScanEventCompleted:
		if event.PlanID.IsUnset() {
			s.log.Warn("Scan reported completion without a plan id, ignoring", "scan_id", s.status.ScanID)
			break
		}
		s.status.State = StateCompleted
		s.status.PlanID = event.PlanID
		s.status.Progress = 100
		s.releaseTransportLocked()
		s.scheduleDeliveryLocked(gen, event.PlanID)
		s.log.Info("Scan completed", "scan_id", s.status.ScanID, "plan_id", event.PlanID)

	case model.ScanEventError:
		msg := event.Error
		if msg == "" {
			msg = DefaultErrorMessage
		}
		s.failLocked(msg)
		s.log.Error("Scan failed", "scan_id", s.status.ScanID, "error", msg)
	}

	s.emitLocked()
}

func (s *Session) failLocked(msg string) {
	s.status.State = StateError
	s.status.Error = msg
	s.releaseTransportLocked()
	if !s.resolveDone {
		s.resolveDone = true
		close(s.resolved)
	}
}

func (s *Session) scheduleDeliveryLocked(gen uint64, planID model.PlanID) {
	if s.settleDelay <= 0 {
		s.deliverLocked(gen, planID)
		return
	}

	s.settleTimer = time.AfterFunc(s.settleDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deliverLocked(gen, planID)
	})
}

func (s *Session) deliverLocked(gen uint64, planID model.PlanID) {
	if s.generation != gen || s.resolveDone {
		return
	}
	s.resolveDone = true
	s.resolved <- planID
	close(s.resolved)
}

// releaseTransportLocked stops the stream reader and the poller.
func (s *Session) releaseTransportLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

func (s *Session) teardownLocked() {
	s.releaseTransportLocked()
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if !s.resolveDone {
		s.resolveDone = true
		close(s.resolved)
	}
}

func (s *Session) snapshotLocked() Status {
	st := s.status
	st.Logs = slices.Clone(s.status.Logs)
	return st
}

// emitLocked hands a snapshot to the listeners and releases s.mu. Taking
// emitMu before releasing s.mu keeps notifications in mutation order.
func (s *Session) emitLocked() {
	st := s.snapshotLocked()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, fn := range s.listeners {
		fn(st)
	}
}
