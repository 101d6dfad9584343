package scan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	result model.ScanStartResult
	err    error
	calls  atomic.Int32
	block  chan struct{}
}

func (f *fakeStarter) StartScan(ctx context.Context) (model.ScanStartResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.ScanStartResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeStream struct {
	events chan model.ScanEvent
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan model.ScanEvent, 16), done: make(chan struct{})}
}

func (s *fakeStream) Next(ctx context.Context) (model.ScanEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return model.ScanEvent{}, errors.New("stream closed")
	case <-ctx.Done():
		return model.ScanEvent{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	stream *fakeStream
	err    error
	scanID atomic.Value
}

func (d *fakeDialer) Dial(_ context.Context, scanID string) (Stream, error) {
	d.scanID.Store(scanID)
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func progress(v float64) *float64 { return &v }

func waitFor(t *testing.T, s *Session, cond func(Status) bool) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st = s.Status()
		return cond(st)
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func runningSession(t *testing.T, opts Options) (*Session, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	s := NewSession(&fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}, &fakeDialer{stream: stream}, opts)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.Status().State)
	return s, stream
}

func TestSession_ImmediatePlan(t *testing.T) {
	starter := &fakeStarter{result: model.ScanStartResult{PlanID: "7"}}
	dialer := &fakeDialer{err: errors.New("must not dial")}
	s := NewSession(starter, dialer, Options{SettleDelay: time.Hour})
	defer s.Close()

	var states []State
	s.OnChange(func(st Status) { states = append(states, st.State) })

	require.NoError(t, s.Start(context.Background()))

	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, model.PlanID("7"), st.PlanID)
	assert.Equal(t, float64(100), st.Progress)
	assert.Equal(t, []State{StateStarting, StateCompleted}, states)

	select {
	case id := <-s.Resolved():
		assert.Equal(t, model.PlanID("7"), id)
	case <-time.After(time.Second):
		t.Fatal("plan id not delivered")
	}
	assert.Nil(t, dialer.scanID.Load())
}

func TestSession_StreamCompletesAfterSettleDelay(t *testing.T) {
	s, stream := runningSession(t, Options{SettleDelay: 50 * time.Millisecond})

	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, Progress: progress(30), CurrentStep: "Scanning Radarr"}
	waitFor(t, s, func(st Status) bool { return st.Progress == 30 })

	stream.events <- model.ScanEvent{Status: model.ScanEventCompleted, PlanID: "42"}
	st := waitFor(t, s, func(st Status) bool { return st.State == StateCompleted })
	assert.Equal(t, float64(100), st.Progress)
	assert.Equal(t, "Scanning Radarr", st.CurrentStep, "empty step keeps the previous one")

	resolved := s.Resolved()
	select {
	case <-resolved:
		t.Fatal("delivered before the settle delay")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case id, ok := <-resolved:
		require.True(t, ok)
		assert.Equal(t, model.PlanID("42"), id)
	case <-time.After(time.Second):
		t.Fatal("plan id not delivered")
	}

	_, ok := <-resolved
	assert.False(t, ok, "delivered exactly once")
	assert.True(t, stream.isClosed(), "transport released on completion")
}

func TestSession_ProgressIsLastWriteWins(t *testing.T) {
	s, stream := runningSession(t, Options{})

	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, Progress: progress(30)}
	waitFor(t, s, func(st Status) bool { return st.Progress == 30 })

	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, Progress: progress(10)}
	waitFor(t, s, func(st Status) bool { return st.Progress == 10 })

	// Absent progress leaves the value alone
	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, CurrentStep: "Scanning Sonarr"}
	st := waitFor(t, s, func(st Status) bool { return st.CurrentStep == "Scanning Sonarr" })
	assert.Equal(t, float64(10), st.Progress)
}

func TestSession_LogsReplacedOnlyWhenPresent(t *testing.T) {
	s, stream := runningSession(t, Options{})

	logs := []model.LogEntry{{Level: "info", Message: "one"}, {Level: "info", Message: "two"}}
	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, Logs: logs}
	waitFor(t, s, func(st Status) bool { return len(st.Logs) == 2 })

	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, CurrentStep: "next"}
	st := waitFor(t, s, func(st Status) bool { return st.CurrentStep == "next" })
	assert.Len(t, st.Logs, 2)

	stream.events <- model.ScanEvent{Status: model.ScanEventRunning, Logs: []model.LogEntry{}}
	waitFor(t, s, func(st Status) bool { return len(st.Logs) == 0 })
}

func TestSession_CompletedWithoutPlanIsIgnored(t *testing.T) {
	s, stream := runningSession(t, Options{})

	stream.events <- model.ScanEvent{Status: model.ScanEventCompleted, Progress: progress(99)}
	st := waitFor(t, s, func(st Status) bool { return st.Progress == 99 })
	assert.Equal(t, StateRunning, st.State)
}

func TestSession_ErrorEvent(t *testing.T) {
	s, stream := runningSession(t, Options{})
	resolved := s.Resolved()

	stream.events <- model.ScanEvent{Status: model.ScanEventError}
	st := waitFor(t, s, func(st Status) bool { return st.State == StateError })
	assert.Equal(t, DefaultErrorMessage, st.Error)

	_, ok := <-resolved
	assert.False(t, ok, "failed scan resolves without a plan")

	// Events after a terminal state are ignored
	stream.events <- model.ScanEvent{Status: model.ScanEventCompleted, PlanID: "1"}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateError, s.Status().State)
}

func TestSession_TransportFailureFailsOpen(t *testing.T) {
	dialer := &fakeDialer{err: sharedErrors.NewTransportError("dial scan stream", errors.New("refused"))}
	s := NewSession(&fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}, dialer, Options{})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return dialer.scanID.Load() == "abc" }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	st := s.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Empty(t, st.Error)
}

func TestSession_StreamDropFailsOpen(t *testing.T) {
	s, stream := runningSession(t, Options{})
	_ = stream.Close()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateRunning, s.Status().State)
}

type scriptedPoller struct {
	calls  atomic.Int32
	events []*model.ScanEvent
}

func (p *scriptedPoller) Poll(context.Context, string) (*model.ScanEvent, error) {
	n := int(p.calls.Add(1)) - 1
	if n >= len(p.events) {
		return nil, nil
	}
	return p.events[n], nil
}

func TestSession_PollerReportsCompletion(t *testing.T) {
	poller := &scriptedPoller{events: []*model.ScanEvent{
		nil,
		{Status: model.ScanEventRunning, Progress: progress(50)},
		{Status: model.ScanEventCompleted, PlanID: "9"},
	}}
	dialer := &fakeDialer{err: errors.New("no websocket")}
	s := NewSession(&fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}, dialer, Options{
		PollInterval: 5 * time.Millisecond,
		Poller:       poller,
	})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))

	select {
	case id := <-s.Resolved():
		assert.Equal(t, model.PlanID("9"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("poller completion not delivered")
	}

	calls := poller.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, poller.calls.Load(), "poller stops after completion")
}

func TestSession_StartRejectedWhileRunning(t *testing.T) {
	starter := &fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}
	s := NewSession(starter, &fakeDialer{stream: newFakeStream()}, Options{})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrScanInProgress)
	assert.Equal(t, int32(1), starter.calls.Load())
}

func TestSession_StartFailure(t *testing.T) {
	starter := &fakeStarter{err: &sharedErrors.ServerError{StatusCode: 500, Detail: "Plex unreachable"}}
	s := NewSession(starter, &fakeDialer{}, Options{})
	defer s.Close()

	err := s.Start(context.Background())
	require.Error(t, err)

	st := s.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Error, "Plex unreachable")

	// Restart from error clears the previous failure
	starter.err = nil
	starter.result = model.ScanStartResult{PlanID: "3"}
	require.NoError(t, s.Start(context.Background()))
	st = s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Empty(t, st.Error)
}

func TestSession_StartWithNoResult(t *testing.T) {
	s := NewSession(&fakeStarter{}, &fakeDialer{}, Options{})
	defer s.Close()

	assert.ErrorIs(t, s.Start(context.Background()), ErrNoResult)
	assert.Equal(t, StateError, s.Status().State)
}

func TestSession_RestartClearsProgressAndLogs(t *testing.T) {
	starter := &fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}
	stream := newFakeStream()
	s := NewSession(starter, &fakeDialer{stream: stream}, Options{SettleDelay: 0})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	stream.events <- model.ScanEvent{
		Status: model.ScanEventError, Progress: progress(60), Error: "boom",
		Logs: []model.LogEntry{{Message: "x"}},
	}
	waitFor(t, s, func(st Status) bool { return st.State == StateError })

	starter.result = model.ScanStartResult{PlanID: "5"}
	require.NoError(t, s.Start(context.Background()))

	st := s.Status()
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Logs)
	assert.Empty(t, st.CurrentStep)
}

func TestSession_CloseReleasesTransport(t *testing.T) {
	s, stream := runningSession(t, Options{SettleDelay: time.Hour})
	resolved := s.Resolved()

	require.NoError(t, s.Close())
	assert.True(t, stream.isClosed())

	_, ok := <-resolved
	assert.False(t, ok)

	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
}

func TestSession_CloseCancelsPendingSettle(t *testing.T) {
	s, stream := runningSession(t, Options{SettleDelay: 30 * time.Millisecond})
	resolved := s.Resolved()

	stream.events <- model.ScanEvent{Status: model.ScanEventCompleted, PlanID: "42"}
	waitFor(t, s, func(st Status) bool { return st.State == StateCompleted })

	require.NoError(t, s.Close())
	_, ok := <-resolved
	assert.False(t, ok, "closed session never hands over the plan")
}

func TestSession_ResetDuringStart(t *testing.T) {
	starter := &fakeStarter{result: model.ScanStartResult{ScanID: "abc"}, block: make(chan struct{})}
	s := NewSession(starter, &fakeDialer{stream: newFakeStream()}, Options{})
	defer s.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	waitFor(t, s, func(st Status) bool { return st.State == StateStarting })
	s.Reset()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Reset")
	}
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestSession_WebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var path atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"running","progress":30,"current_step":"Scanning"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"completed","plan_id":42}`))

		// Hold the connection until the client drops it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan"
	s := NewSession(&fakeStarter{result: model.ScanStartResult{ScanID: "abc"}}, NewWSDialer(wsURL), Options{SettleDelay: 0})
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))

	select {
	case id := <-s.Resolved():
		assert.Equal(t, model.PlanID("42"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("plan id not delivered over websocket")
	}

	assert.Equal(t, "/ws/scan/abc", path.Load())
	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, "Scanning", st.CurrentStep)
}

func TestWSDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := NewWSDialer("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan")
	_, err := d.Dial(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, sharedErrors.IsTransport(err))
	assert.Contains(t, err.Error(), "404")

	_, err = d.Dial(context.Background(), "")
	assert.Error(t, err)
}
