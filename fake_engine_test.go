package rtsa

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a scripted Engine. Statuses default to StatusOK and every
// call is recorded.
type fakeEngine struct {
	mu   sync.Mutex
	sink EventSink
	next ConnectionHandle

	bootstrapStatus Status
	createStatus    Status
	joinStatus      Status
	leaveStatus     Status
	sendStatus      Status
	destroyStatus   Status
	shutdownStatus  Status

	// onJoin runs after a successful JoinChannel, e.g. to confirm the join.
	onJoin func(e *fakeEngine, h ConnectionHandle, uid uint32)

	calls []string
	sends []fakeSend
}

type fakeSend struct {
	handle  ConnectionHandle
	payload []byte
	desc    FrameDescriptor
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

// confirmJoins makes the engine confirm every join synchronously.
func (e *fakeEngine) confirmJoins() *fakeEngine {
	e.onJoin = func(e *fakeEngine, h ConnectionHandle, uid uint32) {
		e.emit(JoinSuccess{Handle: h, UserID: uid, Elapsed: 5 * time.Millisecond})
	}
	return e
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *fakeEngine) count(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (e *fakeEngine) callLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) sent() []fakeSend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]fakeSend(nil), e.sends...)
}

// emit raises ev the way an engine thread would.
func (e *fakeEngine) emit(ev SessionEvent) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	sink.Dispatch(ev)
}

func (e *fakeEngine) Bootstrap(appID string, opts ServiceOptions, sink EventSink) Status {
	e.record("bootstrap")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bootstrapStatus == StatusOK {
		e.sink = sink
	}
	return e.bootstrapStatus
}

func (e *fakeEngine) CreateConnection() (ConnectionHandle, Status) {
	e.record("create")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createStatus != StatusOK {
		return 0, e.createStatus
	}
	e.next++
	return e.next, StatusOK
}

func (e *fakeEngine) JoinChannel(h ConnectionHandle, channel string, userID uint32, token string, opts *ChannelOptions) Status {
	e.record("join")
	e.mu.Lock()
	st, onJoin := e.joinStatus, e.onJoin
	e.mu.Unlock()
	if st == StatusOK && onJoin != nil {
		onJoin(e, h, userID)
	}
	return st
}

func (e *fakeEngine) LeaveChannel(h ConnectionHandle) Status {
	e.record("leave")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaveStatus
}

func (e *fakeEngine) SendVideoFrame(h ConnectionHandle, payload []byte, desc FrameDescriptor) Status {
	e.record("send")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendStatus != StatusOK {
		return e.sendStatus
	}
	e.sends = append(e.sends, fakeSend{handle: h, payload: append([]byte(nil), payload...), desc: desc})
	return StatusOK
}

func (e *fakeEngine) DestroyConnection(h ConnectionHandle) Status {
	e.record("destroy")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyStatus
}

func (e *fakeEngine) Shutdown() Status {
	e.record("shutdown")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdownStatus
}

// recorder is a Handler that keeps every notification.
type recorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recorder) HandleEvent(s *Session, ev SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionEvent(nil), r.events...)
}

func (r *recorder) has(name string) bool {
	for _, ev := range r.snapshot() {
		if EventName(ev) == name {
			return true
		}
	}
	return false
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppID = "test-app"
	cfg.JoinTimeout = 200 * time.Millisecond
	return cfg
}

func newTestRuntime(t *testing.T, eng Engine) *Runtime {
	t.Helper()
	rt, err := NewRuntime(eng, testConfig(), WithLogger(testLogger()))
	require.NoError(t, err)
	return rt
}

func openSession(t *testing.T, rt *Runtime, opts SessionOptions) *Session {
	t.Helper()
	s, err := rt.OpenSession(opts)
	require.NoError(t, err)
	require.Equal(t, StateConnectionCreated, s.State())
	return s
}

// joinedSession returns a session in Joined on an engine that confirms
// joins.
func joinedSession(t *testing.T, eng *fakeEngine, opts SessionOptions) (*Runtime, *Session) {
	t.Helper()
	eng.confirmJoins()
	rt := newTestRuntime(t, eng)
	s := openSession(t, rt, opts)
	require.NoError(t, s.Join(context.Background(), JoinRequest{Channel: "demo", UserID: 42}))
	require.Equal(t, StateJoined, s.State())
	return rt, s
}

func waitState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		waitFor, tick, "state %s, want %s", s.State(), want)
}

func waitReleased(t *testing.T, rt *Runtime) {
	t.Helper()
	require.Eventually(t, func() bool { return len(rt.Sessions()) == 0 },
		waitFor, tick, "sessions still registered")
}

// Annex-B access units used across tests.
var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1F, 0xDA, 0x01, 0x40}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x21}
	testP   = []byte{0x41, 0x9A, 0x02, 0x03, 0x04}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}
