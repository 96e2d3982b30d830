package rtsa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultJoinTimeout bounds how long Join waits for the engine's
// confirmation.
const DefaultJoinTimeout = 3 * time.Second

// SessionOptions configures a Session created by Runtime.OpenSession.
type SessionOptions struct {
	Handler     Handler       // Application callbacks (optional)
	StreamTier  StreamTier    // Tier used by SubmitFrame
	JoinTimeout time.Duration // 0 = runtime default
}

// JoinRequest carries the parameters of a channel join.
type JoinRequest struct {
	Channel string
	UserID  uint32
	Token   string          // optional
	Options *ChannelOptions // nil = engine defaults
}

// Session is one logical connection to a channel.
//
// State is written only through apply, which the Dispatcher calls for
// engine events and Session methods call for their own requests. Sends
// read it without taking the lock.
type Session struct {
	rt          *Runtime
	engine      Engine
	handle      ConnectionHandle
	handler     Handler
	logger      *slog.Logger
	tier        StreamTier
	joinTimeout time.Duration

	state atomic.Int32

	// opMu orders engine lifecycle calls, so a Leave cannot slip between
	// the Joining transition and the JoinChannel that belongs to it.
	opMu sync.Mutex

	mu         sync.Mutex
	channel    string
	userID     uint32
	joinedAt   time.Time
	licenseErr *LicenseError
	changed    chan struct{} // closed and replaced on every transition

	keyframeReq  atomic.Bool
	keyframeTier atomic.Int32

	stats   SessionStats
	statsMu sync.Mutex

	destroyOnce sync.Once
	destroyErr  error
}

func newSession(rt *Runtime, handle ConnectionHandle, opts SessionOptions) *Session {
	timeout := opts.JoinTimeout
	if timeout <= 0 {
		timeout = rt.cfg.JoinTimeout
	}
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	s := &Session{
		rt:          rt,
		engine:      rt.engine,
		handle:      handle,
		handler:     opts.Handler,
		logger:      rt.logger.With("handle", handle),
		tier:        opts.StreamTier,
		joinTimeout: timeout,
		changed:     make(chan struct{}),
	}
	s.state.Store(int32(StateUninitialized))
	return s
}

// Handle returns the engine connection handle.
func (s *Session) Handle() ConnectionHandle { return s.handle }

// State returns the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Channel returns the channel of the most recent join request.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// UserID returns the local user id of the most recent join request, or
// the id the engine confirmed.
func (s *Session) UserID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// JoinedAt returns when the session last entered Joined. It is zero if it
// never did.
func (s *Session) JoinedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedAt
}

// apply runs ev through the state machine and records the result.
// It returns the state before ev. Invalid events leave the session
// untouched and return ErrStaleEvent.
func (s *Session) apply(ev SessionEvent) (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State()
	next, err := prev.transition(ev)
	if err != nil {
		return prev, err
	}

	switch e := ev.(type) {
	case JoinSuccess:
		s.joinedAt = time.Now()
		if e.UserID != 0 {
			s.userID = e.UserID
		}
	case RejoinSuccess:
		s.joinedAt = time.Now()
	case LicenseValidationFailure:
		s.licenseErr = &LicenseError{Handle: e.Handle, Code: e.Code}
	}

	if next != prev {
		s.state.Store(int32(next))
		close(s.changed)
		s.changed = make(chan struct{})
		s.logger.Debug("session state changed", "event", EventName(ev), "from", prev, "to", next)
	}
	return prev, nil
}

// observe returns the state together with a channel that is closed on the
// next transition.
func (s *Session) observe() (SessionState, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State(), s.changed
}

func (s *Session) licenseError() *LicenseError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.licenseErr
}

// Join starts a join and waits for the engine to confirm it.
//
// Join is valid from ConnectionCreated and Disconnected. If no
// confirmation arrives within the join timeout, the join is cancelled on
// the engine, the session returns to ConnectionCreated and ErrJoinTimeout
// is returned; the caller may retry. Cancelling ctx behaves the same way
// but returns ctx.Err(). If the engine rejects the join outright a
// *StatusError is returned and the session is also left in
// ConnectionCreated, even when the join started from Disconnected.
func (s *Session) Join(ctx context.Context, req JoinRequest) error {
	if req.Channel == "" {
		return errors.New("channel name is required")
	}
	if lic := s.licenseError(); lic != nil {
		return lic
	}

	if err := s.startJoin(req); err != nil {
		return err
	}
	return s.awaitJoined(ctx)
}

func (s *Session) startJoin(req JoinRequest) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if prev, err := s.apply(joinRequested{handle: s.handle}); err != nil {
		if prev.Terminal() {
			return ErrSessionClosed
		}
		return fmt.Errorf("join from state %s: %w", prev, ErrInvalidState)
	}

	s.mu.Lock()
	s.channel = req.Channel
	s.userID = req.UserID
	s.mu.Unlock()

	s.logger.Info("joining channel", "channel", req.Channel, "uid", req.UserID)
	if st := s.engine.JoinChannel(s.handle, req.Channel, req.UserID, req.Token, req.Options); st != StatusOK {
		s.apply(joinAbandoned{handle: s.handle})
		return &StatusError{Op: "join channel", Code: st}
	}
	return nil
}

func (s *Session) awaitJoined(ctx context.Context) error {
	timer := time.NewTimer(s.joinTimeout)
	defer timer.Stop()

	for {
		st, changed := s.observe()
		switch st {
		case StateJoined:
			s.logger.Info("joined channel", "channel", s.Channel(), "uid", s.UserID())
			return nil
		case StateJoining:
		default:
			if lic := s.licenseError(); lic != nil {
				return lic
			}
			return fmt.Errorf("join ended in state %s: %w", st, ErrJoinAborted)
		}

		select {
		case <-changed:
		case <-timer.C:
			if s.abandonJoin() {
				s.logger.Warn("join timed out", "timeout", s.joinTimeout)
				return ErrJoinTimeout
			}
		case <-ctx.Done():
			if s.abandonJoin() {
				return ctx.Err()
			}
		}
	}
}

// abandonJoin reverts Joining to ConnectionCreated and cancels the pending
// engine join so a late confirmation cannot land. It returns false if the
// session already moved on.
func (s *Session) abandonJoin() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.apply(joinAbandoned{handle: s.handle}); err != nil {
		return false
	}
	if st := s.engine.LeaveChannel(s.handle); st != StatusOK {
		s.logger.Warn("cancelling pending join", "status", st)
	}
	return true
}

// Leave leaves the channel. It takes effect from any live state, including
// mid-join and mid-reconnect, and no later engine event can revive the
// session. Leaving a session that already left is a no-op.
func (s *Session) Leave() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev, err := s.apply(leaveRequested{handle: s.handle})
	if err != nil {
		if prev.Terminal() {
			return nil
		}
		return fmt.Errorf("leave from state %s: %w", prev, ErrInvalidState)
	}
	s.clearKeyframeRequest()

	if !prev.inChannel() {
		return nil
	}
	s.logger.Info("leaving channel", "channel", s.Channel(), "from", prev)
	if st := s.engine.LeaveChannel(s.handle); st != StatusOK {
		return &StatusError{Op: "leave channel", Code: st}
	}
	return nil
}

// Destroy leaves the channel if needed and releases the connection handle.
// The session is terminal afterwards. Destroy is idempotent.
func (s *Session) Destroy() error {
	s.destroyOnce.Do(func() {
		s.destroyErr = s.destroy()
	})
	return s.destroyErr
}

func (s *Session) destroy() error {
	var errs []error
	if err := s.Leave(); err != nil {
		errs = append(errs, err)
	}

	s.opMu.Lock()
	st := s.engine.DestroyConnection(s.handle)
	if st != StatusOK {
		errs = append(errs, &StatusError{Op: "destroy connection", Code: st})
	}
	if _, err := s.apply(connectionReleased{handle: s.handle}); err != nil {
		errs = append(errs, err)
	}
	s.opMu.Unlock()
	s.rt.release(s)
	s.logger.Info("session destroyed")
	return errors.Join(errs...)
}

// Close implements io.Closer; it is Destroy.
func (s *Session) Close() error {
	return s.Destroy()
}
