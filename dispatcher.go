package rtsa

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives application-visible session notifications. Calls are
// made from a single notifier goroutine, in the order the engine raised
// the events, never from the engine's own thread. Notifications that do
// not fit the queue are dropped; a dropped license failure still tears
// the session down.
type Handler interface {
	HandleEvent(s *Session, ev SessionEvent)
}

// HandlerFuncs is a Handler built from optional per-event callbacks.
// Nil fields are skipped.
type HandlerFuncs struct {
	OnJoined          func(s *Session, ev JoinSuccess)
	OnRejoined        func(s *Session, ev RejoinSuccess)
	OnReconnecting    func(s *Session)
	OnConnectionLost  func(s *Session)
	OnLicenseFailure  func(s *Session, err *LicenseError)
	OnError           func(s *Session, ev GeneralError)
	OnPeerJoined      func(s *Session, ev PeerJoined)
	OnPeerLeft        func(s *Session, ev PeerLeft)
	OnPeerAudioMuted  func(s *Session, ev PeerAudioMuted)
	OnPeerVideoMuted  func(s *Session, ev PeerVideoMuted)
	OnKeyframeRequest func(s *Session, ev KeyframeRequested)
	OnTargetBitrate   func(s *Session, ev TargetBitrateChanged)
	OnTokenWillExpire func(s *Session, ev TokenPrivilegeWillExpire)
}

// HandleEvent implements Handler.
func (h HandlerFuncs) HandleEvent(s *Session, ev SessionEvent) {
	switch e := ev.(type) {
	case JoinSuccess:
		if h.OnJoined != nil {
			h.OnJoined(s, e)
		}
	case RejoinSuccess:
		if h.OnRejoined != nil {
			h.OnRejoined(s, e)
		}
	case Reconnecting:
		if h.OnReconnecting != nil {
			h.OnReconnecting(s)
		}
	case ConnectionLost:
		if h.OnConnectionLost != nil {
			h.OnConnectionLost(s)
		}
	case LicenseValidationFailure:
		if h.OnLicenseFailure != nil {
			h.OnLicenseFailure(s, &LicenseError{Handle: e.Handle, Code: e.Code})
		}
	case GeneralError:
		if h.OnError != nil {
			h.OnError(s, e)
		}
	case PeerJoined:
		if h.OnPeerJoined != nil {
			h.OnPeerJoined(s, e)
		}
	case PeerLeft:
		if h.OnPeerLeft != nil {
			h.OnPeerLeft(s, e)
		}
	case PeerAudioMuted:
		if h.OnPeerAudioMuted != nil {
			h.OnPeerAudioMuted(s, e)
		}
	case PeerVideoMuted:
		if h.OnPeerVideoMuted != nil {
			h.OnPeerVideoMuted(s, e)
		}
	case KeyframeRequested:
		if h.OnKeyframeRequest != nil {
			h.OnKeyframeRequest(s, e)
		}
	case TargetBitrateChanged:
		if h.OnTargetBitrate != nil {
			h.OnTargetBitrate(s, e)
		}
	case TokenPrivilegeWillExpire:
		if h.OnTokenWillExpire != nil {
			h.OnTokenWillExpire(s, e)
		}
	}
}

type notification struct {
	session *Session
	event   SessionEvent
	flushed chan struct{} // set for Flush markers only
}

// DispatcherStats counts what happened to engine events.
type DispatcherStats struct {
	Dispatched uint64 // applied to a live session
	Delivered  uint64 // handed to a Handler
	Dropped    uint64 // notification queue full
	Unroutable uint64 // no live session for the handle
	Stale      uint64 // invalid from the session's current state
}

// Dispatcher routes engine events to sessions by connection handle. It is
// the EventSink registered with the engine.
//
// Dispatch only mutates session state and enqueues a notification, so it
// is safe to call from an engine thread. A single goroutine drains the
// queue into the sessions' handlers.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[ConnectionHandle]*Session

	queue  chan notification
	done   chan struct{}
	exited chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	unroutable atomic.Uint64
	stale      atomic.Uint64
}

func newDispatcher(logger *slog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		logger:   logger,
		sessions: make(map[ConnectionHandle]*Session),
		queue:    make(chan notification, queueSize),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch implements EventSink.
func (d *Dispatcher) Dispatch(ev SessionEvent) {
	if ev == nil {
		return
	}

	d.mu.RLock()
	s := d.sessions[ev.ConnHandle()]
	d.mu.RUnlock()

	if s == nil {
		d.unroutable.Add(1)
		d.logger.Debug("dropping event for unknown connection",
			"handle", ev.ConnHandle(), "event", EventName(ev))
		return
	}

	if _, err := s.apply(ev); err != nil {
		d.stale.Add(1)
		s.countStale()
		s.logger.Debug("ignoring stale event", "err", err)
		return
	}
	d.dispatched.Add(1)

	if kf, ok := ev.(KeyframeRequested); ok {
		s.requestKeyframe(kf)
	}
	d.enqueue(notification{session: s, event: ev})
}

func (d *Dispatcher) enqueue(n notification) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- n:
		return
	default:
	}

	d.dropped.Add(1)
	if ev, fatal := n.event.(LicenseValidationFailure); fatal {
		// The handler is skipped so it stays on the notifier goroutine; the
		// session still carries the LicenseError for Join.
		d.logger.Warn("notification queue full, tearing down without license notification",
			"handle", n.session.Handle())
		go teardownLicensed(n.session, ev)
		return
	}
	d.logger.Warn("notification queue full, dropping event",
		"handle", n.session.Handle(), "event", EventName(n.event))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	defer close(d.exited)
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n notification) {
	if n.flushed != nil {
		close(n.flushed)
		return
	}
	s := n.session
	if s.handler != nil {
		s.handler.HandleEvent(s, n.event)
		d.delivered.Add(1)
	}

	if ev, ok := n.event.(LicenseValidationFailure); ok {
		teardownLicensed(s, ev)
	}
}

func teardownLicensed(s *Session, ev LicenseValidationFailure) {
	s.logger.Error("license validation failed, tearing session down", "code", ev.Code)
	if err := s.Close(); err != nil {
		s.logger.Error("teardown after license failure", "err", err)
	}
}

func (d *Dispatcher) register(s *Session) {
	d.mu.Lock()
	d.sessions[s.Handle()] = s
	d.mu.Unlock()
}

func (d *Dispatcher) unregister(h ConnectionHandle) {
	d.mu.Lock()
	delete(d.sessions, h)
	d.mu.Unlock()
}

// Flush blocks until every notification queued before the call has been
// delivered. Like Runtime.Shutdown it must not be called from a Handler.
func (d *Dispatcher) Flush() error {
	flushed := make(chan struct{})
	select {
	case <-d.done:
		return ErrRuntimeClosed
	default:
	}
	select {
	case d.queue <- notification{flushed: flushed}:
	case <-d.exited:
		return ErrRuntimeClosed
	}
	select {
	case <-flushed:
		return nil
	case <-d.exited:
		return ErrRuntimeClosed
	}
}

// close stops the notifier after draining queued notifications.
func (d *Dispatcher) close() {
	d.once.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		Unroutable: d.unroutable.Load(),
		Stale:      d.stale.Load(),
	}
}
