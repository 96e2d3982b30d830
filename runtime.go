package rtsa

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Option customizes a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// Runtime owns the engine bootstrap, which is process-wide: it is
// initialized once by NewRuntime and finalized once by Shutdown, after
// every session it opened has been destroyed.
type Runtime struct {
	engine     Engine
	cfg        Config
	logger     *slog.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[ConnectionHandle]*Session
	closed   bool
}

// NewRuntime bootstraps engine with cfg. A non-zero bootstrap status is
// reported as ErrBootstrapFailed and is not retried.
func NewRuntime(engine Engine, cfg Config, opts ...Option) (*Runtime, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt := &Runtime{
		engine:   engine,
		cfg:      cfg,
		logger:   slog.Default(),
		sessions: make(map[ConnectionHandle]*Session),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.dispatcher = newDispatcher(rt.logger, cfg.EventQueueSize)

	if st := engine.Bootstrap(cfg.AppID, cfg.ServiceOptions(), rt.dispatcher); st != StatusOK {
		rt.dispatcher.close()
		return nil, fmt.Errorf("%w: %w", ErrBootstrapFailed, &StatusError{Op: "bootstrap", Code: st})
	}
	rt.logger.Info("engine initialized")
	return rt, nil
}

// OpenSession creates a connection and returns its Session in
// ConnectionCreated.
func (rt *Runtime) OpenSession(opts SessionOptions) (*Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, ErrRuntimeClosed
	}

	handle, st := rt.engine.CreateConnection()
	if st != StatusOK {
		return nil, &StatusError{Op: "create connection", Code: st}
	}
	if _, dup := rt.sessions[handle]; dup {
		err := fmt.Errorf("engine reused live connection handle %d", handle)
		if st := rt.engine.DestroyConnection(handle); st != StatusOK {
			rt.logger.Error("releasing duplicate connection", "handle", handle, "status", st)
			err = errors.Join(err, &StatusError{Op: "destroy connection", Code: st})
		}
		return nil, err
	}

	s := newSession(rt, handle, opts)
	s.apply(engineReady{handle: handle})
	s.apply(connectionCreated{handle: handle})

	rt.sessions[handle] = s
	rt.dispatcher.register(s)
	s.logger.Info("connection created")
	return s, nil
}

// release drops a destroyed session's reference.
func (rt *Runtime) release(s *Session) {
	rt.dispatcher.unregister(s.handle)
	rt.mu.Lock()
	delete(rt.sessions, s.handle)
	rt.mu.Unlock()
}

// Sessions returns the live sessions ordered by handle.
func (rt *Runtime) Sessions() []*Session {
	rt.mu.Lock()
	out := make([]*Session, 0, len(rt.sessions))
	for _, s := range rt.sessions {
		out = append(out, s)
	}
	rt.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

// Dispatcher returns the EventSink registered with the engine.
func (rt *Runtime) Dispatcher() *Dispatcher {
	return rt.dispatcher
}

// Shutdown finalizes the engine. It fails with ErrSessionsAlive while any
// session has not been destroyed. Calling it again is a no-op.
//
// Shutdown waits for pending notifications, so it must not be called from
// a Handler.
func (rt *Runtime) Shutdown() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	if n := len(rt.sessions); n > 0 {
		rt.mu.Unlock()
		return fmt.Errorf("%d live: %w", n, ErrSessionsAlive)
	}
	rt.closed = true
	rt.mu.Unlock()

	st := rt.engine.Shutdown()
	rt.dispatcher.close()
	if st != StatusOK {
		return &StatusError{Op: "shutdown engine", Code: st}
	}
	rt.logger.Info("engine shut down")
	return nil
}
