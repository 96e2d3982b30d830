package rtsa

import "fmt"

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateUninitialized     SessionState = iota // no engine yet
	StateEngineInitialized                     // engine bootstrapped, no connection
	StateConnectionCreated                     // handle assigned, not in a channel
	StateJoining                               // join issued, waiting for confirmation
	StateJoined                                // in the channel, sends allowed
	StateReconnecting                          // network path lost, engine retrying
	StateDisconnected                          // engine gave up, needs a fresh join
	StateLeft                                  // left on request, engine events ignored
	StateDestroyed                             // handle released, terminal
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEngineInitialized:
		return "engine_initialized"
	case StateConnectionCreated:
		return "connection_created"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateLeft:
		return "left"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// CanSend reports whether outbound frames are accepted in this state.
func (s SessionState) CanSend() bool {
	return s == StateJoined
}

// Terminal reports whether engine events are ignored in this state.
func (s SessionState) Terminal() bool {
	return s == StateLeft || s == StateDestroyed
}

// inChannel reports whether the engine may hold channel resources for the
// connection, i.e. whether leaving requires an engine call.
func (s SessionState) inChannel() bool {
	switch s {
	case StateJoining, StateJoined, StateReconnecting, StateDisconnected:
		return true
	}
	return false
}

// transition computes the state after ev. Events that carry no state
// change (presence, diagnostics, hints) return the current state. An event
// that is not valid from s returns ErrStaleEvent and must be ignored.
func (s SessionState) transition(ev SessionEvent) (SessionState, error) {
	if s == StateDestroyed {
		return s, stale(s, ev)
	}

	switch ev.(type) {
	case engineReady:
		if s == StateUninitialized {
			return StateEngineInitialized, nil
		}
	case connectionCreated:
		if s == StateEngineInitialized {
			return StateConnectionCreated, nil
		}
	case joinRequested:
		if s == StateConnectionCreated || s == StateDisconnected {
			return StateJoining, nil
		}
	case joinAbandoned:
		if s == StateJoining {
			return StateConnectionCreated, nil
		}
	case JoinSuccess:
		if s == StateJoining {
			return StateJoined, nil
		}
	case Reconnecting:
		if s == StateJoined {
			return StateReconnecting, nil
		}
	case RejoinSuccess:
		if s == StateReconnecting {
			return StateJoined, nil
		}
	case ConnectionLost:
		switch s {
		case StateConnectionCreated, StateJoining, StateJoined, StateReconnecting:
			return StateDisconnected, nil
		}
	case LicenseValidationFailure:
		switch s {
		case StateConnectionCreated, StateJoining, StateJoined, StateReconnecting, StateDisconnected:
			return StateDisconnected, nil
		}
	case leaveRequested:
		switch s {
		case StateConnectionCreated, StateJoining, StateJoined, StateReconnecting, StateDisconnected:
			return StateLeft, nil
		}
	case connectionReleased:
		if s == StateLeft {
			return StateDestroyed, nil
		}
	case GeneralError, PeerJoined, PeerLeft, PeerAudioMuted, PeerVideoMuted,
		KeyframeRequested, TargetBitrateChanged, TokenPrivilegeWillExpire:
		if !s.Terminal() && s != StateUninitialized {
			return s, nil
		}
	}
	return s, stale(s, ev)
}

func stale(s SessionState, ev SessionEvent) error {
	return fmt.Errorf("%s in state %s: %w", EventName(ev), s, ErrStaleEvent)
}
