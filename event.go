package rtsa

import "time"

// SessionEvent is a notification raised by the transport engine. The set
// of implementations is closed; all of them are defined in this package.
type SessionEvent interface {
	// ConnHandle returns the connection the event belongs to.
	ConnHandle() ConnectionHandle
	isSessionEvent()
}

// JoinSuccess confirms a join started with JoinChannel.
type JoinSuccess struct {
	Handle  ConnectionHandle
	UserID  uint32
	Elapsed time.Duration
}

// Reconnecting reports that the engine lost the network path and is
// trying to restore it.
type Reconnecting struct {
	Handle ConnectionHandle
}

// ConnectionLost reports that the engine gave up on the connection.
type ConnectionLost struct {
	Handle ConnectionHandle
}

// RejoinSuccess confirms recovery after Reconnecting.
type RejoinSuccess struct {
	Handle  ConnectionHandle
	UserID  uint32
	Elapsed time.Duration
}

// LicenseValidationFailure is a non-transient authorization problem.
type LicenseValidationFailure struct {
	Handle ConnectionHandle
	Code   int
}

// GeneralError is a non-fatal engine diagnostic.
type GeneralError struct {
	Handle  ConnectionHandle
	Code    int
	Message string
}

// PeerJoined reports a remote user entering the channel.
type PeerJoined struct {
	Handle  ConnectionHandle
	PeerID  uint32
	Elapsed time.Duration
}

// PeerLeft reports a remote user leaving or dropping out.
type PeerLeft struct {
	Handle ConnectionHandle
	PeerID uint32
	Reason int
}

// PeerAudioMuted reports a remote user muting or unmuting audio.
type PeerAudioMuted struct {
	Handle ConnectionHandle
	PeerID uint32
	Muted  bool
}

// PeerVideoMuted reports a remote user muting or unmuting video.
type PeerVideoMuted struct {
	Handle ConnectionHandle
	PeerID uint32
	Muted  bool
}

// KeyframeRequested asks the local encoder to make the next frame on Tier
// a keyframe, typically for a late joiner or after loss.
type KeyframeRequested struct {
	Handle ConnectionHandle
	PeerID uint32
	Tier   StreamTier
}

// TargetBitrateChanged is a congestion-control hint for the encoder.
type TargetBitrateChanged struct {
	Handle        ConnectionHandle
	BitsPerSecond uint32
}

// TokenPrivilegeWillExpire warns that the join token is about to expire.
type TokenPrivilegeWillExpire struct {
	Handle ConnectionHandle
	Token  string
}

func (e JoinSuccess) ConnHandle() ConnectionHandle              { return e.Handle }
func (e Reconnecting) ConnHandle() ConnectionHandle             { return e.Handle }
func (e ConnectionLost) ConnHandle() ConnectionHandle           { return e.Handle }
func (e RejoinSuccess) ConnHandle() ConnectionHandle            { return e.Handle }
func (e LicenseValidationFailure) ConnHandle() ConnectionHandle { return e.Handle }
func (e GeneralError) ConnHandle() ConnectionHandle             { return e.Handle }
func (e PeerJoined) ConnHandle() ConnectionHandle               { return e.Handle }
func (e PeerLeft) ConnHandle() ConnectionHandle                 { return e.Handle }
func (e PeerAudioMuted) ConnHandle() ConnectionHandle           { return e.Handle }
func (e PeerVideoMuted) ConnHandle() ConnectionHandle           { return e.Handle }
func (e KeyframeRequested) ConnHandle() ConnectionHandle        { return e.Handle }
func (e TargetBitrateChanged) ConnHandle() ConnectionHandle     { return e.Handle }
func (e TokenPrivilegeWillExpire) ConnHandle() ConnectionHandle { return e.Handle }

func (JoinSuccess) isSessionEvent()              {}
func (Reconnecting) isSessionEvent()             {}
func (ConnectionLost) isSessionEvent()           {}
func (RejoinSuccess) isSessionEvent()            {}
func (LicenseValidationFailure) isSessionEvent() {}
func (GeneralError) isSessionEvent()             {}
func (PeerJoined) isSessionEvent()               {}
func (PeerLeft) isSessionEvent()                 {}
func (PeerAudioMuted) isSessionEvent()           {}
func (PeerVideoMuted) isSessionEvent()           {}
func (KeyframeRequested) isSessionEvent()        {}
func (TargetBitrateChanged) isSessionEvent()     {}
func (TokenPrivilegeWillExpire) isSessionEvent() {}

// Control events. These are raised by Session methods, not by engines,
// and go through the same transition function as engine events.
type (
	engineReady        struct{ handle ConnectionHandle }
	connectionCreated  struct{ handle ConnectionHandle }
	joinRequested      struct{ handle ConnectionHandle }
	joinAbandoned      struct{ handle ConnectionHandle }
	leaveRequested     struct{ handle ConnectionHandle }
	connectionReleased struct{ handle ConnectionHandle }
)

func (e engineReady) ConnHandle() ConnectionHandle        { return e.handle }
func (e connectionCreated) ConnHandle() ConnectionHandle  { return e.handle }
func (e joinRequested) ConnHandle() ConnectionHandle      { return e.handle }
func (e joinAbandoned) ConnHandle() ConnectionHandle      { return e.handle }
func (e leaveRequested) ConnHandle() ConnectionHandle     { return e.handle }
func (e connectionReleased) ConnHandle() ConnectionHandle { return e.handle }

func (engineReady) isSessionEvent()        {}
func (connectionCreated) isSessionEvent()  {}
func (joinRequested) isSessionEvent()      {}
func (joinAbandoned) isSessionEvent()      {}
func (leaveRequested) isSessionEvent()     {}
func (connectionReleased) isSessionEvent() {}

// EventName returns a short name for logging.
func EventName(ev SessionEvent) string {
	switch ev.(type) {
	case JoinSuccess:
		return "join_success"
	case Reconnecting:
		return "reconnecting"
	case ConnectionLost:
		return "connection_lost"
	case RejoinSuccess:
		return "rejoin_success"
	case LicenseValidationFailure:
		return "license_failure"
	case GeneralError:
		return "error"
	case PeerJoined:
		return "peer_joined"
	case PeerLeft:
		return "peer_left"
	case PeerAudioMuted:
		return "peer_audio_muted"
	case PeerVideoMuted:
		return "peer_video_muted"
	case KeyframeRequested:
		return "keyframe_requested"
	case TargetBitrateChanged:
		return "target_bitrate"
	case TokenPrivilegeWillExpire:
		return "token_will_expire"
	case engineReady:
		return "engine_ready"
	case connectionCreated:
		return "connection_created"
	case joinRequested:
		return "join_requested"
	case joinAbandoned:
		return "join_abandoned"
	case leaveRequested:
		return "leave_requested"
	case connectionReleased:
		return "connection_released"
	default:
		return "unknown"
	}
}
