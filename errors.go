package rtsa

import (
	"errors"
	"fmt"
)

var (
	// ErrBootstrapFailed is fatal: the engine is process-wide and cannot be
	// brought up again by this process.
	ErrBootstrapFailed = errors.New("engine bootstrap failed")

	// ErrJoinTimeout means no join confirmation arrived in time. The
	// session is back in ConnectionCreated and Join may be retried.
	ErrJoinTimeout = errors.New("join timed out")

	// ErrJoinAborted means the session left Joining for another reason
	// (leave, connection loss) while Join was waiting.
	ErrJoinAborted = errors.New("join aborted")

	// ErrNotJoined is returned by Send outside the Joined state. Callers
	// should drop the frame.
	ErrNotJoined = errors.New("session not joined")

	// ErrStaleEvent marks an event that is invalid from the current state.
	// It is only logged and never returned to the application.
	ErrStaleEvent = errors.New("stale event")

	// ErrSessionClosed is returned by Join once the session has left or
	// been destroyed. Open a new session instead.
	ErrSessionClosed = errors.New("session closed")

	ErrInvalidState  = errors.New("invalid session state")
	ErrSessionsAlive = errors.New("sessions still alive")
	ErrRuntimeClosed = errors.New("runtime shut down")
)

// StatusError is a non-zero engine status for a lifecycle call.
type StatusError struct {
	Op   string
	Code Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: status %d", e.Op, e.Code)
}

// TransportSendError is a non-zero status from SendVideoFrame. It is not
// retried; drop delta frames, retry or force a keyframe for keyframes.
type TransportSendError struct {
	Code Status
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("send video frame failed: status %d", e.Code)
}

// LicenseError reports a license validation failure. It is fatal for the
// session and never retried.
type LicenseError struct {
	Handle ConnectionHandle
	Code   int
}

func (e *LicenseError) Error() string {
	return fmt.Sprintf("license validation failed on connection %d: code %d", e.Handle, e.Code)
}
