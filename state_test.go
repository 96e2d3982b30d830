package rtsa

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateTransitions(t *testing.T) {
	const h = ConnectionHandle(1)

	tests := []struct {
		name  string
		from  SessionState
		event SessionEvent
		want  SessionState
		stale bool
	}{
		{"engine ready", StateUninitialized, engineReady{h}, StateEngineInitialized, false},
		{"connection created", StateEngineInitialized, connectionCreated{h}, StateConnectionCreated, false},
		{"join requested", StateConnectionCreated, joinRequested{h}, StateJoining, false},
		{"join from disconnected", StateDisconnected, joinRequested{h}, StateJoining, false},
		{"join while joined", StateJoined, joinRequested{h}, StateJoined, true},
		{"join abandoned", StateJoining, joinAbandoned{h}, StateConnectionCreated, false},
		{"join success", StateJoining, JoinSuccess{Handle: h}, StateJoined, false},
		{"join success without join", StateConnectionCreated, JoinSuccess{Handle: h}, StateConnectionCreated, true},
		{"reconnecting", StateJoined, Reconnecting{Handle: h}, StateReconnecting, false},
		{"reconnecting while joining", StateJoining, Reconnecting{Handle: h}, StateJoining, true},
		{"rejoin success", StateReconnecting, RejoinSuccess{Handle: h}, StateJoined, false},
		{"rejoin after connection lost", StateDisconnected, RejoinSuccess{Handle: h}, StateDisconnected, true},
		{"rejoin while joined", StateJoined, RejoinSuccess{Handle: h}, StateJoined, true},
		{"lost while joining", StateJoining, ConnectionLost{Handle: h}, StateDisconnected, false},
		{"lost while joined", StateJoined, ConnectionLost{Handle: h}, StateDisconnected, false},
		{"lost while reconnecting", StateReconnecting, ConnectionLost{Handle: h}, StateDisconnected, false},
		{"lost twice", StateDisconnected, ConnectionLost{Handle: h}, StateDisconnected, true},
		{"license while joined", StateJoined, LicenseValidationFailure{Handle: h}, StateDisconnected, false},
		{"license while disconnected", StateDisconnected, LicenseValidationFailure{Handle: h}, StateDisconnected, false},
		{"leave while joined", StateJoined, leaveRequested{h}, StateLeft, false},
		{"leave while joining", StateJoining, leaveRequested{h}, StateLeft, false},
		{"leave while reconnecting", StateReconnecting, leaveRequested{h}, StateLeft, false},
		{"leave before join", StateConnectionCreated, leaveRequested{h}, StateLeft, false},
		{"leave twice", StateLeft, leaveRequested{h}, StateLeft, true},
		{"release after leave", StateLeft, connectionReleased{h}, StateDestroyed, false},
		{"release while joined", StateJoined, connectionReleased{h}, StateJoined, true},
		{"join success after leave", StateLeft, JoinSuccess{Handle: h}, StateLeft, true},
		{"rejoin after leave", StateLeft, RejoinSuccess{Handle: h}, StateLeft, true},
		{"peer joined while joined", StateJoined, PeerJoined{Handle: h, PeerID: 7}, StateJoined, false},
		{"keyframe request while reconnecting", StateReconnecting, KeyframeRequested{Handle: h}, StateReconnecting, false},
		{"bitrate while disconnected", StateDisconnected, TargetBitrateChanged{Handle: h}, StateDisconnected, false},
		{"peer left after leave", StateLeft, PeerLeft{Handle: h}, StateLeft, true},
		{"error after destroy", StateDestroyed, GeneralError{Handle: h}, StateDestroyed, true},
		{"anything after destroy", StateDestroyed, JoinSuccess{Handle: h}, StateDestroyed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.transition(tt.event)
			assert.Equal(t, tt.want, got)
			if tt.stale {
				assert.True(t, errors.Is(err, ErrStaleEvent), "want ErrStaleEvent, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionStatePredicates(t *testing.T) {
	for s := StateUninitialized; s <= StateDestroyed; s++ {
		assert.Equal(t, s == StateJoined, s.CanSend(), s.String())
		assert.Equal(t, s == StateLeft || s == StateDestroyed, s.Terminal(), s.String())
		assert.NotEqual(t, "unknown", s.String())
	}
	assert.Equal(t, "unknown", SessionState(99).String())
}
