package rtsa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRejectedOutsideJoined(t *testing.T) {
	eng := newFakeEngine()
	rt := newTestRuntime(t, eng)
	s := openSession(t, rt, SessionOptions{})
	frame := NewEncodedFrame(annexB(testSPS, testPPS, testIDR), VideoCodecH264, 30)

	// ConnectionCreated
	require.ErrorIs(t, s.Send(frame), ErrNotJoined)

	// Joining
	s.apply(joinRequested{handle: s.Handle()})
	require.ErrorIs(t, s.Send(frame), ErrNotJoined)

	// Disconnected
	eng.emit(ConnectionLost{Handle: s.Handle()})
	require.ErrorIs(t, s.Send(frame), ErrNotJoined)

	// Left
	require.NoError(t, s.Leave())
	require.ErrorIs(t, s.Send(frame), ErrNotJoined)

	// Destroyed
	require.NoError(t, s.Destroy())
	require.ErrorIs(t, s.Send(frame), ErrNotJoined)

	assert.Zero(t, eng.count("send"), "engine must not see frames outside Joined")
	assert.Equal(t, uint64(5), s.Stats().FramesNotJoined)
	require.NoError(t, rt.Shutdown())
}

func TestSubmitFrameDescriptor(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

	tests := []struct {
		name    string
		payload []byte
		codec   VideoCodec
		fps     int
		tier    StreamTier
		want    FrameDescriptor
	}{
		{
			name:    "h264 idr",
			payload: annexB(testIDR),
			codec:   VideoCodecH264,
			fps:     30,
			want:    FrameDescriptor{Codec: VideoCodecH264, Tier: StreamTierHigh, Kind: FrameKindKey, FrameRate: 30},
		},
		{
			name:    "h264 parameter sets",
			payload: annexB(testSPS, testPPS, testIDR),
			codec:   VideoCodecH264,
			fps:     25,
			want:    FrameDescriptor{Codec: VideoCodecH264, Tier: StreamTierHigh, Kind: FrameKindKey, FrameRate: 25},
		},
		{
			name:    "h264 delta on low tier",
			payload: annexB(testP),
			codec:   VideoCodecH264,
			fps:     15,
			tier:    StreamTierLow,
			want:    FrameDescriptor{Codec: VideoCodecH264, Tier: StreamTierLow, Kind: FrameKindDelta, FrameRate: 15},
		},
		{
			name:    "jpeg",
			payload: jpeg,
			codec:   VideoCodecJPEG,
			fps:     5,
			want:    FrameDescriptor{Codec: VideoCodecJPEG, Tier: StreamTierHigh, Kind: FrameKindKey, FrameRate: 5},
		},
		{
			name:    "negative frame rate",
			payload: annexB(testP),
			codec:   VideoCodecH264,
			fps:     -1,
			want:    FrameDescriptor{Codec: VideoCodecH264, Tier: StreamTierHigh, Kind: FrameKindDelta, FrameRate: 0},
		},
		{
			name:    "frame rate clamped",
			payload: annexB(testP),
			codec:   VideoCodecH264,
			fps:     1 << 20,
			want:    FrameDescriptor{Codec: VideoCodecH264, Tier: StreamTierHigh, Kind: FrameKindDelta, FrameRate: 0xFFFF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			rt, s := joinedSession(t, eng, SessionOptions{StreamTier: tt.tier})

			require.NoError(t, s.SubmitFrame(tt.payload, tt.codec, tt.fps))
			sends := eng.sent()
			require.Len(t, sends, 1)
			assert.Equal(t, tt.want, sends[0].desc)
			assert.Equal(t, tt.payload, sends[0].payload)

			require.NoError(t, s.Close())
			require.NoError(t, rt.Shutdown())
		})
	}
}

func TestSendStandaloneCodecIsAlwaysKey(t *testing.T) {
	eng := newFakeEngine()
	rt, s := joinedSession(t, eng, SessionOptions{})

	require.NoError(t, s.Send(EncodedFrame{Payload: []byte{0xFF, 0xD8}, Codec: VideoCodecJPEG}))
	sends := eng.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, FrameKindKey, sends[0].desc.Kind)
	assert.Equal(t, uint64(1), s.Stats().KeyframesSent)

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}

func TestSendTransportError(t *testing.T) {
	eng := newFakeEngine()
	rt, s := joinedSession(t, eng, SessionOptions{})
	eng.sendStatus = -7

	err := s.SubmitFrame(annexB(testP), VideoCodecH264, 30)
	var sendErr *TransportSendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, Status(-7), sendErr.Code)
	assert.Equal(t, 1, eng.count("send"), "send failures are not retried")

	st := s.Stats()
	assert.Equal(t, uint64(1), st.SendFailures)
	assert.Zero(t, st.FramesSent)
	assert.Equal(t, StateJoined, s.State(), "a send failure does not change state")

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}

func TestSendStats(t *testing.T) {
	eng := newFakeEngine()
	rt, s := joinedSession(t, eng, SessionOptions{})

	key := annexB(testSPS, testPPS, testIDR)
	delta := annexB(testP)
	require.NoError(t, s.SubmitFrame(key, VideoCodecH264, 30))
	require.NoError(t, s.SubmitFrame(delta, VideoCodecH264, 30))
	require.NoError(t, s.SubmitFrame(delta, VideoCodecH264, 30))

	assert.Equal(t, SessionStats{
		FramesSent:    3,
		KeyframesSent: 1,
		BytesSent:     uint64(len(key) + 2*len(delta)),
	}, s.Stats())

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}

func TestKeyframeRequestLatch(t *testing.T) {
	eng := newFakeEngine()
	rec := &recorder{}
	rt, s := joinedSession(t, eng, SessionOptions{Handler: rec})

	assert.False(t, s.KeyframePending())
	eng.emit(KeyframeRequested{Handle: s.Handle(), PeerID: 9, Tier: StreamTierLow})
	assert.True(t, s.KeyframePending(), "latch is set before the handler runs")

	// A delta frame leaves the request pending.
	require.NoError(t, s.SubmitFrame(annexB(testP), VideoCodecH264, 30))
	assert.True(t, s.KeyframePending())

	// A keyframe satisfies it.
	require.NoError(t, s.SubmitFrame(annexB(testSPS, testPPS, testIDR), VideoCodecH264, 30))
	assert.False(t, s.KeyframePending())

	eng.emit(KeyframeRequested{Handle: s.Handle(), Tier: StreamTierLow})
	tier, ok := s.TakeKeyframeRequest()
	assert.True(t, ok)
	assert.Equal(t, StreamTierLow, tier)
	_, ok = s.TakeKeyframeRequest()
	assert.False(t, ok)

	assert.Equal(t, uint64(2), s.Stats().KeyframeRequests)
	require.Eventually(t, func() bool { return rec.has("keyframe_requested") }, waitFor, tick)

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}

func TestKeyframeRequestClearedOnLeave(t *testing.T) {
	eng := newFakeEngine()
	rt, s := joinedSession(t, eng, SessionOptions{})

	eng.emit(KeyframeRequested{Handle: s.Handle()})
	require.NoError(t, s.Leave())
	assert.False(t, s.KeyframePending())

	// Requests after leaving are stale.
	eng.emit(KeyframeRequested{Handle: s.Handle()})
	assert.False(t, s.KeyframePending())

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}

func TestSendAfterRejoinFromDisconnected(t *testing.T) {
	eng := newFakeEngine()
	rt, s := joinedSession(t, eng, SessionOptions{})

	eng.emit(ConnectionLost{Handle: s.Handle()})
	require.ErrorIs(t, s.SubmitFrame(annexB(testP), VideoCodecH264, 30), ErrNotJoined)

	require.NoError(t, s.Join(context.Background(), JoinRequest{Channel: "demo"}))
	require.NoError(t, s.SubmitFrame(annexB(testP), VideoCodecH264, 30))
	assert.Equal(t, 1, eng.count("send"))

	require.NoError(t, s.Close())
	require.NoError(t, rt.Shutdown())
}
