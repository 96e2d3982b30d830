package rtsa

// Send submits an encoded frame to the engine.
//
// Frames are only accepted in Joined; any other state returns ErrNotJoined
// without touching the engine. A non-zero engine status is returned as a
// *TransportSendError and is not retried here: dropping a delta frame is
// preferable to stalling the capture pipeline.
//
// frame.Payload is not retained after Send returns.
func (s *Session) Send(frame EncodedFrame) error {
	if !s.State().CanSend() {
		s.statsMu.Lock()
		s.stats.FramesNotJoined++
		s.statsMu.Unlock()
		return ErrNotJoined
	}
	if frame.Codec.Standalone() {
		frame.IsKeyframe = true
	}

	desc := descriptorFor(&frame)
	if st := s.engine.SendVideoFrame(s.handle, frame.Payload, desc); st != StatusOK {
		s.statsMu.Lock()
		s.stats.SendFailures++
		s.statsMu.Unlock()
		return &TransportSendError{Code: st}
	}

	if frame.IsKeyframe {
		s.clearKeyframeRequest()
	}

	s.statsMu.Lock()
	s.stats.FramesSent++
	s.stats.BytesSent += uint64(len(frame.Payload))
	if frame.IsKeyframe {
		s.stats.KeyframesSent++
	}
	s.statsMu.Unlock()
	return nil
}

// SubmitFrame classifies payload and sends it on the session's stream
// tier. It is the entry point for capture/encode pipelines.
func (s *Session) SubmitFrame(payload []byte, codec VideoCodec, frameRateHint int) error {
	frame := NewEncodedFrame(payload, codec, frameRateHint)
	frame.StreamTier = s.tier
	return s.Send(frame)
}

// KeyframePending reports whether a remote peer asked for a keyframe that
// has not been sent yet.
func (s *Session) KeyframePending() bool {
	return s.keyframeReq.Load()
}

// TakeKeyframeRequest clears a pending keyframe request and reports
// whether there was one, along with the tier it was requested for.
// Encoders call it before encoding the next frame.
func (s *Session) TakeKeyframeRequest() (StreamTier, bool) {
	if s.keyframeReq.Swap(false) {
		return StreamTier(s.keyframeTier.Load()), true
	}
	return s.tier, false
}

func (s *Session) requestKeyframe(ev KeyframeRequested) {
	s.keyframeTier.Store(int32(ev.Tier))
	s.keyframeReq.Store(true)
	s.statsMu.Lock()
	s.stats.KeyframeRequests++
	s.statsMu.Unlock()
}

func (s *Session) clearKeyframeRequest() {
	s.keyframeReq.Store(false)
}
