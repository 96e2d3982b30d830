package rtsa

// SessionStats provides per-session counters.
type SessionStats struct {
	FramesSent       uint64
	KeyframesSent    uint64
	BytesSent        uint64
	FramesNotJoined  uint64 // rejected because the session was not joined
	SendFailures     uint64 // non-zero engine status
	StaleEvents      uint64
	KeyframeRequests uint64
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) countStale() {
	s.statsMu.Lock()
	s.stats.StaleEvents++
	s.statsMu.Unlock()
}
