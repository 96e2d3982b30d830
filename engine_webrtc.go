package rtsa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// Signaler exchanges session descriptions with the far end of a channel.
type Signaler interface {
	Exchange(ctx context.Context, req SignalRequest, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// SignalRequest identifies the join an offer belongs to.
type SignalRequest struct {
	Channel string
	UserID  uint32
	Token   string
}

// WebRTCEngineConfig configures a WebRTCEngine.
type WebRTCEngineConfig struct {
	Signaler        Signaler             // Required
	Configuration   webrtc.Configuration // ICE servers etc.
	SettingEngine   webrtc.SettingEngine // Zero value is pion's defaults
	MTU             int                  // RTP payload MTU, default 1200
	ExchangeTimeout time.Duration        // Offer/answer deadline, default 10s
}

var h264Capability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeH264,
	ClockRate:   90000,
	SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
}

// WebRTCEngine implements Engine over pion/webrtc. Each connection is one
// PeerConnection carrying a single H.264 video track; joining a channel
// runs an offer/answer exchange through the Signaler.
//
// Peer connection states drive the session events: the first Connected is
// JoinSuccess, Disconnected is Reconnecting, a later Connected is
// RejoinSuccess and Failed is ConnectionLost. PLI/FIR feedback becomes
// KeyframeRequested and REMB becomes TargetBitrateChanged.
type WebRTCEngine struct {
	cfg WebRTCEngineConfig
	api *webrtc.API

	mu     sync.Mutex
	sink   EventSink
	booted bool
	next   uint32
	conns  map[ConnectionHandle]*webrtcConn
}

type webrtcConn struct {
	handle ConnectionHandle

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	track         *webrtc.TrackLocalStaticRTP
	packetizer    rtp.Packetizer
	userID        uint32
	joinStarted   time.Time
	connected     bool
	everConnected bool
	cancel        context.CancelFunc
}

// NewWebRTCEngine creates an engine. Bootstrap must be called before use.
func NewWebRTCEngine(cfg WebRTCEngineConfig) (*WebRTCEngine, error) {
	if cfg.Signaler == nil {
		return nil, errors.New("signaler is required")
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1200
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}
	return &WebRTCEngine{
		cfg:   cfg,
		conns: make(map[ConnectionHandle]*webrtcConn),
	}, nil
}

// Bootstrap implements Engine. appID and opts are not used by WebRTC.
func (e *WebRTCEngine) Bootstrap(appID string, opts ServiceOptions, sink EventSink) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.booted {
		return StatusInvalidState
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return StatusFailed
	}
	e.api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(e.cfg.SettingEngine))
	e.sink = sink
	e.booted = true
	return StatusOK
}

// CreateConnection implements Engine.
func (e *WebRTCEngine) CreateConnection() (ConnectionHandle, Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.booted {
		return 0, StatusInvalidState
	}
	e.next++
	h := ConnectionHandle(e.next)
	e.conns[h] = &webrtcConn{handle: h}
	return h, StatusOK
}

func (e *WebRTCEngine) conn(h ConnectionHandle) *webrtcConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[h]
}

func (e *WebRTCEngine) emit(ev SessionEvent) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.Dispatch(ev)
	}
}

// JoinChannel implements Engine. It returns immediately; the outcome is
// reported as JoinSuccess or ConnectionLost.
func (e *WebRTCEngine) JoinChannel(h ConnectionHandle, channel string, userID uint32, token string, opts *ChannelOptions) Status {
	c := e.conn(h)
	if c == nil {
		return StatusInvalidHandle
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc != nil {
		return StatusInvalidState
	}

	pc, err := e.api.NewPeerConnection(e.cfg.Configuration)
	if err != nil {
		return StatusFailed
	}
	track, err := webrtc.NewTrackLocalStaticRTP(h264Capability, "video", "rtsa-"+uuid.NewString())
	if err != nil {
		pc.Close()
		return StatusFailed
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return StatusFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ExchangeTimeout)
	c.pc = pc
	c.track = track
	c.packetizer = rtp.NewPacketizer(uint16(e.cfg.MTU), 0, 0, &codecs.H264Payloader{}, rtp.NewRandomSequencer(), h264Capability.ClockRate)
	c.userID = userID
	c.joinStarted = time.Now()
	c.connected = false
	c.everConnected = false
	c.cancel = cancel

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.onConnectionState(c, pc, state)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.emit(PeerJoined{Handle: h, PeerID: uint32(remote.SSRC()), Elapsed: time.Since(c.joinStarted)})
	})
	go e.readRTCP(h, sender)
	go e.negotiate(ctx, c, pc, SignalRequest{Channel: channel, UserID: userID, Token: token})

	return StatusOK
}

func (e *WebRTCEngine) negotiate(ctx context.Context, c *webrtcConn, pc *webrtc.PeerConnection, req SignalRequest) {
	err := func() error {
		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("CreateOffer: %w", err)
		}
		gatherComplete := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		select {
		case <-gatherComplete:
		case <-ctx.Done():
			return ctx.Err()
		}

		answer, err := e.cfg.Signaler.Exchange(ctx, req, *pc.LocalDescription())
		if err != nil {
			return fmt.Errorf("signaling: %w", err)
		}
		if err := pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("SetRemoteDescription: %w", err)
		}
		return nil
	}()
	if err == nil {
		return
	}

	if !c.release(pc) {
		// Left while negotiating.
		return
	}
	e.emit(GeneralError{Handle: c.handle, Code: int(StatusFailed), Message: err.Error()})
	e.emit(ConnectionLost{Handle: c.handle})
}

func (e *WebRTCEngine) onConnectionState(c *webrtcConn, pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	c.mu.Lock()
	if c.pc != pc {
		c.mu.Unlock()
		return
	}

	var ev SessionEvent
	switch state {
	case webrtc.PeerConnectionStateConnected:
		elapsed := time.Since(c.joinStarted)
		if !c.everConnected {
			ev = JoinSuccess{Handle: c.handle, UserID: c.userID, Elapsed: elapsed}
		} else {
			ev = RejoinSuccess{Handle: c.handle, UserID: c.userID, Elapsed: elapsed}
		}
		c.connected = true
		c.everConnected = true
		if c.cancel != nil {
			c.cancel()
		}
	case webrtc.PeerConnectionStateDisconnected:
		if c.connected {
			ev = Reconnecting{Handle: c.handle}
		}
		c.connected = false
	case webrtc.PeerConnectionStateFailed:
		c.mu.Unlock()
		// Failed is terminal for pc; the handle may join again.
		if c.release(pc) {
			e.emit(ConnectionLost{Handle: c.handle})
		}
		return
	}
	c.mu.Unlock()

	if ev != nil {
		e.emit(ev)
	}
}

func (e *WebRTCEngine) readRTCP(h ConnectionHandle, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				e.emit(KeyframeRequested{Handle: h, PeerID: p.SenderSSRC, Tier: StreamTierHigh})
			case *rtcp.FullIntraRequest:
				e.emit(KeyframeRequested{Handle: h, PeerID: p.SenderSSRC, Tier: StreamTierHigh})
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				e.emit(TargetBitrateChanged{Handle: h, BitsPerSecond: uint32(p.Bitrate)})
			}
		}
	}
}

// LeaveChannel implements Engine.
func (e *WebRTCEngine) LeaveChannel(h ConnectionHandle) Status {
	c := e.conn(h)
	if c == nil {
		return StatusInvalidHandle
	}
	if err := c.close(); err != nil {
		return StatusFailed
	}
	return StatusOK
}

func (c *webrtcConn) close() error {
	c.mu.Lock()
	pc, cancel := c.detachLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// release closes pc if it is still the connection's peer. It reports
// false when a leave or a newer join has already replaced it.
func (c *webrtcConn) release(pc *webrtc.PeerConnection) bool {
	c.mu.Lock()
	if c.pc != pc {
		c.mu.Unlock()
		return false
	}
	_, cancel := c.detachLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = pc.Close()
	return true
}

func (c *webrtcConn) detachLocked() (*webrtc.PeerConnection, context.CancelFunc) {
	pc, cancel := c.pc, c.cancel
	c.pc = nil
	c.track = nil
	c.packetizer = nil
	c.connected = false
	c.cancel = nil
	return pc, cancel
}

// SendVideoFrame implements Engine. Only H.264 Annex-B is carried; a
// payload without NAL units fails.
func (e *WebRTCEngine) SendVideoFrame(h ConnectionHandle, payload []byte, desc FrameDescriptor) Status {
	if desc.Codec != VideoCodecH264 {
		return StatusNotSupported
	}
	c := e.conn(h)
	if c == nil {
		return StatusInvalidHandle
	}
	if len(NALUnits(payload)) == 0 {
		return StatusFailed
	}

	fps := uint32(desc.FrameRate)
	if fps == 0 {
		fps = 30
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.track == nil {
		return StatusInvalidState
	}
	for _, pkt := range c.packetizer.Packetize(payload, h264Capability.ClockRate/fps) {
		if err := c.track.WriteRTP(pkt); err != nil {
			return StatusFailed
		}
	}
	return StatusOK
}

// DestroyConnection implements Engine.
func (e *WebRTCEngine) DestroyConnection(h ConnectionHandle) Status {
	e.mu.Lock()
	c := e.conns[h]
	delete(e.conns, h)
	e.mu.Unlock()

	if c == nil {
		return StatusInvalidHandle
	}
	if err := c.close(); err != nil {
		return StatusFailed
	}
	return StatusOK
}

// Shutdown implements Engine.
func (e *WebRTCEngine) Shutdown() Status {
	e.mu.Lock()
	if !e.booted {
		e.mu.Unlock()
		return StatusInvalidState
	}
	conns := e.conns
	e.conns = make(map[ConnectionHandle]*webrtcConn)
	e.booted = false
	e.sink = nil
	e.mu.Unlock()

	st := StatusOK
	for _, c := range conns {
		if err := c.close(); err != nil {
			st = StatusFailed
		}
	}
	return st
}

// LoopbackSignaler answers offers with an in-process receive-only peer.
// It stands in for a channel server in tests and local demos.
type LoopbackSignaler struct {
	// OnTrack is called for each track the loopback peer receives. If nil
	// the track is drained.
	OnTrack func(pc *webrtc.PeerConnection, track *webrtc.TrackRemote)
	// SettingEngine configures the answering peers.
	SettingEngine webrtc.SettingEngine

	mu      sync.Mutex
	peers   []*webrtc.PeerConnection
	packets atomic.Uint64
}

// Exchange implements Signaler.
func (l *LoopbackSignaler) Exchange(ctx context.Context, req SignalRequest, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(l.SettingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if l.OnTrack != nil {
			l.OnTrack(pc, track)
			return
		}
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
			l.packets.Add(1)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return webrtc.SessionDescription{}, ctx.Err()
	}

	l.mu.Lock()
	l.peers = append(l.peers, pc)
	l.mu.Unlock()
	return *pc.LocalDescription(), nil
}

// Peers returns the answering peer connections created so far.
func (l *LoopbackSignaler) Peers() []*webrtc.PeerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*webrtc.PeerConnection(nil), l.peers...)
}

// PacketsReceived returns the RTP packets drained by the default OnTrack.
func (l *LoopbackSignaler) PacketsReceived() uint64 {
	return l.packets.Load()
}

// Close closes every answering peer.
func (l *LoopbackSignaler) Close() error {
	l.mu.Lock()
	peers := l.peers
	l.peers = nil
	l.mu.Unlock()

	var errs []error
	for _, pc := range peers {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
