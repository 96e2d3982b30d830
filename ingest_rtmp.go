package rtsa

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// FrameSink consumes encoded access units. *Session implements it.
type FrameSink interface {
	SubmitFrame(payload []byte, codec VideoCodec, frameRateHint int) error
}

// RTMPIngestConfig configures an RTMPIngest.
type RTMPIngestConfig struct {
	Sink      FrameSink    // Required
	FrameRate int          // Frame rate hint passed to the sink, default 30
	StreamKey string       // If set, only this publishing name is accepted
	Logger    *slog.Logger // Default slog.Default()
}

// IngestStats is a snapshot of RTMPIngest counters.
type IngestStats struct {
	Frames     uint64 // Access units accepted by the sink
	Keyframes  uint64
	NotJoined  uint64 // Dropped because the session was not joined
	SendErrors uint64 // Rejected by the sink for other reasons
	Ignored    uint64 // Non-AVC tags and frames before the sequence header
	Publishing bool
}

// RTMPIngest accepts one RTMP publisher at a time and forwards its H.264
// video to a FrameSink as Annex-B access units. Audio is ignored.
type RTMPIngest struct {
	cfg    RTMPIngestConfig
	logger *slog.Logger

	mu     sync.Mutex
	active *rtmpPublisher
	srv    *rtmp.Server
	ln     net.Listener
	closed bool

	frames     atomic.Uint64
	keyframes  atomic.Uint64
	notJoined  atomic.Uint64
	sendErrors atomic.Uint64
	ignored    atomic.Uint64
}

// NewRTMPIngest creates an ingest. Call Serve to accept publishers.
func NewRTMPIngest(cfg RTMPIngestConfig) (*RTMPIngest, error) {
	if cfg.Sink == nil {
		return nil, errors.New("frame sink is required")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RTMPIngest{
		cfg:    cfg,
		logger: logger.With("component", "rtmp-ingest"),
	}, nil
}

// Serve accepts RTMP connections on ln until Close is called. It returns
// nil after Close.
func (in *RTMPIngest) Serve(ln net.Listener) error {
	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			in.logger.Debug("rtmp connection", "remote", conn.RemoteAddr().String())
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpPublisher{in: in},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		ln.Close()
		return nil
	}
	if in.srv != nil {
		in.mu.Unlock()
		return errors.New("rtmp ingest is already serving")
	}
	in.srv = srv
	in.ln = ln
	in.mu.Unlock()

	in.logger.Info("rtmp ingest listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, rtmp.ErrClosed) {
		return nil
	}
	return err
}

// Close stops accepting connections and makes Serve return.
func (in *RTMPIngest) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	srv, ln := in.srv, in.ln
	in.mu.Unlock()

	if srv == nil {
		return nil
	}
	// The server only stops once its done channel is closed. The listener
	// is closed as well in case Serve has not registered it yet.
	err := srv.Close()
	if lnErr := ln.Close(); lnErr != nil && !errors.Is(lnErr, net.ErrClosed) && err == nil {
		err = lnErr
	}
	return err
}

// Stats returns a snapshot of the ingest counters.
func (in *RTMPIngest) Stats() IngestStats {
	in.mu.Lock()
	publishing := in.active != nil
	in.mu.Unlock()
	return IngestStats{
		Frames:     in.frames.Load(),
		Keyframes:  in.keyframes.Load(),
		NotJoined:  in.notJoined.Load(),
		SendErrors: in.sendErrors.Load(),
		Ignored:    in.ignored.Load(),
		Publishing: publishing,
	}
}

func (in *RTMPIngest) claim(p *rtmpPublisher) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.active != nil && in.active != p {
		return fmt.Errorf("stream %q is already publishing", in.active.name)
	}
	in.active = p
	return nil
}

func (in *RTMPIngest) release(p *rtmpPublisher) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.active == p {
		in.active = nil
	}
}

func (in *RTMPIngest) submit(annexB []byte) {
	err := in.cfg.Sink.SubmitFrame(annexB, VideoCodecH264, in.cfg.FrameRate)
	switch {
	case err == nil:
		in.frames.Add(1)
		if Classify(annexB, VideoCodecH264) {
			in.keyframes.Add(1)
		}
	case errors.Is(err, ErrNotJoined):
		in.notJoined.Add(1)
	default:
		in.sendErrors.Add(1)
		in.logger.Debug("frame rejected", "err", err)
	}
}

// rtmpPublisher handles one RTMP connection.
type rtmpPublisher struct {
	rtmp.DefaultHandler
	in *RTMPIngest

	name       string
	publishing bool
	sps, pps   []byte
}

func (p *rtmpPublisher) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if key := p.in.cfg.StreamKey; key != "" && cmd.PublishingName != key {
		return fmt.Errorf("unknown stream key %q", cmd.PublishingName)
	}
	p.name = cmd.PublishingName
	if err := p.in.claim(p); err != nil {
		p.in.logger.Warn("rejecting publisher", "stream", cmd.PublishingName, "err", err)
		return err
	}
	p.publishing = true
	p.in.logger.Info("publishing", "stream", cmd.PublishingName)
	return nil
}

func (p *rtmpPublisher) OnVideo(timestamp uint32, payload io.Reader) error {
	if !p.publishing {
		return nil
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return nil
	}
	if annexB, ok := p.videoTag(buf.Bytes()); ok {
		p.in.submit(annexB)
	}
	return nil
}

func (p *rtmpPublisher) OnClose() {
	if p.publishing {
		p.in.logger.Info("publisher disconnected", "stream", p.name)
	}
	p.publishing = false
	p.in.release(p)
}

// videoTag converts an FLV video tag body to an Annex-B access unit. The
// AVC sequence header is stored and prepended to every keyframe.
func (p *rtmpPublisher) videoTag(data []byte) ([]byte, bool) {
	if len(data) < 5 {
		return nil, false
	}
	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != 7 { // AVC
		p.in.ignored.Add(1)
		return nil, false
	}

	avcData := data[5:]
	switch data[1] {
	case 0: // sequence header
		sps, pps := extractSPSPPS(avcData)
		if sps != nil {
			p.sps, p.pps = sps, pps
			p.in.logger.Debug("avc sequence header", "sps", len(sps), "pps", len(pps))
		}
		return nil, false
	case 1: // NALU
		if p.sps == nil {
			p.in.ignored.Add(1)
			return nil, false
		}
		nalus := parseAVCCNALUs(avcData)
		if len(nalus) == 0 {
			return nil, false
		}
		return buildAnnexB(nalus, p.sps, p.pps, frameType == 1), true
	}
	return nil, false
}

// extractSPSPPS reads the first SPS and PPS from an
// AVCDecoderConfigurationRecord.
func extractSPSPPS(data []byte) (sps, pps []byte) {
	if len(data) < 8 {
		return
	}
	offset := 5
	numSPS := int(data[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return nil, nil
		}
		if sps == nil {
			sps = append([]byte(nil), data[offset:offset+length]...)
		}
		offset += length
	}

	if offset >= len(data) {
		return
	}
	numPPS := int(data[offset])
	offset++

	for i := 0; i < numPPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return sps, nil
		}
		if pps == nil {
			pps = append([]byte(nil), data[offset:offset+length]...)
		}
		offset += length
	}
	return
}

// parseAVCCNALUs splits 4-byte length-prefixed NAL units.
func parseAVCCNALUs(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus
}

// buildAnnexB joins nalus with start codes, leading with SPS/PPS on
// keyframes.
func buildAnnexB(nalus [][]byte, sps, pps []byte, isKey bool) []byte {
	n := 0
	for _, nalu := range nalus {
		n += len(startCode) + len(nalu)
	}
	if isKey && sps != nil && pps != nil {
		n += 2*len(startCode) + len(sps) + len(pps)
	}

	out := make([]byte, 0, n)
	if isKey && sps != nil && pps != nil {
		out = append(out, startCode...)
		out = append(out, sps...)
		out = append(out, startCode...)
		out = append(out, pps...)
	}
	for _, nalu := range nalus {
		out = append(out, startCode...)
		out = append(out, nalu...)
	}
	return out
}
