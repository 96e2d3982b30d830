package rtsa

// VideoCodec identifies the bitstream format of an outgoing frame.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecJPEG
	VideoCodecH264
	VideoCodecH265
	VideoCodecGeneric
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecJPEG:
		return "JPEG"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecGeneric:
		return "Generic"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecJPEG:
		return "image/jpeg"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	default:
		return ""
	}
}

// Standalone reports whether every frame of the codec decodes on its own.
func (c VideoCodec) Standalone() bool {
	return c == VideoCodecJPEG
}

// StreamTier is the quality class a receiver may subscribe to.
type StreamTier int

const (
	StreamTierHigh StreamTier = iota
	StreamTierLow
)

func (t StreamTier) String() string {
	switch t {
	case StreamTierHigh:
		return "high"
	case StreamTierLow:
		return "low"
	default:
		return "unknown"
	}
}

// FrameKind indicates whether a frame is a keyframe or delta frame.
type FrameKind int

const (
	FrameKindUnknown FrameKind = iota
	FrameKindKey               // decodable without prior frames
	FrameKindDelta             // depends on previous frames
)

func (k FrameKind) String() string {
	switch k {
	case FrameKindKey:
		return "Key"
	case FrameKindDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}
