// Outgoing frame types shared by the dispatch pipeline and the engines.
package rtsa

// EncodedFrame is one unit of video handed to a Session for transmission.
// Payload is borrowed: it is only valid for the duration of the Send call
// and engines must copy it if they need it afterwards.
type EncodedFrame struct {
	Payload       []byte     // Encoded bitstream
	Codec         VideoCodec // Bitstream format
	IsKeyframe    bool       // Classifier output or producer assertion
	FrameRateHint int        // Frames per second, 0 = unknown
	StreamTier    StreamTier // High or Low stream
}

// Kind returns the frame kind derived from IsKeyframe.
func (f *EncodedFrame) Kind() FrameKind {
	if f.IsKeyframe {
		return FrameKindKey
	}
	return FrameKindDelta
}

// Clone creates a deep copy of the frame.
// Use this when the payload has to outlive the producer's buffer.
func (f *EncodedFrame) Clone() *EncodedFrame {
	clone := &EncodedFrame{
		Codec:         f.Codec,
		IsKeyframe:    f.IsKeyframe,
		FrameRateHint: f.FrameRateHint,
		StreamTier:    f.StreamTier,
	}
	if f.Payload != nil {
		clone.Payload = make([]byte, len(f.Payload))
		copy(clone.Payload, f.Payload)
	}
	return clone
}

// NewEncodedFrame classifies payload and returns a frame ready for Send.
// JPEG frames are always keyframes.
func NewEncodedFrame(payload []byte, codec VideoCodec, frameRateHint int) EncodedFrame {
	return EncodedFrame{
		Payload:       payload,
		Codec:         codec,
		IsKeyframe:    Classify(payload, codec),
		FrameRateHint: frameRateHint,
		StreamTier:    StreamTierHigh,
	}
}

// FrameDescriptor describes a frame to the transport engine.
type FrameDescriptor struct {
	Codec     VideoCodec
	Tier      StreamTier
	Kind      FrameKind
	FrameRate uint16
	Rotation  int // degrees clockwise; the bridge always sends 0
}

func descriptorFor(frame *EncodedFrame) FrameDescriptor {
	fps := frame.FrameRateHint
	if fps < 0 {
		fps = 0
	}
	if fps > 0xFFFF {
		fps = 0xFFFF
	}
	return FrameDescriptor{
		Codec:     frame.Codec,
		Tier:      frame.StreamTier,
		Kind:      frame.Kind(),
		FrameRate: uint16(fps),
	}
}
