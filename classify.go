package rtsa

// classifyWindow bounds how far into a payload Classify looks for start
// codes. Parameter sets and IDR slices lead an access unit, so anything
// past the window is slice data.
const classifyWindow = 100

// H264 NAL unit types
const (
	nalTypeSlice = 1
	nalTypeIDR   = 5
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeAUD   = 9
)

// H265 NAL unit types
const (
	hevcNALBLAWLP  = 16 // first IRAP type
	hevcNALRSVIRAP = 23 // last IRAP type
	hevcNALVPS     = 32
	hevcNALSPS     = 33
	hevcNALPPS     = 34
)

// Classify reports whether payload is a synchronization point a receiver
// can start decoding from.
//
// JPEG frames always are. For H.264 Annex-B the first classifyWindow bytes
// are scanned for 4-byte start codes (00 00 00 01) and the frame is a
// keyframe if any following NAL unit is IDR (5), SPS (7) or PPS (8).
// Payloads shorter than 5 bytes are never keyframes. Classify never panics.
func Classify(payload []byte, codec VideoCodec) bool {
	switch codec {
	case VideoCodecJPEG:
		return true
	case VideoCodecH264:
		return scanStartCodes(payload, isH264KeyNAL)
	case VideoCodecH265:
		return scanStartCodes(payload, isH265KeyNAL)
	default:
		return false
	}
}

func scanStartCodes(data []byte, isKey func(header byte) bool) bool {
	if len(data) < 5 {
		return false
	}
	limit := len(data) - 4
	if limit > classifyWindow {
		limit = classifyWindow
	}
	for i := 0; i < limit; i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if isKey(data[i+4]) {
				return true
			}
			i += 3
		}
	}
	return false
}

func isH264KeyNAL(header byte) bool {
	switch header & 0x1F {
	case nalTypeIDR, nalTypeSPS, nalTypePPS:
		return true
	}
	return false
}

// H265 carries the type in bits 1-6 of the first header byte.
func isH265KeyNAL(header byte) bool {
	t := (header >> 1) & 0x3F
	return (t >= hevcNALBLAWLP && t <= hevcNALRSVIRAP) || (t >= hevcNALVPS && t <= hevcNALPPS)
}

// NALUnits splits an Annex-B byte stream into NAL units without start
// codes. Both 3- and 4-byte start codes are recognized. The returned
// slices alias data.
func NALUnits(data []byte) [][]byte {
	var units [][]byte
	start := -1

	for i := 0; i < len(data); i++ {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if start >= 0 && i > start {
				units = append(units, data[start:i])
			}
			start = i + 4
			i += 3
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 && i > start {
				units = append(units, data[start:i])
			}
			start = i + 3
			i += 2
		}
	}

	if start >= 0 && start < len(data) {
		units = append(units, data[start:])
	}
	return units
}
