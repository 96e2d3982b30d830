package rtsa

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnitAssembler groups a stream of H.264 NAL units into access units
// in Annex-B form, one frame per access unit. It is used by producers that
// read a raw byte stream and need frame boundaries before SubmitFrame.
type AccessUnitAssembler struct {
	buf    []byte
	hasVCL bool
}

// Push appends a NAL unit (without start code). If nal opens a new access
// unit, the completed previous one is returned; otherwise Push returns nil.
// The returned slice is owned by the caller.
func (a *AccessUnitAssembler) Push(nal []byte) []byte {
	if len(nal) == 0 {
		return nil
	}

	var out []byte
	if len(a.buf) > 0 && a.opensAccessUnit(nal) {
		out = a.buf
		a.buf = nil
		a.hasVCL = false
	}

	a.buf = append(a.buf, startCode...)
	a.buf = append(a.buf, nal...)
	if t := nal[0] & 0x1F; t == nalTypeSlice || t == nalTypeIDR {
		a.hasVCL = true
	}
	return out
}

// Flush returns any buffered partial access unit.
func (a *AccessUnitAssembler) Flush() []byte {
	out := a.buf
	a.buf = nil
	a.hasVCL = false
	return out
}

func (a *AccessUnitAssembler) opensAccessUnit(nal []byte) bool {
	switch nal[0] & 0x1F {
	case nalTypeAUD:
		return true
	case nalTypeSPS, nalTypePPS, 6: // parameter sets and SEI precede the slices
		return a.hasVCL
	case nalTypeSlice, nalTypeIDR:
		// first_mb_in_slice == 0 is ue(v) "1", the top bit of the slice header.
		return a.hasVCL && len(nal) > 1 && nal[1]&0x80 != 0
	}
	return false
}
