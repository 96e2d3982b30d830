package rtsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessUnitAssembler(t *testing.T) {
	aud := []byte{0x09, 0xF0}
	sei := []byte{0x06, 0x05, 0x01}
	// Second slice of the same picture: first_mb_in_slice != 0.
	idrCont := []byte{0x65, 0x40, 0x11}
	pCont := []byte{0x41, 0x40, 0x22}

	tests := []struct {
		name  string
		nalus [][]byte
		want  [][]byte
	}{
		{
			name:  "parameter sets join the idr",
			nalus: [][]byte{testSPS, testPPS, testIDR, testP, testP},
			want:  [][]byte{annexB(testSPS, testPPS, testIDR), annexB(testP), annexB(testP)},
		},
		{
			name:  "aud always splits",
			nalus: [][]byte{aud, testIDR, aud, testP},
			want:  [][]byte{annexB(aud, testIDR), annexB(aud, testP)},
		},
		{
			name:  "sps after a slice opens a new unit",
			nalus: [][]byte{testP, testSPS, testPPS, testIDR},
			want:  [][]byte{annexB(testP), annexB(testSPS, testPPS, testIDR)},
		},
		{
			name:  "sei after a slice opens a new unit",
			nalus: [][]byte{testIDR, sei, testP},
			want:  [][]byte{annexB(testIDR), annexB(sei, testP)},
		},
		{
			name:  "continuation slices stay together",
			nalus: [][]byte{testIDR, idrCont, testP, pCont},
			want:  [][]byte{annexB(testIDR, idrCont), annexB(testP, pCont)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a AccessUnitAssembler
			var got [][]byte
			for _, n := range tt.nalus {
				if au := a.Push(n); au != nil {
					got = append(got, au)
				}
			}
			if au := a.Flush(); au != nil {
				got = append(got, au)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccessUnitAssemblerEdges(t *testing.T) {
	var a AccessUnitAssembler
	assert.Nil(t, a.Push(nil))
	assert.Nil(t, a.Flush())

	assert.Nil(t, a.Push(testIDR))
	assert.Equal(t, annexB(testIDR), a.Flush())
	assert.Nil(t, a.Flush(), "flush empties the buffer")

	// A unit without slices does not end at the next parameter set.
	assert.Nil(t, a.Push(testSPS))
	assert.Nil(t, a.Push(testSPS))
	assert.Equal(t, annexB(testSPS, testSPS), a.Flush())
}

func TestAccessUnitsClassify(t *testing.T) {
	var a AccessUnitAssembler
	var kinds []bool
	for _, n := range [][]byte{testSPS, testPPS, testIDR, testP, testP, testSPS, testPPS, testIDR} {
		if au := a.Push(n); au != nil {
			kinds = append(kinds, Classify(au, VideoCodecH264))
		}
	}
	kinds = append(kinds, Classify(a.Flush(), VideoCodecH264))
	assert.Equal(t, []bool{true, false, false, true}, kinds)
}
