package sqlrepo

import (
	"encoding/binary"
	"fmt"
	"math"

	"preloadd/internal/domain"
)

func encodeFloat32Array4(a [domain.NumStates]float32) []byte {
	buf := make([]byte, domain.NumStates*4)
	for i, v := range a {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32Array4(buf []byte) ([domain.NumStates]float32, error) {
	var out [domain.NumStates]float32
	if len(buf) != domain.NumStates*4 {
		return out, fmt.Errorf("time_to_leave blob has %d bytes, want %d", len(buf), domain.NumStates*4)
	}
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func encodeFloat32Matrix4x4(m [domain.NumStates][domain.NumStates]float32) []byte {
	buf := make([]byte, domain.NumStates*domain.NumStates*4)
	i := 0
	for _, row := range m {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			i++
		}
	}
	return buf
}

func decodeFloat32Matrix4x4(buf []byte) ([domain.NumStates][domain.NumStates]float32, error) {
	var out [domain.NumStates][domain.NumStates]float32
	want := domain.NumStates * domain.NumStates * 4
	if len(buf) != want {
		return out, fmt.Errorf("transition_prob blob has %d bytes, want %d", len(buf), want)
	}
	i := 0
	for r := range out {
		for c := range out[r] {
			out[r][c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			i++
		}
	}
	return out, nil
}
