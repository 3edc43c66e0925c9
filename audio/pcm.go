package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

const quantScale = 1 << 15

// QuantToFloat converts a quantized sample into the [-1, 1) float range.
func QuantToFloat(s int16) float32 {
	return float32(s) / quantScale
}

// PutFloat32LE encodes samples as little-endian float32 into dst, which must hold 4 bytes
// per sample. It returns the number of bytes written.
func PutFloat32LE(dst []byte, samples []float32) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return len(samples) * 4
}

func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.New("input must be 32-bit float PCM")
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
