package proto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RecordSize is the exact length in bytes of an encoded ControlRecord.
const RecordSize = 5 * 4

var (
	ErrRecordLength = fmt.Errorf("record: invalid length")
)

// ControlRecord is one instant of hand sensor state as sent by the tracker.
//
// On the wire it is five densely packed little-endian float32 values in field order,
// without header, version or checksum.
type ControlRecord struct {
	Distance    float32 `json:"distance"`
	IndexAngle  float32 `json:"index_angle"`
	MiddleAngle float32 `json:"middle_angle"`
	RingAngle   float32 `json:"ring_angle"`
	PinkyAngle  float32 `json:"pinky_angle"`
}

func (r ControlRecord) fields() [5]float32 {
	return [5]float32{r.Distance, r.IndexAngle, r.MiddleAngle, r.RingAngle, r.PinkyAngle}
}

// AppendBinary appends the wire encoding of r to b.
func (r ControlRecord) AppendBinary(b []byte) ([]byte, error) {
	for _, f := range r.fields() {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b, nil
}

func (r ControlRecord) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize))
}

func (r *ControlRecord) UnmarshalBinary(p []byte) error {
	if len(p) != RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordLength, len(p), RecordSize)
	}

	f := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}

	*r = ControlRecord{
		Distance:    f(0),
		IndexAngle:  f(1),
		MiddleAngle: f(2),
		RingAngle:   f(3),
		PinkyAngle:  f(4),
	}
	return nil
}

// DecodeRecord validates the datagram length and decodes it.
func DecodeRecord(p []byte) (ControlRecord, error) {
	var r ControlRecord
	if err := r.UnmarshalBinary(p); err != nil {
		return ControlRecord{}, err
	}
	return r, nil
}
