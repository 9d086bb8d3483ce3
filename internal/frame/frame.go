// Package frame decodes the fixed-layout binary frames emitted by the IMU
// over its serial link.
//
// Each frame is 15 bytes, little-endian, with no padding:
//
//	offset  size  field
//	0       1     head (0xAA)
//	1       1     channel tag (0x01 accelerometer, 0x02 gyroscope)
//	2       4     x (IEEE-754 binary32)
//	6       4     y (IEEE-754 binary32)
//	10      4     z (IEEE-754 binary32)
//	14      1     tail (0xEE)
//
// The decoder only checks structural framing. Channel tag semantics are
// validated by the consumer (see package aggregator).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	Head byte = 0xAA // start-of-frame marker
	Tail byte = 0xEE // end-of-frame marker
)

const (
	HeadSize    = 1
	TagSize     = 1
	AxisSize    = 4 // one binary32 value
	Axes        = 3
	PayloadSize = TagSize + Axes*AxisSize    // bytes between head and tail
	Size        = HeadSize + PayloadSize + 1 // 15
)

const (
	tagOffset  = HeadSize
	xOffset    = tagOffset + TagSize
	yOffset    = xOffset + AxisSize
	zOffset    = yOffset + AxisSize
	tailOffset = zOffset + AxisSize
)

// Rejection reasons. Decode wraps the first three; ErrUnrecognizedChannel is
// returned by consumers that enforce tag semantics.
var (
	ErrLengthMismatch      = errors.New("frame length mismatch")
	ErrBadHeader           = errors.New("bad frame header")
	ErrBadTrailer          = errors.New("bad frame trailer")
	ErrUnrecognizedChannel = errors.New("unrecognized channel")
)

// Channel identifies the sensor a frame came from.
type Channel uint8

const (
	Accelerometer Channel = 0x01
	Gyroscope     Channel = 0x02
)

// Valid reports whether c is a known sensor channel.
func (c Channel) Valid() bool {
	return c == Accelerometer || c == Gyroscope
}

func (c Channel) String() string {
	switch c {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	default:
		return fmt.Sprintf("channel(0x%02x)", uint8(c))
	}
}

// Sample is one decoded frame.
type Sample struct {
	Channel Channel
	X       float32
	Y       float32
	Z       float32
}

// Decode validates raw as a single frame and returns its contents. Checks run
// in a fixed order (length, head, tail) and the first failure is reported.
// The channel tag is returned as-is, including unknown values.
func Decode(raw []byte) (Sample, error) {
	if len(raw) != Size {
		return Sample{}, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(raw), Size)
	}
	if raw[0] != Head {
		return Sample{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrBadHeader, raw[0], Head)
	}
	if raw[tailOffset] != Tail {
		return Sample{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrBadTrailer, raw[tailOffset], Tail)
	}

	return Sample{
		Channel: Channel(raw[tagOffset]),
		X:       readFloat32(raw[xOffset:]),
		Y:       readFloat32(raw[yOffset:]),
		Z:       readFloat32(raw[zOffset:]),
	}, nil
}

// Encode returns the 15-byte wire form of s.
func Encode(s Sample) []byte {
	return AppendEncode(make([]byte, 0, Size), s)
}

// AppendEncode appends the wire form of s to dst and returns the extended slice.
func AppendEncode(dst []byte, s Sample) []byte {
	dst = append(dst, Head, byte(s.Channel))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s.X))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s.Y))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s.Z))
	return append(dst, Tail)
}

// readFloat32 reinterprets four little-endian bytes as binary32 without
// touching NaN payloads or infinities.
func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
