// Package testutil provides shared test fixtures for frame streams.
package testutil

import (
	"testing"

	"github.com/banshee-data/imu.recorder/internal/frame"
)

// AccFrame returns an encoded accelerometer frame.
func AccFrame(x, y, z float32) []byte {
	return frame.Encode(frame.Sample{Channel: frame.Accelerometer, X: x, Y: y, Z: z})
}

// GyroFrame returns an encoded gyroscope frame.
func GyroFrame(x, y, z float32) []byte {
	return frame.Encode(frame.Sample{Channel: frame.Gyroscope, X: x, Y: y, Z: z})
}

// CorruptTail returns a copy of f with the trailer byte broken.
func CorruptTail(f []byte) []byte {
	out := append([]byte(nil), f...)
	out[len(out)-1] ^= 0xFF
	return out
}

// Stream concatenates frames into one byte stream.
func Stream(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
