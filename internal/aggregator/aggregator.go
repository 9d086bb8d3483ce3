// Package aggregator pairs accelerometer and gyroscope samples into six-axis
// records.
//
// Each channel holds at most one pending value. A new sample overwrites the
// pending value of its channel (last-write-wins) and a record is emitted as
// soon as both channels have a pending value. The two values are the most
// recent of each channel, not necessarily simultaneous readings; if one
// channel stalls, a stale value will be paired with a fresh one.
package aggregator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/imu.recorder/internal/frame"
	"github.com/banshee-data/imu.recorder/internal/timeutil"
)

// Record is one merged accelerometer + gyroscope reading.
type Record struct {
	Timestamp uint64  `json:"timestamp"` // monotonic nanoseconds since the aggregator epoch
	AccX      float32 `json:"acc_x"`
	AccY      float32 `json:"acc_y"`
	AccZ      float32 `json:"acc_z"`
	GyroX     float32 `json:"gyro_x"`
	GyroY     float32 `json:"gyro_y"`
	GyroZ     float32 `json:"gyro_z"`
}

// CSVHeader is the column header matching CSVRow.
func (Record) CSVHeader() []string {
	return []string{"timestamp", "acc_x", "acc_y", "acc_z", "gyro_x", "gyro_y", "gyro_z"}
}

// CSVRow renders the record using the shortest decimal form that reads back
// as the same binary32 value.
func (r Record) CSVRow() []string {
	return []string{
		strconv.FormatUint(r.Timestamp, 10),
		ftoa(r.AccX), ftoa(r.AccY), ftoa(r.AccZ),
		ftoa(r.GyroX), ftoa(r.GyroY), ftoa(r.GyroZ),
	}
}

func ftoa(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// State names the pairing state of an Aggregator.
type State string

const (
	Idle     State = "Idle"
	AccOnly  State = "AccOnly"
	GyroOnly State = "GyroOnly"
)

// Aggregator is not safe for concurrent use. Callers must serialise Ingest,
// typically by draining frames from a single goroutine.
type Aggregator struct {
	clock timeutil.Clock
	epoch time.Time

	accReady  bool
	gyroReady bool
	lastAcc   [3]float32
	lastGyro  [3]float32
}

// New returns an idle Aggregator. Record timestamps count from the moment of
// construction on the given clock; a nil clock uses the system clock.
func New(clock timeutil.Clock) *Aggregator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Aggregator{clock: clock, epoch: clock.Now()}
}

// Ingest stores s as the pending value for its channel. When both channels
// have a pending value it returns the merged record with ok set, and both
// channels return to not-ready. Samples with an unknown channel are rejected
// with frame.ErrUnrecognizedChannel and leave the state untouched.
func (a *Aggregator) Ingest(s frame.Sample) (rec Record, ok bool, err error) {
	switch s.Channel {
	case frame.Accelerometer:
		a.lastAcc = [3]float32{s.X, s.Y, s.Z}
		a.accReady = true
	case frame.Gyroscope:
		a.lastGyro = [3]float32{s.X, s.Y, s.Z}
		a.gyroReady = true
	default:
		return Record{}, false, fmt.Errorf("%w: tag 0x%02x", frame.ErrUnrecognizedChannel, uint8(s.Channel))
	}

	if !a.accReady || !a.gyroReady {
		return Record{}, false, nil
	}

	a.accReady, a.gyroReady = false, false
	return Record{
		Timestamp: a.now(),
		AccX:      a.lastAcc[0],
		AccY:      a.lastAcc[1],
		AccZ:      a.lastAcc[2],
		GyroX:     a.lastGyro[0],
		GyroY:     a.lastGyro[1],
		GyroZ:     a.lastGyro[2],
	}, true, nil
}

// Reset returns the aggregator to Idle and clears stored values. The
// timestamp epoch is kept so records across re-inits stay ordered.
func (a *Aggregator) Reset() {
	a.accReady, a.gyroReady = false, false
	a.lastAcc = [3]float32{}
	a.lastGyro = [3]float32{}
}

// State reports the current pairing state.
func (a *Aggregator) State() State {
	switch {
	case a.accReady:
		return AccOnly
	case a.gyroReady:
		return GyroOnly
	default:
		return Idle
	}
}

func (a *Aggregator) now() uint64 {
	d := a.clock.Since(a.epoch)
	if d < 0 {
		return 0
	}
	return uint64(d)
}
