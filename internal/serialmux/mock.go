package serialmux

import (
	"bytes"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/imu.recorder/internal/frame"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
)

// MockSerialPort implements SerialPorter for development without hardware.
// Reads come from a synthetic frame generator; writes are discarded.
type MockSerialPort struct {
	io.Reader
	r *io.PipeReader
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	return m.r.Close()
}

// NewMockSerialMux creates a SerialMux backed by a generator that emits
// alternating accelerometer and gyroscope frames every interval. The
// generator stops once the mux is closed.
func NewMockSerialMux(interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{Reader: r, r: r}
	monitoring.Logf("serialmux: using synthetic frame source every %s", interval)

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var n int
		for range ticker.C {
			phase := float64(n) * 0.1
			accel := frame.Sample{
				Channel: frame.Accelerometer,
				X:       float32(math.Sin(phase)),
				Y:       float32(math.Cos(phase)),
				Z:       9.81,
			}
			gyro := frame.Sample{
				Channel: frame.Gyroscope,
				X:       float32(0.5 * math.Cos(phase)),
				Y:       0,
				Z:       float32(0.25 * math.Sin(phase)),
			}
			if _, err := w.Write(frame.AppendEncode(frame.Encode(accel), gyro)); err != nil {
				return
			}
			n++
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort is an in-memory SerialPorter. Reads drain frames queued
// with AddFrames or AddReadData; writes are captured for Written.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond
	rx   bytes.Buffer
	tx   bytes.Buffer

	// BlockReads makes Read wait for queued data instead of returning io.EOF.
	BlockReads bool
	// ReadError and WriteError fail the next call once.
	ReadError  error
	WriteError error
	Closed     bool
}

var errPortClosed = errors.New("serial port closed")

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.rx.Len() == 0 {
		p.cond.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.rx.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errPortClosed
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.tx.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues raw bytes for Read.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Write(data)
	p.cond.Broadcast()
}

// AddFrames queues the encoded samples for Read as one burst.
func (p *TestableSerialPort) AddFrames(samples ...frame.Sample) {
	var buf []byte
	for _, s := range samples {
		buf = frame.AppendEncode(buf, s)
	}
	p.AddReadData(buf)
}

// Written returns a copy of everything written to the port.
func (p *TestableSerialPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.tx.Bytes())
}

// MockSerialPortFactory hands out Port, or fails with Error, and records
// every Open call.
type MockSerialPortFactory struct {
	Port  SerialPorter
	Error error

	mu     sync.Mutex
	Opened []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened = append(f.Opened, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
