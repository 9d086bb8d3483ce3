package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/imu.recorder/internal/frame"
	"github.com/banshee-data/imu.recorder/internal/testutil"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestSubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Fatal("subscriber IDs should be unique")
	}
	if cap(ch1) != subscriberBuffer {
		t.Errorf("channel capacity = %d, want %d", cap(ch1), subscriberBuffer)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	mux.Unsubscribe(id1) // second call is a no-op
	mux.Unsubscribe("unknown")
}

func TestSendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	cmd := []byte{0xAA, 0x10, 0xEE}
	if err := mux.SendCommand(cmd); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := port.Written(); string(got) != string(cmd) {
		t.Errorf("written = % X, want % X", got, cmd)
	}

	port.WriteError = errors.New("boom")
	if err := mux.SendCommand(cmd); err == nil {
		t.Error("expected write error")
	}
}

type shortWritePort struct{ *TestableSerialPort }

func (p shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSendCommand_ShortWrite(t *testing.T) {
	mux := NewSerialMux(shortWritePort{NewTestableSerialPort()})
	if err := mux.SendCommand([]byte{1, 2}); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("error = %v, want ErrWriteFailed", err)
	}
}

func TestMonitor_FansOutFrames(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	acc := testutil.AccFrame(1.23, 4.56, 7.89)
	gyro := testutil.GyroFrame(-1, 0, 1)
	port.AddReadData(testutil.Stream([]byte{0x00, 0x13}, acc, gyro))

	for _, ch := range []<-chan []byte{a, b} {
		if got := recv(t, ch); string(got) != string(acc) {
			t.Errorf("first frame = % X, want % X", got, acc)
		}
		if got := recv(t, ch); string(got) != string(gyro) {
			t.Errorf("second frame = % X, want % X", got, gyro)
		}
	}
	if got := mux.Discarded(); got != 2 {
		t.Errorf("Discarded() = %d, want 2", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestMonitor_SubscribersGetIndependentCopies(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(testutil.AccFrame(1, 2, 3))
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	testutil.AssertNoError(t, mux.Monitor(context.Background()))
	fa, fb := recv(t, a), recv(t, b)
	fa[2] = 0xFF
	if fb[2] == 0xFF {
		t.Error("subscribers must not share frame buffers")
	}
}

func TestMonitor_EndOfStream(t *testing.T) {
	port := NewTestableSerialPort()
	acc := testutil.AccFrame(1, 2, 3)
	port.AddReadData(testutil.Stream(acc, []byte{frame.Head, 0x01, 0x02}))
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	testutil.AssertNoError(t, mux.Monitor(context.Background()))
	if got := recv(t, ch); len(got) != frame.Size {
		t.Errorf("first token length = %d, want %d", len(got), frame.Size)
	}
	short := recv(t, ch)
	if _, err := frame.Decode(short); !errors.Is(err, frame.ErrLengthMismatch) {
		t.Errorf("truncated tail should decode as length mismatch, got %v", err)
	}
}

func TestMonitor_ReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	if err == nil || err.Error() != "device unplugged" {
		t.Errorf("Monitor() error = %v, want device unplugged", err)
	}
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	var frames [][]byte
	for i := 0; i < subscriberBuffer+10; i++ {
		frames = append(frames, testutil.AccFrame(float32(i), 0, 0))
	}
	port.AddReadData(testutil.Stream(frames...))
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	testutil.AssertNoError(t, mux.Monitor(context.Background()))
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestClose(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestMockSerialMux_GeneratesPairs(t *testing.T) {
	mux := NewMockSerialMux(time.Millisecond)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	first, err := frame.Decode(recv(t, ch))
	testutil.AssertNoError(t, err)
	second, err := frame.Decode(recv(t, ch))
	testutil.AssertNoError(t, err)
	if first.Channel != frame.Accelerometer || second.Channel != frame.Gyroscope {
		t.Errorf("channels = %v, %v; want accelerometer then gyroscope", first.Channel, second.Channel)
	}
	if err := mux.SendCommand([]byte{0x01}); err != nil {
		t.Errorf("SendCommand() error = %v", err)
	}
	cancel()
	mux.Close()
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	if err := d.SendCommand([]byte{1}); err != nil {
		t.Errorf("SendCommand() error = %v", err)
	}
	if d.Discarded() != 0 {
		t.Error("Discarded() should be zero")
	}
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor() error = %v, want context.Canceled", err)
	}
}

func TestOpenSerialMux_ThroughFactory(t *testing.T) {
	port := NewTestableSerialPort()
	f := &MockSerialPortFactory{Port: port}

	mux, err := OpenSerialMux(f, "/dev/ttyUSB0", PortOptions{})
	testutil.AssertNoError(t, err)
	if len(f.Opened) != 1 {
		t.Fatalf("Open called %d times, want 1", len(f.Opened))
	}
	want := MockOpenCall{Path: "/dev/ttyUSB0", Options: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}}
	if f.Opened[0] != want {
		t.Errorf("Open(%+v), want %+v", f.Opened[0], want)
	}

	port.AddFrames(
		frame.Sample{Channel: frame.Accelerometer, X: 1},
		frame.Sample{Channel: frame.Gyroscope, Z: 2},
	)
	_, ch := mux.Subscribe()
	testutil.AssertNoError(t, mux.Monitor(context.Background()))
	for _, want := range []frame.Channel{frame.Accelerometer, frame.Gyroscope} {
		s, err := frame.Decode(recv(t, ch))
		testutil.AssertNoError(t, err)
		if s.Channel != want {
			t.Errorf("channel = %v, want %v", s.Channel, want)
		}
	}
}

func TestOpenSerialMux_Errors(t *testing.T) {
	f := &MockSerialPortFactory{Error: errors.New("busy")}
	if _, err := OpenSerialMux(f, "/dev/ttyUSB0", PortOptions{}); err == nil || err.Error() != "busy" {
		t.Errorf("OpenSerialMux() error = %v, want busy", err)
	}
	if _, err := OpenSerialMux(f, "/dev/ttyUSB0", PortOptions{Parity: "X"}); err == nil {
		t.Error("expected invalid options to fail before Open")
	}
	if len(f.Opened) != 1 {
		t.Errorf("Open called %d times, want 1", len(f.Opened))
	}
}
