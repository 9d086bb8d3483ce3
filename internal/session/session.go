// Package session runs timed recording windows: it decodes frames from the
// serial stream, pairs them into records, buffers the records and saves
// them as dataset files.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/imu.recorder/internal/aggregator"
	"github.com/banshee-data/imu.recorder/internal/dataset"
	"github.com/banshee-data/imu.recorder/internal/db"
	"github.com/banshee-data/imu.recorder/internal/frame"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
	"github.com/banshee-data/imu.recorder/internal/publish"
	"github.com/banshee-data/imu.recorder/internal/recorder"
	"github.com/banshee-data/imu.recorder/internal/timeutil"
)

var (
	ErrRecording        = errors.New("recording in progress")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNoRecords        = errors.New("no records to save")
)

const (
	DefaultWindow = 3 * time.Second
	DefaultTick   = 30 * time.Millisecond
)

// Catalog records saved captures.
type Catalog interface {
	RecordCapture(c *db.Capture) error
}

// Config wires a Session to its collaborators. Only Writer is required.
type Config struct {
	Writer    *recorder.Writer
	Clock     timeutil.Clock
	Catalog   Catalog
	Publisher publish.Publisher
	Info      dataset.Info

	Window time.Duration
	Tick   time.Duration

	// StreamDiscarded reports bytes the frame source skipped while
	// resynchronising. Optional.
	StreamDiscarded func() uint64

	// OnComplete is called, outside any lock, each time a recording window
	// closes.
	OnComplete func(Status)
}

// Counters tallies frames by outcome.
type Counters struct {
	Received            uint64 `json:"received"`
	Idle                uint64 `json:"idle"`
	Accepted            uint64 `json:"accepted"`
	LengthMismatch      uint64 `json:"length_mismatch"`
	BadHeader           uint64 `json:"bad_header"`
	BadTrailer          uint64 `json:"bad_trailer"`
	UnrecognizedChannel uint64 `json:"unrecognized_channel"`
	Records             uint64 `json:"records"`
	WriteErrors         uint64 `json:"write_errors"`
	PublishErrors       uint64 `json:"publish_errors"`
}

// Dropped returns the number of frames rejected by decoding or pairing.
func (c Counters) Dropped() uint64 {
	return c.LengthMismatch + c.BadHeader + c.BadTrailer + c.UnrecognizedChannel
}

// Status is a point-in-time snapshot of a Session.
type Status struct {
	SessionID string           `json:"session_id"`
	Recording bool             `json:"recording"`
	Progress  float64          `json:"progress"` // 0..1 through the current window
	Window    time.Duration    `json:"window_nanos"`
	Pairing   aggregator.State `json:"pairing"`
	Buffered  int              `json:"buffered"`
	Info      dataset.Info     `json:"info"`
	Counters  Counters         `json:"counters"`

	StreamDiscarded uint64 `json:"stream_discarded_bytes"`
}

// Session is safe for concurrent use. Frames must be delivered from a single
// goroutine, normally Run.
type Session struct {
	id        string
	writer    *recorder.Writer
	clock     timeutil.Clock
	catalog   Catalog
	publisher publish.Publisher
	window    time.Duration
	tick      time.Duration
	onDone    func(Status)
	discarded func() uint64
	dropLog   *monitoring.Throttle

	mu             sync.Mutex
	agg            *aggregator.Aggregator
	info           dataset.Info
	recording      bool
	startedAt      time.Time
	captureStarted time.Time
	progress       float64
	counters       Counters
	droppedInCap   uint64
}

// New returns an idle Session.
func New(cfg Config) (*Session, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("session: writer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = publish.NopPublisher{}
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Info == (dataset.Info{}) {
		cfg.Info = dataset.Default()
	}

	clock := cfg.Clock
	return &Session{
		id:        uuid.NewString(),
		writer:    cfg.Writer,
		clock:     clock,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		window:    cfg.Window,
		tick:      cfg.Tick,
		onDone:    cfg.OnComplete,
		discarded: cfg.StreamDiscarded,
		dropLog:   &monitoring.Throttle{Interval: time.Second, Now: clock.Now},
		agg:       aggregator.New(clock),
		info:      cfg.Info,
	}, nil
}

// ID identifies this session in the capture catalog.
func (s *Session) ID() string {
	return s.id
}

// Start opens a recording window. Records buffered by earlier windows that
// have not been saved are kept.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return ErrAlreadyRecording
	}
	now := s.clock.Now()
	if s.writer.Rows() == 0 {
		s.captureStarted = now
	}
	s.recording = true
	s.startedAt = now
	s.progress = 0
	s.agg.Reset()
	monitoring.Logf("session %s: recording for %s", s.id, s.window)
	return nil
}

// Run delivers frames to HandleFrame and advances the recording window on
// every tick until ctx is done or frames is closed.
func (s *Session) Run(ctx context.Context, frames <-chan []byte) error {
	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			s.HandleFrame(ctx, raw)
		case <-ticker.C():
			s.Tick()
		}
	}
}

// HandleFrame decodes raw and, while recording, pairs it, buffers any
// resulting record and publishes it. Frames arriving outside a window are
// only counted.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	s.mu.Lock()
	s.counters.Received++
	done, st := s.expireLocked(s.clock.Now())
	if !s.recording {
		s.counters.Idle++
		s.mu.Unlock()
		s.complete(done, st)
		return
	}

	rec, ok, err := s.ingestLocked(raw)
	if err != nil {
		s.counters.WriteErrors++
	}
	s.mu.Unlock()

	if err != nil {
		s.dropLog.Logf("session %s: %v", s.id, err)
		return
	}
	if !ok {
		return
	}
	if err := s.publisher.Publish(ctx, rec); err != nil {
		s.mu.Lock()
		s.counters.PublishErrors++
		s.mu.Unlock()
		s.dropLog.Logf("session %s: publish: %v", s.id, err)
	}
}

// ingestLocked returns an error only for buffer write failures; rejected
// frames are counted and logged here.
func (s *Session) ingestLocked(raw []byte) (aggregator.Record, bool, error) {
	sample, err := frame.Decode(raw)
	if err == nil {
		var rec aggregator.Record
		var ok bool
		rec, ok, err = s.agg.Ingest(sample)
		if err == nil {
			s.counters.Accepted++
			if !ok {
				return rec, false, nil
			}
			if werr := s.writer.Append(rec); werr != nil {
				return rec, false, werr
			}
			s.counters.Records++
			return rec, true, nil
		}
	}

	switch {
	case errors.Is(err, frame.ErrLengthMismatch):
		s.counters.LengthMismatch++
	case errors.Is(err, frame.ErrBadHeader):
		s.counters.BadHeader++
	case errors.Is(err, frame.ErrBadTrailer):
		s.counters.BadTrailer++
	case errors.Is(err, frame.ErrUnrecognizedChannel):
		s.counters.UnrecognizedChannel++
	}
	s.droppedInCap++
	s.dropLog.Logf("session %s: dropped frame: %v", s.id, err)
	return aggregator.Record{}, false, nil
}

// Tick updates progress and closes the window once it has elapsed.
func (s *Session) Tick() {
	s.mu.Lock()
	done, st := s.expireLocked(s.clock.Now())
	s.mu.Unlock()
	s.complete(done, st)
}

func (s *Session) expireLocked(now time.Time) (bool, Status) {
	if !s.recording {
		return false, Status{}
	}
	elapsed := now.Sub(s.startedAt)
	if elapsed < s.window {
		s.progress = float64(elapsed) / float64(s.window)
		return false, Status{}
	}
	s.recording = false
	s.progress = 1
	monitoring.Logf("session %s: window closed with %d records buffered", s.id, s.writer.Rows())
	return true, s.statusLocked()
}

func (s *Session) complete(done bool, st Status) {
	if done && s.onDone != nil {
		s.onDone(st)
	}
}

// Stop closes the current window early.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return
	}
	s.startedAt = s.clock.Now().Add(-s.window)
	done, st := s.expireLocked(s.clock.Now())
	s.mu.Unlock()
	s.complete(done, st)
}

// Save writes the buffered records to dir/info.FileName(), records the
// capture in the catalog and starts a fresh buffer.
func (s *Session) Save(dir string, info dataset.Info) (db.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(dir, info)
}

// SaveNext saves with the session's current dataset info and, on success,
// advances its collection count.
func (s *Session) SaveNext(dir string) (db.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.saveLocked(dir, s.info)
	if c.Path != "" {
		s.info = s.info.Next()
	}
	return c, err
}

func (s *Session) saveLocked(dir string, info dataset.Info) (db.Capture, error) {
	if s.recording {
		return db.Capture{}, ErrRecording
	}
	rows := s.writer.Rows()
	if rows == 0 {
		return db.Capture{}, ErrNoRecords
	}

	path := filepath.Join(dir, info.FileName())
	if err := s.writer.SaveAs(path, info); err != nil {
		return db.Capture{}, err
	}
	c := db.Capture{
		SessionID:         s.id,
		Path:              path,
		DataSetName:       info.DataSetName,
		ParticipantID:     info.ParticipantID,
		GestureType:       info.GestureType,
		CollectionCount:   info.CollectionCount,
		SensorType:        info.SensorType,
		SamplingFrequency: info.SamplingFrequency,
		Records:           rows,
		DroppedFrames:     s.droppedInCap,
		StartedUnixNanos:  s.captureStarted.UnixNano(),
		SavedUnixNanos:    s.clock.Now().UnixNano(),
	}
	monitoring.Logf("session %s: saved %d records to %s", s.id, rows, path)

	if err := s.writer.Reinit(); err != nil {
		return c, fmt.Errorf("saved %s but failed to reset buffer: %w", path, err)
	}
	s.agg.Reset()
	s.droppedInCap = 0

	if s.catalog != nil {
		if err := s.catalog.RecordCapture(&c); err != nil {
			return c, fmt.Errorf("saved %s but failed to catalog it: %w", path, err)
		}
	}
	return c, nil
}

// Discard drops every buffered record without saving.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return ErrRecording
	}
	if err := s.writer.Reinit(); err != nil {
		return err
	}
	s.agg.Reset()
	s.droppedInCap = 0
	return nil
}

// SetInfo replaces the dataset info used by SaveNext.
func (s *Session) SetInfo(info dataset.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	return nil
}

// Info returns the dataset info used by SaveNext.
func (s *Session) Info() dataset.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	var discarded uint64
	if s.discarded != nil {
		discarded = s.discarded()
	}
	return Status{
		SessionID: s.id,
		Recording: s.recording,
		Progress:  s.progress,
		Window:    s.window,
		Pairing:   s.agg.State(),
		Buffered:  s.writer.Rows(),
		Info:      s.info,
		Counters:  s.counters,

		StreamDiscarded: discarded,
	}
}
