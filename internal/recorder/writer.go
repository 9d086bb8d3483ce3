// Package recorder buffers merged records in a temporary CSV file and saves
// them, with a dataset header, to their final location.
package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/banshee-data/imu.recorder/internal/aggregator"
	"github.com/banshee-data/imu.recorder/internal/dataset"
	"github.com/banshee-data/imu.recorder/internal/fsutil"
	"github.com/banshee-data/imu.recorder/internal/monitoring"
)

const tempPattern = "imu-capture-*.csv"

// ErrClosed is returned by operations on a Writer after Close.
var ErrClosed = errors.New("recorder closed")

// Writer appends records to a scratch file until they are saved. The scratch
// file only holds data rows; the dataset header is written at save time so
// metadata edits made during a recording are honoured.
type Writer struct {
	mu      sync.Mutex
	fs      fsutil.FileSystem
	tempDir string
	file    *os.File
	csv     *csv.Writer
	rows    int
}

// New creates a Writer with its scratch file in tempDir (os.TempDir() when
// empty). Saved captures go through fsys; nil uses the OS filesystem.
func New(tempDir string, fsys fsutil.FileSystem) (*Writer, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	w := &Writer{fs: fsys, tempDir: tempDir}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) open() error {
	f, err := os.CreateTemp(w.tempDir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	w.rows = 0
	monitoring.Logf("recorder: buffering to %s", f.Name())
	return nil
}

// Append writes one record to the scratch file and flushes it.
func (w *Writer) Append(rec aggregator.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := w.csv.Write(rec.CSVRow()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush record: %w", err)
	}
	w.rows++
	return nil
}

// SaveAs writes info's header followed by every buffered row to path. The
// file is written next to path and renamed into place, so a failed save
// never leaves a truncated capture behind. The buffer is left untouched.
func (w *Writer) SaveAs(path string, info dataset.Info) (err error) {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid dataset info: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	part := path + ".part"
	out, err := w.fs.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			w.fs.Remove(part)
		}
	}()

	if _, err = io.WriteString(out, info.Header()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err = w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind temp file: %w", err)
	}
	if _, err = io.Copy(out, w.file); err != nil {
		return fmt.Errorf("failed to copy records: %w", err)
	}
	if _, err = w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to restore temp file offset: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", part, err)
	}
	if err = w.fs.Rename(part, path); err != nil {
		return fmt.Errorf("failed to move capture into place: %w", err)
	}
	return nil
}

// Each calls fn for every buffered record in write order.
func (w *Writer) Each(fn func(aggregator.Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind temp file: %w", err)
	}
	defer w.file.Seek(0, io.SeekEnd)

	r := csv.NewReader(w.file)
	r.FieldsPerRecord = len(aggregator.Record{}.CSVHeader())
	r.ReuseRecord = true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read buffered record: %w", err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func parseRow(row []string) (aggregator.Record, error) {
	ts, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return aggregator.Record{}, fmt.Errorf("failed to parse timestamp %q: %w", row[0], err)
	}
	var v [6]float32
	for i := range v {
		f, err := strconv.ParseFloat(row[i+1], 32)
		if err != nil {
			return aggregator.Record{}, fmt.Errorf("failed to parse column %d %q: %w", i+1, row[i+1], err)
		}
		v[i] = float32(f)
	}
	return aggregator.Record{
		Timestamp: ts,
		AccX:      v[0], AccY: v[1], AccZ: v[2],
		GyroX: v[3], GyroY: v[4], GyroZ: v[5],
	}, nil
}

// Reinit discards the buffered rows and starts a fresh scratch file.
func (w *Writer) Reinit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	w.cleanup()
	return w.open()
}

// Close removes the scratch file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	w.cleanup()
	w.file = nil
	return nil
}

func (w *Writer) cleanup() {
	name := w.file.Name()
	if err := w.file.Close(); err != nil {
		monitoring.Logf("recorder: failed to close temp file %s: %v", name, err)
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		monitoring.Logf("recorder: failed to remove temp file %s: %v", name, err)
	}
}

// Rows returns the number of records buffered since the last Reinit.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// TempPath returns the scratch file path, or "" after Close.
func (w *Writer) TempPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

// TempDir returns the directory holding the scratch file.
func (w *Writer) TempDir() string {
	if p := w.TempPath(); p != "" {
		return filepath.Dir(p)
	}
	return w.tempDir
}
