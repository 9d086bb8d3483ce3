package session

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/imu.recorder/internal/aggregator"
)

// AxisStats summarises one record column.
type AxisStats struct {
	Axis   string  `json:"axis"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary describes the records currently buffered.
type Summary struct {
	Records  int         `json:"records"`
	Duration uint64      `json:"duration_nanos"` // last timestamp minus first
	RateHz   float64     `json:"rate_hz"`
	Axes     []AxisStats `json:"axes"`
}

// Summary computes per-axis statistics over the buffered records, in CSV
// column order. StdDev is the unbiased sample standard deviation, reported
// as 0 for a single record.
func (s *Session) Summary() (Summary, error) {
	cols := make([][]float64, 6)
	var first, last uint64
	var n int
	err := s.writer.Each(func(r aggregator.Record) error {
		if n == 0 {
			first = r.Timestamp
		}
		last = r.Timestamp
		n++
		for i, v := range [6]float32{r.AccX, r.AccY, r.AccZ, r.GyroX, r.GyroY, r.GyroZ} {
			cols[i] = append(cols[i], float64(v))
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Records: n}
	if n == 0 {
		return sum, nil
	}
	sum.Duration = last - first
	if sum.Duration > 0 && n > 1 {
		sum.RateHz = float64(n-1) / (float64(sum.Duration) / 1e9)
	}

	names := aggregator.Record{}.CSVHeader()[1:]
	for i, col := range cols {
		mean, std := stat.MeanStdDev(col, nil)
		if n < 2 {
			std = 0
		}
		lo, hi := col[0], col[0]
		for _, v := range col[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		sum.Axes = append(sum.Axes, AxisStats{Axis: names[i], Mean: mean, StdDev: std, Min: lo, Max: hi})
	}
	return sum, nil
}
