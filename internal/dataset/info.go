// Package dataset describes the metadata written at the top of every saved
// capture file.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDataFormat is the CSV column header for merged records.
const DefaultDataFormat = "timestamp,acc_x,acc_y,acc_z,gyro_x,gyro_y,gyro_z"

// Info is the dataset metadata attached to a capture.
type Info struct {
	DataSetName       string `json:"data_set_name"`
	CollectionDate    string `json:"collection_date"`
	ParticipantID     string `json:"participant_id"`
	GestureType       string `json:"gesture_type"`
	CollectionCount   int    `json:"collection_count"`
	SensorType        string `json:"sensor_type"`
	SamplingFrequency string `json:"sampling_frequency"`
	EncodeFormat      string `json:"encode_format"`
	Annotation        string `json:"annotation"`
	DataFormat        string `json:"data_format"`
}

// Default returns the metadata used until the operator supplies their own.
func Default() Info {
	return Info{
		DataSetName:       "HGR v1.0",
		CollectionDate:    "0000-00-00",
		ParticipantID:     "P000",
		GestureType:       "<UNK>",
		CollectionCount:   0,
		SensorType:        "BNO08x",
		SamplingFrequency: "50Hz",
		EncodeFormat:      "utf-8",
		Annotation:        strings.Repeat("#", 20),
		DataFormat:        DefaultDataFormat,
	}
}

// Merge returns i with every empty field taken from base.
func (i Info) Merge(base Info) Info {
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	out := Info{
		DataSetName:       pick(i.DataSetName, base.DataSetName),
		CollectionDate:    pick(i.CollectionDate, base.CollectionDate),
		ParticipantID:     pick(i.ParticipantID, base.ParticipantID),
		GestureType:       pick(i.GestureType, base.GestureType),
		CollectionCount:   i.CollectionCount,
		SensorType:        pick(i.SensorType, base.SensorType),
		SamplingFrequency: pick(i.SamplingFrequency, base.SamplingFrequency),
		EncodeFormat:      pick(i.EncodeFormat, base.EncodeFormat),
		Annotation:        pick(i.Annotation, base.Annotation),
		DataFormat:        pick(i.DataFormat, base.DataFormat),
	}
	if out.CollectionCount == 0 {
		out.CollectionCount = base.CollectionCount
	}
	return out
}

// Validate checks the fields that end up in file names or header lines.
func (i Info) Validate() error {
	var errs []error
	if strings.TrimSpace(i.ParticipantID) == "" {
		errs = append(errs, errors.New("participant_id is required"))
	}
	if strings.TrimSpace(i.GestureType) == "" {
		errs = append(errs, errors.New("gesture_type is required"))
	}
	if i.CollectionCount < 0 {
		errs = append(errs, fmt.Errorf("collection_count must be >= 0, got %d", i.CollectionCount))
	}
	for name, v := range map[string]string{
		"data_set_name":      i.DataSetName,
		"collection_date":    i.CollectionDate,
		"participant_id":     i.ParticipantID,
		"gesture_type":       i.GestureType,
		"sensor_type":        i.SensorType,
		"sampling_frequency": i.SamplingFrequency,
		"encode_format":      i.EncodeFormat,
		"annotation":         i.Annotation,
		"data_format":        i.DataFormat,
	} {
		if strings.ContainsAny(v, "\r\n") {
			errs = append(errs, fmt.Errorf("%s must be a single line", name))
		}
	}
	return errors.Join(errs...)
}

// Header renders the comment block and column header that precede the data
// rows, followed by a blank line.
func (i Info) Header() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# data_set_name:%s\n", i.DataSetName)
	fmt.Fprintf(&b, "# collection_date:%s\n", i.CollectionDate)
	fmt.Fprintf(&b, "# participant_id:%s\n", i.ParticipantID)
	fmt.Fprintf(&b, "# gesture_type:%s\n", i.GestureType)
	fmt.Fprintf(&b, "# collection_count:%d\n", i.CollectionCount)
	fmt.Fprintf(&b, "# sensor_type:%s\n", i.SensorType)
	fmt.Fprintf(&b, "# sampling_frequency:%s\n", i.SamplingFrequency)
	fmt.Fprintf(&b, "# encode_format:%s\n", i.EncodeFormat)
	fmt.Fprintf(&b, "#%s\n", i.Annotation)
	fmt.Fprintf(&b, "%s\n\n", i.DataFormat)
	return b.String()
}

// FileName is the default capture file name:
// <gesture>_<participant>_<count>.csv.
func (i Info) FileName() string {
	name := fmt.Sprintf("%s_%s_%d.csv", i.GestureType, i.ParticipantID, i.CollectionCount)
	return sanitise(name)
}

// Next returns a copy of i with the collection count advanced by one.
func (i Info) Next() Info {
	i.CollectionCount++
	return i
}

// sanitise replaces path separators and characters that are awkward in
// file names on the platforms the recorder runs on.
func sanitise(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
