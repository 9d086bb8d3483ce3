package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Capture is one saved CSV file and the dataset metadata it was saved with.
type Capture struct {
	ID                string `json:"capture_id"`
	SessionID         string `json:"session_id"`
	Path              string `json:"path"`
	DataSetName       string `json:"data_set_name"`
	ParticipantID     string `json:"participant_id"`
	GestureType       string `json:"gesture_type"`
	CollectionCount   int    `json:"collection_count"`
	SensorType        string `json:"sensor_type"`
	SamplingFrequency string `json:"sampling_frequency"`
	Records           int    `json:"records"`
	DroppedFrames     uint64 `json:"dropped_frames"`
	StartedUnixNanos  int64  `json:"started_unix_nanos"`
	SavedUnixNanos    int64  `json:"saved_unix_nanos"`
}

// RecordCapture inserts c into the catalog, assigning an ID when c.ID is
// empty.
func (db *DB) RecordCapture(c *Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := db.Exec(`
		INSERT INTO captures (
			capture_id, session_id, path, data_set_name, participant_id,
			gesture_type, collection_count, sensor_type, sampling_frequency,
			records, dropped_frames, started_unix_nanos, saved_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Path, c.DataSetName, c.ParticipantID,
		c.GestureType, c.CollectionCount, c.SensorType, c.SamplingFrequency,
		c.Records, int64(c.DroppedFrames), c.StartedUnixNanos, c.SavedUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("failed to record capture %s: %w", c.ID, err)
	}
	return nil
}

// Captures returns up to limit captures, newest first. A limit of zero or
// less returns every capture.
func (db *DB) Captures(limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT capture_id, session_id, path, data_set_name, participant_id,
			gesture_type, collection_count, sensor_type, sampling_frequency,
			records, dropped_frames, started_unix_nanos, saved_unix_nanos
		FROM captures
		ORDER BY saved_unix_nanos DESC, capture_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		var c Capture
		var dropped int64
		if err := rows.Scan(
			&c.ID, &c.SessionID, &c.Path, &c.DataSetName, &c.ParticipantID,
			&c.GestureType, &c.CollectionCount, &c.SensorType, &c.SamplingFrequency,
			&c.Records, &dropped, &c.StartedUnixNanos, &c.SavedUnixNanos,
		); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		c.DroppedFrames = uint64(dropped)
		out = append(out, c)
	}
	return out, rows.Err()
}

// NextCollectionCount returns the collection count that follows the highest
// one recorded for participant and gesture, or 0 when none exist.
func (db *DB) NextCollectionCount(participantID, gestureType string) (int, error) {
	var max sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(collection_count) FROM captures
		WHERE participant_id = ? AND gesture_type = ?`,
		participantID, gestureType,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query collection count: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}
