// Package config loads the recorder's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/imu.recorder/internal/dataset"
	"github.com/banshee-data/imu.recorder/internal/serialmux"
)

const (
	DefaultSerialPort   = "/dev/ttyUSB0"
	DefaultListen       = "localhost:8080"
	DefaultWindow       = 3 * time.Second
	DefaultProgressTick = 30 * time.Millisecond
	DefaultOutputDir    = "~/Documents/HGR_database"
	DefaultDBPath       = "imu_recorder.db"
	DefaultMQTTTopic    = "imu/records"
	DefaultMQTTClientID = "imu-recorder"
)

// RecorderConfig is the root of the recorder configuration file. Every field
// is optional; the Get* methods fall back to defaults for omitted fields.
type RecorderConfig struct {
	SerialPort *string                `json:"serial_port,omitempty"`
	Serial     *serialmux.PortOptions `json:"serial,omitempty"`
	Listen     *string                `json:"listen,omitempty"`

	// Recording window
	Window       *string `json:"window,omitempty"`        // duration string like "3s"
	ProgressTick *string `json:"progress_tick,omitempty"` // duration string like "30ms"

	// Storage
	OutputDir *string `json:"output_dir,omitempty"`
	TempDir   *string `json:"temp_dir,omitempty"`
	DBPath    *string `json:"db_path,omitempty"`

	// Live record stream; empty broker disables publishing
	MQTTBroker   *string `json:"mqtt_broker,omitempty"`
	MQTTTopic    *string `json:"mqtt_topic,omitempty"`
	MQTTClientID *string `json:"mqtt_client_id,omitempty"`

	Dataset *dataset.Info `json:"dataset,omitempty"`
}

// LoadRecorderConfig loads a RecorderConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadRecorderConfig(path string) (*RecorderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RecorderConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RecorderConfig) Validate() error {
	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	for _, f := range []struct {
		name string
		v    *string
	}{{"window", c.Window}, {"progress_tick", c.ProgressTick}} {
		name, v := f.name, f.v
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MQTTTopic != nil && strings.ContainsAny(*c.MQTTTopic, "+#") {
		return fmt.Errorf("mqtt_topic must not contain wildcards, got %q", *c.MQTTTopic)
	}
	if c.Dataset != nil && c.Dataset.CollectionCount < 0 {
		return fmt.Errorf("dataset collection_count must be non-negative, got %d", c.Dataset.CollectionCount)
	}
	return nil
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

func durationOr(v *string, fallback time.Duration) time.Duration {
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetSerialPort returns the serial device path or the default.
func (c *RecorderConfig) GetSerialPort() string {
	return stringOr(c.SerialPort, DefaultSerialPort)
}

// GetSerialOptions returns the configured port options. Unset fields are
// filled in by PortOptions.Normalise when the port is opened.
func (c *RecorderConfig) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

func (c *RecorderConfig) GetListen() string {
	return stringOr(c.Listen, DefaultListen)
}

// GetWindow returns the recording window length.
func (c *RecorderConfig) GetWindow() time.Duration {
	return durationOr(c.Window, DefaultWindow)
}

// GetProgressTick returns the interval between progress updates.
func (c *RecorderConfig) GetProgressTick() time.Duration {
	return durationOr(c.ProgressTick, DefaultProgressTick)
}

// GetOutputDir returns the capture directory with a leading ~ expanded.
func (c *RecorderConfig) GetOutputDir() string {
	return expandHome(stringOr(c.OutputDir, DefaultOutputDir))
}

// GetTempDir returns the scratch directory; empty means os.TempDir().
func (c *RecorderConfig) GetTempDir() string {
	return stringOr(c.TempDir, "")
}

func (c *RecorderConfig) GetDBPath() string {
	return expandHome(stringOr(c.DBPath, DefaultDBPath))
}

// GetMQTTBroker returns the broker URL, or "" when publishing is disabled.
func (c *RecorderConfig) GetMQTTBroker() string {
	return stringOr(c.MQTTBroker, "")
}

func (c *RecorderConfig) GetMQTTTopic() string {
	return stringOr(c.MQTTTopic, DefaultMQTTTopic)
}

func (c *RecorderConfig) GetMQTTClientID() string {
	return stringOr(c.MQTTClientID, DefaultMQTTClientID)
}

// GetDataset returns the configured dataset metadata layered over
// dataset.Default().
func (c *RecorderConfig) GetDataset() dataset.Info {
	if c.Dataset == nil {
		return dataset.Default()
	}
	return c.Dataset.Merge(dataset.Default())
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
