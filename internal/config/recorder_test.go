package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imu.recorder/internal/dataset"
	"github.com/banshee-data/imu.recorder/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRecorderConfig_Full(t *testing.T) {
	path := writeConfig(t, "recorder.json", `{
		"serial_port": "/dev/ttyACM1",
		"serial": {"baud_rate": 921600},
		"listen": ":9090",
		"window": "5s",
		"progress_tick": "50ms",
		"output_dir": "/data/hgr",
		"db_path": "/data/hgr/catalog.db",
		"mqtt_broker": "tcp://broker:1883",
		"mqtt_topic": "lab/imu",
		"dataset": {"participant_id": "P042", "gesture_type": "swipe", "collection_count": 3}
	}`)

	cfg, err := LoadRecorderConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{BaudRate: 921600}, cfg.GetSerialOptions())
	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, 5*time.Second, cfg.GetWindow())
	assert.Equal(t, 50*time.Millisecond, cfg.GetProgressTick())
	assert.Equal(t, "/data/hgr", cfg.GetOutputDir())
	assert.Equal(t, "/data/hgr/catalog.db", cfg.GetDBPath())
	assert.Equal(t, "tcp://broker:1883", cfg.GetMQTTBroker())
	assert.Equal(t, "lab/imu", cfg.GetMQTTTopic())

	ds := cfg.GetDataset()
	assert.Equal(t, "P042", ds.ParticipantID)
	assert.Equal(t, "swipe", ds.GestureType)
	assert.Equal(t, 3, ds.CollectionCount)
	assert.Equal(t, dataset.Default().SensorType, ds.SensorType, "omitted dataset fields keep defaults")
}

func TestRecorderConfig_Defaults(t *testing.T) {
	cfg := &RecorderConfig{}

	assert.Equal(t, DefaultSerialPort, cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{}, cfg.GetSerialOptions())
	assert.Equal(t, DefaultListen, cfg.GetListen())
	assert.Equal(t, 3*time.Second, cfg.GetWindow())
	assert.Equal(t, 30*time.Millisecond, cfg.GetProgressTick())
	assert.True(t, strings.HasSuffix(cfg.GetOutputDir(), filepath.Join("Documents", "HGR_database")))
	assert.False(t, strings.HasPrefix(cfg.GetOutputDir(), "~"), "home directory should be expanded")
	assert.Equal(t, "", cfg.GetTempDir())
	assert.Equal(t, DefaultDBPath, cfg.GetDBPath())
	assert.Equal(t, "", cfg.GetMQTTBroker())
	assert.Equal(t, DefaultMQTTTopic, cfg.GetMQTTTopic())
	assert.Equal(t, DefaultMQTTClientID, cfg.GetMQTTClientID())
	assert.Equal(t, dataset.Default(), cfg.GetDataset())
}

func TestLoadRecorderConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "recorder.yaml", `{}`, ".json extension"},
		{"bad json", "recorder.json", `{`, "failed to parse"},
		{"bad window", "recorder.json", `{"window": "soon"}`, "invalid window"},
		{"negative tick", "recorder.json", `{"progress_tick": "-1s"}`, "progress_tick must be positive"},
		{"bad baud", "recorder.json", `{"serial": {"baud_rate": 12345}}`, "invalid baud rate"},
		{"wildcard topic", "recorder.json", `{"mqtt_topic": "imu/#"}`, "wildcards"},
		{"negative count", "recorder.json", `{"dataset": {"collection_count": -1}}`, "collection_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRecorderConfig(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRecorderConfig_Missing(t *testing.T) {
	_, err := LoadRecorderConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadRecorderConfig_TooLarge(t *testing.T) {
	big := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadRecorderConfig(writeConfig(t, "big.json", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x", "y"), expandHome("~/x/y"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "~user/path", expandHome("~user/path"))
}
