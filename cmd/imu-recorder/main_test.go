package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/imu.recorder/internal/config"
	"github.com/banshee-data/imu.recorder/internal/serialmux"
)

func resolve(t *testing.T, args ...string) (*config.RecorderConfig, error) {
	t.Helper()
	f, fs, err := parseFlags(args)
	require.NoError(t, err)
	return resolveConfig(f, fs)
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := resolve(t)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSerialPort, cfg.GetSerialPort())
	assert.Equal(t, config.DefaultWindow, cfg.GetWindow())
	assert.Nil(t, cfg.Dataset, "unset flags must not materialise config fields")
	assert.Nil(t, cfg.Serial)
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"serial_port": "/dev/ttyACM0",
		"window": "5s",
		"mqtt_topic": "lab/imu",
		"dataset": {"participant_id": "P001", "gesture_type": "wave"}
	}`), 0o644))

	cfg, err := resolve(t,
		"-config", path,
		"-window", "2s",
		"-baud", "921600",
		"-gesture", "swipe",
		"-mqtt-broker", "tcp://localhost:1883",
	)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort(), "file value kept when flag unset")
	assert.Equal(t, 2*time.Second, cfg.GetWindow())
	assert.Equal(t, 921600, cfg.GetSerialOptions().BaudRate)
	assert.Equal(t, "lab/imu", cfg.GetMQTTTopic())
	assert.Equal(t, "tcp://localhost:1883", cfg.GetMQTTBroker())

	ds := cfg.GetDataset()
	assert.Equal(t, "P001", ds.ParticipantID)
	assert.Equal(t, "swipe", ds.GestureType)
}

func TestResolveConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad baud", []string{"-baud", "12345"}},
		{"zero window", []string{"-window", "0s"}},
		{"multi-line participant", []string{"-participant", "P1\nP2"}},
		{"missing config", []string{"-config", "/nonexistent/recorder.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	_, _, err := parseFlags([]string{"-nope"})
	assert.Error(t, err)
}

func TestOpenIMU(t *testing.T) {
	cfg, err := resolve(t, "-port", "/dev/ttyIMU0")
	require.NoError(t, err)

	t.Run("disabled by flag", func(t *testing.T) {
		f := &serialmux.MockSerialPortFactory{Port: serialmux.NewTestableSerialPort()}
		mux := openIMU(&cliFlags{disableIMU: true}, cfg, f)
		defer mux.Close()
		assert.IsType(t, &serialmux.DisabledSerialMux{}, mux)
		assert.Empty(t, f.Opened, "no port should be opened")
	})

	t.Run("opens configured port", func(t *testing.T) {
		f := &serialmux.MockSerialPortFactory{Port: serialmux.NewTestableSerialPort()}
		mux := openIMU(&cliFlags{}, cfg, f)
		defer mux.Close()
		assert.IsType(t, &serialmux.SerialMux[serialmux.SerialPorter]{}, mux)
		require.Len(t, f.Opened, 1)
		assert.Equal(t, "/dev/ttyIMU0", f.Opened[0].Path)
		assert.Equal(t, serialmux.DefaultBaudRate, f.Opened[0].Options.BaudRate)
	})

	t.Run("falls back when the port is missing", func(t *testing.T) {
		f := &serialmux.MockSerialPortFactory{Error: errors.New("no such device")}
		mux := openIMU(&cliFlags{}, cfg, f)
		defer mux.Close()
		assert.IsType(t, &serialmux.DisabledSerialMux{}, mux)
		assert.Zero(t, mux.Discarded())
	})
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	assert.Equal(t, 0, runMigrate([]string{"-db", path, "up"}))
	assert.Equal(t, 0, runMigrate([]string{"-db", path, "status"}))
	assert.Equal(t, 1, runMigrate([]string{"-db", path, "sideways"}))
	assert.Equal(t, 2, runMigrate([]string{"-bogus"}))
}
