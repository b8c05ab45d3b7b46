// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/pkg/frame"
)

const fullConfig = `
serial:
  port: /dev/ttyACM0
  baud: 115200
protection:
  trip_threshold_ma: 2.5
  low_voltage_v: 1.8
calibration:
  led_sense_ohms: 330
  battery_window: 10
polarity:
  indicator: low
  green: high
traffic:
  green_ms: 1000
pattern:
  step_ms: 250
http:
  addr: ":8080"
mqtt:
  broker: tcp://localhost:1883
  topic: bench/board1
  format: cbor
  interval: 10s
alert:
  server: smtp.example.org
  from: helioguard@example.org
  to: [ops@example.org]
  alerts: [TRIP, battery_dead]
  min_interval: 1m
log:
  level: debug
  json: true
`

func TestDefault_MatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultOptions(), opts)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.MQTT.Interval)
	assert.True(t, cfg.Log.JSON)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, 2.5, opts.TripThresholdMA)
	assert.Equal(t, 1.8, opts.LowVoltageV)
	assert.Equal(t, 330.0, opts.Calibration.LEDSenseOhms)
	assert.Equal(t, 100.0, opts.Calibration.BatterySenseOhms, "unset keys keep defaults")
	assert.Equal(t, 10, opts.Calibration.BatteryWindow)

	assert.True(t, opts.Polarity.IndicatorActiveLow)
	assert.Equal(t, [frame.LEDCount]bool{true, true, false}, opts.Polarity.LEDActiveLow)

	assert.Equal(t, time.Second, opts.TrafficPhases[0].Duration)
	assert.Equal(t, 2*time.Second, opts.TrafficPhases[1].Duration)
	for _, p := range opts.PatternPhases {
		assert.Equal(t, 250*time.Millisecond, p.Duration)
	}

	rc := cfg.ReporterConfig()
	assert.Equal(t, "bench/board1", rc.TopicPrefix)
	assert.Equal(t, "cbor", rc.Format)
	assert.Equal(t, "bench/board1/status", cfg.MQTTOptions("pw").WillTopic)

	ac, err := cfg.AlertConfig("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", ac.Password)
	assert.Equal(t, 587, ac.Port)
	assert.Equal(t, []engine.Alert{engine.AlertTrip, engine.AlertBatteryDead}, ac.Alerts)
	assert.Equal(t, time.Minute, ac.MinInterval)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "serial:\n  parity: even\n", "parity"},
		{"trip out of bounds", "protection:\n  trip_threshold_ma: 500\n", "trip threshold"},
		{"low voltage out of bounds", "protection:\n  low_voltage_v: 0\n", "low voltage"},
		{"bad polarity", "polarity:\n  red: sideways\n", "polarity.red"},
		{"zero sense resistor", "calibration:\n  battery_sense_ohms: 0\n", "calibration"},
		{"zero traffic phase", "traffic:\n  red_ms: 0\n", "traffic"},
		{"bad mqtt format", "mqtt:\n  broker: tcp://x:1883\n  format: xml\n", "mqtt.format"},
		{"alert missing to", "alert:\n  server: smtp.example.org\n  from: a@b\n", "to"},
		{"unknown alert", "alert:\n  server: s\n  from: a@b\n  to: [c@d]\n  alerts: [EXPLODED]\n", "EXPLODED"},
		{"bad baud", "serial:\n  baud: 0\n", "baud"},
		{"broker without scheme", "mqtt:\n  broker: localhost:1883\n", "mqtt.broker"},
		{"broker without host", "mqtt:\n  broker: \"tcp://\"\n", "missing host"},
		{"http addr without port", "http:\n  addr: localhost\n", "http.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConverters_ReportInvalidFields(t *testing.T) {
	cfg := Default()
	cfg.Polarity.Yellow = "sideways"
	_, err := cfg.EngineOptions()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polarity.yellow")

	cfg = Default()
	cfg.Alert.Alerts = []string{"TRIP", "EXPLODED"}
	_, err = cfg.AlertConfig("pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPLODED")
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "helioguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":9090\"\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
