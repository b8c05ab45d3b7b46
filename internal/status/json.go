// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package status

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/pkg/frame"
)

// Payload formats
const (
	FormatJSONName = "json"
	FormatCBORName = "cbor"
)

// StatusJSON is the top-level envelope for status output
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details
type StatusInner struct {
	Timestamp     string         `json:"timestamp"`
	StartTime     string         `json:"start_time"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Link          LinkJSON       `json:"link"`
	Circuit       string         `json:"circuit"`
	Battery       string         `json:"battery"`
	Breaker       BreakerJSON    `json:"breaker"`
	Output        OutputJSON     `json:"output"`
	Telemetry     *TelemetryJSON `json:"telemetry,omitempty"`
	Stats         StatsJSON      `json:"stats"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Log           []LogJSON      `json:"log,omitempty"`
}

// LinkJSON reports the serial or websocket link
type LinkJSON struct {
	Up       bool   `json:"up"`
	Info     string `json:"info,omitempty"`
	Target   string `json:"target,omitempty"`
	Buffered int    `json:"buffered"`
}

// BreakerJSON reports protection state and thresholds
type BreakerJSON struct {
	Tripped          bool    `json:"tripped"`
	Reason           string  `json:"reason"`
	BatteryDead      bool    `json:"battery_dead"`
	Bypassed         bool    `json:"bypassed"`
	TripThresholdMA  float64 `json:"trip_threshold_ma"`
	LowVoltageV      float64 `json:"low_voltage_v"`
	RecoveryVoltageV float64 `json:"recovery_voltage_v"`
}

// OutputJSON reports the output mode and the commanded lamps
type OutputJSON struct {
	Mode      string `json:"mode"`
	Phase     int    `json:"phase"`
	PhaseName string `json:"phase_name,omitempty"`
	Indicator bool   `json:"indicator"`
	Yellow    bool   `json:"yellow"`
	Red       bool   `json:"red"`
	Green     bool   `json:"green"`
	Frame     string `json:"frame,omitempty"`
	Sent      uint64 `json:"frames_sent"`
}

// TelemetryJSON is the last decoded record and its derived values
type TelemetryJSON struct {
	Timestamp        string                        `json:"timestamp"`
	Sequence         int                           `json:"sequence"`
	Trusted          bool                          `json:"trusted"`
	ChecksumReceived uint16                        `json:"checksum_received"`
	ChecksumComputed uint16                        `json:"checksum_computed"`
	Channels         [frame.ChannelCount]int       `json:"channels_mv"`
	Inputs           [frame.DigitalInputCount]bool `json:"inputs"`
	Derived          *DerivedJSON                  `json:"derived,omitempty"`
}

// DerivedJSON holds the conditioner output
type DerivedJSON struct {
	Smoothed         [frame.ChannelCount]float64 `json:"smoothed_mv"`
	SolarVoltage     float64                     `json:"solar_v"`
	BatteryVoltage   float64                     `json:"battery_v"`
	BatteryCurrentMA float64                     `json:"battery_ma"`
	LEDCurrentMA     [frame.LEDCount]float64     `json:"led_ma"`
	TotalLoadMA      float64                     `json:"load_ma"`
}

// StatsJSON is the JSON representation of frame statistics
type StatsJSON struct {
	TotalFrames    uint64 `json:"total_frames"`
	ValidFrames    uint64 `json:"valid_frames"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Overflows      uint64 `json:"overflows"`
	PacketLoss     uint64 `json:"packet_loss"`
	Duplicates     uint64 `json:"duplicates"`
}

// MQTTStatus reports MQTT connection state
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// LogJSON is one recent log entry
type LogJSON struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Alert     string `json:"alert,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// EventJSON is the envelope for a single alert
type EventJSON struct {
	Event LogJSON `json:"event"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func buildLog(e engine.LogEntry) LogJSON {
	l := LogJSON{
		Timestamp: formatTime(e.Time),
		Kind:      e.Kind.String(),
		Message:   e.Message,
	}
	if e.Alert != engine.AlertNone {
		l.Alert = e.Alert.String()
	}
	if e.Err != nil {
		l.Error = e.Err.Error()
	}
	return l
}

func buildTelemetry(tel *engine.Telemetry) *TelemetryJSON {
	if tel == nil || tel.Record == nil {
		return nil
	}
	rec := tel.Record
	tj := &TelemetryJSON{
		Timestamp:        formatTime(rec.Timestamp()),
		Sequence:         rec.Sequence(),
		Trusted:          tel.Trusted,
		ChecksumReceived: rec.ReceivedChecksum(),
		ChecksumComputed: rec.ComputedChecksum(),
		Channels:         rec.Channels(),
		Inputs:           rec.Inputs(),
	}
	if s := tel.Sample; s != nil {
		tj.Derived = &DerivedJSON{
			Smoothed:         s.Channels,
			SolarVoltage:     s.SolarVoltage,
			BatteryVoltage:   s.BatteryVoltage,
			BatteryCurrentMA: s.BatteryCurrentMA,
			LEDCurrentMA:     s.LEDCurrentMA,
			TotalLoadMA:      s.TotalLoadMA,
		}
	}
	return tj
}

// Build converts a snapshot into its wire document
func Build(snap Snapshot) StatusJSON {
	st := snap.State
	cmd := st.Command

	inner := StatusInner{
		Timestamp:     formatTime(snap.Now),
		StartTime:     formatTime(snap.StartTime),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		Link: LinkJSON{
			Up:       st.LinkUp,
			Info:     st.LinkInfo,
			Target:   snap.Config.Link,
			Buffered: st.Buffered,
		},
		Circuit: strings.ToUpper(st.Circuit.String()),
		Battery: strings.ToUpper(st.Battery.String()),
		Breaker: BreakerJSON{
			Tripped:          st.Breaker.Tripped,
			Reason:           st.Breaker.Reason.String(),
			BatteryDead:      st.Breaker.BatteryDead,
			Bypassed:         st.Breaker.Bypassed,
			TripThresholdMA:  st.Breaker.TripThresholdMA,
			LowVoltageV:      st.Breaker.LowVoltageV,
			RecoveryVoltageV: st.Breaker.RecoveryVoltageV,
		},
		Output: OutputJSON{
			Mode:      st.Mode.String(),
			Phase:     st.Phase,
			PhaseName: st.PhaseName,
			Indicator: cmd.Indicator,
			Yellow:    cmd.Lit(frame.LEDYellow),
			Red:       cmd.Lit(frame.LEDRed),
			Green:     cmd.Lit(frame.LEDGreen),
			Frame:     frame.FormatRaw([]byte(snap.LastOutbound)),
			Sent:      snap.Outbound,
		},
		Telemetry: buildTelemetry(snap.Telemetry),
		Stats: StatsJSON{
			TotalFrames:    st.Stats.TotalFrames,
			ValidFrames:    st.Stats.ValidFrames,
			ChecksumErrors: st.Stats.ChecksumErrors,
			DecodeErrors:   st.Stats.DecodeErrors,
			Overflows:      st.Stats.Overflows,
			PacketLoss:     st.Stats.PacketLoss,
			Duplicates:     st.Stats.Duplicates,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
	}

	for _, e := range snap.Recent {
		inner.Log = append(inner.Log, buildLog(e))
	}

	return StatusJSON{Status: inner}
}

// FormatJSON returns the indented JSON status for the web endpoint
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// Encode renders v in the named payload format. The CBOR encoder reads
// the same json struct tags.
func Encode(format string, v interface{}) ([]byte, error) {
	switch format {
	case "", FormatJSONName:
		return json.Marshal(v)
	case FormatCBORName:
		return cbor.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
}

// FormatStatus encodes a snapshot as a compact status document
func FormatStatus(format string, snap Snapshot) ([]byte, error) {
	return Encode(format, Build(snap))
}

// FormatEvent encodes a single log entry as an event document
func FormatEvent(format string, e engine.LogEntry) ([]byte, error) {
	return Encode(format, EventJSON{Event: buildLog(e)})
}

// ValidFormat reports whether name is a known payload format
func ValidFormat(name string) bool {
	switch name {
	case FormatJSONName, FormatCBORName:
		return true
	}
	return false
}
