// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/conditioner"
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

// Sink receives everything the engine produces.
//
// Methods are called from the engine goroutine and must not block; sinks
// that do I/O queue the work and drain it elsewhere.
type Sink interface {
	// Telemetry is called once per decoded record
	Telemetry(Telemetry)
	// State is called after every handled event
	State(State)
	// Outbound carries an encoded command frame for the transport
	Outbound(frame []byte)
	// Log carries trace lines, diagnostics and alerts
	Log(LogEntry)
}

// Telemetry is one decoded record plus what was derived from it.
// Sample is nil when the record failed its checksum.
type Telemetry struct {
	Record  *frame.Record
	Trusted bool
	Sample  *conditioner.Sample
	Circuit breaker.CircuitStatus
	Battery breaker.BatteryStatus
}

// State is a copy of the engine's state after an event
type State struct {
	Breaker breaker.State
	Circuit breaker.CircuitStatus
	Battery breaker.BatteryStatus

	Mode      output.Mode
	Phase     int
	PhaseName string
	Epoch     uint64
	Command   frame.CommandState

	Stats    frame.Statistics
	LinkUp   bool
	LinkInfo string
	Buffered int
}

// LogKind classifies a log entry
type LogKind int

const (
	LogInbound LogKind = iota
	LogOutbound
	LogDiagnostic
	LogAlert
)

func (k LogKind) String() string {
	switch k {
	case LogInbound:
		return "RX"
	case LogOutbound:
		return "TX"
	case LogDiagnostic:
		return "DIAG"
	case LogAlert:
		return "ALERT"
	default:
		return "?"
	}
}

// Alert identifies an event worth surfacing to the operator
type Alert int

const (
	AlertNone Alert = iota
	AlertTrip
	AlertResetRejected
	AlertResetAccepted
	AlertThresholdRejected
	AlertBatteryDead
	AlertBatteryRecovered
	AlertBypassChanged
	AlertLinkUp
	AlertLinkDown
)

func (a Alert) String() string {
	switch a {
	case AlertTrip:
		return "TRIP"
	case AlertResetRejected:
		return "RESET_REJECTED"
	case AlertResetAccepted:
		return "RESET"
	case AlertThresholdRejected:
		return "THRESHOLD_REJECTED"
	case AlertBatteryDead:
		return "BATTERY_DEAD"
	case AlertBatteryRecovered:
		return "BATTERY_RECOVERED"
	case AlertBypassChanged:
		return "BYPASS"
	case AlertLinkUp:
		return "LINK_UP"
	case AlertLinkDown:
		return "LINK_DOWN"
	default:
		return "NONE"
	}
}

// ParseAlert parses an alert name as printed by Alert.String
func ParseAlert(name string) (Alert, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for a := AlertTrip; a <= AlertLinkDown; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return AlertNone, fmt.Errorf("unknown alert %q", name)
}

// LogEntry is one line of the engine's log
type LogEntry struct {
	Time    time.Time
	Kind    LogKind
	Alert   Alert
	Message string
	Err     error
}

// IsError reports whether the entry describes a failure
func (e LogEntry) IsError() bool {
	if e.Err != nil {
		return true
	}
	switch e.Alert {
	case AlertTrip, AlertResetRejected, AlertThresholdRejected, AlertBatteryDead, AlertLinkDown:
		return true
	}
	return false
}

// MultiSink fans every call out to each sink in order
type MultiSink []Sink

func (m MultiSink) Telemetry(t Telemetry) {
	for _, s := range m {
		s.Telemetry(t)
	}
}

func (m MultiSink) State(st State) {
	for _, s := range m {
		s.State(st)
	}
}

func (m MultiSink) Outbound(f []byte) {
	for _, s := range m {
		s.Outbound(f)
	}
}

func (m MultiSink) Log(e LogEntry) {
	for _, s := range m {
		s.Log(e)
	}
}

// NopSink ignores everything. Embed it to implement only part of Sink.
type NopSink struct{}

func (NopSink) Telemetry(Telemetry) {}
func (NopSink) State(State)         {}
func (NopSink) Outbound([]byte)     {}
func (NopSink) Log(LogEntry)        {}
