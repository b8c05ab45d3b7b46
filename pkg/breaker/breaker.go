// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package breaker implements the latching overcurrent and undervoltage trip
// logic, with battery-dead hysteresis and an operator bypass.
package breaker

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/helioguard/pkg/conditioner"
)

// Thresholds and bounds
const (
	DefaultTripThresholdMA = 1.5
	DefaultLowVoltageV     = 1.9
	RecoveryVoltageV       = 2.2

	MinTripThresholdMA = 0.1
	MaxTripThresholdMA = 100.0
	MinLowVoltageV     = 0.1
	MaxLowVoltageV     = 5.0
)

// ErrResetRejected is returned by Reset while the battery is dead
var ErrResetRejected = errors.New("breaker reset rejected: battery dead")

// ThresholdError reports a threshold change outside its bounds
type ThresholdError struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%s %g out of bounds [%g, %g]", e.Name, e.Value, e.Min, e.Max)
}

// TripReason records why the breaker last tripped
type TripReason int

const (
	ReasonNone TripReason = iota
	ReasonUndervoltage
	ReasonOvercurrent
)

func (r TripReason) String() string {
	switch r {
	case ReasonUndervoltage:
		return "UNDERVOLTAGE"
	case ReasonOvercurrent:
		return "OVERCURRENT"
	default:
		return "NONE"
	}
}

// CircuitStatus is the display category for the breaker
type CircuitStatus int

const (
	CircuitOn CircuitStatus = iota
	CircuitTripped
	CircuitBypassed
)

func (c CircuitStatus) String() string {
	switch c {
	case CircuitTripped:
		return "Tripped"
	case CircuitBypassed:
		return "Bypassed"
	default:
		return "On"
	}
}

// BatteryStatus is the display category for the battery
type BatteryStatus int

const (
	BatteryCharging BatteryStatus = iota
	BatteryDischarging
	BatteryDead
)

func (b BatteryStatus) String() string {
	switch b {
	case BatteryDischarging:
		return "Discharging"
	case BatteryDead:
		return "Dead"
	default:
		return "Charging"
	}
}

// Result describes what one evaluation changed
type Result struct {
	Tripped     bool // breaker went from closed to tripped
	Reason      TripReason
	DeadChanged bool
	BatteryDead bool
}

// State is a copy of the breaker's current state
type State struct {
	Tripped          bool
	BatteryDead      bool
	Bypassed         bool
	Reason           TripReason
	TripThresholdMA  float64
	LowVoltageV      float64
	RecoveryVoltageV float64
}

// Breaker is the protection state machine. It is not safe for concurrent
// use; the engine serializes every call.
type Breaker struct {
	tripped  bool
	dead     bool
	bypassed bool
	reason   TripReason

	tripThresholdMA float64
	lowVoltageV     float64
	recoveryV       float64

	lastCurrentMA float64
}

// New creates a closed breaker with default thresholds
func New() *Breaker {
	return &Breaker{
		tripThresholdMA: DefaultTripThresholdMA,
		lowVoltageV:     DefaultLowVoltageV,
		recoveryV:       RecoveryVoltageV,
	}
}

// Evaluate applies one conditioned sample.
//
// Battery-dead tracking runs on every sample. Tripping is only considered
// while the breaker is closed and not bypassed; undervoltage is checked
// before discharge overcurrent.
func (b *Breaker) Evaluate(s conditioner.Sample) Result {
	v := s.BatteryVoltage
	i := s.BatteryCurrentMA
	b.lastCurrentMA = i

	var res Result

	wasDead := b.dead
	switch {
	case v < b.lowVoltageV:
		b.dead = true
	case v >= b.recoveryV && v >= b.lowVoltageV:
		b.dead = false
	}
	res.DeadChanged = wasDead != b.dead
	res.BatteryDead = b.dead

	if b.bypassed || b.tripped {
		return res
	}

	switch {
	case v < b.lowVoltageV:
		b.trip(ReasonUndervoltage)
	case i < 0 && -i > b.tripThresholdMA:
		b.trip(ReasonOvercurrent)
	default:
		return res
	}

	res.Tripped = true
	res.Reason = b.reason
	return res
}

func (b *Breaker) trip(reason TripReason) {
	b.tripped = true
	b.reason = reason
}

// Reset attempts to close the breaker.
//
// While bypassed, Reset always succeeds. While the battery is dead the
// breaker is re-tripped and ErrResetRejected is returned.
func (b *Breaker) Reset() error {
	if b.bypassed {
		return nil
	}
	if b.dead {
		b.trip(ReasonUndervoltage)
		return ErrResetRejected
	}
	b.tripped = false
	b.reason = ReasonNone
	return nil
}

// SetBypass enables or disables the bypass. Enabling it clears a trip and
// reports whether one was cleared. Disabling it never re-trips.
func (b *Breaker) SetBypass(on bool) (cleared bool) {
	b.bypassed = on
	if on && b.tripped {
		b.tripped = false
		b.reason = ReasonNone
		return true
	}
	return false
}

// SetTripThreshold sets the discharge current trip threshold in mA
func (b *Breaker) SetTripThreshold(mA float64) error {
	if !(mA >= MinTripThresholdMA && mA <= MaxTripThresholdMA) {
		return &ThresholdError{Name: "trip threshold (mA)", Value: mA, Min: MinTripThresholdMA, Max: MaxTripThresholdMA}
	}
	b.tripThresholdMA = mA
	return nil
}

// SetLowVoltage sets the undervoltage threshold in volts
func (b *Breaker) SetLowVoltage(v float64) error {
	if !(v >= MinLowVoltageV && v <= MaxLowVoltageV) {
		return &ThresholdError{Name: "low voltage threshold (V)", Value: v, Min: MinLowVoltageV, Max: MaxLowVoltageV}
	}
	b.lowVoltageV = v
	return nil
}

// Tripped reports whether the breaker is latched open
func (b *Breaker) Tripped() bool { return b.tripped }

// BatteryDead reports the hysteresis flag
func (b *Breaker) BatteryDead() bool { return b.dead }

// Bypassed reports whether protection is bypassed
func (b *Breaker) Bypassed() bool { return b.bypassed }

// Circuit returns the circuit display category
func (b *Breaker) Circuit() CircuitStatus {
	switch {
	case b.bypassed:
		return CircuitBypassed
	case b.tripped:
		return CircuitTripped
	default:
		return CircuitOn
	}
}

// Battery returns the battery display category for the last sample
func (b *Breaker) Battery() BatteryStatus {
	switch {
	case b.dead:
		return BatteryDead
	case b.lastCurrentMA >= 0:
		return BatteryCharging
	default:
		return BatteryDischarging
	}
}

// State returns a copy of the current state
func (b *Breaker) State() State {
	return State{
		Tripped:          b.tripped,
		BatteryDead:      b.dead,
		Bypassed:         b.bypassed,
		Reason:           b.reason,
		TripThresholdMA:  b.tripThresholdMA,
		LowVoltageV:      b.lowVoltageV,
		RecoveryVoltageV: b.recoveryV,
	}
}
