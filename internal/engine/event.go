// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

// Event is anything the engine loop consumes
type Event interface {
	isEvent()
}

// BytesArrived carries raw bytes read from the link
type BytesArrived struct {
	Data []byte
}

// TimerExpired is posted when a phase timer fires
type TimerExpired struct {
	Mode  output.Mode
	Epoch uint64
}

// LinkChanged reports the transport coming up or going down
type LinkChanged struct {
	Up   bool
	Info string
	Err  error
}

// ToggleLED flips one LED in manual mode
type ToggleLED struct {
	LED frame.LED
}

// SetLED drives one LED in manual mode
type SetLED struct {
	LED frame.LED
	On  bool
}

// SetMode selects the output mode
type SetMode struct {
	Mode output.Mode
}

// SetTripThreshold sets the discharge trip threshold
type SetTripThreshold struct {
	MilliAmps float64
}

// SetLowVoltage sets the undervoltage threshold
type SetLowVoltage struct {
	Volts float64
}

// SetBypass enables or disables the breaker bypass
type SetBypass struct {
	Enabled bool
}

// ResetBreaker asks to close a tripped breaker
type ResetBreaker struct{}

func (BytesArrived) isEvent()     {}
func (TimerExpired) isEvent()     {}
func (LinkChanged) isEvent()      {}
func (ToggleLED) isEvent()        {}
func (SetLED) isEvent()           {}
func (SetMode) isEvent()          {}
func (SetTripThreshold) isEvent() {}
func (SetLowVoltage) isEvent()    {}
func (SetBypass) isEvent()        {}
func (ResetBreaker) isEvent()     {}
