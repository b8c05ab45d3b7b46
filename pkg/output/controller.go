// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package output arbitrates between manual LED control, the autonomous
// traffic and pattern cycles, and protection lockout.
package output

import (
	"errors"
	"time"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

var (
	// ErrLocked is returned for manual or mode intents while tripped
	ErrLocked = errors.New("outputs locked by breaker trip")
	// ErrNotManual is returned for LED intents outside manual mode
	ErrNotManual = errors.New("LED control requires manual mode")
)

// Timer schedules the single-shot phase timer.
//
// Implementations deliver expiry as a call to Controller.Expire with the
// mode and epoch given to Schedule, on the same goroutine as every other
// controller call. Cancel need not prevent an in-flight delivery.
type Timer interface {
	Schedule(d time.Duration, mode Mode, epoch uint64)
	Cancel()
}

// Controller is the output mode state machine
type Controller struct {
	timer  Timer
	cycles map[Mode][]Phase

	mode   Mode
	phase  int
	epoch  uint64
	manual [frame.LEDCount]bool
	locked bool
}

// NewController creates a controller in manual mode with all outputs off
func NewController(timer Timer, traffic, pattern []Phase) *Controller {
	return &Controller{
		timer: timer,
		cycles: map[Mode][]Phase{
			ModeTraffic: traffic,
			ModePattern: pattern,
		},
	}
}

// SetMode switches mode, cancelling the running timer and restarting the
// new mode from its first phase. The returned state should be published.
func (c *Controller) SetMode(m Mode) (frame.CommandState, error) {
	if c.locked {
		return c.Command(), ErrLocked
	}
	if m != ModeManual {
		if len(c.cycles[m]) == 0 {
			return c.Command(), errors.New("output mode has no phases")
		}
	}
	c.enter(m)
	return c.Command(), nil
}

func (c *Controller) enter(m Mode) {
	c.timer.Cancel()
	c.epoch++
	c.mode = m
	c.phase = 0
	c.manual = [frame.LEDCount]bool{}

	if phases := c.cycles[m]; m != ModeManual && len(phases) > 0 {
		c.timer.Schedule(phases[0].Duration, m, c.epoch)
	}
}

// Toggle flips one LED in manual mode
func (c *Controller) Toggle(led frame.LED) (frame.CommandState, error) {
	return c.SetLED(led, !c.manual[led])
}

// SetLED drives one LED in manual mode
func (c *Controller) SetLED(led frame.LED, on bool) (frame.CommandState, error) {
	switch {
	case c.locked:
		return c.Command(), ErrLocked
	case c.mode != ModeManual:
		return c.Command(), ErrNotManual
	}
	c.manual[led] = on
	return c.Command(), nil
}

// Expire handles a phase timer firing. A timer from an earlier mode or
// epoch, or any timer while locked, is ignored. Otherwise the phase
// advances, the timer is rescheduled and ok is true.
func (c *Controller) Expire(m Mode, epoch uint64) (cmd frame.CommandState, ok bool) {
	if c.locked || m != c.mode || epoch != c.epoch || m == ModeManual {
		return c.Command(), false
	}

	phases := c.cycles[m]
	c.phase = (c.phase + 1) % len(phases)
	c.timer.Schedule(phases[c.phase].Duration, m, c.epoch)
	return c.Command(), true
}

// Trip forces manual mode with only the trip indicator asserted and locks
// out further mode and LED intents.
func (c *Controller) Trip() frame.CommandState {
	c.enter(ModeManual)
	c.locked = true
	return c.Command()
}

// Release unlocks the outputs and forces manual mode with everything off
func (c *Controller) Release() frame.CommandState {
	c.locked = false
	c.enter(ModeManual)
	return c.Command()
}

// Suspend cancels any autonomous cycle without changing the lock.
// Used when the link goes down.
func (c *Controller) Suspend() frame.CommandState {
	c.enter(ModeManual)
	return c.Command()
}

// Command returns the output state for the current mode and phase
func (c *Controller) Command() frame.CommandState {
	switch {
	case c.locked:
		return frame.CommandState{Indicator: true}
	case c.mode == ModeManual:
		return frame.CommandState{LEDs: c.manual}
	default:
		return frame.CommandState{LEDs: c.cycles[c.mode][c.phase].LEDs}
	}
}

// Mode returns the active mode
func (c *Controller) Mode() Mode { return c.mode }

// Phase returns the active phase index; always 0 in manual mode
func (c *Controller) Phase() int { return c.phase }

// PhaseName returns the active phase's name, or "" in manual mode
func (c *Controller) PhaseName() string {
	if c.mode == ModeManual {
		return ""
	}
	return c.cycles[c.mode][c.phase].Name
}

// Epoch returns the current mode epoch
func (c *Controller) Epoch() uint64 { return c.epoch }

// Locked reports whether a trip has locked the outputs
func (c *Controller) Locked() bool { return c.locked }
