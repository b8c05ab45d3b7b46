// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package output

import (
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

type scheduled struct {
	d     time.Duration
	mode  Mode
	epoch uint64
}

// fakeTimer records Schedule and Cancel calls
type fakeTimer struct {
	scheduled []scheduled
	cancels   int
	pending   *scheduled
}

func (f *fakeTimer) Schedule(d time.Duration, mode Mode, epoch uint64) {
	s := scheduled{d, mode, epoch}
	f.scheduled = append(f.scheduled, s)
	f.pending = &s
}

func (f *fakeTimer) Cancel() {
	f.cancels++
	f.pending = nil
}

// fire delivers the pending expiry, as the engine loop would
func (f *fakeTimer) fire(c *Controller) (frame.CommandState, bool) {
	p := f.pending
	f.pending = nil
	return c.Expire(p.mode, p.epoch)
}

func newController() (*Controller, *fakeTimer) {
	timer := &fakeTimer{}
	return NewController(timer, DefaultTrafficPhases(), DefaultPatternPhases()), timer
}

func leds(y, r, g bool) [frame.LEDCount]bool {
	return [frame.LEDCount]bool{y, r, g}
}

// ============================================================
// Mode Tests
// ============================================================

func TestController_StartsManualOff(t *testing.T) {
	c, timer := newController()

	if c.Mode() != ModeManual {
		t.Errorf("Mode() = %s, want manual", c.Mode())
	}
	if c.Command() != (frame.CommandState{}) {
		t.Errorf("Command() = %v, want all off", c.Command())
	}
	if len(timer.scheduled) != 0 {
		t.Errorf("timer scheduled in manual mode: %v", timer.scheduled)
	}
}

func TestController_TrafficCycle(t *testing.T) {
	c, timer := newController()

	cmd, err := c.SetMode(ModeTraffic)
	if err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if cmd.LEDs != leds(false, false, true) {
		t.Errorf("initial traffic LEDs = %v, want green", cmd.LEDs)
	}
	if timer.pending == nil || timer.pending.d != 4000*time.Millisecond {
		t.Fatalf("pending = %+v, want 4s", timer.pending)
	}

	wantPhases := []struct {
		leds [frame.LEDCount]bool
		d    time.Duration
	}{
		{leds(true, false, false), 2000 * time.Millisecond},
		{leds(false, true, false), 7000 * time.Millisecond},
		{leds(false, false, true), 4000 * time.Millisecond},
	}
	for i, want := range wantPhases {
		cmd, ok := timer.fire(c)
		if !ok {
			t.Fatalf("step %d: Expire() ok = false", i)
		}
		if cmd.LEDs != want.leds {
			t.Errorf("step %d: LEDs = %v, want %v", i, cmd.LEDs, want.leds)
		}
		if timer.pending.d != want.d {
			t.Errorf("step %d: rescheduled %v, want %v", i, timer.pending.d, want.d)
		}
	}
}

func TestController_PatternCycleWraps(t *testing.T) {
	c, timer := newController()
	c.SetMode(ModePattern)

	phases := DefaultPatternPhases()
	for i := 1; i <= len(phases); i++ {
		timer.fire(c)
		if want := i % len(phases); c.Phase() != want {
			t.Fatalf("Phase() = %d, want %d", c.Phase(), want)
		}
	}
	if c.Command().LEDs != phases[0].LEDs {
		t.Errorf("after wrap LEDs = %v, want %v", c.Command().LEDs, phases[0].LEDs)
	}
	if c.PhaseName() != "yellow" {
		t.Errorf("PhaseName() = %q, want yellow", c.PhaseName())
	}
}

func TestController_ModeSwitchCancelsAndIgnoresStaleEpoch(t *testing.T) {
	c, timer := newController()

	c.SetMode(ModeTraffic)
	timer.fire(c) // now yellow
	stale := *timer.pending

	cancels := timer.cancels
	cmd, err := c.SetMode(ModeManual)
	if err != nil {
		t.Fatal(err)
	}
	if timer.cancels != cancels+1 {
		t.Error("SetMode did not cancel the pending timer")
	}
	if cmd != (frame.CommandState{}) {
		t.Errorf("manual Command() = %v, want all off", cmd)
	}

	// the in-flight callback still arrives
	if _, ok := c.Expire(stale.mode, stale.epoch); ok {
		t.Error("stale expiry was applied")
	}
	if c.Mode() != ModeManual || c.Phase() != 0 {
		t.Errorf("state changed by stale expiry: %s/%d", c.Mode(), c.Phase())
	}
	if timer.pending != nil {
		t.Error("stale expiry rescheduled the timer")
	}
}

func TestController_StaleEpochSameMode(t *testing.T) {
	c, timer := newController()

	c.SetMode(ModeTraffic)
	stale := *timer.pending
	c.SetMode(ModeTraffic)

	if _, ok := c.Expire(stale.mode, stale.epoch); ok {
		t.Error("expiry from previous traffic run was applied")
	}
	if c.Phase() != 0 {
		t.Errorf("Phase() = %d, want 0", c.Phase())
	}
}

// ============================================================
// Manual Control Tests
// ============================================================

func TestController_ManualToggle(t *testing.T) {
	c, _ := newController()

	cmd, err := c.Toggle(frame.LEDRed)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.LEDs != leds(false, true, false) {
		t.Errorf("LEDs = %v, want red", cmd.LEDs)
	}

	cmd, _ = c.Toggle(frame.LEDRed)
	if cmd.LEDs != leds(false, false, false) {
		t.Errorf("LEDs = %v, want off", cmd.LEDs)
	}

	cmd, _ = c.SetLED(frame.LEDGreen, true)
	if !cmd.Lit(frame.LEDGreen) {
		t.Error("green not lit after SetLED")
	}
}

func TestController_ToggleRejectedOutsideManual(t *testing.T) {
	c, _ := newController()
	c.SetMode(ModePattern)

	if _, err := c.Toggle(frame.LEDYellow); !errors.Is(err, ErrNotManual) {
		t.Errorf("Toggle() error = %v, want ErrNotManual", err)
	}
}

// ============================================================
// Trip Lockout Tests
// ============================================================

func TestController_TripForcesIndicatorOnly(t *testing.T) {
	c, timer := newController()
	c.SetMode(ModeTraffic)
	stale := *timer.pending

	cmd := c.Trip()
	if cmd != (frame.CommandState{Indicator: true}) {
		t.Errorf("Trip() = %v, want indicator only", cmd)
	}
	if c.Mode() != ModeManual || !c.Locked() {
		t.Errorf("Mode/Locked = %s/%v, want manual/true", c.Mode(), c.Locked())
	}
	if timer.pending != nil {
		t.Error("Trip did not cancel the timer")
	}
	if _, ok := c.Expire(stale.mode, stale.epoch); ok {
		t.Error("timer advanced while tripped")
	}

	if _, err := c.SetMode(ModePattern); !errors.Is(err, ErrLocked) {
		t.Errorf("SetMode() while tripped = %v, want ErrLocked", err)
	}
	if _, err := c.Toggle(frame.LEDGreen); !errors.Is(err, ErrLocked) {
		t.Errorf("Toggle() while tripped = %v, want ErrLocked", err)
	}
}

func TestController_ExpireIgnoredWhileLocked(t *testing.T) {
	c, _ := newController()
	c.Trip()

	if _, ok := c.Expire(ModeManual, c.Epoch()); ok {
		t.Error("Expire applied while locked")
	}
}

func TestController_Release(t *testing.T) {
	c, _ := newController()
	c.Trip()

	cmd := c.Release()
	if cmd != (frame.CommandState{}) {
		t.Errorf("Release() = %v, want all off", cmd)
	}
	if c.Locked() {
		t.Error("Locked() = true after Release")
	}
	if _, err := c.Toggle(frame.LEDYellow); err != nil {
		t.Errorf("Toggle() after Release = %v", err)
	}
}

func TestController_SuspendKeepsLock(t *testing.T) {
	c, timer := newController()
	c.SetMode(ModePattern)

	c.Suspend()
	if c.Mode() != ModeManual || timer.pending != nil {
		t.Errorf("Suspend left mode %s pending %v", c.Mode(), timer.pending)
	}

	c.Trip()
	if cmd := c.Suspend(); !cmd.Indicator {
		t.Error("Suspend dropped the trip indicator")
	}
}

// ============================================================
// Mode Parsing Tests
// ============================================================

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeManual, ModeTraffic, ModePattern} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("disco"); err == nil {
		t.Error("ParseMode(disco) error = nil")
	}
}

func TestValidatePhases(t *testing.T) {
	if err := ValidatePhases(DefaultTrafficPhases()); err != nil {
		t.Errorf("traffic: %v", err)
	}
	if err := ValidatePhases(nil); err == nil {
		t.Error("empty cycle accepted")
	}
	if err := ValidatePhases([]Phase{{Name: "x"}}); err == nil {
		t.Error("zero duration accepted")
	}
}
