// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

// Mode selects who drives the LEDs
type Mode int

const (
	ModeManual Mode = iota
	ModeTraffic
	ModePattern
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeTraffic:
		return "traffic"
	case ModePattern:
		return "pattern"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as printed by Mode.String
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return ModeManual, nil
	case "traffic":
		return ModeTraffic, nil
	case "pattern", "holiday":
		return ModePattern, nil
	default:
		return 0, fmt.Errorf("unknown output mode %q", s)
	}
}

// Phase is one step of an autonomous cycle
type Phase struct {
	Name     string
	Duration time.Duration
	LEDs     [frame.LEDCount]bool
}

func lit(leds ...frame.LED) [frame.LEDCount]bool {
	var out [frame.LEDCount]bool
	for _, l := range leds {
		out[l] = true
	}
	return out
}

// DefaultTrafficPhases returns the traffic light cycle: green, yellow, red
func DefaultTrafficPhases() []Phase {
	return []Phase{
		{Name: "green", Duration: 4000 * time.Millisecond, LEDs: lit(frame.LEDGreen)},
		{Name: "yellow", Duration: 2000 * time.Millisecond, LEDs: lit(frame.LEDYellow)},
		{Name: "red", Duration: 7000 * time.Millisecond, LEDs: lit(frame.LEDRed)},
	}
}

// DefaultPatternPhases returns the six-step holiday pattern
func DefaultPatternPhases() []Phase {
	const step = 500 * time.Millisecond
	return []Phase{
		{Name: "yellow", Duration: step, LEDs: lit(frame.LEDYellow)},
		{Name: "red", Duration: step, LEDs: lit(frame.LEDRed)},
		{Name: "green", Duration: step, LEDs: lit(frame.LEDGreen)},
		{Name: "yellow+red", Duration: step, LEDs: lit(frame.LEDYellow, frame.LEDRed)},
		{Name: "red+green", Duration: step, LEDs: lit(frame.LEDRed, frame.LEDGreen)},
		{Name: "all", Duration: step, LEDs: lit(frame.LEDYellow, frame.LEDRed, frame.LEDGreen)},
	}
}

// ValidatePhases rejects an empty cycle or a non-positive duration
func ValidatePhases(phases []Phase) error {
	if len(phases) == 0 {
		return fmt.Errorf("cycle has no phases")
	}
	for i, p := range phases {
		if p.Duration <= 0 {
			return fmt.Errorf("phase %d (%s): duration must be positive", i, p.Name)
		}
	}
	return nil
}
