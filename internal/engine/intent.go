// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

// IntentHelp lists the commands understood by ParseIntent
const IntentHelp = `toggle <yellow|red|green>    flip one LED (manual mode)
led <yellow|red|green> <on|off>
mode <manual|traffic|pattern>
trip <mA>                    discharge trip threshold
low <V>                      undervoltage threshold
bypass <on|off>
reset                        reset the breaker`

// ParseIntent parses one operator command line into an event
func ParseIntent(line string) (Event, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	args := fields[1:]
	switch fields[0] {
	case "toggle", "t":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: toggle <yellow|red|green>")
		}
		led, err := parseLED(args[0])
		if err != nil {
			return nil, err
		}
		return ToggleLED{LED: led}, nil

	case "led":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: led <yellow|red|green> <on|off>")
		}
		led, err := parseLED(args[0])
		if err != nil {
			return nil, err
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return nil, err
		}
		return SetLED{LED: led, On: on}, nil

	case "mode", "m":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: mode <manual|traffic|pattern>")
		}
		mode, err := output.ParseMode(args[0])
		if err != nil {
			return nil, err
		}
		return SetMode{Mode: mode}, nil

	case "trip":
		v, err := parseFloatArg("trip", args)
		if err != nil {
			return nil, err
		}
		return SetTripThreshold{MilliAmps: v}, nil

	case "low":
		v, err := parseFloatArg("low", args)
		if err != nil {
			return nil, err
		}
		return SetLowVoltage{Volts: v}, nil

	case "bypass":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: bypass <on|off>")
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return nil, err
		}
		return SetBypass{Enabled: on}, nil

	case "reset":
		return ResetBreaker{}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseLED(s string) (frame.LED, error) {
	switch s {
	case "yellow", "y":
		return frame.LEDYellow, nil
	case "red", "r":
		return frame.LEDRed, nil
	case "green", "g":
		return frame.LEDGreen, nil
	default:
		return 0, fmt.Errorf("unknown LED %q", s)
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func parseFloatArg(name string, args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s <value>", name)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, args[0], err)
	}
	return v, nil
}
