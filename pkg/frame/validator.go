// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// AnomalyType classifies a record that decoded but looks wrong
type AnomalyType int

const (
	AnomalyChecksum AnomalyType = iota
	AnomalySaturated
	AnomalyLEDAboveBus
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyChecksum:
		return "CHECKSUM"
	case AnomalySaturated:
		return "SATURATED"
	case AnomalyLEDAboveBus:
		return "LED_ABOVE_BUS"
	default:
		return "UNKNOWN"
	}
}

// ValidationError describes one anomaly in a decoded record
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateRecord checks a decoded record for values the board cannot
// produce. It returns nil when nothing is wrong.
func ValidateRecord(r *Record) []ValidationError {
	var errs []ValidationError

	if !r.Valid() {
		errs = append(errs, ValidationError{
			Type: AnomalyChecksum,
			Message: fmt.Sprintf("checksum mismatch: received %s, computed %s",
				FormatChecksum(r.receivedChecksum), FormatChecksum(r.computedChecksum)),
			Details: map[string]interface{}{"received": r.receivedChecksum, "computed": r.computedChecksum},
		})
	}

	for i, mv := range r.channels {
		if mv >= MaxMillivolts {
			errs = append(errs, ValidationError{
				Type:    AnomalySaturated,
				Message: fmt.Sprintf("adc%d saturated at %d mV", i, mv),
				Details: map[string]interface{}{"channel": i, "millivolts": mv},
			})
		}
	}

	// LED sense resistors sit below the bus
	bus := r.channels[ChannelBus]
	for led := LEDYellow; led < LEDCount; led++ {
		if mv := r.channels[led.Channel()]; mv > bus {
			errs = append(errs, ValidationError{
				Type:    AnomalyLEDAboveBus,
				Message: fmt.Sprintf("%s LED sense %d mV above bus %d mV", led, mv, bus),
				Details: map[string]interface{}{"led": led.String(), "millivolts": mv, "bus": bus},
			})
		}
	}

	return errs
}
