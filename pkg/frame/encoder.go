// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"fmt"
)

// CommandState is the logical on/off state of every switched output
type CommandState struct {
	Indicator bool // trip indicator (blue)
	LEDs      [LEDCount]bool
}

// Lit reports whether the given LED is commanded on
func (c CommandState) Lit(led LED) bool {
	return c.LEDs[led]
}

func (c CommandState) String() string {
	return fmt.Sprintf("indicator=%t yellow=%t red=%t green=%t",
		c.Indicator, c.LEDs[LEDYellow], c.LEDs[LEDRed], c.LEDs[LEDGreen])
}

// Polarity records which outputs are asserted low, meaning "on" is sent as '0'
type Polarity struct {
	IndicatorActiveLow bool
	LEDActiveLow       [LEDCount]bool
}

// DefaultPolarity drives the indicator active-high and the LEDs active-low
func DefaultPolarity() Polarity {
	return Polarity{
		IndicatorActiveLow: false,
		LEDActiveLow:       [LEDCount]bool{true, true, true},
	}
}

func encodeBit(on, activeLow bool) byte {
	if on != activeLow {
		return '1'
	}
	return '0'
}

func decodeBit(c byte, activeLow bool) (bool, error) {
	switch c {
	case '0':
		return activeLow, nil
	case '1':
		return !activeLow, nil
	default:
		return false, fmt.Errorf("invalid command digit %q", c)
	}
}

// EncodeCommand serializes a command state into a wire frame:
// "###" + indicator, yellow, red, green digits + checksum + "\r\n".
// The checksum covers the four digit characters.
func EncodeCommand(cmd CommandState, pol Polarity) []byte {
	digits := []byte{
		encodeBit(cmd.Indicator, pol.IndicatorActiveLow),
		encodeBit(cmd.LEDs[LEDYellow], pol.LEDActiveLow[LEDYellow]),
		encodeBit(cmd.LEDs[LEDRed], pol.LEDActiveLow[LEDRed]),
		encodeBit(cmd.LEDs[LEDGreen], pol.LEDActiveLow[LEDGreen]),
	}

	out := make([]byte, 0, CommandFrameSize)
	out = append(out, StartMarker...)
	out = append(out, digits...)
	out = append(out, FormatChecksum(Checksum(digits))...)
	out = append(out, Terminator...)
	return out
}

// DecodeCommand parses a command frame produced by EncodeCommand
func DecodeCommand(raw []byte, pol Polarity) (CommandState, error) {
	var cmd CommandState

	if len(raw) < CommandFrameSize {
		return cmd, &DecodeError{
			Kind:    KindFrameTooShort,
			Message: fmt.Sprintf("command frame too short: %d bytes (minimum %d)", len(raw), CommandFrameSize),
			Details: map[string]interface{}{"length": len(raw), "minimum": CommandFrameSize},
		}
	}
	if !bytes.HasPrefix(raw, []byte(StartMarker)) {
		return cmd, fieldError("marker", raw[:len(StartMarker)], "missing start marker")
	}

	digits := raw[len(StartMarker) : len(StartMarker)+commandDigits]
	received, err := parseDigits("checksum", raw[len(StartMarker)+commandDigits:len(StartMarker)+commandDigits+checksumWidth])
	if err != nil {
		return cmd, err
	}
	if computed := Checksum(digits); uint16(received) != computed {
		return cmd, fmt.Errorf("command checksum mismatch: received %03d, computed %03d", received, computed)
	}

	if cmd.Indicator, err = decodeBit(digits[0], pol.IndicatorActiveLow); err != nil {
		return cmd, err
	}
	for i := 0; i < LEDCount; i++ {
		if cmd.LEDs[i], err = decodeBit(digits[1+i], pol.LEDActiveLow[i]); err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

// EncodeTelemetry builds a canonical telemetry frame with a correct checksum.
// Out-of-range values are clamped to their field width.
func EncodeTelemetry(sequence int, channels [ChannelCount]int, inputs [DigitalInputCount]bool) []byte {
	var b bytes.Buffer
	b.Grow(TelemetryFrameSize)

	b.WriteString(StartMarker)
	fmt.Fprintf(&b, "%03d", ((sequence%SequenceModulo)+SequenceModulo)%SequenceModulo)
	for _, mv := range channels {
		fmt.Fprintf(&b, " %04d", min(max(mv, 0), MaxMillivolts))
	}
	b.WriteByte(' ')
	for _, on := range inputs {
		if on {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	b.WriteByte(' ')

	sum := Checksum(b.Bytes()[len(StartMarker):])
	b.WriteString(FormatChecksum(sum))
	b.WriteString(Terminator)
	return b.Bytes()
}
