// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"fmt"
	"time"
)

// Decoder parses extracted telemetry frames into records
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a new telemetry decoder
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode parses one raw frame, marker through terminator.
//
// A frame shorter than TelemetryFrameSize or with a malformed field yields a
// *DecodeError and no record. A checksum mismatch is not an error: the
// record is returned with Valid() == false.
func (d *Decoder) Decode(raw []byte) (*Record, error) {
	if len(raw) < TelemetryFrameSize {
		return nil, &DecodeError{
			Kind:    KindFrameTooShort,
			Message: fmt.Sprintf("frame too short: %d bytes (minimum %d)", len(raw), TelemetryFrameSize),
			Details: map[string]interface{}{"length": len(raw), "minimum": TelemetryFrameSize},
		}
	}

	if !bytes.HasPrefix(raw, []byte(StartMarker)) {
		return nil, fieldError("marker", raw[:len(StartMarker)], "missing start marker")
	}

	for _, off := range separatorOffsets {
		if raw[off] != ' ' {
			return nil, &DecodeError{
				Kind:    KindFieldFormat,
				Message: fmt.Sprintf("expected separator at offset %d, got %q", off, raw[off]),
				Details: map[string]interface{}{"offset": off, "byte": raw[off]},
			}
		}
	}

	seq, err := parseDigits("sequence", raw[sequenceOffset:sequenceOffset+sequenceWidth])
	if err != nil {
		return nil, err
	}

	var channels [ChannelCount]int
	for i := range channels {
		start := channelOffset + i*channelStride
		channels[i], err = parseDigits(fmt.Sprintf("adc%d", i), raw[start:start+channelWidth])
		if err != nil {
			return nil, err
		}
	}

	var inputs [DigitalInputCount]bool
	for i := range inputs {
		switch c := raw[digitalOffset+i]; c {
		case '0':
		case '1':
			inputs[i] = true
		default:
			return nil, fieldError("digital_input", raw[digitalOffset:digitalOffset+DigitalInputCount],
				fmt.Sprintf("digital input %d is %q, want '0' or '1'", i, c))
		}
	}

	received, err := parseDigits("checksum", raw[checksumOffset:checksumOffset+checksumWidth])
	if err != nil {
		return nil, err
	}

	return &Record{
		sequence:         seq,
		channels:         channels,
		inputs:           inputs,
		receivedChecksum: uint16(received),
		computedChecksum: Checksum(raw[len(StartMarker):checksumOffset]),
		timestamp:        d.now(),
	}, nil
}

func parseDigits(field string, data []byte) (int, error) {
	n := 0
	for _, c := range data {
		if c < '0' || c > '9' {
			return 0, fieldError(field, data, fmt.Sprintf("non-digit %q in %s field", c, field))
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func fieldError(field string, data []byte, msg string) *DecodeError {
	return &DecodeError{
		Kind:    KindFieldFormat,
		Message: msg,
		Details: map[string]interface{}{"field": field, "value": string(data)},
	}
}
