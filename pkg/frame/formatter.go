// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
	"strings"
)

// FormatRecord formats a record into a human-readable line
func FormatRecord(r *Record) string {
	timestamp := r.timestamp.Format("15:04:05.000")

	var ch strings.Builder
	for i, mv := range r.channels {
		if i > 0 {
			ch.WriteByte(' ')
		}
		fmt.Fprintf(&ch, "adc%d=%4d", i, mv)
	}

	result := fmt.Sprintf("[%s] TELEMETRY seq=%03d %s in=%04b chk=%s",
		timestamp, r.sequence, ch.String(), r.InputMask(), FormatChecksum(r.receivedChecksum))
	if !r.Valid() {
		result += fmt.Sprintf(" (CHECKSUM MISMATCH: computed %s)", FormatChecksum(r.computedChecksum))
	}
	return result + "\n"
}

// FormatCommand formats an outbound command frame
func FormatCommand(raw []byte, pol Polarity) string {
	cmd, err := DecodeCommand(raw, pol)
	if err != nil {
		return fmt.Sprintf("COMMAND %q (%v)\n", FormatRaw(raw), err)
	}
	return fmt.Sprintf("COMMAND %s %s\n", FormatRaw(raw), cmd)
}

// FormatDecodeError formats a decode failure with its details
func FormatDecodeError(err error) string {
	var de *DecodeError
	if !errors.As(err, &de) {
		return fmt.Sprintf("[ERROR] %v\n", err)
	}
	return fmt.Sprintf("[ERROR] %s: %s\n", de.Kind, de.Message)
}

// FormatRaw renders frame bytes with the terminator stripped
func FormatRaw(raw []byte) string {
	return strings.TrimRight(string(raw), Terminator)
}
