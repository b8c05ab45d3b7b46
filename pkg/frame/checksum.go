// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// Checksum returns the sum of the byte values in data, modulo 1000.
func Checksum(data []byte) uint16 {
	sum := 0
	for _, b := range data {
		sum += int(b)
	}
	return uint16(sum % ChecksumModulo)
}

// FormatChecksum renders a checksum as three zero-padded decimal digits.
func FormatChecksum(sum uint16) string {
	return fmt.Sprintf("%03d", sum%ChecksumModulo)
}
