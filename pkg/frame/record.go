// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "time"

// Record represents a decoded telemetry frame
type Record struct {
	sequence         int
	channels         [ChannelCount]int
	inputs           [DigitalInputCount]bool
	receivedChecksum uint16
	computedChecksum uint16
	timestamp        time.Time
}

// NewRecord creates a record with the given fields
func NewRecord(sequence int, channels [ChannelCount]int, inputs [DigitalInputCount]bool, received, computed uint16) *Record {
	return &Record{
		sequence:         sequence,
		channels:         channels,
		inputs:           inputs,
		receivedChecksum: received,
		computedChecksum: computed,
		timestamp:        time.Now(),
	}
}

// Sequence returns the frame's packet number (0-999)
func (r *Record) Sequence() int {
	return r.sequence
}

// Channel returns the raw millivolt reading of analog channel i
func (r *Record) Channel(i int) int {
	return r.channels[i]
}

// Channels returns all six raw millivolt readings
func (r *Record) Channels() [ChannelCount]int {
	return r.channels
}

// Inputs returns the four digital input flags in wire order
func (r *Record) Inputs() [DigitalInputCount]bool {
	return r.inputs
}

// InputMask packs the digital inputs into a 4-bit mask, first input in the high bit
func (r *Record) InputMask() uint8 {
	var mask uint8
	for i, on := range r.inputs {
		if on {
			mask |= 1 << (DigitalInputCount - 1 - i)
		}
	}
	return mask
}

// ReceivedChecksum returns the checksum carried by the frame
func (r *Record) ReceivedChecksum() uint16 {
	return r.receivedChecksum
}

// ComputedChecksum returns the checksum computed over the received bytes
func (r *Record) ComputedChecksum() uint16 {
	return r.computedChecksum
}

// Valid reports whether the received and computed checksums agree.
// Invalid records are still decoded but must not be trusted.
func (r *Record) Valid() bool {
	return r.receivedChecksum == r.computedChecksum
}

// Timestamp returns the record's decode timestamp
func (r *Record) Timestamp() time.Time {
	return r.timestamp
}
