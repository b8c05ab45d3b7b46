// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// Framing
const (
	StartMarker = "###"
	Terminator  = "\r\n"

	// MaxBufferSize bounds the bytes the extractor retains without
	// resolving a frame. Exceeding it discards the buffer.
	MaxBufferSize = 1000
)

// Telemetry frame layout (space-delimited revision)
//
//	###SSS AAAA AAAA AAAA AAAA AAAA AAAA DDDD CCC\r\n
const (
	ChannelCount      = 6
	DigitalInputCount = 4

	TelemetryFrameSize = 47

	sequenceOffset = 3
	sequenceWidth  = 3
	channelOffset  = 7
	channelWidth   = 4
	channelStride  = 5
	digitalOffset  = 37
	checksumOffset = 42
	checksumWidth  = 3
)

// Telemetry separator positions
var separatorOffsets = [...]int{6, 11, 16, 21, 26, 31, 36, 41}

// Command frame layout: ###BYRGCCC\r\n
const (
	CommandFrameSize = len(StartMarker) + commandDigits + checksumWidth + len(Terminator)

	commandDigits = 4
)

// Numeric ranges
const (
	ChecksumModulo = 1000
	SequenceModulo = 1000
	MaxMillivolts  = 9999
)

// Analog channel assignments
const (
	ChannelSolar   = 0
	ChannelYellow  = 1
	ChannelRed     = 2
	ChannelGreen   = 3
	ChannelBattery = 4
	ChannelBus     = 5
)

// LED identifies one of the three switched indicator outputs.
type LED int

const (
	LEDYellow LED = iota
	LEDRed
	LEDGreen

	LEDCount = 3
)

// Channel returns the analog channel that senses the LED's low side.
func (l LED) Channel() int {
	return ChannelYellow + int(l)
}

func (l LED) String() string {
	switch l {
	case LEDYellow:
		return "yellow"
	case LEDRed:
		return "red"
	case LEDGreen:
		return "green"
	default:
		return "unknown"
	}
}
