// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics, sequence gaps and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	ChecksumErrors uint64
	DecodeErrors   uint64
	ShortFrames    uint64
	FormatErrors   uint64
	Overflows      uint64
	PacketLoss     uint64
	Duplicates     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec

	lastSequence int
	haveSequence bool
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decoded frame or decode failure.
//
// Only checksum-valid records advance the sequence tracker. A jump from a to
// b adds (b - a - 1) mod 1000 lost frames; a repeat counts as a duplicate.
func (s *Statistics) Update(rec *Record, decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.DecodeErrors++
		switch {
		case errors.Is(decodeErr, ErrFrameTooShort):
			s.ShortFrames++
		case errors.Is(decodeErr, ErrFieldFormat):
			s.FormatErrors++
		}
		return
	}

	if rec == nil {
		return
	}

	if !rec.Valid() {
		s.ChecksumErrors++
		return
	}

	s.ValidFrames++

	if s.haveSequence {
		diff := (rec.Sequence() - s.lastSequence + SequenceModulo) % SequenceModulo
		if diff == 0 {
			s.Duplicates++
		} else {
			s.PacketLoss += uint64(diff - 1)
		}
	}
	s.lastSequence = rec.Sequence()
	s.haveSequence = true
}

// RecordOverflow counts one discarded extractor buffer
func (s *Statistics) RecordOverflow() {
	s.Overflows++
}

// ResetSequence forgets the last sequence number, so the next frame starts a
// new run without counting loss. Used after a reconnect.
func (s *Statistics) ResetSequence() {
	s.haveSequence = false
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the number of frames that were not fully trusted
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.DecodeErrors
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, decodePercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		decodePercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodePercent)
		if s.ShortFrames > 0 {
			result += fmt.Sprintf("  Too Short:        %5d\n", s.ShortFrames)
		}
		if s.FormatErrors > 0 {
			result += fmt.Sprintf("  Field Format:     %5d\n", s.FormatErrors)
		}
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Buffer Overflows:%8d\n", s.Overflows)
	}
	if s.PacketLoss > 0 || s.Duplicates > 0 {
		result += fmt.Sprintf("Lost Frames:     %8d\n", s.PacketLoss)
		result += fmt.Sprintf("Duplicates:      %8d\n", s.Duplicates)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
