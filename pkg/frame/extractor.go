// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"iter"
)

var (
	startMarker = []byte(StartMarker)
	terminator  = []byte(Terminator)
)

// Extractor splits an unbounded byte stream into "###"...\r\n frames.
//
// Noise ahead of a start marker is dropped as soon as it is seen, so only a
// marker and the bytes after it stay buffered between calls. If that tail
// grows past MaxBufferSize without a terminator it is discarded and
// OnOverflow is called with the number of bytes dropped.
type Extractor struct {
	buf       []byte
	overflows uint64

	// OnOverflow, if set, is called after the buffer is discarded
	OnOverflow func(discarded int)
}

// NewExtractor creates a new frame extractor
func NewExtractor() *Extractor {
	return &Extractor{buf: make([]byte, 0, MaxBufferSize)}
}

// Feed appends p to the buffer and returns the frames now available.
//
// The sequence is lazy: frames are cut from the buffer as they are pulled.
// Stopping early leaves the rest buffered for the next Feed or Frames call.
// Each yielded slice is a copy owned by the caller.
func (e *Extractor) Feed(p []byte) iter.Seq[[]byte] {
	e.buf = append(e.buf, p...)
	return e.Frames()
}

// Frames yields the complete frames currently buffered without adding input
func (e *Extractor) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			f, ok := e.next()
			if !ok {
				break
			}
			if !yield(f) {
				return
			}
		}
		e.checkOverflow()
	}
}

func (e *Extractor) next() ([]byte, bool) {
	start := bytes.Index(e.buf, startMarker)
	if start < 0 {
		// keep what could be the front of a marker split across chunks
		e.discard(len(e.buf) - (len(startMarker) - 1))
		return nil, false
	}
	e.discard(start)

	rel := bytes.Index(e.buf[len(startMarker):], terminator)
	if rel < 0 {
		return nil, false
	}
	end := len(startMarker) + rel + len(terminator)

	f := bytes.Clone(e.buf[:end])
	e.discard(end)
	return f, true
}

// discard drops the first n buffered bytes
func (e *Extractor) discard(n int) {
	if n <= 0 {
		return
	}
	k := copy(e.buf, e.buf[n:])
	e.buf = e.buf[:k]
}

func (e *Extractor) checkOverflow() {
	if len(e.buf) <= MaxBufferSize {
		return
	}
	dropped := len(e.buf)
	e.buf = e.buf[:0]
	e.overflows++
	if e.OnOverflow != nil {
		e.OnOverflow(dropped)
	}
}

// Buffered returns the number of bytes awaiting a terminator
func (e *Extractor) Buffered() int {
	return len(e.buf)
}

// Overflows returns how many times the buffer has been discarded
func (e *Extractor) Overflows() uint64 {
	return e.overflows
}

// Reset drops any buffered bytes
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
}
