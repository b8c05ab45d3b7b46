// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"strings"
	"testing"
)

// collect drains a Feed call into a slice of strings
func collect(e *Extractor, p []byte) []string {
	var out []string
	for f := range e.Feed(p) {
		out = append(out, string(f))
	}
	return out
}

// ============================================================
// Extractor Tests
// ============================================================

func TestExtractor_SingleFrame(t *testing.T) {
	e := NewExtractor()

	got := collect(e, []byte(exampleFrame))
	if len(got) != 1 || got[0] != exampleFrame {
		t.Fatalf("frames = %q, want [%q]", got, exampleFrame)
	}
	if e.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", e.Buffered())
	}
}

func TestExtractor_DropsLeadingNoise(t *testing.T) {
	e := NewExtractor()

	got := collect(e, []byte("garbage\r\n##\r\n"+exampleFrame+"tail"))
	if len(got) != 1 || got[0] != exampleFrame {
		t.Fatalf("frames = %q", got)
	}
	// only a possible marker prefix survives
	if e.Buffered() != len(StartMarker)-1 {
		t.Errorf("Buffered() = %d, want %d", e.Buffered(), len(StartMarker)-1)
	}
}

func TestExtractor_PartialFrameRetained(t *testing.T) {
	e := NewExtractor()
	split := 20

	if got := collect(e, []byte(exampleFrame[:split])); len(got) != 0 {
		t.Fatalf("frames after partial = %q, want none", got)
	}
	if e.Buffered() != split {
		t.Errorf("Buffered() = %d, want %d", e.Buffered(), split)
	}

	got := collect(e, []byte(exampleFrame[split:]))
	if len(got) != 1 || got[0] != exampleFrame {
		t.Errorf("frames = %q, want [%q]", got, exampleFrame)
	}
}

func TestExtractor_TerminatorSplitAcrossChunks(t *testing.T) {
	e := NewExtractor()
	head := exampleFrame[:len(exampleFrame)-1] // ends with '\r'

	if got := collect(e, []byte(head)); len(got) != 0 {
		t.Fatalf("frames = %q, want none", got)
	}
	if got := collect(e, []byte("\n")); len(got) != 1 {
		t.Fatalf("frames = %q, want 1", got)
	}
}

func TestExtractor_RestartAfterEarlyStop(t *testing.T) {
	e := NewExtractor()
	stream := strings.Repeat(exampleFrame, 3)

	for range e.Feed([]byte(stream)) {
		break
	}
	if e.Buffered() != 2*len(exampleFrame) {
		t.Fatalf("Buffered() = %d, want %d", e.Buffered(), 2*len(exampleFrame))
	}

	n := 0
	for range e.Frames() {
		n++
	}
	if n != 2 {
		t.Errorf("resumed frames = %d, want 2", n)
	}
}

func TestExtractor_YieldedFramesAreCopies(t *testing.T) {
	e := NewExtractor()
	var frames [][]byte
	for f := range e.Feed([]byte(exampleFrame + exampleFrame)) {
		frames = append(frames, f)
	}
	collect(e, []byte("###XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX\r\n"))

	for i, f := range frames {
		if string(f) != exampleFrame {
			t.Errorf("frame %d mutated: %q", i, f)
		}
	}
}

func TestExtractor_Overflow(t *testing.T) {
	e := NewExtractor()
	var dropped []int
	e.OnOverflow = func(n int) { dropped = append(dropped, n) }

	head := StartMarker + strings.Repeat("x", MaxBufferSize-len(StartMarker))
	collect(e, []byte(head))
	if e.Overflows() != 0 {
		t.Fatalf("Overflows() = %d at exactly the cap, want 0", e.Overflows())
	}

	collect(e, []byte("partial"))
	if e.Overflows() != 1 {
		t.Fatalf("Overflows() = %d, want 1", e.Overflows())
	}
	if e.Buffered() != 0 {
		t.Errorf("Buffered() = %d after overflow, want 0", e.Buffered())
	}
	if len(dropped) != 1 || dropped[0] != MaxBufferSize+len("partial") {
		t.Errorf("OnOverflow calls = %v", dropped)
	}

	// Stream recovers on the next frame
	if got := collect(e, []byte(exampleFrame)); len(got) != 1 {
		t.Errorf("frames after overflow = %q, want 1", got)
	}
}

func TestExtractor_NoiseNeverOverflows(t *testing.T) {
	e := NewExtractor()

	for i := 0; i < 5; i++ {
		collect(e, bytes.Repeat([]byte{'x'}, MaxBufferSize))
	}
	if e.Overflows() != 0 {
		t.Errorf("Overflows() = %d for marker-free noise, want 0", e.Overflows())
	}
	if e.Buffered() > len(StartMarker)-1 {
		t.Errorf("Buffered() = %d, want at most %d", e.Buffered(), len(StartMarker)-1)
	}
}

func TestExtractor_MarkerSplitAfterNoise(t *testing.T) {
	e := NewExtractor()

	collect(e, []byte("noise##"))
	got := collect(e, []byte(exampleFrame[2:]))
	if len(got) != 1 || got[0] != exampleFrame {
		t.Errorf("frames = %q, want [%q]", got, exampleFrame)
	}
}

func TestExtractor_Reset(t *testing.T) {
	e := NewExtractor()
	collect(e, []byte("###001 10"))
	e.Reset()
	if e.Buffered() != 0 {
		t.Errorf("Buffered() = %d after Reset, want 0", e.Buffered())
	}
}

func TestExtractor_ChunkSizeIndependence(t *testing.T) {
	var interleaved bytes.Buffer
	interleaved.WriteString("noise")
	for seq := 0; seq < 20; seq++ {
		interleaved.Write(EncodeTelemetry(seq, [ChannelCount]int{seq, 1, 2, 3, 4, 5}, [DigitalInputCount]bool{}))
		if seq%3 == 0 {
			interleaved.WriteString("##\r\n")
		}
	}

	var burst bytes.Buffer
	for seq := 0; seq < 3; seq++ {
		burst.Write(bytes.Repeat([]byte{'x'}, 990))
		burst.Write(EncodeTelemetry(seq, [ChannelCount]int{1, 2, 3, 4, 5, 6}, [DigitalInputCount]bool{}))
	}

	tests := []struct {
		name   string
		data   []byte
		frames int
	}{
		{"interleaved noise", interleaved.Bytes(), 20},
		{"long noise burst", burst.Bytes(), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole := collect(NewExtractor(), tt.data)
			if len(whole) != tt.frames {
				t.Fatalf("single chunk frames = %d, want %d", len(whole), tt.frames)
			}

			for _, size := range []int{1, 2, 3, 7, 46, 47, 48, 100, 999, 1010} {
				e := NewExtractor()
				var got []string
				for off := 0; off < len(tt.data); off += size {
					end := min(off+size, len(tt.data))
					got = append(got, collect(e, tt.data[off:end])...)
				}
				if strings.Join(got, "|") != strings.Join(whole, "|") {
					t.Errorf("chunk size %d: %d frames, single chunk gave %d", size, len(got), len(whole))
				}
				if e.Overflows() != 0 {
					t.Errorf("chunk size %d: Overflows() = %d, want 0", size, e.Overflows())
				}
			}
		})
	}
}
