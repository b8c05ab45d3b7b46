// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package conditioner

// Window is a bounded FIFO of samples. Pushing into a full window evicts
// the oldest sample.
type Window struct {
	samples  []float64
	capacity int
}

// NewWindow creates a window holding at most capacity samples.
// Capacities below one are raised to one.
func NewWindow(capacity int) *Window {
	capacity = max(capacity, 1)
	return &Window{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push adds a sample, evicting the oldest if the window is full
func (w *Window) Push(v float64) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.capacity-1]
	}
	w.samples = append(w.samples, v)
}

// Mean returns the arithmetic mean of the samples held, or 0 when empty
func (w *Window) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Len returns the number of samples held
func (w *Window) Len() int {
	return len(w.samples)
}

// Cap returns the window capacity
func (w *Window) Cap() int {
	return w.capacity
}

// Reset empties the window
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}
