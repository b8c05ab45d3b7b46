// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package conditioner

import (
	"math"
	"testing"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func record(seq int, channels ...int) *frame.Record {
	var ch [frame.ChannelCount]int
	copy(ch[:], channels)
	return frame.NewRecord(seq, ch, [frame.DigitalInputCount]bool{}, 0, 0)
}

// ============================================================
// Window Tests
// ============================================================

func TestWindow_BoundedMean(t *testing.T) {
	w := NewWindow(2)

	if w.Mean() != 0 {
		t.Errorf("empty Mean() = %v, want 0", w.Mean())
	}

	w.Push(10)
	if w.Mean() != 10 {
		t.Errorf("Mean() = %v, want 10", w.Mean())
	}

	w.Push(20)
	w.Push(40)
	if w.Len() != 2 {
		t.Errorf("Len() = %d, want 2", w.Len())
	}
	if w.Mean() != 30 {
		t.Errorf("Mean() = %v, want 30 (oldest evicted)", w.Mean())
	}

	w.Reset()
	if w.Len() != 0 || w.Cap() != 2 {
		t.Errorf("after Reset Len/Cap = %d/%d, want 0/2", w.Len(), w.Cap())
	}
}

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	for capacity := 0; capacity < 8; capacity++ {
		w := NewWindow(capacity)
		for i := 0; i < 50; i++ {
			w.Push(float64(i))
			if w.Len() > w.Cap() {
				t.Fatalf("capacity %d: Len() = %d exceeds Cap() = %d", capacity, w.Len(), w.Cap())
			}
		}
	}
}

// ============================================================
// Conditioner Tests
// ============================================================

func TestIngest_FirstSample(t *testing.T) {
	c := New(DefaultCalibration())

	s := c.Ingest(record(1, 1000, 1000, 1000, 1000, 2000, 2500))

	if !approx(s.SolarVoltage, 1.0) {
		t.Errorf("SolarVoltage = %v, want 1.000", s.SolarVoltage)
	}
	if !approx(s.BatteryVoltage, 2.0) {
		t.Errorf("BatteryVoltage = %v, want 2.000", s.BatteryVoltage)
	}
	if !approx(s.BatteryCurrentMA, 5.0) {
		t.Errorf("BatteryCurrentMA = %v, want 5.0", s.BatteryCurrentMA)
	}
	for led := frame.LEDYellow; led < frame.LEDCount; led++ {
		if !approx(s.LEDCurrentMA[led], 1500.0/220.0) {
			t.Errorf("LEDCurrentMA[%s] = %v, want %v", led, s.LEDCurrentMA[led], 1500.0/220.0)
		}
	}
	if !approx(s.TotalLoadMA, 3*1500.0/220.0) {
		t.Errorf("TotalLoadMA = %v, want %v", s.TotalLoadMA, 3*1500.0/220.0)
	}
	if s.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", s.Sequence)
	}
}

func TestIngest_ChannelSmoothing(t *testing.T) {
	c := New(DefaultCalibration())

	c.Ingest(record(1, 1000))
	s := c.Ingest(record(2, 3000))
	if !approx(s.SolarVoltage, 2.0) {
		t.Errorf("SolarVoltage = %v, want 2.0", s.SolarVoltage)
	}

	s = c.Ingest(record(3, 5000))
	if !approx(s.Channels[frame.ChannelSolar], 4000) {
		t.Errorf("smoothed solar = %v, want 4000", s.Channels[frame.ChannelSolar])
	}
}

func TestIngest_BatteryLongAverage(t *testing.T) {
	c := New(DefaultCalibration())

	// ch4 readings: 2000 x6 then 1000 x n
	for i := 0; i < 6; i++ {
		c.Ingest(record(i, 0, 0, 0, 0, 2000, 0))
	}

	// first low reading: channel avg (2000+1000)/2 = 1500 -> 1.5 V pushed
	s := c.Ingest(record(6, 0, 0, 0, 0, 1000, 0))
	want := (2.0*5 + 1.5) / 6
	if !approx(s.BatteryVoltage, want) {
		t.Errorf("BatteryVoltage = %v, want %v", s.BatteryVoltage, want)
	}
}

func TestIngest_DischargeIsNegative(t *testing.T) {
	c := New(DefaultCalibration())

	s := c.Ingest(record(1, 0, 0, 0, 0, 2300, 2000))
	if !approx(s.BatteryCurrentMA, -3.0) {
		t.Errorf("BatteryCurrentMA = %v, want -3.0", s.BatteryCurrentMA)
	}
}

func TestIngest_CustomCalibration(t *testing.T) {
	cal := DefaultCalibration()
	cal.BatterySenseOhms = 50
	cal.LEDSenseOhms = 100
	cal.ChannelWindow = 1
	c := New(cal)

	s := c.Ingest(record(1, 0, 500, 1000, 1500, 2000, 2500))
	if !approx(s.BatteryCurrentMA, 10) {
		t.Errorf("BatteryCurrentMA = %v, want 10", s.BatteryCurrentMA)
	}
	want := [frame.LEDCount]float64{20, 15, 10}
	for led := frame.LEDYellow; led < frame.LEDCount; led++ {
		if !approx(s.LEDCurrentMA[led], want[led]) {
			t.Errorf("LEDCurrentMA[%s] = %v, want %v", led, s.LEDCurrentMA[led], want[led])
		}
	}
}

func TestConditioner_Reset(t *testing.T) {
	c := New(DefaultCalibration())
	c.Ingest(record(1, 4000))
	c.Reset()

	s := c.Ingest(record(2, 1000))
	if !approx(s.SolarVoltage, 1.0) {
		t.Errorf("SolarVoltage after Reset = %v, want 1.0", s.SolarVoltage)
	}
}

func TestCalibration_Validate(t *testing.T) {
	if err := DefaultCalibration().Validate(); err != nil {
		t.Errorf("DefaultCalibration().Validate() = %v", err)
	}

	bad := []func(*Calibration){
		func(c *Calibration) { c.MillivoltsPerVolt = 0 },
		func(c *Calibration) { c.BatterySenseOhms = -1 },
		func(c *Calibration) { c.LEDSenseOhms = 0 },
		func(c *Calibration) { c.BatteryWindow = 0 },
	}
	for i, mutate := range bad {
		cal := DefaultCalibration()
		mutate(&cal)
		if cal.Validate() == nil {
			t.Errorf("case %d: Validate() = nil, want error", i)
		}
	}
}
