// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package conditioner smooths raw ADC readings and derives the circuit's
// voltages and currents from them.
package conditioner

import (
	"fmt"
	"time"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

// Calibration holds the divisors tied to the sense-resistor network
type Calibration struct {
	MillivoltsPerVolt float64 // ADC millivolts per volt
	BatterySenseOhms  float64 // battery shunt between channels 5 and 4
	LEDSenseOhms      float64 // per-LED series resistor

	ChannelWindow int // samples averaged per ADC channel
	BatteryWindow int // samples in the battery voltage long average
}

// DefaultCalibration returns the stock board's calibration
func DefaultCalibration() Calibration {
	return Calibration{
		MillivoltsPerVolt: 1000,
		BatterySenseOhms:  100,
		LEDSenseOhms:      220,
		ChannelWindow:     2,
		BatteryWindow:     6,
	}
}

// Validate rejects divisors that would produce infinities
func (c Calibration) Validate() error {
	if c.MillivoltsPerVolt <= 0 {
		return fmt.Errorf("millivolts per volt must be positive, got %g", c.MillivoltsPerVolt)
	}
	if c.BatterySenseOhms <= 0 {
		return fmt.Errorf("battery sense resistance must be positive, got %g", c.BatterySenseOhms)
	}
	if c.LEDSenseOhms <= 0 {
		return fmt.Errorf("LED sense resistance must be positive, got %g", c.LEDSenseOhms)
	}
	if c.ChannelWindow < 1 || c.BatteryWindow < 1 {
		return fmt.Errorf("averaging windows must hold at least one sample")
	}
	return nil
}

// Sample holds the quantities derived from one trusted record
type Sample struct {
	Sequence  int
	Timestamp time.Time

	Channels         [frame.ChannelCount]float64 // smoothed millivolts
	SolarVoltage     float64
	BatteryVoltage   float64
	BatteryCurrentMA float64 // positive while charging
	LEDCurrentMA     [frame.LEDCount]float64
	TotalLoadMA      float64
}

// Conditioner owns the per-channel averaging windows
type Conditioner struct {
	cal      Calibration
	channels [frame.ChannelCount]*Window
	battery  *Window
}

// New creates a conditioner. The calibration is assumed valid.
func New(cal Calibration) *Conditioner {
	c := &Conditioner{
		cal:     cal,
		battery: NewWindow(cal.BatteryWindow),
	}
	for i := range c.channels {
		c.channels[i] = NewWindow(cal.ChannelWindow)
	}
	return c
}

// Ingest pushes a record's readings into the windows and derives a sample.
// Before the windows fill, means cover the samples available.
func (c *Conditioner) Ingest(r *frame.Record) Sample {
	s := Sample{
		Sequence:  r.Sequence(),
		Timestamp: r.Timestamp(),
	}

	for i, w := range c.channels {
		w.Push(float64(r.Channel(i)))
		s.Channels[i] = w.Mean()
	}

	bus := s.Channels[frame.ChannelBus]
	battery := s.Channels[frame.ChannelBattery]

	c.battery.Push(battery / c.cal.MillivoltsPerVolt)

	s.SolarVoltage = s.Channels[frame.ChannelSolar] / c.cal.MillivoltsPerVolt
	s.BatteryVoltage = c.battery.Mean()
	s.BatteryCurrentMA = (bus - battery) / c.cal.BatterySenseOhms

	for led := frame.LEDYellow; led < frame.LEDCount; led++ {
		s.LEDCurrentMA[led] = (bus - s.Channels[led.Channel()]) / c.cal.LEDSenseOhms
		s.TotalLoadMA += s.LEDCurrentMA[led]
	}

	return s
}

// Reset empties every window
func (c *Conditioner) Reset() {
	for _, w := range c.channels {
		w.Reset()
	}
	c.battery.Reset()
}

// Calibration returns the calibration in use
func (c *Conditioner) Calibration() Calibration {
	return c.cal
}
