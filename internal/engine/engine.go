// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine owns the protocol and protection core and runs it as a
// single-consumer event loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/conditioner"
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

// DefaultQueueSize is the inbound event buffer length
const DefaultQueueSize = 256

// Options configures a new engine
type Options struct {
	Calibration     conditioner.Calibration
	Polarity        frame.Polarity
	TrafficPhases   []output.Phase
	PatternPhases   []output.Phase
	TripThresholdMA float64
	LowVoltageV     float64

	// Timer overrides the AfterFunc phase timer. Tests use it to fire
	// expiries by hand.
	Timer output.Timer

	QueueSize int
	Clock     func() time.Time
}

// DefaultOptions returns options for the stock board
func DefaultOptions() Options {
	return Options{
		Calibration:     conditioner.DefaultCalibration(),
		Polarity:        frame.DefaultPolarity(),
		TrafficPhases:   output.DefaultTrafficPhases(),
		PatternPhases:   output.DefaultPatternPhases(),
		TripThresholdMA: breaker.DefaultTripThresholdMA,
		LowVoltageV:     breaker.DefaultLowVoltageV,
		QueueSize:       DefaultQueueSize,
	}
}

// Engine is the core context. Handle and Run must not be called
// concurrently; Post is safe from any goroutine.
type Engine struct {
	events chan Event
	done   chan struct{}
	sink   Sink
	now    func() time.Time

	extractor  *frame.Extractor
	decoder    *frame.Decoder
	cond       *conditioner.Conditioner
	breaker    *breaker.Breaker
	controller *output.Controller
	stats      *frame.Statistics
	polarity   frame.Polarity
	timer      output.Timer

	linkUp   bool
	linkInfo string
}

// New creates an engine that reports to sink
func New(sink Sink, opts Options) (*Engine, error) {
	if err := opts.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}
	if err := output.ValidatePhases(opts.TrafficPhases); err != nil {
		return nil, fmt.Errorf("invalid traffic cycle: %w", err)
	}
	if err := output.ValidatePhases(opts.PatternPhases); err != nil {
		return nil, fmt.Errorf("invalid pattern cycle: %w", err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		events:    make(chan Event, opts.QueueSize),
		done:      make(chan struct{}),
		sink:      sink,
		now:       opts.Clock,
		extractor: frame.NewExtractor(),
		decoder:   frame.NewDecoder(),
		cond:      conditioner.New(opts.Calibration),
		breaker:   breaker.New(),
		stats:     frame.NewStatistics(),
		polarity:  opts.Polarity,
	}

	if err := e.breaker.SetTripThreshold(opts.TripThresholdMA); err != nil {
		return nil, err
	}
	if err := e.breaker.SetLowVoltage(opts.LowVoltageV); err != nil {
		return nil, err
	}

	e.timer = opts.Timer
	if e.timer == nil {
		e.timer = &postTimer{post: e.Post}
	}
	e.controller = output.NewController(e.timer, opts.TrafficPhases, opts.PatternPhases)

	e.extractor.OnOverflow = func(n int) {
		e.stats.RecordOverflow()
		e.log(LogDiagnostic, AlertNone, nil, "framing overflow: discarded %d buffered bytes", n)
	}

	return e, nil
}

// Post queues an event for the loop. It blocks while the queue is full and
// returns false once Run has exited.
func (e *Engine) Post(ev Event) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

// Run consumes events until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		e.timer.Cancel()
		close(e.done)
	}()

	e.sink.State(e.State())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.Handle(ev)
		}
	}
}

// Handle processes one event to completion, then reports the new state
func (e *Engine) Handle(ev Event) {
	switch ev := ev.(type) {
	case BytesArrived:
		for raw := range e.extractor.Feed(ev.Data) {
			e.handleFrame(raw)
		}

	case TimerExpired:
		if cmd, ok := e.controller.Expire(ev.Mode, ev.Epoch); ok {
			e.publish(cmd)
		}

	case LinkChanged:
		e.handleLink(ev)

	case ToggleLED:
		e.applyOutput(e.controller.Toggle(ev.LED))

	case SetLED:
		e.applyOutput(e.controller.SetLED(ev.LED, ev.On))

	case SetMode:
		if cmd, err := e.controller.SetMode(ev.Mode); err != nil {
			e.log(LogDiagnostic, AlertNone, err, "mode change to %s rejected", ev.Mode)
		} else {
			e.log(LogDiagnostic, AlertNone, nil, "output mode %s", ev.Mode)
			e.publish(cmd)
		}

	case SetTripThreshold:
		if err := e.breaker.SetTripThreshold(ev.MilliAmps); err != nil {
			e.log(LogAlert, AlertThresholdRejected, err, "trip threshold rejected")
		} else {
			e.log(LogDiagnostic, AlertNone, nil, "trip threshold set to %.2f mA", ev.MilliAmps)
		}

	case SetLowVoltage:
		if err := e.breaker.SetLowVoltage(ev.Volts); err != nil {
			e.log(LogAlert, AlertThresholdRejected, err, "low voltage threshold rejected")
		} else {
			e.log(LogDiagnostic, AlertNone, nil, "low voltage threshold set to %.2f V", ev.Volts)
		}

	case SetBypass:
		cleared := e.breaker.SetBypass(ev.Enabled)
		e.log(LogAlert, AlertBypassChanged, nil, "breaker bypass %s", onOff(ev.Enabled))
		if cleared {
			e.publish(e.controller.Release())
		}

	case ResetBreaker:
		e.handleReset()

	default:
		e.log(LogDiagnostic, AlertNone, nil, "unhandled event %T", ev)
	}

	e.sink.State(e.State())
}

func (e *Engine) handleFrame(raw []byte) {
	e.sink.Log(LogEntry{Time: e.now(), Kind: LogInbound, Message: frame.FormatRaw(raw)})

	rec, err := e.decoder.Decode(raw)
	e.stats.Update(rec, err)
	if err != nil {
		e.log(LogDiagnostic, AlertNone, err, "frame discarded")
		return
	}

	if !rec.Valid() {
		e.log(LogDiagnostic, AlertNone, nil, "checksum mismatch on seq %03d: received %s, computed %s",
			rec.Sequence(), frame.FormatChecksum(rec.ReceivedChecksum()), frame.FormatChecksum(rec.ComputedChecksum()))
		e.sink.Telemetry(Telemetry{
			Record:  rec,
			Circuit: e.breaker.Circuit(),
			Battery: e.breaker.Battery(),
		})
		return
	}

	sample := e.cond.Ingest(rec)
	res := e.breaker.Evaluate(sample)

	if res.DeadChanged {
		if res.BatteryDead {
			e.log(LogAlert, AlertBatteryDead, nil, "battery dead at %.3f V", sample.BatteryVoltage)
		} else {
			e.log(LogAlert, AlertBatteryRecovered, nil, "battery recovered at %.3f V", sample.BatteryVoltage)
		}
	}

	if res.Tripped {
		switch res.Reason {
		case breaker.ReasonUndervoltage:
			e.log(LogAlert, AlertTrip, nil, "breaker tripped: undervoltage %.3f V < %.2f V",
				sample.BatteryVoltage, e.breaker.State().LowVoltageV)
		default:
			e.log(LogAlert, AlertTrip, nil, "breaker tripped: discharge %.2f mA > %.2f mA",
				-sample.BatteryCurrentMA, e.breaker.State().TripThresholdMA)
		}
		e.publish(e.controller.Trip())
	}

	e.sink.Telemetry(Telemetry{
		Record:  rec,
		Trusted: true,
		Sample:  &sample,
		Circuit: e.breaker.Circuit(),
		Battery: e.breaker.Battery(),
	})
}

func (e *Engine) handleReset() {
	err := e.breaker.Reset()
	if errors.Is(err, breaker.ErrResetRejected) {
		e.log(LogAlert, AlertResetRejected, err, "reset rejected: battery below recovery voltage")
		e.publish(e.controller.Trip())
		return
	}
	e.log(LogAlert, AlertResetAccepted, nil, "breaker reset")
	e.publish(e.controller.Release())
}

func (e *Engine) handleLink(ev LinkChanged) {
	if ev.Up {
		e.linkUp = true
		e.linkInfo = ev.Info
		e.extractor.Reset()
		e.cond.Reset()
		e.stats.ResetSequence()
		e.log(LogAlert, AlertLinkUp, nil, "link up: %s", ev.Info)
		e.publish(e.controller.Command())
		return
	}

	e.linkUp = false
	e.controller.Suspend()
	e.log(LogAlert, AlertLinkDown, ev.Err, "link down")
}

func (e *Engine) applyOutput(cmd frame.CommandState, err error) {
	if err != nil {
		e.log(LogDiagnostic, AlertNone, err, "output change rejected")
		return
	}
	e.publish(cmd)
}

func (e *Engine) publish(cmd frame.CommandState) {
	raw := frame.EncodeCommand(cmd, e.polarity)
	e.sink.Outbound(raw)
	e.sink.Log(LogEntry{Time: e.now(), Kind: LogOutbound, Message: frame.FormatRaw(raw)})
}

func (e *Engine) log(kind LogKind, alert Alert, err error, format string, args ...interface{}) {
	e.sink.Log(LogEntry{
		Time:    e.now(),
		Kind:    kind,
		Alert:   alert,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	})
}

// State returns a copy of the current state. Call it only from the loop
// goroutine, or before Run starts.
func (e *Engine) State() State {
	return State{
		Breaker:   e.breaker.State(),
		Circuit:   e.breaker.Circuit(),
		Battery:   e.breaker.Battery(),
		Mode:      e.controller.Mode(),
		Phase:     e.controller.Phase(),
		PhaseName: e.controller.PhaseName(),
		Epoch:     e.controller.Epoch(),
		Command:   e.controller.Command(),
		Stats:     *e.stats,
		LinkUp:    e.linkUp,
		LinkInfo:  e.linkInfo,
		Buffered:  e.extractor.Buffered(),
	}
}

// Polarity returns the output polarity used for encoding
func (e *Engine) Polarity() frame.Polarity {
	return e.polarity
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
