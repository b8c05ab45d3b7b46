// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

const (
	frameAllOff    = "###0111195\r\n"
	frameIndicator = "###1111196\r\n"
)

// recordingSink captures everything the engine emits
type recordingSink struct {
	mu        sync.Mutex
	telemetry []Telemetry
	states    []State
	outbound  []string
	logs      []LogEntry
}

func (r *recordingSink) Telemetry(t Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, t)
}

func (r *recordingSink) State(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingSink) Outbound(f []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound = append(r.outbound, string(f))
}

func (r *recordingSink) Log(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
}

func (r *recordingSink) alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, e := range r.logs {
		if e.Kind == LogAlert {
			out = append(out, e.Alert)
		}
	}
	return out
}

func (r *recordingSink) outboundCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbound)
}

func (r *recordingSink) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

// manualTimer records the pending expiry without firing it
type manualTimer struct {
	pending *TimerExpired
}

func (m *manualTimer) Schedule(_ time.Duration, mode output.Mode, epoch uint64) {
	m.pending = &TimerExpired{Mode: mode, Epoch: epoch}
}

func (m *manualTimer) Cancel() { m.pending = nil }

func newTestEngine(t *testing.T) (*Engine, *recordingSink, *manualTimer) {
	t.Helper()
	sink := &recordingSink{}
	timer := &manualTimer{}
	opts := DefaultOptions()
	opts.Timer = timer
	e, err := New(sink, opts)
	require.NoError(t, err)
	return e, sink, timer
}

// telemetryFrame builds a frame for the given battery voltage and current
func telemetryFrame(seq int, volts, milliamps float64) []byte {
	battery := int(volts * 1000)
	bus := battery + int(milliamps*100)
	return frame.EncodeTelemetry(seq, [frame.ChannelCount]int{1000, 1000, 1000, 1000, battery, bus}, [frame.DigitalInputCount]bool{})
}

// ============================================================
// Telemetry Path Tests
// ============================================================

func TestEngine_EndToEndExampleFrame(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	raw := "###001 1000 1000 1000 1000 2000 2500 0000 758\r\n"
	e.Handle(BytesArrived{Data: []byte(raw[:10])})
	require.Empty(t, sink.telemetry)
	e.Handle(BytesArrived{Data: []byte(raw[10:])})

	require.Len(t, sink.telemetry, 1)
	tel := sink.telemetry[0]
	assert.True(t, tel.Trusted)
	assert.Equal(t, 1, tel.Record.Sequence())
	require.NotNil(t, tel.Sample)
	assert.InDelta(t, 1.0, tel.Sample.SolarVoltage, 1e-9)
	assert.InDelta(t, 2.0, tel.Sample.BatteryVoltage, 1e-9)
	assert.InDelta(t, 5.0, tel.Sample.BatteryCurrentMA, 1e-9)
	assert.Equal(t, breaker.BatteryCharging, tel.Battery)
	assert.Equal(t, breaker.CircuitOn, tel.Circuit)

	assert.Empty(t, sink.outbound)
	assert.Equal(t, uint64(1), sink.lastState().Stats.ValidFrames)
}

func TestEngine_ChecksumMismatchNotConditioned(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	// undervoltage reading with a bad checksum must not trip
	raw := telemetryFrame(1, 1.0, 0)
	bad := (frame.Checksum(raw[3:42]) + 1) % frame.ChecksumModulo
	copy(raw[42:45], frame.FormatChecksum(bad))
	e.Handle(BytesArrived{Data: raw})

	require.Len(t, sink.telemetry, 1)
	assert.False(t, sink.telemetry[0].Trusted)
	assert.Nil(t, sink.telemetry[0].Sample)
	assert.Equal(t, breaker.CircuitOn, sink.lastState().Circuit)
	assert.Empty(t, sink.outbound)
	assert.Equal(t, uint64(1), sink.lastState().Stats.ChecksumErrors)
}

func TestEngine_DecodeErrorLoggedAndDiscarded(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	e.Handle(BytesArrived{Data: []byte("###001 1000\r\n")})

	assert.Empty(t, sink.telemetry)
	st := sink.lastState()
	assert.Equal(t, uint64(1), st.Stats.DecodeErrors)
	assert.Equal(t, uint64(1), st.Stats.ShortFrames)

	var diag *LogEntry
	for i := range sink.logs {
		if sink.logs[i].Kind == LogDiagnostic {
			diag = &sink.logs[i]
		}
	}
	require.NotNil(t, diag)
	assert.ErrorIs(t, diag.Err, frame.ErrFrameTooShort)
}

func TestEngine_SequenceGapCountsLoss(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	e.Handle(BytesArrived{Data: telemetryFrame(7, 3.0, 0)})
	e.Handle(BytesArrived{Data: telemetryFrame(10, 3.0, 0)})

	assert.Equal(t, uint64(2), sink.lastState().Stats.PacketLoss)
}

func TestEngine_FramingOverflow(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	// a marker with no terminator in sight
	junk := make([]byte, frame.MaxBufferSize+1)
	copy(junk, frame.StartMarker)
	for i := len(frame.StartMarker); i < len(junk); i++ {
		junk[i] = 'x'
	}
	e.Handle(BytesArrived{Data: junk})

	st := sink.lastState()
	assert.Equal(t, uint64(1), st.Stats.Overflows)
	assert.Zero(t, st.Buffered)
}

// ============================================================
// Protection Tests
// ============================================================

func TestEngine_OvercurrentTrip(t *testing.T) {
	e, sink, timer := newTestEngine(t)

	e.Handle(SetMode{Mode: output.ModeTraffic})
	require.NotNil(t, timer.pending)
	stale := *timer.pending

	e.Handle(BytesArrived{Data: telemetryFrame(1, 3.0, -5)})

	assert.Contains(t, sink.alerts(), AlertTrip)
	assert.Equal(t, frameIndicator, sink.outbound[len(sink.outbound)-1])
	assert.Nil(t, timer.pending, "trip must cancel the phase timer")

	st := sink.lastState()
	assert.Equal(t, breaker.CircuitTripped, st.Circuit)
	assert.Equal(t, breaker.ReasonOvercurrent, st.Breaker.Reason)
	assert.Equal(t, output.ModeManual, st.Mode)

	// in-flight expiry from the traffic cycle is ignored
	n := len(sink.outbound)
	e.Handle(stale)
	assert.Len(t, sink.outbound, n)

	// manual intents are locked out
	e.Handle(ToggleLED{LED: frame.LEDRed})
	e.Handle(SetMode{Mode: output.ModePattern})
	assert.Len(t, sink.outbound, n)
	assert.Equal(t, output.ModeManual, sink.lastState().Mode)
}

func TestEngine_ResetRejectedWhileDead(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	e.Handle(BytesArrived{Data: telemetryFrame(1, 1.5, 0)})
	require.Contains(t, sink.alerts(), AlertTrip)
	assert.Contains(t, sink.alerts(), AlertBatteryDead)

	n := len(sink.outbound)
	e.Handle(ResetBreaker{})

	assert.Equal(t, AlertResetRejected, sink.alerts()[len(sink.alerts())-1])
	require.Len(t, sink.outbound, n+1)
	assert.Equal(t, frameIndicator, sink.outbound[n])
	assert.Equal(t, breaker.CircuitTripped, sink.lastState().Circuit)
}

func TestEngine_ResetAfterRecovery(t *testing.T) {
	e, sink, _ := newTestEngine(t)
	cal := DefaultOptions().Calibration

	e.Handle(BytesArrived{Data: telemetryFrame(1, 1.5, 0)})

	// push enough healthy samples to lift the long average past 2.2 V
	for seq := 2; seq < 2+cal.BatteryWindow+cal.ChannelWindow; seq++ {
		e.Handle(BytesArrived{Data: telemetryFrame(seq, 3.0, 1)})
	}
	require.Contains(t, sink.alerts(), AlertBatteryRecovered)
	require.Equal(t, breaker.CircuitTripped, sink.lastState().Circuit, "recovery alone must not clear the trip")

	e.Handle(ResetBreaker{})

	assert.Equal(t, AlertResetAccepted, sink.alerts()[len(sink.alerts())-1])
	assert.Equal(t, frameAllOff, sink.outbound[len(sink.outbound)-1])
	st := sink.lastState()
	assert.Equal(t, breaker.CircuitOn, st.Circuit)
	assert.Equal(t, output.ModeManual, st.Mode)

	e.Handle(ToggleLED{LED: frame.LEDGreen})
	assert.Equal(t, "###0110194\r\n", sink.outbound[len(sink.outbound)-1])
}

func TestEngine_BypassClearsTrip(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	e.Handle(BytesArrived{Data: telemetryFrame(1, 3.0, -10)})
	require.Equal(t, breaker.CircuitTripped, sink.lastState().Circuit)

	e.Handle(SetBypass{Enabled: true})
	assert.Equal(t, breaker.CircuitBypassed, sink.lastState().Circuit)
	assert.Equal(t, frameAllOff, sink.outbound[len(sink.outbound)-1])

	e.Handle(BytesArrived{Data: telemetryFrame(2, 3.0, -10)})
	assert.Equal(t, breaker.CircuitBypassed, sink.lastState().Circuit)

	n := len(sink.outbound)
	e.Handle(SetBypass{Enabled: false})
	assert.Equal(t, breaker.CircuitOn, sink.lastState().Circuit)
	assert.Len(t, sink.outbound, n)
}

func TestEngine_ThresholdRejected(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	e.Handle(SetTripThreshold{MilliAmps: 500})
	e.Handle(SetLowVoltage{Volts: 0})

	assert.Equal(t, []Alert{AlertThresholdRejected, AlertThresholdRejected}, sink.alerts())
	st := sink.lastState().Breaker
	assert.Equal(t, breaker.DefaultTripThresholdMA, st.TripThresholdMA)
	assert.Equal(t, breaker.DefaultLowVoltageV, st.LowVoltageV)

	e.Handle(SetTripThreshold{MilliAmps: 20})
	assert.Equal(t, 20.0, sink.lastState().Breaker.TripThresholdMA)
}

// ============================================================
// Output Mode Tests
// ============================================================

func TestEngine_ModeSwitchPublishesAndIgnoresStaleTimer(t *testing.T) {
	e, sink, timer := newTestEngine(t)

	e.Handle(SetMode{Mode: output.ModeTraffic})
	require.Len(t, sink.outbound, 1)
	assert.Equal(t, "###0110194\r\n", sink.outbound[0]) // green, active low

	e.Handle(*timer.pending)
	require.Len(t, sink.outbound, 2)
	assert.Equal(t, "yellow", sink.lastState().PhaseName)
	stale := *timer.pending

	e.Handle(SetMode{Mode: output.ModeManual})
	require.Len(t, sink.outbound, 3)
	assert.Equal(t, frameAllOff, sink.outbound[2])

	e.Handle(stale)
	assert.Len(t, sink.outbound, 3)
	assert.Equal(t, output.ModeManual, sink.lastState().Mode)
}

func TestEngine_LinkDownSuspendsCycle(t *testing.T) {
	e, sink, timer := newTestEngine(t)

	e.Handle(LinkChanged{Up: true, Info: "test"})
	assert.True(t, sink.lastState().LinkUp)

	e.Handle(SetMode{Mode: output.ModePattern})
	require.NotNil(t, timer.pending)

	e.Handle(LinkChanged{Up: false})
	assert.Nil(t, timer.pending)
	st := sink.lastState()
	assert.False(t, st.LinkUp)
	assert.Equal(t, output.ModeManual, st.Mode)
	assert.Contains(t, sink.alerts(), AlertLinkDown)
}

// ============================================================
// Event Loop Tests
// ============================================================

func TestEngine_RunWithRealTimer(t *testing.T) {
	sink := &recordingSink{}
	opts := DefaultOptions()
	opts.TrafficPhases = []output.Phase{
		{Name: "a", Duration: 5 * time.Millisecond, LEDs: [frame.LEDCount]bool{true, false, false}},
		{Name: "b", Duration: 5 * time.Millisecond, LEDs: [frame.LEDCount]bool{false, true, false}},
	}
	e, err := New(sink, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.True(t, e.Post(SetMode{Mode: output.ModeTraffic}))
	require.Eventually(t, func() bool { return sink.outboundCount() >= 4 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, e.Post(SetMode{Mode: output.ModeManual}))
	require.Eventually(t, func() bool { return sink.lastState().Mode == output.ModeManual }, time.Second, 5*time.Millisecond)

	// no further phase advances once manual
	n := sink.outboundCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.outboundCount())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, e.Post(ResetBreaker{}), "Post after Run exits must fail")
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.PatternPhases = nil
	_, err := New(NopSink{}, opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.TripThresholdMA = 0
	_, err = New(NopSink{}, opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Calibration.LEDSenseOhms = 0
	_, err = New(NopSink{}, opts)
	assert.Error(t, err)
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiSink{a, b}

	m.Outbound([]byte("x"))
	m.Log(LogEntry{Message: "hi"})
	m.State(State{})
	m.Telemetry(Telemetry{})

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.outbound, 1)
		assert.Len(t, s.logs, 1)
		assert.Len(t, s.states, 1)
		assert.Len(t, s.telemetry, 1)
	}
}
