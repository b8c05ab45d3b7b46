// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/frame"
)

func TestRunConsoleCommand_Intents(t *testing.T) {
	tracker := status.NewTracker(time.Now(), status.Config{})
	var posted []engine.Event
	post := func(ev engine.Event) bool {
		posted = append(posted, ev)
		return true
	}

	var out bytes.Buffer
	for _, line := range []string{"toggle red", "bypass on", "reset"} {
		quit, err := runConsoleCommand(&out, line, tracker, post)
		require.NoError(t, err, line)
		assert.False(t, quit)
	}

	assert.Equal(t, []engine.Event{
		engine.ToggleLED{LED: frame.LEDRed},
		engine.SetBypass{Enabled: true},
		engine.ResetBreaker{},
	}, posted)
	assert.Empty(t, out.String())
}

func TestRunConsoleCommand_Errors(t *testing.T) {
	tracker := status.NewTracker(time.Now(), status.Config{})
	var out bytes.Buffer

	_, err := runConsoleCommand(&out, "warp 9", tracker, func(engine.Event) bool { return true })
	assert.Error(t, err)

	_, err = runConsoleCommand(&out, "reset", tracker, func(engine.Event) bool { return false })
	assert.EqualError(t, err, "engine stopped")
}

func TestRunConsoleCommand_Builtins(t *testing.T) {
	tracker := status.NewTracker(time.Now(), status.Config{})
	st := engine.State{Circuit: breaker.CircuitTripped, LinkUp: true, LinkInfo: "Serial: /dev/ttyUSB0"}
	st.Breaker.Tripped = true
	st.Breaker.Reason = breaker.ReasonUndervoltage
	st.Command.Indicator = true
	tracker.State(st)

	never := func(engine.Event) bool {
		t.Fatal("builtin posted an event")
		return false
	}

	var out bytes.Buffer
	quit, err := runConsoleCommand(&out, "status", tracker, never)
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Link:     up (Serial: /dev/ttyUSB0)")
	assert.Contains(t, out.String(), "Circuit:  Tripped (UNDERVOLTAGE)")
	assert.Contains(t, out.String(), "indicator=on yellow=off")
	assert.Contains(t, out.String(), "Reading:  none")

	out.Reset()
	_, err = runConsoleCommand(&out, "stats", tracker, never)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Total Frames:")

	out.Reset()
	_, err = runConsoleCommand(&out, "help", tracker, never)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "bypass <on|off>")

	quit, err = runConsoleCommand(&out, "QUIT", tracker, never)
	require.NoError(t, err)
	assert.True(t, quit)
}
