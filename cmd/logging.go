// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/helioguard/internal/engine"
)

func newLogger(level string, json bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var out io.Writer = os.Stderr
	if !json {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// logSink forwards engine output to a zerolog logger. Frame traces go out
// at debug, telemetry at trace.
type logSink struct {
	engine.NopSink
	log zerolog.Logger
}

func newLogSink(log zerolog.Logger) *logSink {
	return &logSink{log: log.With().Str("component", "engine").Logger()}
}

func (s *logSink) Telemetry(t engine.Telemetry) {
	ev := s.log.Trace().Int("seq", t.Record.Sequence()).Bool("trusted", t.Trusted)
	if t.Sample != nil {
		ev = ev.
			Float64("solar_v", t.Sample.SolarVoltage).
			Float64("battery_v", t.Sample.BatteryVoltage).
			Float64("battery_ma", t.Sample.BatteryCurrentMA).
			Float64("load_ma", t.Sample.TotalLoadMA)
	}
	ev.Str("circuit", t.Circuit.String()).Msg("telemetry")
}

func (s *logSink) Log(e engine.LogEntry) {
	var ev *zerolog.Event
	switch {
	case e.Kind == engine.LogInbound || e.Kind == engine.LogOutbound:
		ev = s.log.Debug()
	case e.Kind == engine.LogAlert && e.IsError():
		ev = s.log.Error()
	case e.Kind == engine.LogAlert:
		ev = s.log.Warn()
	case e.Err != nil:
		ev = s.log.Warn()
	default:
		ev = s.log.Info()
	}

	ev = ev.Str("kind", e.Kind.String())
	if e.Alert != engine.AlertNone {
		ev = ev.Str("alert", e.Alert.String())
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(e.Message)
}
