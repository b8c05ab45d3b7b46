// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/helioguard/internal/engine"
)

const batchInterval = 50 * time.Millisecond

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for monitoring and driving the board",
	Long: `Monitor and control the board via an interactive terminal UI.

Features:
  - Live telemetry: solar and battery voltage, battery and LED currents
  - Circuit and battery status with trip reason and thresholds
  - Output control: manual LED toggles, traffic and holiday pattern modes
  - Breaker reset and bypass
  - Frame statistics and event logging
  - Automatic reconnection on connection loss

Keys:
  y / r / g   toggle yellow / red / green (manual mode)
  m           cycle output mode
  b           toggle breaker bypass
  x           reset breaker
  t / l       set trip threshold (mA) / low voltage (V)
  v           show frame traces in the event log
  q           quit

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

//////////////////////////////////////////////////////////////
// TUI Sink
//////////////////////////////////////////////////////////////

// teaSink batches engine output and hands it to the TUI at a fixed rate
// so a fast link cannot flood the program's message queue
type teaSink struct {
	mu    sync.Mutex
	batch controlBatchMsg
}

func (s *teaSink) Telemetry(t engine.Telemetry) {
	s.mu.Lock()
	s.batch.telemetry = &t
	s.mu.Unlock()
}

func (s *teaSink) State(st engine.State) {
	s.mu.Lock()
	s.batch.state = &st
	s.mu.Unlock()
}

func (s *teaSink) Outbound([]byte) {}

func (s *teaSink) Log(e engine.LogEntry) {
	s.mu.Lock()
	s.batch.logs = append(s.batch.logs, e)
	s.mu.Unlock()
}

func (s *teaSink) take() (controlBatchMsg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batch
	s.batch = controlBatchMsg{}
	return b, b.state != nil || b.telemetry != nil || len(b.logs) > 0
}

// run sends batches until ctx is done
func (s *teaSink) run(ctx context.Context, p *tea.Program) error {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if batch, ok := s.take(); ok {
				p.Send(batch)
			}
		}
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	var c connector
	conn, connInfo, err := c.Open()
	if err != nil {
		return err
	}

	// The TUI owns the terminal; only errors reach stderr
	quiet := logger.Level(zerolog.ErrorLevel)

	link := newLinkManager(conn, connInfo, c.Open, quiet)
	sink := &teaSink{}

	eng, err := engine.New(engine.MultiSink{sink, link}, opts)
	if err != nil {
		conn.Close()
		return err
	}
	link.post = eng.Post

	m := initialControlModel(eng.Post, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return link.Run(ctx) })
	g.Go(func() error { return sink.run(ctx, p) })

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}
