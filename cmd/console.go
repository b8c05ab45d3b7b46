// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
	"github.com/Thermoquad/helioguard/pkg/frame"
)

const historyFile = ".helioguard_history"

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Line-oriented operator console",
	Long: `Drive the board from a command prompt.

Commands:
` + engine.IntentHelp + `
status                       show circuit, outputs and last telemetry
stats                        show frame statistics
help                         show this list
quit                         exit

Warnings and alerts are printed as they happen. History is kept in
~/` + historyFile + `.`,
	RunE: runConsole,
}

var consoleWords = []string{
	"toggle", "led", "mode", "trip", "low", "bypass", "reset",
	"status", "stats", "help", "quit",
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFile)
}

func runConsole(cmd *cobra.Command, args []string) error {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	var c connector
	conn, connInfo, err := c.Open()
	if err != nil {
		return err
	}

	// Traces would bury the prompt
	quiet := logger.Level(zerolog.WarnLevel)

	tracker := status.NewTracker(time.Now(), status.Config{Link: linkTarget()})
	link := newLinkManager(conn, connInfo, c.Open, quiet)
	eng, err := engine.New(engine.MultiSink{tracker, newLogSink(quiet), link}, opts)
	if err != nil {
		conn.Close()
		return err
	}
	link.post = eng.Post

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return link.Run(ctx) })

	fmt.Printf("Helioguard console on %s. Type help for commands.\n", connInfo)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		var out []string
		for _, w := range consoleWords {
			if strings.HasPrefix(w, strings.ToLower(s)) {
				out = append(out, w)
			}
		}
		return out
	})

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	replErr := consoleLoop(line, tracker, eng.Post)

	if hist != "" {
		if f, err := os.Create(hist); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	line.Close()

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return replErr
}

// consoleLoop reads commands until quit, EOF or ctrl+c
func consoleLoop(line *liner.State, tracker *status.Tracker, post func(engine.Event) bool) error {
	for {
		input, err := line.Prompt("helioguard> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := runConsoleCommand(os.Stdout, input, tracker, post)
		if err != nil {
			fmt.Fprintf(os.Stdout, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// runConsoleCommand executes one console line and reports whether the
// console should exit
func runConsoleCommand(w io.Writer, input string, tracker *status.Tracker, post func(engine.Event) bool) (bool, error) {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(w, engine.IntentHelp)
		fmt.Fprintln(w, "status | stats | help | quit")
		return false, nil
	case "status":
		printConsoleStatus(w, tracker.Snapshot())
		return false, nil
	case "stats":
		stats := tracker.Snapshot().State.Stats
		fmt.Fprint(w, stats.String())
		return false, nil
	}

	ev, err := engine.ParseIntent(input)
	if err != nil {
		return false, err
	}
	if !post(ev) {
		return false, fmt.Errorf("engine stopped")
	}
	return false, nil
}

func printConsoleStatus(w io.Writer, snap status.Snapshot) {
	st := snap.State
	link := "down"
	if st.LinkUp {
		link = "up (" + st.LinkInfo + ")"
	}
	fmt.Fprintf(w, "Link:     %s\n", link)
	fmt.Fprintf(w, "Circuit:  %s", st.Circuit)
	if st.Breaker.Tripped {
		fmt.Fprintf(w, " (%s)", st.Breaker.Reason)
	}
	fmt.Fprintf(w, "\nBattery:  %s\n", st.Battery)
	fmt.Fprintf(w, "Limits:   trip %.2f mA, low %.2f V, recover %.2f V\n",
		st.Breaker.TripThresholdMA, st.Breaker.LowVoltageV, st.Breaker.RecoveryVoltageV)

	mode := st.Mode.String()
	if st.PhaseName != "" {
		mode += " / " + st.PhaseName
	}
	fmt.Fprintf(w, "Mode:     %s\n", mode)
	fmt.Fprintf(w, "Outputs:  indicator=%s yellow=%s red=%s green=%s\n",
		onOff(st.Command.Indicator), onOff(st.Command.Lit(frame.LEDYellow)),
		onOff(st.Command.Lit(frame.LEDRed)), onOff(st.Command.Lit(frame.LEDGreen)))

	if t := snap.Telemetry; t != nil && t.Sample != nil {
		s := t.Sample
		fmt.Fprintf(w, "Reading:  seq=%03d solar=%.3f V battery=%.3f V current=%+.2f mA load=%.2f mA\n",
			s.Sequence, s.SolarVoltage, s.BatteryVoltage, s.BatteryCurrentMA, s.TotalLoadMA)
	} else {
		fmt.Fprintln(w, "Reading:  none")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
