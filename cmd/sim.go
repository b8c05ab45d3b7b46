// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

var (
	simCount     int
	simInterval  time.Duration
	simSolar     float64
	simBattery   float64
	simCurrent   float64
	simRamp      float64
	simLEDs      float64
	simCorrupt   int
	simSendToDev bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Generate synthetic telemetry frames",
	Long: `Generate well-formed telemetry frames for bench testing.

Frames go to stdout, or to the configured link with --send. The battery
current is positive while charging; --ramp adds to it every frame, which
makes it easy to walk the breaker into an overcurrent trip.

Examples:
  # Ten frames discharging at 30 mA
  helioguard sim --count 10 --current -30

  # Drive a bridge with a slowly sagging battery
  helioguard sim --url ws://bridge.local/serial --send --battery 3.6 --ramp -0.5`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().IntVar(&simCount, "count", 0, "Number of frames to generate (0 runs until interrupted)")
	simCmd.Flags().DurationVar(&simInterval, "interval", 500*time.Millisecond, "Delay between frames")
	simCmd.Flags().Float64Var(&simSolar, "solar", 5.0, "Solar panel voltage (V)")
	simCmd.Flags().Float64Var(&simBattery, "battery", 3.7, "Battery voltage (V)")
	simCmd.Flags().Float64Var(&simCurrent, "current", 10, "Battery current (mA, positive while charging)")
	simCmd.Flags().Float64Var(&simRamp, "ramp", 0, "Change in battery current per frame (mA)")
	simCmd.Flags().Float64Var(&simLEDs, "led-current", 0, "Current through each LED (mA)")
	simCmd.Flags().IntVar(&simCorrupt, "corrupt-every", 0, "Corrupt the checksum of every Nth frame (0 never)")
	simCmd.Flags().BoolVar(&simSendToDev, "send", false, "Write frames to the configured link instead of stdout")
}

// simFrame builds the frame for one synthetic reading. Readings are
// converted back to millivolts using the configured calibration.
func simFrame(seq int, solarV, batteryV, currentMA, ledMA float64) []byte {
	cal := cfg.Calibration
	mv := func(v float64) int { return int(math.Round(v * cal.MillivoltsPerVolt)) }

	var ch [frame.ChannelCount]int
	ch[frame.ChannelSolar] = mv(solarV)
	ch[frame.ChannelBattery] = mv(batteryV)
	// Sense drops are raw ADC millivolts: mA times ohms
	ch[frame.ChannelBus] = ch[frame.ChannelBattery] + int(math.Round(currentMA*cal.BatterySenseOhms))
	for led := frame.LEDYellow; led < frame.LEDCount; led++ {
		ch[led.Channel()] = ch[frame.ChannelBus] - int(math.Round(ledMA*cal.LEDSenseOhms))
	}

	return frame.EncodeTelemetry(seq, ch, [frame.DigitalInputCount]bool{})
}

func runSim(cmd *cobra.Command, args []string) error {
	var out io.Writer = os.Stdout
	if simSendToDev {
		conn, connInfo, err := OpenConnection()
		if err != nil {
			return err
		}
		defer conn.Close()
		out = conn
		logger.Info().Str("link", connInfo).Msg("sending synthetic telemetry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	current := simCurrent
	for i := 0; simCount == 0 || i < simCount; i++ {
		raw := simFrame(i, simSolar, simBattery, current, simLEDs)
		if simCorrupt > 0 && (i+1)%simCorrupt == 0 {
			at := frame.TelemetryFrameSize - len(frame.Terminator) - 3
			sum := frame.Checksum(raw[len(frame.StartMarker):at])
			copy(raw[at:], frame.FormatChecksum(sum+1))
		}

		if _, err := out.Write(raw); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		current += simRamp

		if simCount != 0 && i == simCount-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
