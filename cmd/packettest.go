// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for a
complete telemetry frame whose checksum matches. Noise, malformed frames
and checksum mismatches are counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Helioguard - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid telemetry frame...\n\n")

	recChan := make(chan *frame.Record, 1)
	errChan := make(chan error, 1)

	go func() {
		rejected := 0
		err := scanFrames(conn, func(raw []byte, rec *frame.Record, err error) bool {
			if err != nil || !rec.Valid() {
				rejected++
				return true
			}
			if rejected > 0 {
				fmt.Printf("(skipped %d bad frames before a valid one)\n", rejected)
			}
			recChan <- rec
			return false
		}, nil)
		if err != nil {
			errChan <- err
		}
	}()

	select {
	case rec := <-recChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Sequence: %03d\n", rec.Sequence())
		mvPerVolt := cfg.Calibration.MillivoltsPerVolt
		fmt.Printf("  Solar:    %.3f V\n", float64(rec.Channel(frame.ChannelSolar))/mvPerVolt)
		fmt.Printf("  Battery:  %.3f V\n", float64(rec.Channel(frame.ChannelBattery))/mvPerVolt)
		fmt.Printf("  Inputs:   %04b\n", rec.InputMask())
		fmt.Printf("  Checksum: %s\n", frame.FormatChecksum(rec.ReceivedChecksum()))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
