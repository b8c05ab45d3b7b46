// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display the raw telemetry log in human-readable format",
	Long: `Continuously decode and display telemetry frames as they arrive.

Each frame is shown with its timestamp, sequence number, the six analog
channels in millivolts, the digital inputs and the checksum. Frames whose
checksum does not match are shown with the computed value.

Nothing is sent to the board. Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

// frameHandler is called once per extracted frame. Returning false stops
// the scan.
type frameHandler func(raw []byte, rec *frame.Record, err error) bool

// scanFrames reads r until it fails or h returns false, feeding every
// chunk through a fresh extractor and decoder. Buffer overflows are
// reported through onOverflow when it is non-nil.
func scanFrames(r io.Reader, h frameHandler, onOverflow func(discarded int)) error {
	extractor := frame.NewExtractor()
	extractor.OnOverflow = onOverflow
	decoder := frame.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := r.Read(buf)
		if err != nil {
			return err
		}

		for raw := range extractor.Feed(buf[:n]) {
			rec, decodeErr := decoder.Decode(raw)
			if !h(raw, rec, decodeErr) {
				return nil
			}
		}
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Helioguard - Raw Telemetry Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	err = scanFrames(conn, func(raw []byte, rec *frame.Record, err error) bool {
		if err != nil {
			fmt.Print(frame.FormatDecodeError(err))
			return true
		}
		fmt.Print(frame.FormatRecord(rec))
		return true
	}, func(discarded int) {
		logger.Warn().Int("discarded", discarded).Msg("Receive buffer overflow")
	})

	if errors.Is(err, ErrConnectionClosed) {
		logger.Info().Msg("Connection closed")
		return nil
	}
	return err
}
