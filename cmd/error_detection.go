// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/helioguard/pkg/frame"
)

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and anomalous readings",
	Long: `Track frame errors, malformed data and anomalous readings with statistics.

This command validates each frame and detects:
  - Short frames and malformed fields
  - Checksum mismatches
  - Saturated ADC channels and LED sense readings above the bus
  - Sequence gaps, duplicates and receive buffer overflows

By default, only errors are displayed. Use --show-all to display valid frames too.

Periodic statistics summaries are printed at a configurable interval.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Helioguard - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var mu sync.Mutex
	stats := frame.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	go func() {
		for range statsTicker.C {
			mu.Lock()
			summary := stats.String()
			mu.Unlock()
			fmt.Printf("\n%s\n", summary)
		}
	}()

	err = scanFrames(conn, func(raw []byte, rec *frame.Record, decodeErr error) bool {
		mu.Lock()
		defer mu.Unlock()

		lost := stats.PacketLoss
		stats.Update(rec, decodeErr)

		if decodeErr != nil {
			printDecodeError(raw, decodeErr)
			return true
		}
		if gap := stats.PacketLoss - lost; gap > 0 {
			printSequenceGap(rec, gap)
		}
		if anomalies := frame.ValidateRecord(rec); len(anomalies) > 0 {
			printValidationErrors(rec, anomalies)
		} else if showAll {
			fmt.Print(frame.FormatRecord(rec))
		}
		return true
	}, func(discarded int) {
		mu.Lock()
		stats.RecordOverflow()
		mu.Unlock()
		fmt.Printf("[%s] \033[1;31mOVERFLOW:\033[0m discarded %d unresolved bytes\n\n",
			time.Now().Format("15:04:05.000"), discarded)
	})

	if errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(raw []byte, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  Raw: %q\n", frame.FormatRaw(raw))
	fmt.Printf("  >>> FRAME DISCARDED <<<\n\n")
}

// printSequenceGap reports frames lost before rec
func printSequenceGap(rec *frame.Record, gap uint64) {
	timestamp := rec.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mSEQUENCE GAP:\033[0m %d frame(s) lost before seq=%03d\n\n", timestamp, gap, rec.Sequence())
}

// printValidationErrors prints the anomalies found in a record
func printValidationErrors(rec *frame.Record, anomalies []frame.ValidationError) {
	timestamp := rec.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m seq=%03d\n", timestamp, rec.Sequence())

	for i, a := range anomalies {
		switch a.Type {
		case frame.AnomalyChecksum:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		}
	}

	fmt.Printf("  Channels: %v  Inputs: %04b\n", rec.Channels(), rec.InputMask())
	if rec.Valid() {
		fmt.Printf("  >>> READING SUSPECT <<<\n\n")
	} else {
		fmt.Printf("  >>> FRAME UNTRUSTED <<<\n\n")
	}
}
