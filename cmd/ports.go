// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsUSBOnly bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this machine with their USB identifiers.

The board enumerates as a USB serial adapter; use the listed name with --port.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSBOnly, "usb", false, "Only list USB serial adapters")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}

	found := 0
	for _, port := range ports {
		if portsUSBOnly && !port.IsUSB {
			continue
		}
		found++
		if port.IsUSB {
			fmt.Printf("%-24s USB %s:%s", port.Name, port.VID, port.PID)
			if port.Product != "" {
				fmt.Printf("  %s", port.Product)
			}
			if port.SerialNumber != "" {
				fmt.Printf("  (serial %s)", port.SerialNumber)
			}
			fmt.Println()
		} else {
			fmt.Printf("%s\n", port.Name)
		}
	}

	if found == 0 {
		fmt.Println("No serial ports found")
	}
	return nil
}
