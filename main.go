// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Helioguard - Battery and Solar Circuit Monitor
//
// A CLI tool for monitoring a battery / solar / LED board over a serial
// link, enforcing its protection limits and driving its outputs.

package main

import (
	"os"

	"github.com/Thermoquad/helioguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
