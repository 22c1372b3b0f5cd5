// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Zenith - Simulated Satellite Flight Software
//
// Runs the flight software against a ground link and provides the matching
// ground station, link test and telemetry replay tools.

package main

import (
	"os"

	"github.com/Thermoquad/zenith/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
