// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry produces housekeeping telemetry frames and records
// telemetry streams to disk.
package telemetry

import (
	"math/rand/v2"
	"sync"
)

// Reading is one sample of the housekeeping sensors.
type Reading struct {
	Temperature float32 // °C
	Power       float32 // W
	Battery     float32 // percent
}

// Sensors supplies housekeeping readings.
type Sensors interface {
	Sample() Reading
}

// Simulated sensor limits
const (
	SimMinTemperature = 20.0
	SimMaxTemperature = 30.0
	SimNominalPower   = 10.0
	SimPowerSwing     = 2.0
	SimDischargeStep  = 0.01
)

// SimSensors is a bounded random walk: temperature drifts within 20-30 °C,
// power varies around 10 W and the battery discharges, wrapping to full
// when empty.
type SimSensors struct {
	mu      sync.Mutex
	rng     *rand.Rand
	reading Reading
}

// NewSimSensors creates simulated sensors with a deterministic seed.
func NewSimSensors(seed uint64) *SimSensors {
	return &SimSensors{
		rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		reading: Reading{
			Temperature: 25,
			Power:       SimNominalPower,
			Battery:     100,
		},
	}
}

// Sample advances the simulation by one step and returns the new reading.
func (s *SimSensors) Sample() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.reading
	r.Temperature += float32(s.rng.Float64() - 0.5)
	r.Temperature = min(max(r.Temperature, SimMinTemperature), SimMaxTemperature)

	r.Power = float32(SimNominalPower + (s.rng.Float64()*2-1)*SimPowerSwing)

	r.Battery -= SimDischargeStep
	if r.Battery < 0 {
		r.Battery = 100
	}
	return *r
}
