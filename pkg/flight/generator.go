// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flight

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

// DefaultTestCommandInterval is the generator period.
const DefaultTestCommandInterval = 5 * time.Second

// TestCommandGenerator feeds a fixed command cycle into the dispatcher so the
// command path is exercised without a ground station: NOOP, ADCS_SET,
// GET_TELEMETRY, RESET(ADCS).
type TestCommandGenerator struct {
	interval time.Duration
	submit   func(context.Context, protocol.Command) error
	logger   *slog.Logger

	mu    sync.Mutex
	count uint32
}

// NewTestCommandGenerator creates a generator that hands commands to submit.
func NewTestCommandGenerator(interval time.Duration, submit func(context.Context, protocol.Command) error, logger *slog.Logger) *TestCommandGenerator {
	if interval <= 0 {
		interval = DefaultTestCommandInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TestCommandGenerator{interval: interval, submit: submit, logger: logger}
}

// Next returns the next command in the cycle. ADCS_SET targets count%360
// degrees of roll, half that of pitch and a quarter of yaw.
func (g *TestCommandGenerator) Next() protocol.Command {
	g.mu.Lock()
	n := g.count
	g.count++
	g.mu.Unlock()

	switch n % 4 {
	case 0:
		return protocol.NoOp{}
	case 1:
		deg := float64(n % 360)
		rad := deg * math.Pi / 180
		return protocol.AttitudeSet{
			Roll:  float32(rad),
			Pitch: float32(rad * 0.5),
			Yaw:   float32(rad * 0.25),
		}
	case 2:
		return protocol.TelemetryRequest{}
	default:
		return protocol.ResetSubsystem{ID: protocol.SubsystemADCS}
	}
}

// Run submits one command per interval until ctx ends.
func (g *TestCommandGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd := g.Next()
			g.logger.Debug("test command", "command", cmd.Kind().String())
			if err := g.submit(ctx, cmd); err != nil && ctx.Err() == nil {
				g.logger.Warn("test command not queued", "command", cmd.Kind().String(), "error", err)
			}
		}
	}
}
