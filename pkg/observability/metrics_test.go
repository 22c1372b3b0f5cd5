// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

func TestFlightCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewFlightCollector(reg)
	require.NoError(t, err)

	c.FrameReceived(protocol.MsgADCSCommand)
	c.FrameReceived(protocol.MsgADCSCommand)
	c.DecodeError(protocol.ErrCodeInvalidChecksum)
	c.Command("ADCS_SET", "ok")
	c.QueueDrop("command")
	c.WatchdogRestart("TM_PROC")
	c.FaultFired("task_hang")
	c.SetLinkState(2)
	c.SetHalted()
	c.Telemetry(protocol.TelemetryPacket{Battery: 88, ADCS: protocol.ADCSStatus{Yaw: 1.5}}, nil)
	c.Telemetry(protocol.TelemetryPacket{}, errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FramesReceived.WithLabelValues("ADCS_CMD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DecodeErrors.WithLabelValues("INVALID_CHECKSUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Commands.WithLabelValues("ADCS_SET", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QueueDrops.WithLabelValues("command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WatchdogRestarts.WithLabelValues("TM_PROC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FaultsFired.WithLabelValues("task_hang")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.LinkState))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Halted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TelemetrySent.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TelemetrySent.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Housekeeping.WithLabelValues("battery_percent")), "latest packet wins")
	assert.Equal(t, c.Gatherer(), prometheus.Gatherer(reg))
}

func TestFlightCollector_ReRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewFlightCollector(reg)
	require.NoError(t, err)
	second, err := NewFlightCollector(reg)
	require.NoError(t, err)

	first.QueueDrop("mirror")
	assert.Equal(t, 1.0, testutil.ToFloat64(second.QueueDrops.WithLabelValues("mirror")))
}

func TestFlightCollector_NilSafe(t *testing.T) {
	var c *FlightCollector
	assert.NotPanics(t, func() {
		c.FrameReceived(protocol.MsgAck)
		c.DecodeError(protocol.ErrCodeInvalidParams)
		c.Command("NOOP", "ok")
		c.QueueDrop("command")
		c.Telemetry(protocol.TelemetryPacket{}, nil)
		c.WatchdogRestart("TC_PROC")
		c.FaultFired("cpu_overload")
		c.SetLinkState(0)
		c.SetHalted()
	})
	assert.Nil(t, c.Gatherer())
}
