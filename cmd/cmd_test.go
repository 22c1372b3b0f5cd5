// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/ground"
	"github.com/Thermoquad/zenith/pkg/protocol"
)

func TestParseConsoleCommand(t *testing.T) {
	c, err := parseConsoleCommand("att 90 -45 180")
	require.NoError(t, err)
	assert.Equal(t, actionAttitude, c.action)
	assert.InDelta(t, math.Pi/2, c.attitude.Roll, 1e-6)
	assert.InDelta(t, -math.Pi/4, c.attitude.Pitch, 1e-6)
	assert.InDelta(t, math.Pi, c.attitude.Yaw, 1e-6)

	c, err = parseConsoleCommand("  TM ")
	require.NoError(t, err)
	assert.Equal(t, actionTelemetry, c.action)

	c, err = parseConsoleCommand("raw aa55 00")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x55, 0x00}, c.raw)

	c, err = parseConsoleCommand("ack on")
	require.NoError(t, err)
	assert.True(t, c.ack)

	_, err = parseConsoleCommand("")
	assert.ErrorIs(t, err, errEmptyCommand)

	for _, bad := range []string{"att 1 2", "att x 0 0", "att NaN 0 0", "raw zz", "raw", "ack maybe", "launch"} {
		_, err := parseConsoleCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{999, "0 seconds"},
		{1000, "1 second"},
		{3600000, "1 hour"},
		{61000, "1 minute and 1 second"},
		{90061000, "1 day, 1 hour, 1 minute, and 1 second"},
		{2 * 86400000, "2 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.ms), "ms=%d", tt.ms)
	}
}

func TestApplyLinkFlags(t *testing.T) {
	link := config.Default().Link
	require.NoError(t, applyLinkFlags(&link, linkFlags{addr: "0.0.0.0:9000", baud: 9600}))
	assert.Equal(t, config.LinkTCP, link.Kind)
	assert.Equal(t, "0.0.0.0", link.Host)
	assert.Equal(t, 9000, link.Port)
	assert.Equal(t, 115200, link.Baud, "unset baud keeps the configured value")

	link = config.Default().Link
	require.NoError(t, applyLinkFlags(&link, linkFlags{port: "/dev/ttyUSB0", baud: 9600, baudSet: true}))
	assert.Equal(t, config.LinkSerial, link.Kind)
	assert.Equal(t, 9600, link.Baud)
	assert.Equal(t, "Serial: /dev/ttyUSB0 @ 9600 baud", linkDescription(link))

	link = config.Default().Link
	require.NoError(t, applyLinkFlags(&link, linkFlags{port: "/dev/ttyUSB0", url: "ws://sat.local/link", username: "op"}))
	assert.Equal(t, config.LinkWebSocket, link.Kind)
	assert.Equal(t, "op", link.Username)

	link = config.Default().Link
	assert.Error(t, applyLinkFlags(&link, linkFlags{addr: "nohost"}))
	assert.Error(t, applyLinkFlags(&link, linkFlags{addr: "host:port"}))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestWaitForFrame(t *testing.T) {
	corrupt := protocol.TelemetryFrame(protocol.TelemetryPacket{Timestamp: 1000, Temperature: 20, Battery: 90})
	corrupt[len(corrupt)-1] ^= 0xFF

	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37)
	stream = append(stream, corrupt...)
	stream = append(stream, protocol.HeartbeatFrame()...)

	f, skipped, err := waitForFrame(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgHeartbeat, f.Type())
	assert.GreaterOrEqual(t, skipped, 1)

	_, _, err = waitForFrame(bytes.NewReader([]byte{0x01, 0x02}))
	assert.Error(t, err)
}

func TestGroundModel_ProcessEvent(t *testing.T) {
	m := initialGroundModel(ground.NewStation(), "test", nil, false)

	m.processEvent(ground.Event{Kind: ground.EventConnected, Time: time.Now(), Remote: "sat"})
	assert.True(t, m.connected)

	packet := protocol.TelemetryPacket{Timestamp: 5000, Temperature: 21, Power: 3, Battery: 80}
	f, _, err := protocol.Decode(protocol.TelemetryFrame(packet))
	require.NoError(t, err)
	m.processEvent(ground.Event{Kind: ground.EventFrame, Time: time.Now(), Frame: f})
	require.NotNil(t, m.lastTelemetry)
	assert.Equal(t, uint32(5000), m.lastTelemetry.Timestamp)
	assert.Contains(t, m.View(), "5 seconds")

	m.processEvent(ground.Event{Kind: ground.EventDisconnected, Time: time.Now()})
	assert.False(t, m.connected)
	require.NotEmpty(t, m.eventLog)
	assert.True(t, m.eventLog[len(m.eventLog)-1].isError)

	m.runCommand("ack on")
	assert.True(t, m.requireAck)
	m.runCommand("tm")
	assert.Contains(t, m.eventLog[len(m.eventLog)-1].message, "TELEMETRY_REQ failed")
}
