// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ground

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/flight"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/transport"
)

// ============================================================
// Helpers
// ============================================================

type served struct {
	station *Station
	addr    *net.TCPAddr
	cancel  context.CancelFunc
	done    chan error
}

func serve(t *testing.T) *served {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &served{
		station: NewStation(),
		addr:    ln.Addr().(*net.TCPAddr),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { srv.done <- srv.station.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-srv.done
	})
	return srv
}

func nextEvent(t *testing.T, s *Station, want EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "event stream closed while waiting for %s", want)
			if ev.Kind == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
			return Event{}
		}
	}
}

func nextFrame(t *testing.T, s *Station, want protocol.MsgType) *protocol.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ev := nextEvent(t, s, EventFrame)
		if ev.Frame.Type() == want {
			return ev.Frame
		}
	}
	t.Fatalf("no %s frame", want)
	return nil
}

// ============================================================
// Station
// ============================================================

func TestStation_ReceivesFrames(t *testing.T) {
	srv := serve(t)

	sat, err := net.Dial("tcp", srv.addr.String())
	require.NoError(t, err)
	defer sat.Close()
	nextEvent(t, srv.station, EventConnected)
	assert.Eventually(t, srv.station.Connected, time.Second, 5*time.Millisecond)

	packet := protocol.TelemetryPacket{Timestamp: 1000, Temperature: 25, Power: 10, Battery: 90}
	bad := protocol.AckFrame(protocol.MsgADCSCommand)
	bad[len(bad)-1] ^= 0xFF

	var stream []byte
	stream = append(stream, protocol.TelemetryFrame(packet)...)
	stream = append(stream, 0x00, 0x13) // line noise
	stream = append(stream, protocol.HeartbeatFrame()...)
	stream = append(stream, bad...)
	_, err = sat.Write(stream)
	require.NoError(t, err)

	ev := nextEvent(t, srv.station, EventFrame)
	require.Equal(t, protocol.MsgTelemetryData, ev.Frame.Type())
	got, err := protocol.ParseTelemetry(ev.Frame.Payload())
	require.NoError(t, err)
	assert.Equal(t, packet, got)
	assert.Empty(t, ev.Anomalies)

	ev = nextEvent(t, srv.station, EventFrame)
	assert.Equal(t, protocol.MsgHeartbeat, ev.Frame.Type())

	ev = nextEvent(t, srv.station, EventDecodeError)
	assert.ErrorIs(t, ev.Err, protocol.ErrInvalidChecksum)

	stats := srv.station.Statistics()
	assert.Equal(t, uint64(1), stats.TelemetryFrames)
	assert.Equal(t, uint64(1), stats.Heartbeats)
	assert.Equal(t, uint64(1), stats.CRCErrors)

	require.NoError(t, sat.Close())
	ev = nextEvent(t, srv.station, EventDisconnected)
	assert.NoError(t, ev.Err)
	assert.False(t, srv.station.Connected())
}

func TestStation_SendsCommands(t *testing.T) {
	srv := serve(t)
	assert.ErrorIs(t, srv.station.RequestTelemetry(false), ErrNoLink)

	sat, err := net.Dial("tcp", srv.addr.String())
	require.NoError(t, err)
	defer sat.Close()
	nextEvent(t, srv.station, EventConnected)

	require.NoError(t, srv.station.SendAttitude(0.1, 0.2, -0.3, true))
	require.NoError(t, srv.station.RequestTelemetry(false))

	decoder := protocol.NewStreamDecoder()
	var frames []*protocol.Frame
	buf := make([]byte, 256)
	require.NoError(t, sat.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(frames) < 2 {
		n, err := sat.Read(buf)
		require.NoError(t, err)
		decoder.Feed(buf[:n], func(f *protocol.Frame, err error) {
			require.NoError(t, err)
			frames = append(frames, f)
		})
	}

	assert.Equal(t, protocol.MsgADCSCommand, frames[0].Type())
	assert.True(t, frames[0].RequiresAck())
	cmd, err := protocol.ParseADCSCommand(frames[0].Payload())
	require.NoError(t, err)
	assert.Equal(t, protocol.ADCSCommand{Roll: 0.1, Pitch: 0.2, Yaw: -0.3}, cmd)

	assert.Equal(t, protocol.MsgTelemetryReq, frames[1].Type())
	assert.False(t, frames[1].RequiresAck())
}

func TestStation_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewStation()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	sat, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer sat.Close()
	nextEvent(t, s, EventConnected)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	// The stream drains and closes.
	for range s.Events() {
	}
}

// ============================================================
// Against the flight software
// ============================================================

func TestStation_FlightSoftware(t *testing.T) {
	srv := serve(t)

	cfg := config.Default()
	cfg.Tasks.ADCSPeriod = config.Duration(10 * time.Millisecond)
	cfg.Transport.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.Transport.HeartbeatInterval = config.Duration(50 * time.Millisecond)
	cfg.Telemetry.Period = config.Duration(time.Hour)

	sat, err := flight.New(cfg, transport.TCPDialer(srv.addr.IP.String(), srv.addr.Port), flight.WithNoise(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sat.Run(ctx) }()
	defer func() {
		cancel()
		err := <-runErr
		assert.True(t, errors.Is(err, context.Canceled), "unexpected Run error: %v", err)
	}()

	nextEvent(t, srv.station, EventConnected)
	nextFrame(t, srv.station, protocol.MsgHeartbeat)

	require.NoError(t, srv.station.SendAttitude(0.3, 0, 0, true))
	ack := nextFrame(t, srv.station, protocol.MsgAck)
	acked, err := protocol.ParseAck(ack.Payload())
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgADCSCommand, acked)

	require.NoError(t, srv.station.RequestTelemetry(false))
	tm := nextFrame(t, srv.station, protocol.MsgTelemetryData)
	packet, err := protocol.ParseTelemetry(tm.Payload())
	require.NoError(t, err)
	assert.NotEqual(t, protocol.ModeIdle, packet.ADCS.Mode)
	assert.Greater(t, packet.ADCS.Roll, float32(0))
}
