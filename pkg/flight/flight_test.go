// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/observability"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
	"github.com/Thermoquad/zenith/pkg/transport"
)

// ============================================================
// Helpers
// ============================================================

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Tasks.ADCSPeriod = config.Duration(10 * time.Millisecond)
	cfg.Transport.PollInterval = config.Duration(10 * time.Millisecond)
	cfg.Transport.ReconnectBackoff = config.Duration(50 * time.Millisecond)
	cfg.Transport.HeartbeatInterval = config.Duration(time.Hour)
	cfg.Telemetry.Period = config.Duration(time.Hour)
	cfg.Watchdog.Timeout = config.Duration(200 * time.Millisecond)
	cfg.Watchdog.Period = config.Duration(20 * time.Millisecond)
	return cfg
}

func offline(context.Context) (transport.Link, error) {
	return nil, errors.New("no ground station")
}

func newSatellite(t *testing.T, cfg config.Config, dial transport.Dialer, opts ...Option) *Satellite {
	t.Helper()
	opts = append([]Option{WithNoise(nil)}, opts...)
	s, err := New(cfg, dial, opts...)
	require.NoError(t, err)
	return s
}

// start runs s in the background and returns a stop function yielding the
// Run error.
func start(t *testing.T, s *Satellite) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errc:
			case <-time.After(5 * time.Second):
				runErr = errors.New("satellite did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

// groundReader decodes every frame the satellite sends on conn.
func groundReader(conn net.Conn) <-chan *protocol.Frame {
	frames := make(chan *protocol.Frame, 64)
	go func() {
		defer close(frames)
		decoder := protocol.NewStreamDecoder()
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			decoder.Feed(buf[:n], func(f *protocol.Frame, err error) {
				if err == nil {
					frames <- f
				}
			})
			if err != nil {
				return
			}
		}
	}()
	return frames
}

func waitForType(t *testing.T, frames <-chan *protocol.Frame, want protocol.MsgType) *protocol.Frame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			require.True(t, ok, "link closed while waiting for %s", want)
			if f.Type() == want {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame received", want)
			return nil
		}
	}
}

// ============================================================
// Dispatcher
// ============================================================

func TestDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewFlightCollector(reg)
	require.NoError(t, err)
	s := newSatellite(t, testConfig(), offline, WithMetrics(metrics))

	assert.Equal(t, ResultOK, s.Dispatch(protocol.AttitudeSet{Roll: 1, Pitch: -1}))
	status, err := s.ADCS().Status()
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeSlewing, status.Mode)
	assert.InDelta(t, 0.1, status.Roll, 1e-6)
	assert.InDelta(t, -0.1, status.Pitch, 1e-6)
	assert.NotZero(t, s.Events().Get()&rtos.EventADCSUpdated)

	assert.Equal(t, ResultOK, s.Dispatch(protocol.TelemetryRequest{}))
	assert.NotZero(t, s.Events().Get()&rtos.EventTelemetryReady)

	assert.Equal(t, ResultOK, s.Dispatch(protocol.ResetSubsystem{ID: protocol.SubsystemADCS}))
	status, err = s.ADCS().Status()
	require.NoError(t, err)
	assert.Equal(t, protocol.ADCSStatus{Mode: protocol.ModeIdle}, status)

	assert.Equal(t, ResultRejected, s.Dispatch(protocol.ResetSubsystem{ID: 42}))
	// No tasks exist before Run.
	assert.Equal(t, ResultFailed, s.Dispatch(protocol.ResetSubsystem{ID: protocol.SubsystemTelecmd}))
	assert.Equal(t, ResultOK, s.Dispatch(protocol.NoOp{}))
	assert.Equal(t, ResultUnknown, s.Dispatch(nil))

	stats := s.Stats()
	assert.Equal(t, uint64(7), stats.CommandsDispatched)
	assert.Equal(t, uint64(1), stats.UnknownCommands)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("ADCS_SET", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("NONE", ResultUnknown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("RESET", ResultRejected)))
}

func TestSubmit_DropsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.CommandQueue = 1
	s := newSatellite(t, cfg, offline)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, protocol.NoOp{}))
	assert.NotZero(t, s.Events().Get()&rtos.EventCommandReceived)

	err := s.Submit(ctx, protocol.TelemetryRequest{})
	assert.ErrorIs(t, err, ErrCommandDropped)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.CommandsQueued)
	assert.Equal(t, uint64(1), stats.CommandDrops)
}

// ============================================================
// Comm handler
// ============================================================

func decodeOne(t *testing.T, data []byte) *protocol.Frame {
	t.Helper()
	f, _, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

func TestHandleFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.InboundQueue = 1
	s := newSatellite(t, cfg, offline)
	ctx := context.Background()

	s.handleFrame(ctx, decodeOne(t, protocol.ADCSCommandFrame(protocol.ADCSCommand{Roll: 0.2}, 0)), nil)
	s.handleFrame(ctx, decodeOne(t, protocol.TelemetryRequestFrame(0)), nil)
	s.handleFrame(ctx, decodeOne(t, protocol.HeartbeatFrame()), nil)
	s.handleFrame(ctx, decodeOne(t, protocol.AckFrame(protocol.MsgTelemetryData)), nil)
	s.handleFrame(ctx, nil, fmt.Errorf("frame: %w", protocol.ErrInvalidChecksum))

	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.FramesReceived)
	assert.Equal(t, uint64(1), stats.InboundDrops)
	assert.Equal(t, uint64(1), stats.Heartbeats)
	assert.Equal(t, uint64(1), stats.IgnoredFrames)
	assert.Equal(t, uint64(1), stats.DecodeErrors)

	f, err := s.inbound.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgADCSCommand, f.Type())
}

// ============================================================
// Test command generator
// ============================================================

func TestGenerator_Cycle(t *testing.T) {
	g := NewTestCommandGenerator(0, nil, nil)

	var kinds []protocol.CommandKind
	for range 8 {
		kinds = append(kinds, g.Next().Kind())
	}
	cycle := []protocol.CommandKind{
		protocol.CmdNoOp, protocol.CmdAttitudeSet, protocol.CmdTelemetryRequest, protocol.CmdResetSubsystem,
	}
	assert.Equal(t, append(cycle, cycle...), kinds)

	g = NewTestCommandGenerator(0, nil, nil)
	g.Next()
	set, ok := g.Next().(protocol.AttitudeSet)
	require.True(t, ok)
	assert.InDelta(t, math.Pi/180, set.Roll, 1e-6)
	assert.InDelta(t, math.Pi/360, set.Pitch, 1e-6)
	assert.InDelta(t, math.Pi/720, set.Yaw, 1e-6)

	assert.Equal(t, protocol.TelemetryRequest{}, g.Next())
	reset, ok := g.Next().(protocol.ResetSubsystem)
	require.True(t, ok)
	assert.Equal(t, protocol.SubsystemADCS, reset.ID)
}

func TestGenerator_Run(t *testing.T) {
	var mu sync.Mutex
	var got []protocol.Command
	g := NewTestCommandGenerator(5*time.Millisecond, func(_ context.Context, c protocol.Command) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, protocol.NoOp{}, got[0])
}

// ============================================================
// Full system
// ============================================================

func TestRun_GroundLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	s := newSatellite(t, testConfig(), transport.TCPDialer(addr.IP.String(), addr.Port))
	stop := start(t, s)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	frames := groundReader(conn)

	// Attitude command with an acknowledgement.
	_, err = conn.Write(protocol.ADCSCommandFrame(protocol.ADCSCommand{Roll: 0.5, Pitch: 0.25}, protocol.FlagRequiresAck))
	require.NoError(t, err)
	ack := waitForType(t, frames, protocol.MsgAck)
	acked, err := protocol.ParseAck(ack.Payload())
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgADCSCommand, acked)

	require.Eventually(t, func() bool {
		target, err := s.ADCS().Target()
		return err == nil && math.Abs(target[0]-0.5) < 1e-6
	}, 2*time.Second, 10*time.Millisecond)

	// Telemetry on request.
	_, err = conn.Write(protocol.TelemetryRequestFrame(0))
	require.NoError(t, err)
	tm := waitForType(t, frames, protocol.MsgTelemetryData)
	packet, err := protocol.ParseTelemetry(tm.Payload())
	require.NoError(t, err)
	assert.Empty(t, protocol.ValidateTelemetry(packet))

	// Corrupted frame gets an ERROR reply.
	bad := protocol.ADCSCommandFrame(protocol.ADCSCommand{Yaw: 1}, 0)
	bad[len(bad)-1] ^= 0xFF
	_, err = conn.Write(bad)
	require.NoError(t, err)
	errFrame := waitForType(t, frames, protocol.MsgError)
	code, err := protocol.ParseErrorCode(errFrame.Payload())
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeInvalidChecksum, code)

	assert.ErrorIs(t, stop(), context.Canceled)
	assert.GreaterOrEqual(t, s.Mirror().Len(), 1, "sent telemetry is mirrored")
}

func TestRun_WatchdogRestartsHungTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Faults = []config.FaultConfig{{Kind: "task_hang", Probability: 1}}
	s := newSatellite(t, cfg, offline, WithFaultSampler(func() float64 { return 0 }))
	stop := start(t, s)

	require.Eventually(t, func() bool {
		for _, e := range s.Watchdog().Entries() {
			if e.TaskID == TaskADCS && e.Restarts > 0 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	for _, info := range s.Kernel().Tasks() {
		if info.Name == TaskADCS {
			assert.Positive(t, info.Restarts)
		}
	}
	assert.ErrorIs(t, stop(), context.Canceled)
}

func TestRun_HaltStopsEverything(t *testing.T) {
	s := newSatellite(t, testConfig(), offline)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(s.Kernel().Tasks()) == 5 }, 2*time.Second, 5*time.Millisecond)
	infos := s.Kernel().Tasks()
	assert.Equal(t, TaskMain, infos[0].Name)
	assert.Equal(t, TaskComm, infos[4].Name)

	s.Kernel().Halt(errors.New("power bus failure"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrHalted)
		assert.ErrorContains(t, err, "power bus failure")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after halt")
	}
	assert.Empty(t, s.Kernel().Tasks())
	assert.Error(t, s.Run(ctx), "second Run is rejected")
}

func TestRun_SpawnFailureHalts(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.MaxTasks = 3
	s := newSatellite(t, cfg, offline)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, err, rtos.ErrResourceExhausted)

	status, _ := s.Kernel().Status()
	assert.Equal(t, rtos.Halted, status)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks.CommandQueue = 0
	_, err := New(cfg, offline)
	assert.Error(t, err)
}
