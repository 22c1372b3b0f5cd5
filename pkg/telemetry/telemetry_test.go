// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/adcs"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

// ============================================================
// Helpers
// ============================================================

type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *captureSender) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return c.err
}

func (c *captureSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type manualClock struct{ tick atomic.Uint32 }

func (m *manualClock) Tick() uint32 { return m.tick.Load() }

type fixedSensors struct{}

func (fixedSensors) Sample() Reading {
	return Reading{Temperature: 22, Power: 9.5, Battery: 80}
}

type failingStatus struct{}

func (failingStatus) Status() (protocol.ADCSStatus, error) {
	return protocol.ADCSStatus{}, adcs.ErrLockTimeout
}

// ============================================================
// Sensor Tests
// ============================================================

func TestSimSensors_StayInRange(t *testing.T) {
	s := NewSimSensors(42)
	for i := 0; i < 20000; i++ {
		r := s.Sample()
		require.GreaterOrEqual(t, r.Temperature, float32(SimMinTemperature))
		require.LessOrEqual(t, r.Temperature, float32(SimMaxTemperature))
		require.GreaterOrEqual(t, r.Power, float32(SimNominalPower-SimPowerSwing))
		require.LessOrEqual(t, r.Power, float32(SimNominalPower+SimPowerSwing))
		require.GreaterOrEqual(t, r.Battery, float32(0))
		require.LessOrEqual(t, r.Battery, float32(100))
	}
}

func TestSimSensors_BatteryWraps(t *testing.T) {
	s := NewSimSensors(1)
	first := s.Sample().Battery
	wrapped := false
	prev := first
	for i := 0; i < 20000; i++ {
		b := s.Sample().Battery
		if b > prev {
			wrapped = true
			assert.Equal(t, float32(100), b)
			break
		}
		prev = b
	}
	assert.True(t, wrapped, "battery should reset to full after discharging")
}

// ============================================================
// Producer Tests
// ============================================================

func TestProduce_EncodesTelemetryFrame(t *testing.T) {
	state := adcs.New(0)
	require.NoError(t, state.SetTarget(0.05, 0, 0))
	sender := &captureSender{}
	clock := &manualClock{}
	clock.tick.Store(4242)

	p := NewProducer(fixedSensors{}, state, sender, clock)
	packet, err := p.Produce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, sender.Count())
	f, _, err := protocol.Decode(sender.frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgTelemetryData, f.Type())

	decoded, err := protocol.ParseTelemetry(f.Payload())
	require.NoError(t, err)
	assert.Equal(t, packet, decoded)
	assert.Equal(t, uint32(4242), decoded.Timestamp)
	assert.Equal(t, float32(80), decoded.Battery)
	assert.Equal(t, protocol.ModeHold, decoded.ADCS.Mode)
}

func TestProduce_LockTimeoutSkipsCycle(t *testing.T) {
	sender := &captureSender{}
	p := NewProducer(fixedSensors{}, failingStatus{}, sender, &manualClock{})

	_, err := p.Produce(context.Background())
	assert.ErrorIs(t, err, adcs.ErrLockTimeout)
	assert.Zero(t, sender.Count())
	assert.Equal(t, uint64(1), p.Stats().Skipped)
}

func TestProduce_MirrorEvictsOldest(t *testing.T) {
	sender := &captureSender{err: errors.New("link down")}
	mirror := rtos.NewQueue[protocol.TelemetryPacket](2)
	clock := &manualClock{}
	p := NewProducer(fixedSensors{}, adcs.New(0), sender, clock, WithMirror(mirror))

	for i := 1; i <= 3; i++ {
		clock.tick.Store(uint32(i))
		_, err := p.Produce(context.Background())
		assert.Error(t, err, "send error is reported")
	}

	assert.Equal(t, 2, mirror.Len())
	first, err := mirror.Receive(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), first.Timestamp)
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Equal(t, uint64(3), stats.SendErrors)
}

func TestPoll_PeriodicAndOnRequest(t *testing.T) {
	sender := &captureSender{}
	clock := &manualClock{}
	events := rtos.NewEventGroup()
	p := NewProducer(fixedSensors{}, adcs.New(0), sender, clock,
		WithEvents(events), WithPeriod(time.Second), WithPollInterval(5*time.Millisecond))

	produced, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, produced, "nothing due yet")

	clock.tick.Store(1000)
	produced, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, produced, "period elapsed")

	clock.tick.Store(1100)
	events.Set(rtos.EventTelemetryReady)
	produced, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, produced, "request serviced before the period")
	assert.Zero(t, events.Get()&rtos.EventTelemetryReady, "request consumed")

	assert.Equal(t, 2, sender.Count())
	assert.Equal(t, uint64(1), p.Stats().OnRequest)
}

func TestPoll_Cancelled(t *testing.T) {
	p := NewProducer(fixedSensors{}, adcs.New(0), &captureSender{}, &manualClock{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================
// Recorder Tests
// ============================================================

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, "sat-1")

	packets := []protocol.TelemetryPacket{
		{Timestamp: 1000, Temperature: 24.5, Power: 10, Battery: 99.5,
			ADCS: protocol.ADCSStatus{Roll: 0.1, Mode: protocol.ModeSlewing}},
		{Timestamp: 2000, Temperature: 25, Power: 11, Battery: 99.4,
			ADCS: protocol.ADCSStatus{Roll: 0.2, Yaw: -3.1, Mode: protocol.ModeHold}},
	}
	before := time.Now()
	for _, p := range packets {
		require.NoError(t, rec.Record(p))
	}
	assert.Equal(t, 2, rec.Count())

	records, err := NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, r := range records {
		assert.Equal(t, packets[i], r.Packet())
		assert.Equal(t, "sat-1", r.Source)
		assert.False(t, r.Received.Before(before.Truncate(time.Second)))
	}
}

func TestReader_Corrupt(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0xFF, 0x00, 0x13})).Next()
	assert.Error(t, err)
}
