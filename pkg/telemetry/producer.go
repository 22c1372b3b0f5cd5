// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

// Defaults
const (
	DefaultPeriod       = time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Sender transmits an encoded frame.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// StatusSource provides the ADCS snapshot embedded in telemetry.
type StatusSource interface {
	Status() (protocol.ADCSStatus, error)
}

// ProducerStats are cumulative producer counters.
type ProducerStats struct {
	Produced   uint64
	OnRequest  uint64
	SendErrors uint64
	Skipped    uint64
	Evicted    uint64
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithPeriod sets the periodic telemetry interval.
func WithPeriod(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.period = d
		}
	}
}

// WithPollInterval sets how often pending requests are checked.
func WithPollInterval(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithEvents makes the producer answer EventTelemetryReady immediately.
func WithEvents(g *rtos.EventGroup) ProducerOption {
	return func(p *Producer) { p.events = g }
}

// WithMirror stages every packet into q, evicting the oldest when full.
func WithMirror(q *rtos.Queue[protocol.TelemetryPacket]) ProducerOption {
	return func(p *Producer) { p.mirror = q }
}

// WithLogger sets the producer logger.
func WithLogger(l *slog.Logger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// WithSentHook is called after each packet is produced with the send result.
func WithSentHook(fn func(protocol.TelemetryPacket, error)) ProducerOption {
	return func(p *Producer) { p.onSent = fn }
}

// Producer samples sensors and ADCS state and sends TELEMETRY_DATA frames.
type Producer struct {
	sensors Sensors
	adcs    StatusSource
	sender  Sender
	clock   rtos.TickSource

	period time.Duration
	poll   time.Duration
	events *rtos.EventGroup
	mirror *rtos.Queue[protocol.TelemetryPacket]
	logger *slog.Logger
	onSent func(protocol.TelemetryPacket, error)

	last atomic.Uint32

	produced   atomic.Uint64
	onRequest  atomic.Uint64
	sendErrors atomic.Uint64
	skipped    atomic.Uint64
	evicted    atomic.Uint64
}

// NewProducer creates a producer.
func NewProducer(sensors Sensors, adcs StatusSource, sender Sender, clock rtos.TickSource, opts ...ProducerOption) *Producer {
	p := &Producer{
		sensors: sensors,
		adcs:    adcs,
		sender:  sender,
		clock:   clock,
		period:  DefaultPeriod,
		poll:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p.last.Store(clock.Tick())
	return p
}

// Produce runs one telemetry cycle. If the ADCS snapshot cannot be taken the
// cycle is skipped and the error returned. The packet is staged in the
// mirror even when the send fails.
func (p *Producer) Produce(ctx context.Context) (protocol.TelemetryPacket, error) {
	status, err := p.adcs.Status()
	if err != nil {
		p.skipped.Add(1)
		return protocol.TelemetryPacket{}, fmt.Errorf("telemetry cycle skipped: %w", err)
	}

	reading := p.sensors.Sample()
	packet := protocol.TelemetryPacket{
		Timestamp:   p.clock.Tick(),
		Temperature: reading.Temperature,
		Power:       reading.Power,
		Battery:     reading.Battery,
		ADCS:        status,
	}

	sendErr := p.sender.Send(ctx, protocol.TelemetryFrame(packet))
	p.produced.Add(1)
	if sendErr != nil {
		p.sendErrors.Add(1)
		sendErr = fmt.Errorf("telemetry send: %w", sendErr)
	}

	if p.mirror != nil && p.mirror.SendEvictOldest(packet) {
		p.evicted.Add(1)
	}
	if p.onSent != nil {
		p.onSent(packet, sendErr)
	}
	return packet, sendErr
}

// Poll waits up to one poll interval for a telemetry request, then produces
// a packet if one was requested or the period has elapsed. Reports whether a
// packet was produced.
func (p *Producer) Poll(ctx context.Context) (bool, error) {
	requested := false
	if p.events != nil {
		requested = p.events.Wait(ctx, rtos.EventTelemetryReady, true, p.poll) != 0
	} else {
		timer := time.NewTimer(p.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	now := p.clock.Tick()
	if !requested && rtos.Elapsed(p.last.Load(), now) < p.period {
		return false, nil
	}
	p.last.Store(now)
	if requested {
		p.onRequest.Add(1)
	}

	_, err := p.Produce(ctx)
	return true, err
}

// Stats returns the producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Produced:   p.produced.Load(),
		OnRequest:  p.onRequest.Load(),
		SendErrors: p.sendErrors.Load(),
		Skipped:    p.skipped.Load(),
		Evicted:    p.evicted.Load(),
	}
}
