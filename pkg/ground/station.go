// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ground implements the ground station end of the link: it accepts
// the satellite connection, decodes its frames and sends commands.
package ground

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

// ErrNoLink is returned by send operations while no satellite is connected.
var ErrNoLink = errors.New("no satellite connected")

// DefaultEventBuffer is the event channel capacity.
const DefaultEventBuffer = 256

// EventKind classifies a station event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventFrame
	EventDecodeError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventFrame:
		return "FRAME"
	case EventDecodeError:
		return "DECODE_ERROR"
	}
	return fmt.Sprintf("EVENT(%d)", int(k))
}

// Event is published for every link change, frame and decode error.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Remote string
	Frame  *protocol.Frame
	Err    error
	// Anomalies holds validation findings for EventFrame.
	Anomalies []protocol.ValidationError
}

// Option configures a Station.
type Option func(*Station)

// WithLogger sets the station logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Station) { s.logger = l }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(s *Station) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Station serves one satellite link at a time.
type Station struct {
	logger *slog.Logger
	buffer int
	events chan Event

	mu    sync.Mutex
	conn  io.ReadWriteCloser
	stats *protocol.Statistics

	writeMu sync.Mutex
}

// NewStation creates an idle station.
func NewStation(opts ...Option) *Station {
	s := &Station{
		buffer: DefaultEventBuffer,
		stats:  protocol.NewStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.events = make(chan Event, s.buffer)
	return s
}

// Events returns the event stream. It is closed when Serve or Attach
// returns; a station serves once.
func (s *Station) Events() <-chan Event {
	return s.events
}

// Connected reports whether a satellite link is up.
func (s *Station) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Statistics returns a snapshot of the frame statistics.
func (s *Station) Statistics() protocol.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := *s.stats
	snap.CalculateRates()
	return snap
}

// Serve accepts satellite links on ln until ctx ends. Connections are
// handled one at a time; ln is closed on return.
func (s *Station) Serve(ctx context.Context, ln net.Listener) error {
	defer close(s.events)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	s.logger.Info("waiting for satellite", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handle(ctx, conn, conn.RemoteAddr().String())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Attach serves a single link that is already open, such as a serial port or
// a WebSocket bridge, until it closes or ctx ends.
func (s *Station) Attach(ctx context.Context, link io.ReadWriteCloser, remote string) error {
	defer close(s.events)
	s.handle(ctx, link, remote)
	return ctx.Err()
}

func (s *Station) handle(ctx context.Context, conn io.ReadWriteCloser, remote string) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("satellite connected", "remote", remote)
	s.publish(ctx, Event{Kind: EventConnected, Remote: remote})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	decoder := protocol.NewStreamDecoder()
	buf := make([]byte, protocol.MaxFrameSize)
	var readErr error
	for {
		n, err := conn.Read(buf)
		decoder.Feed(buf[:n], func(f *protocol.Frame, err error) {
			s.onFrame(ctx, remote, f, err)
		})
		if err != nil {
			readErr = err
			break
		}
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	conn.Close()

	if errors.Is(readErr, io.EOF) {
		readErr = nil
	}
	s.logger.Info("satellite disconnected", "remote", remote, "error", readErr)
	s.publish(ctx, Event{Kind: EventDisconnected, Remote: remote, Err: readErr})
}

func (s *Station) onFrame(ctx context.Context, remote string, f *protocol.Frame, decodeErr error) {
	var anomalies []protocol.ValidationError
	if decodeErr == nil {
		anomalies = protocol.ValidateFrame(f)
	}

	s.mu.Lock()
	s.stats.Update(f, decodeErr, anomalies)
	s.mu.Unlock()

	if decodeErr != nil {
		s.logger.Debug("decode error", "error", decodeErr)
		s.publish(ctx, Event{Kind: EventDecodeError, Remote: remote, Err: decodeErr})
		return
	}
	s.publish(ctx, Event{Kind: EventFrame, Remote: remote, Frame: f, Anomalies: anomalies})
}

// publish blocks while the event buffer is full, so frames are never lost
// to a slow consumer.
func (s *Station) publish(ctx context.Context, ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// SendRaw writes data to the satellite link unchanged.
func (s *Station) SendRaw(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoLink
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendAttitude commands a target attitude in radians.
func (s *Station) SendAttitude(roll, pitch, yaw float32, requireAck bool) error {
	var flags protocol.Flags
	if requireAck {
		flags |= protocol.FlagRequiresAck
	}
	return s.SendRaw(protocol.ADCSCommandFrame(protocol.ADCSCommand{Roll: roll, Pitch: pitch, Yaw: yaw}, flags))
}

// RequestTelemetry asks for an immediate telemetry frame.
func (s *Station) RequestTelemetry(requireAck bool) error {
	var flags protocol.Flags
	if requireAck {
		flags |= protocol.FlagRequiresAck
	}
	return s.SendRaw(protocol.TelemetryRequestFrame(flags))
}
