// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport maintains the flight side of the ground link: connect,
// reconnect with a fixed backoff, heartbeat and bounded-poll receive.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/zenith/pkg/fault"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

// Defaults
const (
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultReconnectBackoff  = 5 * time.Second
	DefaultHeartbeatInterval = time.Second
)

var (
	ErrConnect           = errors.New("connect failed")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrSend              = errors.New("send failed")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrNotConnected      = errors.New("not connected")
	ErrDropped           = errors.New("send dropped by fault injection")
	ErrPollTimeout       = errors.New("receive poll timeout")
)

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

// FaultInjector is consulted before sends.
type FaultInjector interface {
	Evaluate(ctx context.Context, kind fault.Kind, self fault.Suspender) bool
}

// Stats are cumulative transport counters.
type Stats struct {
	ConnectAttempts uint64
	Connects        uint64
	Disconnects     uint64
	BytesSent       uint64
	BytesReceived   uint64
	Heartbeats      uint64
	Dropped         uint64
	SendErrors      uint64
}

// Handler receives inbound bytes. The slice is only valid during the call.
type Handler func(data []byte)

// Option configures a Transport.
type Option func(*Transport)

// WithPollInterval sets the receive poll bound.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithReconnectBackoff sets the fixed wait between connection attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.backoff = d
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.heartbeat = d
		}
	}
}

// WithClock sets the tick source used for heartbeat timing.
func WithClock(c rtos.TickSource) Option {
	return func(t *Transport) { t.clock = c }
}

// WithFaults enables TRANSPORT_DROP and TRANSPORT_DELAY injection.
func WithFaults(f FaultInjector) Option {
	return func(t *Transport) { t.faults = f }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(State)) Option {
	return func(t *Transport) { t.onState = fn }
}

// Transport owns at most one Link at a time.
type Transport struct {
	dial Dialer

	mu    sync.Mutex
	state State
	link  Link

	writeMu sync.Mutex

	pollInterval time.Duration
	backoff      time.Duration
	heartbeat    time.Duration
	clock        rtos.TickSource
	faults       FaultInjector
	logger       *slog.Logger
	onState      func(State)

	connectAttempts atomic.Uint64
	connects        atomic.Uint64
	disconnects     atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	heartbeats      atomic.Uint64
	dropped         atomic.Uint64
	sendErrors      atomic.Uint64
}

// New creates a disconnected transport that opens links with dial.
func New(dial Dialer, opts ...Option) *Transport {
	t := &Transport{
		dial:         dial,
		state:        Disconnected,
		pollInterval: DefaultPollInterval,
		backoff:      DefaultReconnectBackoff,
		heartbeat:    DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = rtos.NewClock()
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		ConnectAttempts: t.connectAttempts.Load(),
		Connects:        t.connects.Load(),
		Disconnects:     t.disconnects.Load(),
		BytesSent:       t.bytesSent.Load(),
		BytesReceived:   t.bytesReceived.Load(),
		Heartbeats:      t.heartbeats.Load(),
		Dropped:         t.dropped.Load(),
		SendErrors:      t.sendErrors.Load(),
	}
}

// setStateLocked changes state and notifies the hook. Caller holds mu.
func (t *Transport) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.state = s
	t.logger.Info("link state changed", "state", s.String())
	if t.onState != nil {
		t.onState(s)
	}
}

// Connect opens a link. It returns nil if already connected.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case Connected:
		t.mu.Unlock()
		return nil
	case Connecting:
		t.mu.Unlock()
		return ErrConnectInProgress
	}
	t.setStateLocked(Connecting)
	t.mu.Unlock()

	t.connectAttempts.Add(1)
	link, err := t.dial(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.setStateLocked(Disconnected)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	t.link = link
	t.connects.Add(1)
	t.setStateLocked(Connected)
	return nil
}

// Disconnect closes the current link, if any.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLinkLocked(t.link)
}

// dropLinkLocked closes link if it is still current. Caller holds mu.
func (t *Transport) dropLinkLocked(link Link) {
	if link == nil || t.link != link {
		return
	}
	_ = link.Close()
	t.link = nil
	t.disconnects.Add(1)
	t.setStateLocked(Disconnected)
}

func (t *Transport) dropLink(link Link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLinkLocked(link)
}

func (t *Transport) currentLink() Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link
}

// Send writes a complete frame. A reset or closed peer disconnects the link
// and returns ErrPeerDisconnected; other write failures return ErrSend and
// leave the link up.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if t.faults != nil {
		if t.faults.Evaluate(ctx, fault.TransportDrop, nil) {
			t.dropped.Add(1)
			return ErrDropped
		}
		t.faults.Evaluate(ctx, fault.TransportDelay, nil)
	}

	link := t.currentLink()
	if link == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	n, err := link.Write(data)
	t.writeMu.Unlock()

	if n > 0 {
		t.bytesSent.Add(uint64(n))
	}
	if err != nil {
		if isPeerGone(err) {
			t.dropLink(link)
			return fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
		}
		t.sendErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if n != len(data) {
		t.sendErrors.Add(1)
		return fmt.Errorf("%w: short write %d/%d", ErrSend, n, len(data))
	}
	return nil
}

// Receive reads into buf, waiting at most one poll interval. It returns
// ErrPollTimeout when nothing arrived and ErrPeerDisconnected when the peer
// closed or reset the link.
func (t *Transport) Receive(buf []byte) (int, error) {
	link := t.currentLink()
	if link == nil {
		return 0, ErrNotConnected
	}

	_ = link.SetReadDeadline(time.Now().Add(t.pollInterval))
	n, err := link.Read(buf)
	if n > 0 {
		t.bytesReceived.Add(uint64(n))
		return n, nil
	}
	if err != nil && isTimeout(err) {
		return 0, ErrPollTimeout
	}

	t.dropLink(link)
	if err == nil {
		err = io.EOF
	}
	return 0, fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
}

// Run keeps the link up until ctx ends: connect, wait the fixed backoff
// after every failure or disconnect, send heartbeats while connected and
// pass received bytes to handler.
func (t *Transport) Run(ctx context.Context, handler Handler) error {
	buf := make([]byte, protocol.MaxFrameSize)
	firstAttempt := true
	var lastHeartbeat uint32

	for {
		if ctx.Err() != nil {
			t.Disconnect()
			return ctx.Err()
		}

		if t.State() != Connected {
			if !firstAttempt && !sleepCtx(ctx, t.backoff) {
				continue
			}
			firstAttempt = false
			if err := t.Connect(ctx); err != nil {
				t.logger.Warn("connect failed", "error", err, "retry_in", t.backoff)
				continue
			}
			lastHeartbeat = t.clock.Tick()
		}

		if now := t.clock.Tick(); rtos.Elapsed(lastHeartbeat, now) >= t.heartbeat {
			lastHeartbeat = now
			if err := t.Send(ctx, protocol.HeartbeatFrame()); err != nil {
				t.logger.Debug("heartbeat failed", "error", err)
				if errors.Is(err, ErrPeerDisconnected) {
					continue
				}
			} else {
				t.heartbeats.Add(1)
			}
		}

		n, err := t.Receive(buf)
		switch {
		case err == nil:
			handler(buf[:n])
		case errors.Is(err, ErrPollTimeout), errors.Is(err, ErrNotConnected):
		case errors.Is(err, ErrPeerDisconnected):
			t.logger.Warn("link lost", "error", err, "retry_in", t.backoff)
		default:
			t.logger.Error("receive failed", "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isPeerGone(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
