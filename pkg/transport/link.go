// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Link is a connected byte stream to the ground station. Read must honor
// SetReadDeadline by returning an error whose Timeout method reports true.
type Link interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// Dialer opens a new Link.
type Dialer func(ctx context.Context) (Link, error)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 5 * time.Second

// TCPDialer connects to host:port over TCP.
func TCPDialer(host string, port int) Dialer {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (Link, error) {
		d := net.Dialer{Timeout: DefaultDialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		return conn, nil
	}
}
