// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
)

// SerialLink wraps a serial port.
type SerialLink struct {
	port serial.Port
}

// Read reads from the port. The port reports an expired read timeout as a
// zero-length read, which is translated into a deadline error.
func (s *SerialLink) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *SerialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialLink) Close() error {
	return s.port.Close()
}

// SetReadDeadline maps the deadline onto the port read timeout.
func (s *SerialLink) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return s.port.SetReadTimeout(d)
}

// SerialDialer opens a serial port at 8N1.
func SerialDialer(portName string, baudRate int) Dialer {
	return func(ctx context.Context) (Link, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}

		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}
		return &SerialLink{port: port}, nil
	}
}
