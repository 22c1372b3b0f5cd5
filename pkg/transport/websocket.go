// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketLink carries frames as binary WebSocket messages. A background
// reader owns the connection's read side, so a poll deadline expiring does
// not poison the connection.
type WebSocketLink struct {
	conn *websocket.Conn

	messages chan []byte
	readErr  error
	readDone chan struct{}
	stop     chan struct{}

	mu       sync.Mutex
	buf      []byte
	deadline time.Time
	closed   sync.Once
}

func newWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	w := &WebSocketLink{
		conn:     conn,
		messages: make(chan []byte, 16),
		readDone: make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketLink) readLoop() {
	defer close(w.readDone)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			return
		}
		// Only binary messages carry frames
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.messages <- data:
		case <-w.stop:
			return
		}
	}
}

// Read returns buffered message bytes, waiting for the next message until
// the read deadline.
func (w *WebSocketLink) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	var timeout <-chan time.Time
	if !w.deadline.IsZero() {
		timer := time.NewTimer(time.Until(w.deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-w.messages:
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-w.readDone:
		// Drain anything queued before the reader stopped
		select {
		case data := <-w.messages:
			n := copy(p, data)
			w.buf = data[n:]
			return n, nil
		default:
		}
		return 0, w.readErr
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}
}

func (w *WebSocketLink) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline sets the deadline for the next Read.
func (w *WebSocketLink) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.deadline = t
	w.mu.Unlock()
	return nil
}

func (w *WebSocketLink) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.stop)
		err = w.conn.Close()
	})
	return err
}

// WebSocketDialer connects to a ws:// or wss:// URL with optional HTTP Basic
// auth.
func WebSocketDialer(wsURL, username, password string, skipSSLVerify bool) (Dialer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	return func(ctx context.Context) (Link, error) {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("WebSocket connection failed: %w", err)
		}
		return newWebSocketLink(conn), nil
	}, nil
}
