// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Stream decoder states
const (
	stateSync1 = iota
	stateSync2
	stateHeader
	statePayload
)

// StreamDecoder reassembles frames from a byte stream. It hunts for the sync
// marker, collects the header and payload, then hands the complete frame to
// Decode. Bytes outside a frame are skipped.
type StreamDecoder struct {
	state  int
	buffer []byte
	length int
}

// NewStreamDecoder creates a new stream decoder
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{
		state:  stateSync1,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset drops any partial frame and returns to sync hunting
func (d *StreamDecoder) Reset() {
	d.state = stateSync1
	d.buffer = d.buffer[:0]
	d.length = 0
}

// Pending returns the number of bytes held for an incomplete frame
func (d *StreamDecoder) Pending() int {
	return len(d.buffer)
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if the completed frame is invalid; the decoder is then
// already hunting for the next sync marker.
func (d *StreamDecoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateSync1:
		if b == SyncByte1 {
			d.buffer = append(d.buffer[:0], b)
			d.state = stateSync2
		}
		return nil, nil

	case stateSync2:
		switch b {
		case SyncByte2:
			d.buffer = append(d.buffer, b)
			d.state = stateHeader
		case SyncByte1:
			// Repeated first sync byte, keep waiting for the second.
			d.buffer = append(d.buffer[:0], b)
		default:
			d.Reset()
		}
		return nil, nil

	case stateHeader:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) < HeaderSize {
			return nil, nil
		}
		d.length = int(binary.BigEndian.Uint16(d.buffer[4:6]))
		if d.length > MaxPayloadSize {
			length := d.length
			d.resync()
			return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, length, MaxPayloadSize)
		}
		if d.length == 0 {
			return d.complete()
		}
		d.state = statePayload
		return nil, nil

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) < HeaderSize+d.length {
			return nil, nil
		}
		return d.complete()

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// Feed runs every byte of data through DecodeByte and calls fn for each
// completed frame or decode error, in stream order.
func (d *StreamDecoder) Feed(data []byte, fn func(*Frame, error)) {
	for _, b := range data {
		frame, err := d.DecodeByte(b)
		if frame != nil || err != nil {
			fn(frame, err)
		}
	}
}

// resync drops the first sync byte of a rejected header and rescans the rest,
// so a sync marker inside it is not lost. Fewer than HeaderSize bytes are
// replayed, so no frame or error can complete here.
func (d *StreamDecoder) resync() {
	var held [HeaderSize]byte
	n := copy(held[:], d.buffer[1:])
	d.Reset()
	for _, b := range held[:n] {
		_, _ = d.DecodeByte(b)
	}
}

func (d *StreamDecoder) complete() (*Frame, error) {
	frame, _, err := Decode(d.buffer)
	d.Reset()
	return frame, err
}
