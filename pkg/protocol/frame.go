// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame represents a decoded protocol frame
type Frame struct {
	msgType   MsgType
	flags     Flags
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame from its fields. The CRC is computed from payload.
func NewFrame(msgType MsgType, flags Flags, payload []byte) *Frame {
	return &Frame{
		msgType:   msgType,
		flags:     flags,
		payload:   payload,
		crc:       CalculateCRC(payload),
		timestamp: time.Now(),
	}
}

// Type returns the frame's message type
func (f *Frame) Type() MsgType {
	return f.msgType
}

// Flags returns the frame's control flags
func (f *Frame) Flags() Flags {
	return f.flags
}

// Payload returns the payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.payload)
}

// CRC returns the frame's checksum
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// RequiresAck reports whether the sender asked for an ACK frame.
func (f *Frame) RequiresAck() bool {
	return f.flags.Has(FlagRequiresAck)
}

// Encode writes a complete frame: sync bytes, type, flags, payload length,
// CRC-16 of the payload, then the payload itself.
func Encode(msgType MsgType, flags Flags, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = SyncByte1
	frame[1] = SyncByte2
	frame[2] = byte(msgType)
	frame[3] = byte(flags)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(payload)))
	binary.BigEndian.PutUint16(frame[6:8], CalculateCRC(payload))
	copy(frame[HeaderSize:], payload)

	return frame, nil
}

// MustEncode is Encode for payloads known to fit. Panics on encoding error.
func MustEncode(msgType MsgType, flags Flags, payload []byte) []byte {
	data, err := Encode(msgType, flags, payload)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode error: %v", err))
	}
	return data
}

// Decode parses one frame from the start of buf. It returns the frame and
// the number of bytes it occupied.
func Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidLength, len(buf))
	}

	if buf[0] != SyncByte1 || buf[1] != SyncByte2 {
		return nil, 0, fmt.Errorf("%w: got 0x%02X 0x%02X", ErrInvalidSync, buf[0], buf[1])
	}

	msgType := MsgType(buf[2])
	flags := Flags(buf[3])
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	crc := binary.BigEndian.Uint16(buf[6:8])

	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, length, MaxPayloadSize)
	}
	if length > len(buf)-HeaderSize {
		return nil, 0, fmt.Errorf("%w: declared %d, only %d available", ErrInvalidLength, length, len(buf)-HeaderSize)
	}

	total := HeaderSize + length
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	if calculated := CalculateCRC(payload); calculated != crc {
		return nil, total, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrInvalidChecksum, calculated, crc)
	}

	if !msgType.Known() {
		return nil, total, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(msgType))
	}

	if want, fixed := payloadSize(msgType); fixed && length != want {
		return nil, total, fmt.Errorf("%w: %s payload is %d bytes, expected %d",
			ErrInvalidParams, FormatMessageType(msgType), length, want)
	}

	return &Frame{
		msgType:   msgType,
		flags:     flags,
		payload:   payload,
		crc:       crc,
		timestamp: time.Now(),
	}, total, nil
}

// payloadSize returns the required payload size of fixed-layout types.
func payloadSize(t MsgType) (int, bool) {
	switch t {
	case MsgADCSCommand:
		return ADCSCommandSize, true
	case MsgTelemetryData:
		return TelemetryDataSize, true
	case MsgError:
		return ErrorPayloadSize, true
	case MsgAck:
		return AckPayloadSize, true
	}
	return 0, false
}
