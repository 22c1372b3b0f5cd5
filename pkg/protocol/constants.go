// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package protocol implements the Zenith ground/space link protocol.
//
// Every frame starts with an 8-byte header: two sync bytes, a message type,
// a flag byte, a big-endian payload length and a big-endian CRC-16 computed
// over the payload only. The payload follows the header. This package
// provides frame encoding/decoding, CRC validation, typed payloads, a stream
// decoder for byte-oriented links, and human-readable formatting.
package protocol

// Frame sync marker
const (
	SyncByte1 = 0xAA
	SyncByte2 = 0x55
)

// Frame size limits
const (
	HeaderSize     = 8
	MaxFrameSize   = 1024 // transport buffer size on the flight side
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// MsgType identifies the payload carried by a frame.
type MsgType uint8

// Message types
const (
	MsgADCSCommand   MsgType = 0x01
	MsgTelemetryReq  MsgType = 0x02
	MsgTelemetryData MsgType = 0x03
	MsgAck           MsgType = 0x04
	MsgError         MsgType = 0x05
	MsgHeartbeat     MsgType = 0xFF
)

// Known reports whether t is one of the defined message types.
func (t MsgType) Known() bool {
	switch t {
	case MsgADCSCommand, MsgTelemetryReq, MsgTelemetryData, MsgAck, MsgError, MsgHeartbeat:
		return true
	}
	return false
}

// Flags is the control flag bitset of a frame.
type Flags uint8

// Control flags
const (
	FlagRequiresAck  Flags = 0x01
	FlagFragmented   Flags = 0x02
	FlagLastFragment Flags = 0x04
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// ErrorCode is the single-byte payload of an ERROR frame.
type ErrorCode uint8

// Error codes
const (
	ErrCodeInvalidCommand  ErrorCode = 0x01
	ErrCodeInvalidChecksum ErrorCode = 0x02
	ErrCodeTimeout         ErrorCode = 0x03
	ErrCodeInvalidParams   ErrorCode = 0x04
	ErrCodeInvalidState    ErrorCode = 0x05
)

// ADCSMode is the attitude control mode reported in telemetry.
type ADCSMode uint8

// ADCS mode values
const (
	ModeIdle ADCSMode = iota
	ModeSlewing
	ModeHold
)

// Payload sizes for fixed-layout message types
const (
	ADCSCommandSize   = 12 // roll, pitch, yaw as float32
	TelemetryDataSize = 29 // timestamp u32 + 3 f32 + adcs (3 f32 + mode u8)
	ErrorPayloadSize  = 1
	AckPayloadSize    = 1
)

// Subsystem identifiers used by RESET commands.
const (
	SubsystemMain      uint8 = 0
	SubsystemTelecmd   uint8 = 1
	SubsystemADCS      uint8 = 2
	SubsystemTelemetry uint8 = 3
)
