// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ADCSCommand is the payload of an ADCS_CMD frame: target attitude in radians.
type ADCSCommand struct {
	Roll  float32
	Pitch float32
	Yaw   float32
}

// ADCSStatus is the attitude snapshot carried inside telemetry.
type ADCSStatus struct {
	Roll  float32
	Pitch float32
	Yaw   float32
	Mode  ADCSMode
}

// TelemetryPacket is the payload of a TELEMETRY_DATA frame.
type TelemetryPacket struct {
	Timestamp   uint32 // milliseconds since boot
	Temperature float32
	Power       float32
	Battery     float32
	ADCS        ADCSStatus
}

func putFloat32(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// Marshal returns the 12-byte wire form of the command.
func (c ADCSCommand) Marshal() []byte {
	b := make([]byte, ADCSCommandSize)
	putFloat32(b[0:4], c.Roll)
	putFloat32(b[4:8], c.Pitch)
	putFloat32(b[8:12], c.Yaw)
	return b
}

// ParseADCSCommand decodes an ADCS_CMD payload.
func ParseADCSCommand(payload []byte) (ADCSCommand, error) {
	if len(payload) != ADCSCommandSize {
		return ADCSCommand{}, fmt.Errorf("%w: ADCS_CMD payload is %d bytes, expected %d",
			ErrInvalidParams, len(payload), ADCSCommandSize)
	}
	return ADCSCommand{
		Roll:  getFloat32(payload[0:4]),
		Pitch: getFloat32(payload[4:8]),
		Yaw:   getFloat32(payload[8:12]),
	}, nil
}

// Marshal returns the 29-byte wire form of the telemetry packet.
func (t TelemetryPacket) Marshal() []byte {
	b := make([]byte, TelemetryDataSize)
	binary.BigEndian.PutUint32(b[0:4], t.Timestamp)
	putFloat32(b[4:8], t.Temperature)
	putFloat32(b[8:12], t.Power)
	putFloat32(b[12:16], t.Battery)
	putFloat32(b[16:20], t.ADCS.Roll)
	putFloat32(b[20:24], t.ADCS.Pitch)
	putFloat32(b[24:28], t.ADCS.Yaw)
	b[28] = byte(t.ADCS.Mode)
	return b
}

// ParseTelemetry decodes a TELEMETRY_DATA payload.
func ParseTelemetry(payload []byte) (TelemetryPacket, error) {
	if len(payload) != TelemetryDataSize {
		return TelemetryPacket{}, fmt.Errorf("%w: TELEMETRY_DATA payload is %d bytes, expected %d",
			ErrInvalidParams, len(payload), TelemetryDataSize)
	}
	return TelemetryPacket{
		Timestamp:   binary.BigEndian.Uint32(payload[0:4]),
		Temperature: getFloat32(payload[4:8]),
		Power:       getFloat32(payload[8:12]),
		Battery:     getFloat32(payload[12:16]),
		ADCS: ADCSStatus{
			Roll:  getFloat32(payload[16:20]),
			Pitch: getFloat32(payload[20:24]),
			Yaw:   getFloat32(payload[24:28]),
			Mode:  ADCSMode(payload[28]),
		},
	}, nil
}

// ParseErrorCode decodes an ERROR payload.
func ParseErrorCode(payload []byte) (ErrorCode, error) {
	if len(payload) != ErrorPayloadSize {
		return 0, fmt.Errorf("%w: ERROR payload is %d bytes, expected %d",
			ErrInvalidParams, len(payload), ErrorPayloadSize)
	}
	return ErrorCode(payload[0]), nil
}

// ParseAck decodes an ACK payload into the acknowledged message type.
func ParseAck(payload []byte) (MsgType, error) {
	if len(payload) != AckPayloadSize {
		return 0, fmt.Errorf("%w: ACK payload is %d bytes, expected %d",
			ErrInvalidParams, len(payload), AckPayloadSize)
	}
	return MsgType(payload[0]), nil
}

// ADCSCommandFrame encodes an ADCS_CMD frame.
func ADCSCommandFrame(c ADCSCommand, flags Flags) []byte {
	return MustEncode(MsgADCSCommand, flags, c.Marshal())
}

// TelemetryRequestFrame encodes an empty TELEMETRY_REQ frame.
func TelemetryRequestFrame(flags Flags) []byte {
	return MustEncode(MsgTelemetryReq, flags, nil)
}

// TelemetryFrame encodes a TELEMETRY_DATA frame.
func TelemetryFrame(t TelemetryPacket) []byte {
	return MustEncode(MsgTelemetryData, 0, t.Marshal())
}

// ErrorFrame encodes an ERROR frame carrying code.
func ErrorFrame(code ErrorCode) []byte {
	return MustEncode(MsgError, 0, []byte{byte(code)})
}

// AckFrame encodes an ACK frame for a frame of type acked.
func AckFrame(acked MsgType) []byte {
	return MustEncode(MsgAck, 0, []byte{byte(acked)})
}

// HeartbeatFrame encodes an empty HEARTBEAT frame.
func HeartbeatFrame() []byte {
	return MustEncode(MsgHeartbeat, 0, nil)
}
