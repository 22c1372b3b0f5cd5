// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"math"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	msgType := FormatMessageType(f.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) flags=%s len=%d crc=0x%04X\n",
		timestamp, msgType, uint8(f.Type()), FormatFlags(f.Flags()), f.Length(), f.CRC())

	switch f.Type() {
	case MsgADCSCommand:
		if c, err := ParseADCSCommand(f.Payload()); err == nil {
			result += fmt.Sprintf("  Target: roll=%s pitch=%s yaw=%s\n",
				formatAngle(c.Roll), formatAngle(c.Pitch), formatAngle(c.Yaw))
		}
	case MsgTelemetryData:
		if t, err := ParseTelemetry(f.Payload()); err == nil {
			result += FormatTelemetry(t)
		}
	case MsgError:
		if code, err := ParseErrorCode(f.Payload()); err == nil {
			result += fmt.Sprintf("  Code: %s (%d)\n", FormatErrorCode(code), uint8(code))
		}
	case MsgAck:
		if acked, err := ParseAck(f.Payload()); err == nil {
			result += fmt.Sprintf("  Acked: %s\n", FormatMessageType(acked))
		}
	}

	return result
}

// FormatTelemetry formats a telemetry packet as indented lines
func FormatTelemetry(t TelemetryPacket) string {
	result := fmt.Sprintf("  Uptime: %.1f s\n", float64(t.Timestamp)/1000.0)
	result += fmt.Sprintf("  Temperature: %.2f °C, Power: %.2f W, Battery: %.1f%%\n",
		t.Temperature, t.Power, t.Battery)
	result += fmt.Sprintf("  ADCS: %s roll=%s pitch=%s yaw=%s\n", FormatADCSMode(t.ADCS.Mode),
		formatAngle(t.ADCS.Roll), formatAngle(t.ADCS.Pitch), formatAngle(t.ADCS.Yaw))
	return result
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType MsgType) string {
	switch msgType {
	case MsgADCSCommand:
		return "ADCS_CMD"
	case MsgTelemetryReq:
		return "TELEMETRY_REQ"
	case MsgTelemetryData:
		return "TELEMETRY_DATA"
	case MsgAck:
		return "ACK"
	case MsgError:
		return "ERROR"
	case MsgHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(msgType))
	}
}

func (t MsgType) String() string {
	return FormatMessageType(t)
}

// FormatErrorCode returns the human-readable name for an error code
func FormatErrorCode(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidCommand:
		return "INVALID_COMMAND"
	case ErrCodeInvalidChecksum:
		return "INVALID_CHECKSUM"
	case ErrCodeTimeout:
		return "TIMEOUT"
	case ErrCodeInvalidParams:
		return "INVALID_PARAMS"
	case ErrCodeInvalidState:
		return "INVALID_STATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(code))
	}
}

// FormatADCSMode returns the human-readable name for an ADCS mode
func FormatADCSMode(mode ADCSMode) string {
	switch mode {
	case ModeIdle:
		return "IDLE"
	case ModeSlewing:
		return "SLEWING"
	case ModeHold:
		return "HOLD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(mode))
	}
}

func (m ADCSMode) String() string {
	return FormatADCSMode(m)
}

// FormatFlags renders the flag bitset, e.g. "ACK|FRAG" or "-"
func FormatFlags(f Flags) string {
	result := ""
	add := func(name string) {
		if result != "" {
			result += "|"
		}
		result += name
	}
	if f.Has(FlagRequiresAck) {
		add("ACK")
	}
	if f.Has(FlagFragmented) {
		add("FRAG")
	}
	if f.Has(FlagLastFragment) {
		add("LAST")
	}
	if result == "" {
		return "-"
	}
	return result
}

func formatAngle(rad float32) string {
	return fmt.Sprintf("%.3f rad (%.1f°)", rad, float64(rad)*180/math.Pi)
}
