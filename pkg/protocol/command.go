// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
)

// ErrNotCommand is returned by CommandFromFrame for frames that do not carry
// a command.
var ErrNotCommand = errors.New("frame is not a command")

// CommandKind identifies the variant of a Command.
type CommandKind uint8

// Command kinds
const (
	CmdNoOp CommandKind = iota
	CmdAttitudeSet
	CmdTelemetryRequest
	CmdResetSubsystem
)

func (k CommandKind) String() string {
	switch k {
	case CmdNoOp:
		return "NOOP"
	case CmdAttitudeSet:
		return "ADCS_SET"
	case CmdTelemetryRequest:
		return "GET_TELEMETRY"
	case CmdResetSubsystem:
		return "RESET"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Command is a decoded telecommand. The concrete types are AttitudeSet,
// TelemetryRequest, ResetSubsystem and NoOp.
type Command interface {
	Kind() CommandKind
	command()
}

// AttitudeSet asks the ADCS to slew toward a target attitude.
type AttitudeSet struct {
	Roll, Pitch, Yaw float32
}

// TelemetryRequest asks for an immediate telemetry frame.
type TelemetryRequest struct{}

// ResetSubsystem asks for the subsystem with the given id to be reset.
type ResetSubsystem struct {
	ID uint8
}

// NoOp does nothing.
type NoOp struct{}

func (AttitudeSet) Kind() CommandKind      { return CmdAttitudeSet }
func (TelemetryRequest) Kind() CommandKind { return CmdTelemetryRequest }
func (ResetSubsystem) Kind() CommandKind   { return CmdResetSubsystem }
func (NoOp) Kind() CommandKind             { return CmdNoOp }

func (AttitudeSet) command()      {}
func (TelemetryRequest) command() {}
func (ResetSubsystem) command()   {}
func (NoOp) command()             {}

// CommandFromFrame converts an ADCS_CMD or TELEMETRY_REQ frame into a Command.
func CommandFromFrame(f *Frame) (Command, error) {
	switch f.Type() {
	case MsgADCSCommand:
		c, err := ParseADCSCommand(f.Payload())
		if err != nil {
			return nil, err
		}
		return AttitudeSet{Roll: c.Roll, Pitch: c.Pitch, Yaw: c.Yaw}, nil
	case MsgTelemetryReq:
		return TelemetryRequest{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotCommand, FormatMessageType(f.Type()))
}
