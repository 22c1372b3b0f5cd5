// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flight

import (
	"context"
	"errors"

	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

// Dispatch results, as recorded in metrics
const (
	ResultOK       = "ok"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
	ResultUnknown  = "unknown"
)

// ErrCommandDropped is returned by Submit when the command queue stays full.
var ErrCommandDropped = errors.New("command queue full")

// Submit queues cmd for the dispatcher and sets EventCommandReceived.
func (s *Satellite) Submit(ctx context.Context, cmd protocol.Command) error {
	if err := s.commands.Send(ctx, cmd, QueueSendTimeout); err != nil {
		if errors.Is(err, rtos.ErrQueueFull) {
			s.commandDrops.Add(1)
			s.metrics.QueueDrop("command")
			s.logger.Warn("command queue full, command dropped", "command", commandName(cmd))
			return ErrCommandDropped
		}
		return err
	}
	s.commandsQueued.Add(1)
	s.events.Set(rtos.EventCommandReceived)
	return nil
}

// Dispatch executes one command and returns the recorded result.
func (s *Satellite) Dispatch(cmd protocol.Command) string {
	log := s.logger.With("task", TaskMain)
	name := commandName(cmd)
	s.commandsDispatched.Add(1)

	result := ResultOK
	switch c := cmd.(type) {
	case protocol.AttitudeSet:
		if err := s.adcs.SetTarget(float64(c.Roll), float64(c.Pitch), float64(c.Yaw)); err != nil {
			log.Warn("attitude command skipped", "error", err)
			result = ResultSkipped
			break
		}
		s.events.Set(rtos.EventADCSUpdated)
		log.Info("attitude target set", "roll", c.Roll, "pitch", c.Pitch, "yaw", c.Yaw)

	case protocol.TelemetryRequest:
		s.events.Set(rtos.EventTelemetryReady)

	case protocol.ResetSubsystem:
		result = s.resetSubsystem(c.ID)

	case protocol.NoOp:

	default:
		s.unknownCommands.Add(1)
		log.Warn("unknown command dropped", "command", name)
		result = ResultUnknown
	}

	s.metrics.Command(name, result)
	return result
}

func (s *Satellite) resetSubsystem(id uint8) string {
	log := s.logger.With("task", TaskMain, "subsystem", id)

	var task string
	switch id {
	case protocol.SubsystemADCS:
		if err := s.adcs.Reset(); err != nil {
			log.Warn("ADCS reset skipped", "error", err)
			return ResultSkipped
		}
		log.Info("ADCS reset")
		return ResultOK
	case protocol.SubsystemMain:
		task = TaskMain
	case protocol.SubsystemTelecmd:
		task = TaskTelecmd
	case protocol.SubsystemTelemetry:
		task = TaskTelemetry
	default:
		log.Warn("reset of unknown subsystem rejected")
		return ResultRejected
	}

	if err := s.kernel.Restart(task); err != nil {
		log.Error("subsystem reset failed", "task", task, "error", err)
		return ResultFailed
	}
	log.Info("subsystem reset", "task", task)
	return ResultOK
}

func commandName(cmd protocol.Command) string {
	if cmd == nil {
		return "NONE"
	}
	return cmd.Kind().String()
}
