// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flight

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/zenith/pkg/fault"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

// taskFaults are evaluated once per loop iteration of every supervised task.
var taskFaults = []fault.Kind{fault.TaskDelay, fault.TaskHang, fault.MemoryLeak, fault.CPUOverload}

func (s *Satellite) injectTaskFaults(ctx context.Context, t *rtos.Task) {
	for _, k := range taskFaults {
		s.faults.Evaluate(ctx, k, t)
		if ctx.Err() != nil {
			return
		}
	}
}

// mainTask dispatches queued commands.
func (s *Satellite) mainTask(ctx context.Context, t *rtos.Task) {
	log := s.logger.With("task", t.Name(), "generation", t.Generation())
	log.Info("task started", "priority", t.Priority())

	for {
		cmd, err := s.commands.Receive(ctx, CommandWait)
		t.Kick()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		s.Dispatch(cmd)
	}
}

// telecommandTask turns inbound command frames into queued commands.
func (s *Satellite) telecommandTask(ctx context.Context, t *rtos.Task) {
	log := s.logger.With("task", t.Name(), "generation", t.Generation())
	log.Info("task started", "priority", t.Priority())

	for {
		s.injectTaskFaults(ctx, t)

		frame, err := s.inbound.Receive(ctx, FrameWait)
		t.Kick()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		cmd, err := protocol.CommandFromFrame(frame)
		if err != nil {
			s.rejectedFrames.Add(1)
			log.Warn("frame rejected", "type", frame.Type(), "error", err)
			continue
		}
		if err := s.Submit(ctx, cmd); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// adcsTask runs the attitude control loop.
func (s *Satellite) adcsTask(ctx context.Context, t *rtos.Task) {
	log := s.logger.With("task", t.Name(), "generation", t.Generation())
	log.Info("task started", "priority", t.Priority())

	period := s.cfg.Tasks.ADCSPeriod.Std()
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		s.injectTaskFaults(ctx, t)

		if s.faults.Evaluate(ctx, fault.ADCSError, t) {
			s.adcsErrors.Add(1)
			s.events.Set(rtos.EventError)
			log.Warn("attitude update failed", "error", "injected ADCS error")
		} else if err := s.adcs.Step(s.noise); err != nil {
			log.Warn("attitude update skipped", "error", err)
		} else {
			s.events.Set(rtos.EventADCSUpdated)
		}
		t.Kick()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(period)
		}
	}
}

// telemetryTask produces periodic and requested telemetry.
func (s *Satellite) telemetryTask(ctx context.Context, t *rtos.Task) {
	log := s.logger.With("task", t.Name(), "generation", t.Generation())
	log.Info("task started", "priority", t.Priority())

	for {
		s.injectTaskFaults(ctx, t)

		produced, err := s.producer.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("telemetry cycle failed", "error", err)
		} else if produced {
			log.Debug("telemetry sent")
		}
		t.Kick()
	}
}

// commTask keeps the ground link up and handles inbound bytes. The decoder
// belongs to this task instance; a restart starts from a clean stream.
func (s *Satellite) commTask(ctx context.Context, t *rtos.Task) {
	log := s.logger.With("task", t.Name(), "generation", t.Generation())
	log.Info("task started", "priority", t.Priority())

	decoder := protocol.NewStreamDecoder()
	err := s.link.Run(ctx, func(data []byte) {
		decoder.Feed(data, func(frame *protocol.Frame, err error) {
			s.handleFrame(ctx, frame, err)
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("link stopped", "error", err)
	}
}

// handleFrame answers one decoded frame or decode error from the ground.
func (s *Satellite) handleFrame(ctx context.Context, frame *protocol.Frame, decodeErr error) {
	log := s.logger.With("task", TaskComm)

	if decodeErr != nil {
		s.decodeErrors.Add(1)
		code, ok := protocol.ErrorCodeFor(decodeErr)
		if !ok {
			log.Warn("stream decoder failed", "error", decodeErr)
			return
		}
		s.metrics.DecodeError(code)
		log.Warn("invalid frame", "error", decodeErr, "reply", protocol.FormatErrorCode(code))
		s.reply(ctx, protocol.ErrorFrame(code))
		return
	}

	s.framesReceived.Add(1)
	s.metrics.FrameReceived(frame.Type())
	if frame.RequiresAck() {
		s.reply(ctx, protocol.AckFrame(frame.Type()))
	}

	switch frame.Type() {
	case protocol.MsgADCSCommand, protocol.MsgTelemetryReq:
		if err := s.inbound.Send(ctx, frame, QueueSendTimeout); err != nil {
			if errors.Is(err, rtos.ErrQueueFull) {
				s.inboundDrops.Add(1)
				s.metrics.QueueDrop("inbound")
				log.Warn("inbound queue full, frame dropped", "type", frame.Type())
			}
		}
	case protocol.MsgHeartbeat:
		s.heartbeats.Add(1)
	default:
		s.ignoredFrames.Add(1)
		log.Debug("frame ignored", "type", frame.Type())
	}
}

func (s *Satellite) reply(ctx context.Context, data []byte) {
	if err := s.link.Send(ctx, data); err != nil {
		s.logger.Warn("reply failed", "task", TaskComm, "error", err)
	}
}
