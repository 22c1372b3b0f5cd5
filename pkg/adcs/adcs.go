// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package adcs holds the attitude determination and control state shared by
// the command dispatcher, the ADCS task and the telemetry producer.
package adcs

import (
	"errors"
	"math"
	"time"

	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
)

const (
	// MaxRate is the largest per-axis attitude change applied in one update,
	// in radians.
	MaxRate = 0.1
	// Perturbation bounds the disturbance added on each control step.
	Perturbation = 0.005
	// HoldTolerance is the residual error below which an axis counts as on
	// target.
	HoldTolerance = 0.01
	// DefaultLockTimeout bounds waits on the state lock.
	DefaultLockTimeout = 10 * time.Millisecond
)

// ErrLockTimeout is returned when the state lock is not acquired in time.
var ErrLockTimeout = errors.New("adcs: lock timeout")

// State is the single authoritative attitude record. All fields are read and
// written under one lock.
type State struct {
	mu          *rtos.Mutex
	lockTimeout time.Duration

	attitude [3]float64
	target   [3]float64
	mode     protocol.ADCSMode
}

// New creates an idle state at zero attitude. A zero lockTimeout selects
// DefaultLockTimeout.
func New(lockTimeout time.Duration) *State {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &State{
		mu:          rtos.NewMutex(),
		lockTimeout: lockTimeout,
		mode:        protocol.ModeIdle,
	}
}

// Normalize maps an angle into (-π, π].
func Normalize(a float64) float64 {
	r := math.Mod(a+math.Pi, 2*math.Pi)
	if r <= 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// SetTarget stores a new target attitude and moves toward it by at most
// MaxRate per axis. The ADCS task continues the slew on later steps.
func (s *State) SetTarget(roll, pitch, yaw float64) error {
	if !s.mu.LockTimeout(s.lockTimeout) {
		return ErrLockTimeout
	}
	defer s.mu.Unlock()

	s.target = [3]float64{Normalize(roll), Normalize(pitch), Normalize(yaw)}
	s.slew()
	return nil
}

// Step runs one control cycle: continue the slew toward the target, then add
// a disturbance of up to Perturbation radians per axis. noise returns values
// in [-1, 1]; nil disables the disturbance.
func (s *State) Step(noise func() float64) error {
	if !s.mu.LockTimeout(s.lockTimeout) {
		return ErrLockTimeout
	}
	defer s.mu.Unlock()

	if s.mode != protocol.ModeIdle {
		s.slew()
	}
	if noise != nil {
		for i := range s.attitude {
			s.attitude[i] = Normalize(s.attitude[i] + clamp(noise(), 1)*Perturbation)
		}
	}
	return nil
}

// slew applies one rate-limited move toward the target and updates the mode.
// Caller holds the lock.
func (s *State) slew() {
	onTarget := true
	for i := range s.attitude {
		delta := Normalize(s.target[i] - s.attitude[i])
		s.attitude[i] = Normalize(s.attitude[i] + clamp(delta, MaxRate))
		if math.Abs(Normalize(s.target[i]-s.attitude[i])) > HoldTolerance {
			onTarget = false
		}
	}
	if onTarget {
		s.mode = protocol.ModeHold
	} else {
		s.mode = protocol.ModeSlewing
	}
}

// WireAngle converts a normalized angle to float32 while staying inside
// (-π, π]. float32(π) rounds above π, so values at either end become the
// largest float32 below π, which is the same angle.
func WireAngle(a float64) float32 {
	f := float32(a)
	if float64(f) > math.Pi || float64(f) <= -math.Pi {
		return math.Nextafter32(float32(math.Pi), 0)
	}
	return f
}

// Status returns a consistent snapshot of attitude and mode.
func (s *State) Status() (protocol.ADCSStatus, error) {
	if !s.mu.LockTimeout(s.lockTimeout) {
		return protocol.ADCSStatus{}, ErrLockTimeout
	}
	defer s.mu.Unlock()

	return protocol.ADCSStatus{
		Roll:  WireAngle(s.attitude[0]),
		Pitch: WireAngle(s.attitude[1]),
		Yaw:   WireAngle(s.attitude[2]),
		Mode:  s.mode,
	}, nil
}

// Target returns the current target attitude.
func (s *State) Target() ([3]float64, error) {
	if !s.mu.LockTimeout(s.lockTimeout) {
		return [3]float64{}, ErrLockTimeout
	}
	defer s.mu.Unlock()
	return s.target, nil
}

// Reset zeroes attitude and target and returns to IDLE.
func (s *State) Reset() error {
	if !s.mu.LockTimeout(s.lockTimeout) {
		return ErrLockTimeout
	}
	defer s.mu.Unlock()

	s.attitude = [3]float64{}
	s.target = [3]float64{}
	s.mode = protocol.ModeIdle
	return nil
}
