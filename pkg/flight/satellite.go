// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flight assembles the flight software: the task set, its queues
// and events, the watchdog, fault injection, the ground link and telemetry.
package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Thermoquad/zenith/pkg/adcs"
	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/fault"
	"github.com/Thermoquad/zenith/pkg/observability"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
	"github.com/Thermoquad/zenith/pkg/telemetry"
	"github.com/Thermoquad/zenith/pkg/transport"
	"github.com/Thermoquad/zenith/pkg/watchdog"
)

// Task names
const (
	TaskMain      = "MAIN_SO"
	TaskTelecmd   = "TC_PROC"
	TaskADCS      = "ADCS_PROC"
	TaskTelemetry = "TM_PROC"
	TaskComm      = "COMM"
)

// Task priorities, highest first
const (
	PriorityMain      = 4
	PriorityTelecmd   = 3
	PriorityADCS      = 2
	PriorityTelemetry = 1
	PriorityComm      = 0
)

const (
	// QueueSendTimeout bounds every producer-side queue send.
	QueueSendTimeout = 10 * time.Millisecond
	// CommandWait is how long the dispatcher waits for a command.
	CommandWait = 100 * time.Millisecond
	// FrameWait is how long TC_PROC waits for an inbound frame before kicking
	// the watchdog again.
	FrameWait = 100 * time.Millisecond
)

// ErrHalted is returned by Run when the kernel halts.
var ErrHalted = rtos.ErrHalted

// Stats are cumulative flight counters.
type Stats struct {
	FramesReceived     uint64
	DecodeErrors       uint64
	Heartbeats         uint64
	IgnoredFrames      uint64
	InboundDrops       uint64
	CommandsQueued     uint64
	CommandDrops       uint64
	RejectedFrames     uint64
	CommandsDispatched uint64
	UnknownCommands    uint64
	ADCSErrors         uint64
}

// String summarizes the counters for logs.
func (st Stats) String() string {
	return fmt.Sprintf("frames=%d decode_errors=%d commands=%d dropped=%d unknown=%d",
		st.FramesReceived, st.DecodeErrors, st.CommandsDispatched, st.CommandDrops+st.InboundDrops, st.UnknownCommands)
}

// Option configures a Satellite.
type Option func(*Satellite)

// WithLogger sets the base logger. Every line carries the boot id.
func WithLogger(l *slog.Logger) Option {
	return func(s *Satellite) { s.logger = l }
}

// WithMetrics records flight metrics on c.
func WithMetrics(c *observability.FlightCollector) Option {
	return func(s *Satellite) { s.metrics = c }
}

// WithSensors replaces the simulated sensor suite.
func WithSensors(sensors telemetry.Sensors) Option {
	return func(s *Satellite) { s.sensors = sensors }
}

// WithFaultSampler replaces the fault engine random source.
func WithFaultSampler(sample fault.Sampler) Option {
	return func(s *Satellite) { s.sampler = sample }
}

// WithNoise sets the ADCS disturbance source. It returns values in [-1, 1];
// nil disables the disturbance.
func WithNoise(noise func() float64) Option {
	return func(s *Satellite) {
		s.noise = noise
		s.noiseSet = true
	}
}

// Satellite is one flight software instance.
type Satellite struct {
	cfg    config.Config
	bootID uuid.UUID
	logger *slog.Logger

	clock    *rtos.Clock
	kernel   *rtos.Kernel
	adcs     *adcs.State
	events   *rtos.EventGroup
	inbound  *rtos.Queue[*protocol.Frame]
	commands *rtos.Queue[protocol.Command]
	mirror   *rtos.Queue[protocol.TelemetryPacket]
	watchdog *watchdog.Watchdog
	faults   *fault.Engine
	link     *transport.Transport
	producer *telemetry.Producer
	metrics  *observability.FlightCollector

	sensors  telemetry.Sensors
	sampler  fault.Sampler
	noise    func() float64
	noiseSet bool

	runOnce sync.Once

	framesReceived     atomic.Uint64
	decodeErrors       atomic.Uint64
	heartbeats         atomic.Uint64
	ignoredFrames      atomic.Uint64
	inboundDrops       atomic.Uint64
	commandsQueued     atomic.Uint64
	commandDrops       atomic.Uint64
	rejectedFrames     atomic.Uint64
	commandsDispatched atomic.Uint64
	unknownCommands    atomic.Uint64
	adcsErrors         atomic.Uint64
}

// New builds a satellite from cfg. dial opens the ground link.
func New(cfg config.Config, dial transport.Dialer, opts ...Option) (*Satellite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	faultList, err := cfg.FaultList()
	if err != nil {
		return nil, err
	}

	s := &Satellite{
		cfg:    cfg,
		bootID: uuid.New(),
		clock:  rtos.NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("boot_id", s.bootID.String())
	if s.sensors == nil {
		s.sensors = telemetry.NewSimSensors(cfg.Telemetry.SensorSeed)
	}
	if !s.noiseSet {
		s.noise = func() float64 { return rand.Float64()*2 - 1 }
	}

	s.events = rtos.NewEventGroup()
	s.adcs = adcs.New(cfg.Tasks.LockTimeout.Std())
	s.inbound = rtos.NewQueue[*protocol.Frame](cfg.Tasks.InboundQueue)
	s.commands = rtos.NewQueue[protocol.Command](cfg.Tasks.CommandQueue)
	s.mirror = rtos.NewQueue[protocol.TelemetryPacket](cfg.Tasks.MirrorQueue)

	faultOpts := []fault.Option{
		fault.WithLogger(s.logger.With("component", "fault")),
		fault.WithFiredHook(func(k fault.Kind) { s.metrics.FaultFired(k.String()) }),
	}
	if s.sampler != nil {
		faultOpts = append(faultOpts, fault.WithSampler(s.sampler))
	}
	s.faults = fault.NewEngine(faultOpts...)
	for _, f := range faultList {
		if err := s.faults.Register(f); err != nil {
			return nil, err
		}
	}

	s.kernel = rtos.NewKernel(
		rtos.WithMaxTasks(cfg.Tasks.MaxTasks),
		rtos.WithLogger(s.logger.With("component", "kernel")),
		rtos.WithLivenessHook(func(name string) {
			// Unsupervised tasks have no entry.
			_ = s.watchdog.Kick(name)
		}),
	)

	s.watchdog = watchdog.New(s.clock, s.kernel,
		watchdog.WithPeriod(cfg.Watchdog.Period.Std()),
		watchdog.WithLogger(s.logger.With("component", "watchdog")),
		watchdog.WithFatal(func(err error) {
			s.metrics.SetHalted()
			s.kernel.Halt(err)
		}),
		watchdog.WithRestartHook(s.metrics.WatchdogRestart),
	)

	s.link = transport.New(dial,
		transport.WithPollInterval(cfg.Transport.PollInterval.Std()),
		transport.WithReconnectBackoff(cfg.Transport.ReconnectBackoff.Std()),
		transport.WithHeartbeatInterval(cfg.Transport.HeartbeatInterval.Std()),
		transport.WithClock(s.clock),
		transport.WithFaults(s.faults),
		transport.WithLogger(s.logger.With("component", "transport")),
		transport.WithStateHook(func(st transport.State) { s.metrics.SetLinkState(int(st)) }),
	)

	s.producer = telemetry.NewProducer(s.sensors, s.adcs, s.link, s.clock,
		telemetry.WithPeriod(cfg.Telemetry.Period.Std()),
		telemetry.WithEvents(s.events),
		telemetry.WithMirror(s.mirror),
		telemetry.WithLogger(s.logger.With("task", TaskTelemetry)),
		telemetry.WithSentHook(s.metrics.Telemetry),
	)

	return s, nil
}

// BootID identifies this instance in logs.
func (s *Satellite) BootID() uuid.UUID { return s.bootID }

// Kernel returns the task kernel.
func (s *Satellite) Kernel() *rtos.Kernel { return s.kernel }

// ADCS returns the shared attitude state.
func (s *Satellite) ADCS() *adcs.State { return s.adcs }

func (s *Satellite) Events() *rtos.EventGroup { return s.events }

func (s *Satellite) Faults() *fault.Engine { return s.faults }

func (s *Satellite) Watchdog() *watchdog.Watchdog { return s.watchdog }

func (s *Satellite) Transport() *transport.Transport { return s.link }

func (s *Satellite) Producer() *telemetry.Producer { return s.producer }

// Mirror returns the telemetry mirror queue. The oldest packet is evicted
// when it is full.
func (s *Satellite) Mirror() *rtos.Queue[protocol.TelemetryPacket] { return s.mirror }

// Stats returns a snapshot of the flight counters.
func (s *Satellite) Stats() Stats {
	return Stats{
		FramesReceived:     s.framesReceived.Load(),
		DecodeErrors:       s.decodeErrors.Load(),
		Heartbeats:         s.heartbeats.Load(),
		IgnoredFrames:      s.ignoredFrames.Load(),
		InboundDrops:       s.inboundDrops.Load(),
		CommandsQueued:     s.commandsQueued.Load(),
		CommandDrops:       s.commandDrops.Load(),
		RejectedFrames:     s.rejectedFrames.Load(),
		CommandsDispatched: s.commandsDispatched.Load(),
		UnknownCommands:    s.unknownCommands.Load(),
		ADCSErrors:         s.adcsErrors.Load(),
	}
}

func (s *Satellite) taskSpecs() []rtos.TaskSpec {
	return []rtos.TaskSpec{
		{Name: TaskMain, Priority: PriorityMain, StackSize: 512, Entry: s.mainTask},
		{Name: TaskTelecmd, Priority: PriorityTelecmd, StackSize: 256, Entry: s.telecommandTask},
		{Name: TaskADCS, Priority: PriorityADCS, StackSize: 256, Entry: s.adcsTask},
		{Name: TaskTelemetry, Priority: PriorityTelemetry, StackSize: 256, Entry: s.telemetryTask},
		{Name: TaskComm, Priority: PriorityComm, StackSize: 1024, Entry: s.commTask},
	}
}

// supervised lists the tasks the watchdog restarts.
var supervised = []string{TaskTelecmd, TaskADCS, TaskTelemetry}

// Run creates every task and the watchdog, then blocks until ctx ends or
// the kernel halts. A halt returns an error wrapping ErrHalted and the halt
// reason. Run may only be called once.
func (s *Satellite) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("satellite already running")
	}

	for _, id := range supervised {
		s.watchdog.Register(id, s.cfg.Watchdog.Timeout.Std())
	}
	for _, spec := range s.taskSpecs() {
		if err := s.kernel.Spawn(spec); err != nil {
			err = fmt.Errorf("create %s: %w", spec.Name, err)
			s.metrics.SetHalted()
			s.kernel.Halt(err)
			s.kernel.Wait()
			return fmt.Errorf("%w: %w", ErrHalted, err)
		}
	}
	s.logger.Info("flight software started", "tasks", len(s.taskSpecs()),
		"faults", len(s.faults.Active()))

	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.watchdog.Run(bgCtx)
	}()
	if s.cfg.Tasks.TestCommands {
		gen := NewTestCommandGenerator(s.cfg.Tasks.TestCommandInterval.Std(), s.Submit,
			s.logger.With("component", "test_commands"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Run(bgCtx)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		s.kernel.Halt(nil)
		err = ctx.Err()
	case <-s.kernel.Done():
		s.metrics.SetHalted()
		_, reason := s.kernel.Status()
		err = ErrHalted
		if reason != nil {
			err = fmt.Errorf("%w: %w", ErrHalted, reason)
		}
	}

	cancel()
	wg.Wait()
	s.kernel.Wait()
	s.logger.Info("flight software stopped", "error", err)
	return err
}
