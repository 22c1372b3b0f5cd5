// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package observability exposes flight software metrics to Prometheus.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

// FlightCollector holds the flight metrics. All methods are safe on a nil
// collector, so metrics stay optional.
type FlightCollector struct {
	gatherer prometheus.Gatherer

	FramesReceived   *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	QueueDrops       *prometheus.CounterVec
	TelemetrySent    *prometheus.CounterVec
	WatchdogRestarts *prometheus.CounterVec
	FaultsFired      *prometheus.CounterVec
	LinkState        prometheus.Gauge
	Attitude         *prometheus.GaugeVec
	Housekeeping     *prometheus.GaugeVec
	Halted           prometheus.Gauge
}

// NewFlightCollector registers flight metrics against the provided registerer.
func NewFlightCollector(reg prometheus.Registerer) (*FlightCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &FlightCollector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.FramesReceived, "zenith_frames_received_total", "Valid frames received from the ground link, by message type.", []string{"type"}},
		{&c.DecodeErrors, "zenith_decode_errors_total", "Inbound frames rejected by the decoder, by reported error code.", []string{"code"}},
		{&c.Commands, "zenith_commands_total", "Commands handled by the dispatcher, by kind and result.", []string{"kind", "result"}},
		{&c.QueueDrops, "zenith_queue_drops_total", "Items dropped because a bounded queue was full.", []string{"queue"}},
		{&c.TelemetrySent, "zenith_telemetry_frames_total", "Telemetry frames produced, by send result.", []string{"result"}},
		{&c.WatchdogRestarts, "zenith_watchdog_restarts_total", "Tasks recreated by the watchdog.", []string{"task"}},
		{&c.FaultsFired, "zenith_faults_fired_total", "Injected faults that fired, by kind.", []string{"kind"}},
	}
	for _, spec := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: spec.name, Help: spec.help}, spec.labels)
		if *spec.dst, err = registerCounterVec(reg, vec, spec.name); err != nil {
			return nil, err
		}
	}

	linkState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zenith_link_state",
		Help: "Ground link state (0 disconnected, 1 connecting, 2 connected).",
	})
	if c.LinkState, err = registerGauge(reg, linkState, "zenith_link_state"); err != nil {
		return nil, err
	}

	halted := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zenith_kernel_halted",
		Help: "1 once the flight kernel has halted.",
	})
	if c.Halted, err = registerGauge(reg, halted, "zenith_kernel_halted"); err != nil {
		return nil, err
	}

	attitude := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zenith_adcs_attitude_radians",
		Help: "Attitude reported in the latest telemetry packet.",
	}, []string{"axis"})
	if c.Attitude, err = registerGaugeVec(reg, attitude, "zenith_adcs_attitude_radians"); err != nil {
		return nil, err
	}

	housekeeping := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zenith_housekeeping",
		Help: "Housekeeping values from the latest telemetry packet.",
	}, []string{"sensor"})
	if c.Housekeeping, err = registerGaugeVec(reg, housekeeping, "zenith_housekeeping"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *FlightCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// FrameReceived counts a valid inbound frame.
func (c *FlightCollector) FrameReceived(t protocol.MsgType) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(protocol.FormatMessageType(t)).Inc()
}

// DecodeError counts a rejected inbound frame.
func (c *FlightCollector) DecodeError(code protocol.ErrorCode) {
	if c == nil {
		return
	}
	c.DecodeErrors.WithLabelValues(protocol.FormatErrorCode(code)).Inc()
}

// Command counts a dispatcher outcome.
func (c *FlightCollector) Command(kind, result string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(kind, result).Inc()
}

// QueueDrop counts an item dropped from a full queue.
func (c *FlightCollector) QueueDrop(queue string) {
	if c == nil {
		return
	}
	c.QueueDrops.WithLabelValues(queue).Inc()
}

// Telemetry records a produced packet and whether it was sent.
func (c *FlightCollector) Telemetry(p protocol.TelemetryPacket, sendErr error) {
	if c == nil {
		return
	}
	result := "sent"
	if sendErr != nil {
		result = "failed"
	}
	c.TelemetrySent.WithLabelValues(result).Inc()
	c.Attitude.WithLabelValues("roll").Set(float64(p.ADCS.Roll))
	c.Attitude.WithLabelValues("pitch").Set(float64(p.ADCS.Pitch))
	c.Attitude.WithLabelValues("yaw").Set(float64(p.ADCS.Yaw))
	c.Housekeeping.WithLabelValues("temperature_celsius").Set(float64(p.Temperature))
	c.Housekeeping.WithLabelValues("power_watts").Set(float64(p.Power))
	c.Housekeeping.WithLabelValues("battery_percent").Set(float64(p.Battery))
}

// WatchdogRestart counts a watchdog-driven task restart.
func (c *FlightCollector) WatchdogRestart(task string) {
	if c == nil {
		return
	}
	c.WatchdogRestarts.WithLabelValues(task).Inc()
}

// FaultFired counts an injected fault.
func (c *FlightCollector) FaultFired(kind string) {
	if c == nil {
		return
	}
	c.FaultsFired.WithLabelValues(kind).Inc()
}

// SetLinkState records the ground link state.
func (c *FlightCollector) SetLinkState(state int) {
	if c == nil {
		return
	}
	c.LinkState.Set(float64(state))
}

// SetHalted marks the kernel halted.
func (c *FlightCollector) SetHalted() {
	if c == nil {
		return
	}
	c.Halted.Set(1)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
