// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the flight configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Thermoquad/zenith/pkg/fault"
)

// Link kinds
const (
	LinkTCP       = "tcp"
	LinkWebSocket = "ws"
	LinkSerial    = "serial"
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Link      LinkConfig      `toml:"link"`
	Tasks     TasksConfig     `toml:"tasks"`
	Transport TransportConfig `toml:"transport"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Watchdog  WatchdogConfig  `toml:"watchdog"`
	Faults    []FaultConfig   `toml:"faults"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

type LinkConfig struct {
	Kind        string `toml:"kind"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	URL         string `toml:"url,omitempty"`
	Username    string `toml:"username,omitempty"`
	NoSSLVerify bool   `toml:"no_ssl_verify,omitempty"`
	SerialPort  string `toml:"serial_port,omitempty"`
	Baud        int    `toml:"baud"`
}

type TasksConfig struct {
	MaxTasks            int      `toml:"max_tasks"`
	CommandQueue        int      `toml:"command_queue"`
	InboundQueue        int      `toml:"inbound_queue"`
	MirrorQueue         int      `toml:"mirror_queue"`
	LockTimeout         Duration `toml:"lock_timeout"`
	ADCSPeriod          Duration `toml:"adcs_period"`
	TestCommands        bool     `toml:"test_commands"`
	TestCommandInterval Duration `toml:"test_command_interval"`
}

type TransportConfig struct {
	PollInterval      Duration `toml:"poll_interval"`
	ReconnectBackoff  Duration `toml:"reconnect_backoff"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

type TelemetryConfig struct {
	Period     Duration `toml:"period"`
	Record     string   `toml:"record,omitempty"`
	SensorSeed uint64   `toml:"sensor_seed"`
}

type WatchdogConfig struct {
	Timeout Duration `toml:"timeout"`
	Period  Duration `toml:"period"`
}

type FaultConfig struct {
	Kind        string   `toml:"kind"`
	Probability float64  `toml:"probability"`
	Duration    Duration `toml:"duration,omitempty"`
	Param       uint32   `toml:"param,omitempty"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Link: LinkConfig{
			Kind: LinkTCP,
			Host: "127.0.0.1",
			Port: 8080,
			Baud: 115200,
		},
		Tasks: TasksConfig{
			MaxTasks:            16,
			CommandQueue:        10,
			InboundQueue:        10,
			MirrorQueue:         20,
			LockTimeout:         Duration(10 * time.Millisecond),
			ADCSPeriod:          Duration(100 * time.Millisecond),
			TestCommands:        false,
			TestCommandInterval: Duration(5 * time.Second),
		},
		Transport: TransportConfig{
			PollInterval:      Duration(100 * time.Millisecond),
			ReconnectBackoff:  Duration(5 * time.Second),
			HeartbeatInterval: Duration(time.Second),
		},
		Telemetry: TelemetryConfig{
			Period:     Duration(time.Second),
			SensorSeed: 1,
		},
		Watchdog: WatchdogConfig{
			Timeout: Duration(5 * time.Second),
			Period:  Duration(100 * time.Millisecond),
		},
		Faults: []FaultConfig{},
	}
}

// Load reads path over the defaults. A missing file is an error.
func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, fmt.Errorf("config %s: %w", path, os.ErrNotExist)
	}
	return cfg, nil
}

// LoadOrDefault reads path over the defaults and reports whether the file
// existed.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	if path == "" {
		return cfg, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

// Save writes the configuration as TOML.
func (cfg *Config) Save(path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Link.Kind {
	case LinkTCP:
		if cfg.Link.Host == "" {
			errs = append(errs, errors.New("link.host is required for tcp links"))
		}
		if cfg.Link.Port <= 0 || cfg.Link.Port > 65535 {
			errs = append(errs, fmt.Errorf("link.port out of range: %d", cfg.Link.Port))
		}
	case LinkWebSocket:
		if cfg.Link.URL == "" {
			errs = append(errs, errors.New("link.url is required for ws links"))
		}
	case LinkSerial:
		if cfg.Link.SerialPort == "" {
			errs = append(errs, errors.New("link.serial_port is required for serial links"))
		}
		if cfg.Link.Baud <= 0 {
			errs = append(errs, fmt.Errorf("link.baud must be positive: %d", cfg.Link.Baud))
		}
	default:
		errs = append(errs, fmt.Errorf("link.kind must be tcp, ws or serial: %q", cfg.Link.Kind))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"tasks.max_tasks", cfg.Tasks.MaxTasks},
		{"tasks.command_queue", cfg.Tasks.CommandQueue},
		{"tasks.inbound_queue", cfg.Tasks.InboundQueue},
		{"tasks.mirror_queue", cfg.Tasks.MirrorQueue},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: %d", p.name, p.value))
		}
	}

	durations := []struct {
		name  string
		value Duration
	}{
		{"tasks.lock_timeout", cfg.Tasks.LockTimeout},
		{"tasks.adcs_period", cfg.Tasks.ADCSPeriod},
		{"tasks.test_command_interval", cfg.Tasks.TestCommandInterval},
		{"transport.poll_interval", cfg.Transport.PollInterval},
		{"transport.reconnect_backoff", cfg.Transport.ReconnectBackoff},
		{"transport.heartbeat_interval", cfg.Transport.HeartbeatInterval},
		{"telemetry.period", cfg.Telemetry.Period},
		{"watchdog.timeout", cfg.Watchdog.Timeout},
		{"watchdog.period", cfg.Watchdog.Period},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: %s", d.name, d.value.Std()))
		}
	}

	if len(cfg.Faults) > fault.MaxFaults {
		errs = append(errs, fmt.Errorf("at most %d faults may be configured, got %d", fault.MaxFaults, len(cfg.Faults)))
	}
	for i, fc := range cfg.Faults {
		if _, err := fc.Fault(); err != nil {
			errs = append(errs, fmt.Errorf("faults[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// FaultList converts the configured faults.
func (cfg *Config) FaultList() ([]fault.Fault, error) {
	out := make([]fault.Fault, 0, len(cfg.Faults))
	for i, fc := range cfg.Faults {
		f, err := fc.Fault()
		if err != nil {
			return nil, fmt.Errorf("faults[%d]: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Fault converts one fault entry.
func (fc FaultConfig) Fault() (fault.Fault, error) {
	kind, err := fault.ParseKind(fc.Kind)
	if err != nil {
		return fault.Fault{}, err
	}
	f := fault.Fault{
		Kind:        kind,
		Probability: fc.Probability,
		Duration:    fc.Duration.Std(),
		Param:       fc.Param,
	}
	return f, f.Validate()
}

func (cfg *Config) normalize() {
	def := Default()
	if cfg.Link.Kind == "" {
		cfg.Link.Kind = def.Link.Kind
	}
	if cfg.Faults == nil {
		cfg.Faults = []FaultConfig{}
	}
}
