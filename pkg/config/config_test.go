// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/zenith/pkg/fault"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zenith.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Watchdog.Timeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Transport.ReconnectBackoff.Std())
	assert.Equal(t, 20, cfg.Tasks.MirrorQueue)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[link]
kind = "tcp"
host = "10.0.0.5"
port = 9000

[transport]
reconnect_backoff = "250ms"

[watchdog]
timeout = "2s"

[[faults]]
kind = "task_delay"
probability = 0.25
duration = "150ms"

[[faults]]
kind = "cpu_overload"
probability = 0.5
param = 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Link.Host)
	assert.Equal(t, 9000, cfg.Link.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReconnectBackoff.Std())
	assert.Equal(t, time.Second, cfg.Transport.HeartbeatInterval.Std(), "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Watchdog.Timeout.Std())

	faults, err := cfg.FaultList()
	require.NoError(t, err)
	assert.Equal(t, []fault.Fault{
		{Kind: fault.TaskDelay, Probability: 0.25, Duration: 150 * time.Millisecond},
		{Kind: fault.CPUOverload, Probability: 0.5, Param: 20},
	}, faults)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, exists, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad toml":        "[link\nkind=",
		"bad duration":    "[watchdog]\ntimeout = \"soon\"",
		"bad link kind":   "[link]\nkind = \"carrier-pigeon\"",
		"bad port":        "[link]\nport = 70000",
		"ws without url":  "[link]\nkind = \"ws\"",
		"zero queue":      "[tasks]\ncommand_queue = 0",
		"bad fault kind":  "[[faults]]\nkind = \"gremlins\"\nprobability = 0.1",
		"bad probability": "[[faults]]\nkind = \"task_hang\"\nprobability = 3.0",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Link.Kind = LinkSerial
	cfg.Link.SerialPort = "/dev/ttyUSB0"
	cfg.Faults = []FaultConfig{{Kind: "adcs_error", Probability: 0.1}}

	path := filepath.Join(t.TempDir(), "sub", "zenith.toml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
