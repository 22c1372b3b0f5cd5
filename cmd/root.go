// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/zenith/pkg/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// TCP link flags
	linkAddr string

	// Serial link flags
	portName string
	baudRate int

	// WebSocket link flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

// Loaded by the root pre-run hook.
var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zenith",
	Short: "Zenith satellite flight software simulator",
	Long: `Zenith - A simulated satellite flight segment and its ground station.

The fly command runs the flight software: a fixed set of prioritized tasks
(command dispatch, telecommand receive, attitude control, telemetry and the
ground link) supervised by a watchdog, with optional fault injection.

The ground command accepts the satellite link, decodes its frames and sends
attitude and telemetry commands. ping, link_test and replay check the command
path, the raw link and recorded telemetry.

Link modes:
  TCP:       --addr 127.0.0.1:8080 (default)
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings are read from --config (TOML) and overridden by flags. A .env file in
the working directory is loaded first. For WebSocket authentication the
password is read from the ZENITH_WS_PASSWORD environment variable, or prompted
interactively if not set. A --password flag is intentionally not provided to
avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	// TCP link flags
	rootCmd.PersistentFlags().StringVarP(&linkAddr, "addr", "a", "", "Ground link address host:port (TCP)")

	// Serial link flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket link flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var err error
	logger, err = newLogger(os.Stderr, logLevel, logFormat)
	if err != nil {
		return err
	}

	loaded, exists, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if configPath != "" && !exists {
		return fmt.Errorf("config file not found: %s", configPath)
	}
	cfg = loaded

	flags := cmd.Flags()
	if err := applyLinkFlags(&cfg.Link, linkFlags{
		addr:        linkAddr,
		port:        portName,
		baud:        baudRate,
		baudSet:     flags.Changed("baud"),
		url:         wsURL,
		username:    wsUsername,
		noSSLVerify: wsNoSSLVerify,
	}); err != nil {
		return err
	}
	return cfg.Validate()
}

type linkFlags struct {
	addr        string
	port        string
	baud        int
	baudSet     bool
	url         string
	username    string
	noSSLVerify bool
}

// applyLinkFlags overrides the configured link with whichever link flag was
// given. WebSocket wins over serial, serial over TCP.
func applyLinkFlags(link *config.LinkConfig, f linkFlags) error {
	if f.addr != "" {
		host, port, err := net.SplitHostPort(f.addr)
		if err != nil {
			return fmt.Errorf("invalid --addr %q: %w", f.addr, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid --addr port %q: %w", port, err)
		}
		link.Kind = config.LinkTCP
		link.Host = host
		link.Port = n
	}
	if f.port != "" {
		link.Kind = config.LinkSerial
		link.SerialPort = f.port
	}
	if f.baudSet || link.Baud == 0 {
		link.Baud = f.baud
	}
	if f.url != "" {
		link.Kind = config.LinkWebSocket
		link.URL = f.url
	}
	if f.username != "" {
		link.Username = f.username
	}
	if f.noSSLVerify {
		link.NoSSLVerify = true
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q (use text or json)", format)
}
