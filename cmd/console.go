// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Thermoquad/zenith/pkg/ground"
	"github.com/Thermoquad/zenith/pkg/protocol"
)

// Console actions
const (
	actionAttitude  = "attitude"
	actionTelemetry = "telemetry"
	actionRaw       = "raw"
	actionAck       = "ack"
	actionHelp      = "help"
)

const consoleHelp = "att <roll> <pitch> <yaw> (degrees) | tm | raw <hex> | ack on|off | q"

var errEmptyCommand = errors.New("empty command")

// consoleCommand is one parsed line of operator input.
type consoleCommand struct {
	action   string
	attitude protocol.ADCSCommand
	raw      []byte
	ack      bool
}

func parseConsoleCommand(line string) (consoleCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return consoleCommand{}, errEmptyCommand
	}

	switch strings.ToLower(fields[0]) {
	case "att", "attitude":
		if len(fields) != 4 {
			return consoleCommand{}, fmt.Errorf("usage: att <roll> <pitch> <yaw>")
		}
		var deg [3]float64
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return consoleCommand{}, fmt.Errorf("invalid angle %q", f)
			}
			deg[i] = v
		}
		return consoleCommand{
			action: actionAttitude,
			attitude: protocol.ADCSCommand{
				Roll:  float32(deg[0] * math.Pi / 180),
				Pitch: float32(deg[1] * math.Pi / 180),
				Yaw:   float32(deg[2] * math.Pi / 180),
			},
		}, nil

	case "tm", "telemetry":
		return consoleCommand{action: actionTelemetry}, nil

	case "raw":
		data, err := hex.DecodeString(strings.Join(fields[1:], ""))
		if err != nil || len(data) == 0 {
			return consoleCommand{}, fmt.Errorf("usage: raw <hex bytes>")
		}
		return consoleCommand{action: actionRaw, raw: data}, nil

	case "ack":
		if len(fields) != 2 {
			return consoleCommand{}, fmt.Errorf("usage: ack on|off")
		}
		switch strings.ToLower(fields[1]) {
		case "on":
			return consoleCommand{action: actionAck, ack: true}, nil
		case "off":
			return consoleCommand{action: actionAck, ack: false}, nil
		}
		return consoleCommand{}, fmt.Errorf("usage: ack on|off")

	case "help", "?":
		return consoleCommand{action: actionHelp}, nil
	}
	return consoleCommand{}, fmt.Errorf("unknown command %q (%s)", fields[0], consoleHelp)
}

// execute sends the command and returns a log line describing it.
func (c consoleCommand) execute(station *ground.Station, requireAck bool) (string, error) {
	switch c.action {
	case actionAttitude:
		err := station.SendAttitude(c.attitude.Roll, c.attitude.Pitch, c.attitude.Yaw, requireAck)
		return fmt.Sprintf("ADCS_CMD roll=%.1f° pitch=%.1f° yaw=%.1f°",
			degrees(c.attitude.Roll), degrees(c.attitude.Pitch), degrees(c.attitude.Yaw)), err
	case actionTelemetry:
		return "TELEMETRY_REQ", station.RequestTelemetry(requireAck)
	case actionRaw:
		return fmt.Sprintf("RAW % X", c.raw), station.SendRaw(c.raw)
	case actionHelp:
		return consoleHelp, nil
	}
	return "", fmt.Errorf("nothing to send for %q", c.action)
}

func degrees(rad float32) float64 {
	return float64(rad) * 180 / math.Pi
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, p := range []struct {
		n    uint64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
