// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zenith/pkg/ground"
	"github.com/Thermoquad/zenith/pkg/protocol"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the command path by requesting telemetry",
	Long: `Send TELEMETRY_REQ frames with the ACK flag and wait for the reply.

Each request should be acknowledged by the satellite and answered with a
TELEMETRY_DATA frame carrying its uptime. This verifies both directions of the
link and the command pipeline on board.

On a TCP link the command listens on --addr and waits for the satellite to
connect first.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	station := ground.NewStation(ground.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	info, serveErr, err := startStation(ctx, station, cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Zenith - Ping Test\n")
	fmt.Printf("Link: %s\n", info)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	timeout := time.Duration(pingTimeout) * time.Second
	if err := waitConnected(station, timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	successCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := station.RequestTelemetry(true); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
		} else if reply, acked, err := awaitTelemetry(station, timeout); err != nil {
			fmt.Printf("%v\n", err)
		} else {
			ack := "no ack"
			if acked {
				ack = "acked"
			}
			fmt.Printf("TELEMETRY uptime=%s, %s, rtt=%v\n",
				formatUptime(uint64(reply.Timestamp)), ack, time.Since(startTime).Round(time.Millisecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	cancel()
	for range station.Events() {
	}
	<-serveErr

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

func waitConnected(station *ground.Station, timeout time.Duration) error {
	if station.Connected() {
		return nil
	}
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-station.Events():
			if !ok {
				return fmt.Errorf("link closed")
			}
			if ev.Kind == ground.EventConnected {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no satellite connected within %v", timeout)
		}
	}
}

// awaitTelemetry waits for the next telemetry frame and reports whether an
// ACK for the request arrived first.
func awaitTelemetry(station *ground.Station, timeout time.Duration) (protocol.TelemetryPacket, bool, error) {
	deadline := time.After(timeout)
	acked := false
	for {
		select {
		case ev, ok := <-station.Events():
			if !ok {
				return protocol.TelemetryPacket{}, acked, fmt.Errorf("LINK CLOSED")
			}
			switch ev.Kind {
			case ground.EventDisconnected:
				return protocol.TelemetryPacket{}, acked, fmt.Errorf("DISCONNECTED")
			case ground.EventFrame:
				switch ev.Frame.Type() {
				case protocol.MsgAck:
					if t, err := protocol.ParseAck(ev.Frame.Payload()); err == nil && t == protocol.MsgTelemetryReq {
						acked = true
					}
				case protocol.MsgError:
					code, _ := protocol.ParseErrorCode(ev.Frame.Payload())
					return protocol.TelemetryPacket{}, acked, fmt.Errorf("ERROR %s", protocol.FormatErrorCode(code))
				case protocol.MsgTelemetryData:
					t, err := protocol.ParseTelemetry(ev.Frame.Payload())
					return t, acked, err
				}
			}
		case <-deadline:
			return protocol.TelemetryPacket{}, acked, fmt.Errorf("TIMEOUT (no response in %v)", timeout)
		}
	}
}
