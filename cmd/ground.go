// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/ground"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/telemetry"
)

var (
	showAll         bool
	statsInterval   int
	useTUI          bool
	groundRecord    string
	requestInterval time.Duration
)

var groundCmd = &cobra.Command{
	Use:   "ground",
	Short: "Run the ground station",
	Long: `Accept the satellite link, decode its frames and send commands.

On a TCP link the ground station listens on --addr and the satellite connects
to it. Serial and WebSocket links are opened directly.

Every frame is validated. Telemetry, ERROR replies, decode failures and
out-of-range values are always shown; use --show-all to display heartbeats
and acknowledgements too. Statistics are printed at a configurable interval.

The terminal UI (--tui) adds a command line:
  att <roll> <pitch> <yaw>   target attitude in degrees
  tm                         request telemetry
  raw <hex>                  send raw bytes
  ack on|off                 request acknowledgements`,
	RunE: runGround,
}

func init() {
	rootCmd.AddCommand(groundCmd)
	groundCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just telemetry and errors)")
	groundCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	groundCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI (false for text mode)")
	groundCmd.Flags().StringVar(&groundRecord, "record", "", "Record received telemetry to this file (CBOR sequence)")
	groundCmd.Flags().DurationVar(&requestInterval, "request-interval", 0, "Request telemetry at this interval (0 disables)")
}

func runGround(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stationLogger := logger
	if useTUI {
		// The TUI owns the terminal.
		stationLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	station := ground.NewStation(ground.WithLogger(stationLogger))

	linkInfo, serveErr, err := startStation(ctx, station, cfg.Link)
	if err != nil {
		return err
	}

	var rec *telemetry.Recorder
	if groundRecord != "" {
		f, err := os.Create(groundRecord)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		defer f.Close()
		rec = telemetry.NewRecorder(f, "ground")
	}

	if useTUI {
		err = runGroundTUI(ctx, stop, station, linkInfo, rec)
	} else {
		err = runGroundText(ctx, station, linkInfo, rec)
	}
	stop()

	if serr := <-serveErr; serr != nil && !errors.Is(serr, context.Canceled) && err == nil {
		err = serr
	}
	return err
}

// startStation listens on TCP links and opens serial or WebSocket links
// directly. The returned channel yields the serve result.
func startStation(ctx context.Context, station *ground.Station, link config.LinkConfig) (string, <-chan error, error) {
	result := make(chan error, 1)

	if link.Kind == config.LinkTCP {
		ln, err := net.Listen("tcp", linkAddress(link))
		if err != nil {
			return "", nil, fmt.Errorf("listen: %w", err)
		}
		go func() { result <- station.Serve(ctx, ln) }()
		return fmt.Sprintf("TCP listen: %s", ln.Addr()), result, nil
	}

	dial, info, err := OpenDialer(link)
	if err != nil {
		return "", nil, err
	}
	conn, err := dial(ctx)
	if err != nil {
		return "", nil, err
	}
	go func() { result <- station.Attach(ctx, conn, info) }()
	return info, result, nil
}

// recordTelemetry parses and records a telemetry frame.
func recordTelemetry(rec *telemetry.Recorder, f *protocol.Frame) error {
	if rec == nil || f.Type() != protocol.MsgTelemetryData {
		return nil
	}
	packet, err := protocol.ParseTelemetry(f.Payload())
	if err != nil {
		return err
	}
	return rec.Record(packet)
}

// runGroundText prints events until ctx ends or the link is gone
func runGroundText(ctx context.Context, station *ground.Station, linkInfo string, rec *telemetry.Recorder) error {
	fmt.Printf("Zenith - Ground Station\n")
	fmt.Printf("Link: %s\n", linkInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Telemetry and errors\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(max(statsInterval, 1)) * time.Second)
	defer statsTicker.Stop()

	var requests <-chan time.Time
	if requestInterval > 0 {
		t := time.NewTicker(requestInterval)
		defer t.Stop()
		requests = t.C
	}

	for {
		select {
		case ev, ok := <-station.Events():
			if !ok {
				printStatistics(station)
				return nil
			}
			printEvent(ev)
			if ev.Kind == ground.EventFrame {
				if err := recordTelemetry(rec, ev.Frame); err != nil {
					fmt.Printf("[RECORD] %v\n", err)
				}
			}

		case <-requests:
			if err := station.RequestTelemetry(false); err != nil && !errors.Is(err, ground.ErrNoLink) {
				fmt.Printf("[SEND] %v\n", err)
			}

		case <-statsTicker.C:
			printStatistics(station)

		case <-ctx.Done():
			// Serve closes the event stream.
			for range station.Events() {
			}
			printStatistics(station)
			return nil
		}
	}
}

func printStatistics(station *ground.Station) {
	stats := station.Statistics()
	fmt.Println()
	fmt.Print(stats.String())
	fmt.Println()
}

func printEvent(ev ground.Event) {
	timestamp := ev.Time.Format("15:04:05.000")

	switch ev.Kind {
	case ground.EventConnected:
		fmt.Printf("[%s] \033[1;32mLINK UP:\033[0m %s\n\n", timestamp, ev.Remote)

	case ground.EventDisconnected:
		if ev.Err != nil {
			fmt.Printf("[%s] \033[1;31mLINK DOWN:\033[0m %s (%v)\n\n", timestamp, ev.Remote, ev.Err)
		} else {
			fmt.Printf("[%s] \033[1;31mLINK DOWN:\033[0m %s\n\n", timestamp, ev.Remote)
		}

	case ground.EventDecodeError:
		printDecodeError(ev.Time, ev.Err)

	case ground.EventFrame:
		switch {
		case len(ev.Anomalies) > 0:
			printValidationErrors(ev.Frame, ev.Anomalies)
		case ev.Frame.Type() == protocol.MsgTelemetryData, ev.Frame.Type() == protocol.MsgError:
			fmt.Print(protocol.FormatFrame(ev.Frame))
			fmt.Println()
		case showAll:
			fmt.Print(protocol.FormatFrame(ev.Frame))
			fmt.Println()
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(at time.Time, err error) {
	timestamp := at.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DISCARDED <<<\n\n")
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(f *protocol.Frame, errs []protocol.ValidationError) {
	timestamp := f.Timestamp().Format("15:04:05.000")
	msgType := protocol.FormatMessageType(f.Type())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, msgType, uint8(f.Type()))
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case protocol.AnomalyLengthMismatch, protocol.AnomalyDecodeError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	if f.Type() == protocol.MsgTelemetryData {
		if t, err := protocol.ParseTelemetry(f.Payload()); err == nil {
			fmt.Print(protocol.FormatTelemetry(t))
		}
	}
	fmt.Printf("  >>> FRAME FLAGGED <<<\n\n")
}
