// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

var linkTestTimeout int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test a link by waiting for a valid frame",
	Long: `Wait for a valid frame on the link until timeout.

This command opens the configured serial port, WebSocket or TCP endpoint and
waits for any frame that passes the CRC check. Noise before sync is skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(linkTestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	dial, info, err := OpenDialer(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	conn, err := dial(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Zenith - Link Test\n")
	fmt.Printf("Link: %s\n", info)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	frames := make(chan *protocol.Frame, 1)
	errs := make(chan error, 1)

	go func() {
		frame, skipped, err := waitForFrame(conn)
		if err != nil {
			errs <- err
			return
		}
		if skipped > 0 {
			fmt.Printf("(%d decode errors before first valid frame)\n", skipped)
		}
		frames <- frame
	}()

	select {
	case f := <-frames:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", protocol.FormatMessageType(f.Type()), uint8(f.Type()))
		fmt.Printf("  Flags: %s\n", protocol.FormatFlags(f.Flags()))
		fmt.Printf("  Length: %d bytes\n", f.Length())
		fmt.Printf("  CRC: 0x%04X\n", f.CRC())
		os.Exit(0)

	case err := <-errs:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}
	return nil
}

// waitForFrame reads until the first frame that decodes cleanly.
func waitForFrame(r io.Reader) (*protocol.Frame, int, error) {
	decoder := protocol.NewStreamDecoder()
	buf := make([]byte, 256)
	skipped := 0
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			frame, derr := decoder.DecodeByte(b)
			if derr != nil {
				skipped++
				continue
			}
			if frame != nil {
				return frame, skipped, nil
			}
		}
		if err != nil {
			return nil, skipped, err
		}
	}
}
