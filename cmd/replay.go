// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/telemetry"
)

var replayValidate bool

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Display a recorded telemetry log in human-readable format",
	Long: `Decode a telemetry recording written by 'fly --record' or 'ground --record'
and print every packet with its receive time and source.

With --validate each packet is checked against the telemetry range limits and
anomalies are reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayValidate, "validate", false, "Report out-of-range telemetry values")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	records, err := telemetry.NewReader(f).ReadAll()
	if err != nil {
		// Print what was decoded before the damage.
		fmt.Fprintf(os.Stderr, "Recording truncated: %v\n", err)
	}

	anomalous := 0
	for i, r := range records {
		packet := r.Packet()
		fmt.Printf("[%s] #%d %s\n", r.Received.Format("2006-01-02 15:04:05.000"), i+1, r.Source)
		fmt.Print(protocol.FormatTelemetry(packet))

		if replayValidate {
			frame := protocol.NewFrame(protocol.MsgTelemetryData, 0, packet.Marshal())
			errs := protocol.ValidateFrame(frame)
			if len(errs) > 0 {
				anomalous++
			}
			for _, e := range errs {
				fmt.Printf("  \033[1;33mANOMALY:\033[0m %s\n", e.Message)
			}
		}
		fmt.Println()
	}

	fmt.Printf("%d records", len(records))
	if replayValidate {
		fmt.Printf(", %d anomalous", anomalous)
	}
	fmt.Println()
	return err
}
