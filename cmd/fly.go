// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/zenith/pkg/config"
	"github.com/Thermoquad/zenith/pkg/fault"
	"github.com/Thermoquad/zenith/pkg/flight"
	"github.com/Thermoquad/zenith/pkg/observability"
	"github.com/Thermoquad/zenith/pkg/protocol"
	"github.com/Thermoquad/zenith/pkg/rtos"
	"github.com/Thermoquad/zenith/pkg/telemetry"
)

var (
	flyMetricsAddr  string
	flyRecordPath   string
	flyFaults       []string
	flyTestCommands bool
)

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Run the flight software",
	Long: `Run the simulated flight software until interrupted.

The satellite connects to the ground station over the configured link and
reconnects with a fixed backoff whenever the link drops. Telemetry is sent
once per period and on request.

Faults can be injected from the config file or with repeated --fault flags:
  --fault task_delay:0.1:200ms
  --fault task_hang:0.01
  --fault cpu_overload:0.2:0:50
  --fault transport_drop:0.05

Kinds: task_delay, task_hang, memory_leak, transport_drop, transport_delay,
cpu_overload, adcs_error.

Exit status is non-zero if the kernel halts.`,
	RunE: runFly,
}

func init() {
	rootCmd.AddCommand(flyCmd)
	flyCmd.Flags().StringVar(&flyMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flyCmd.Flags().StringVar(&flyRecordPath, "record", "", "Record telemetry to this file (CBOR sequence)")
	flyCmd.Flags().StringArrayVar(&flyFaults, "fault", nil, "Inject a fault kind:probability[:duration[:param]] (repeatable)")
	flyCmd.Flags().BoolVar(&flyTestCommands, "test-commands", false, "Generate a test command every test_command_interval")
}

func runFly(cmd *cobra.Command, args []string) error {
	for _, spec := range flyFaults {
		f, err := fault.ParseFault(spec)
		if err != nil {
			return fmt.Errorf("--fault %q: %w", spec, err)
		}
		cfg.Faults = append(cfg.Faults, config.FaultConfig{
			Kind:        f.Kind.String(),
			Probability: f.Probability,
			Duration:    config.Duration(f.Duration),
			Param:       f.Param,
		})
	}
	if cmd.Flags().Changed("test-commands") {
		cfg.Tasks.TestCommands = flyTestCommands
	}
	if flyMetricsAddr != "" {
		cfg.Metrics.Addr = flyMetricsAddr
	}
	if flyRecordPath != "" {
		cfg.Telemetry.Record = flyRecordPath
	}

	dial, linkInfo, err := OpenDialer(cfg.Link)
	if err != nil {
		return err
	}

	opts := []flight.Option{flight.WithLogger(logger)}
	var registry *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
		metrics, err := observability.NewFlightCollector(registry)
		if err != nil {
			return err
		}
		opts = append(opts, flight.WithMetrics(metrics))
	}

	sat, err := flight.New(cfg, dial, opts...)
	if err != nil {
		return err
	}

	logger.Info("zenith flight software",
		"boot_id", sat.BootID().String(),
		"link", linkInfo,
		"faults", len(cfg.Faults),
		"test_commands", cfg.Tasks.TestCommands)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sat.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if registry != nil {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Telemetry.Record != "" {
		f, err := os.Create(cfg.Telemetry.Record)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		defer f.Close()
		rec := telemetry.NewRecorder(f, "flight")
		g.Go(func() error {
			return drainMirror(gctx, sat.Mirror(), rec)
		})
	}

	err = g.Wait()
	logger.Info("flight statistics", "stats", sat.Stats().String())
	return err
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// drainMirror records every mirrored telemetry packet until ctx ends.
func drainMirror(ctx context.Context, mirror *rtos.Queue[protocol.TelemetryPacket], rec *telemetry.Recorder) error {
	for {
		packet, err := mirror.Receive(ctx, rtos.Forever)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("telemetry recording closed", "packets", rec.Count())
				return nil
			}
			return err
		}
		if err := rec.Record(packet); err != nil {
			return fmt.Errorf("record telemetry: %w", err)
		}
	}
}
