package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/artifact"
	"github.com/justin4957/latency-anomaly-detector/internal/dashboard"
	"github.com/justin4957/latency-anomaly-detector/internal/history"
	"github.com/justin4957/latency-anomaly-detector/internal/monitor"
	"github.com/justin4957/latency-anomaly-detector/internal/remediation"
	"github.com/justin4957/latency-anomaly-detector/internal/server"
	"github.com/justin4957/latency-anomaly-detector/internal/stream"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errRestartFailed = errors.New("service restart was not confirmed")

func newServeCommand(ctx *commandContext) *cobra.Command {
	var modelPath string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve anomaly predictions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				modelPath = ctx.conf.Artifact.Path
			}
			conf := ctx.conf.Server
			if port > 0 {
				conf.Port = port
			}

			model, err := artifact.Load(modelPath)
			if err != nil {
				return fmt.Errorf("cannot serve without a model: %w", err)
			}
			log.Info().
				Str("path", modelPath).
				Str("runId", model.RunID).
				Float64("contamination", model.Contamination).
				Msg("Model loaded")

			srv, err := server.New(conf, model)
			if err != nil {
				return err
			}
			srv.Start(cmd.Context())
			<-cmd.Context().Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(conf.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Model artifact (defaults to artifact.path)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (defaults to server.port)")
	return cmd
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <service>",
		Short: "Restart a systemd service and confirm it is active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			restarter := remediation.NewRestarter(ctx.conf.Remediation, nil)
			if !restarter.Restart(cmd.Context(), args[0]) {
				return fmt.Errorf("%w: %s", errRestartFailed, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service %s restarted\n", args[0])
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var modelPath, latencyPath, format string
	var noDashboard bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Score a latency log as it grows and alert on sustained anomalies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := ctx.conf
			if modelPath == "" {
				modelPath = conf.Artifact.Path
			}
			if latencyPath != "" {
				conf.Monitor.LatencyPath = latencyPath
			}
			if format != "" {
				conf.Monitor.LatencyFormat = format
			}
			if noDashboard {
				conf.Dashboard.Enabled = false
			}
			return runWatch(cmd.Context(), ctx, modelPath)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Model artifact (defaults to artifact.path)")
	cmd.Flags().StringVarP(&latencyPath, "file", "f", "", "Latency log to follow (defaults to monitor.latency_path)")
	cmd.Flags().StringVar(&format, "format", "", "Latency log format: json, csv or plain")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Do not start the web dashboard")
	return cmd
}

func runWatch(parent context.Context, cctx *commandContext, modelPath string) error {
	conf := cctx.conf
	model, err := artifact.Load(modelPath)
	if err != nil {
		return fmt.Errorf("cannot watch without a model: %w", err)
	}

	var sinks []monitor.AlertSink
	if conf.Remediation.Service != "" {
		restarter := remediation.NewRestarter(conf.Remediation, nil)
		sinks = append(sinks, remediation.NewTrigger(conf.Remediation, restarter))
		log.Info().Str("service", conf.Remediation.Service).Msg("Remediation enabled")
	}

	var store *history.Store
	if conf.History.Path != "" {
		store, err = history.Open(conf.History.Path, time.Duration(conf.History.RetentionHours)*time.Hour)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	mon := monitor.NewMonitor(conf.Monitor, model, model.Train, sinks...)
	samples := make(chan models.LatencySample, 100)
	output := make(chan any, 100)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(samples)
		ls := stream.NewLatencyStream(conf.Monitor.LatencyPath, conf.Monitor.LatencyFormat)
		if err := ls.Start(ctx, samples); err != nil {
			errs <- fmt.Errorf("latency stream: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Start(ctx, samples, output)
	}()

	log.Info().
		Str("path", conf.Monitor.LatencyPath).
		Str("format", conf.Monitor.LatencyFormat).
		Int("streak", conf.Monitor.StreakThreshold).
		Msg("Watching latency log")

	if conf.Dashboard.Enabled {
		var historySource dashboard.AnomalySource
		if store != nil {
			historySource = store
		}
		dash := dashboard.NewServer(conf.Dashboard, historySource, mon.Metrics())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Start(ctx, output); err != nil {
				errs <- err
				cancel()
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drain(output)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	close(errs)
	return <-errs
}

// drain logs window metrics when no dashboard consumes the monitor output
func drain(output <-chan any) {
	for v := range output {
		if m, ok := v.(*models.WindowMetrics); ok && m.Count > 0 {
			log.Info().
				Int("count", m.Count).
				Float64("meanMs", m.MeanLatency).
				Float64("p95Ms", m.P95Latency).
				Float64("anomalyRate", m.AnomalyRate).
				Int("streak", m.CurrentStreak).
				Msg("Window metrics")
		}
	}
}
