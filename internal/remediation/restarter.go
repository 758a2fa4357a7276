package remediation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CommandRunner executes an external command and returns its trimmed
// standard output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec, each bounded by Timeout
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes the command. A non-zero exit status is returned as an error
// that carries the command's stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return strings.TrimSpace(stdout.String()), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Restarter restarts systemd units and confirms they came back
type Restarter struct {
	runner    CommandRunner
	stopWait  time.Duration
	startWait time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
}

// NewRestarter creates a restarter running systemctl through runner. A nil
// runner uses ExecRunner with the configured command timeout.
func NewRestarter(conf config.RemediationConfig, runner CommandRunner) *Restarter {
	if runner == nil {
		runner = ExecRunner{Timeout: time.Duration(conf.CommandTimeoutSecs) * time.Second}
	}
	return &Restarter{
		runner:    runner,
		stopWait:  time.Duration(conf.StopWaitSecs) * time.Second,
		startWait: time.Duration(conf.StartWaitSecs) * time.Second,
		sleep:     sleepContext,
		logger:    log.With().Str("component", "remediation").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exists reports whether systemd knows a unit file matching service
func (r *Restarter) Exists(ctx context.Context, service string) bool {
	out, err := r.runner.Run(ctx, "systemctl", "list-unit-files")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Listing unit files failed")
		return false
	}
	return strings.Contains(out, service)
}

// Status returns the is-active state of service, or "unknown" when systemctl
// fails
func (r *Restarter) Status(ctx context.Context, service string) string {
	out, err := r.runner.Run(ctx, "systemctl", "is-active", service)
	if err != nil {
		return "unknown"
	}
	return out
}

// Restart stops and starts service and reports whether it is active
// afterwards. A failed stop is only logged; a failed start aborts.
func (r *Restarter) Restart(ctx context.Context, service string) bool {
	logger := r.logger.With().Str("service", service).Logger()
	logger.Info().Msg("Starting emergency restart")

	if !r.Exists(ctx, service) {
		logger.Error().Msg("Service not found")
		return false
	}
	logger.Info().Str("status", r.Status(ctx, service)).Msg("Current service status")

	if _, err := r.runner.Run(ctx, "systemctl", "stop", service); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop service")
	} else {
		logger.Info().Msg("Service stopped")
	}
	if err := r.sleep(ctx, r.stopWait); err != nil {
		return false
	}

	if _, err := r.runner.Run(ctx, "systemctl", "start", service); err != nil {
		logger.Error().Err(err).Msg("Failed to start service")
		return false
	}
	logger.Info().Msg("Service started")
	if err := r.sleep(ctx, r.startWait); err != nil {
		return false
	}

	final := r.Status(ctx, service)
	if final != "active" {
		logger.Error().Str("status", final).Msg("Service failed to start properly")
		return false
	}
	logger.Info().Msg("Service restarted successfully")
	return true
}
