package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
)

// ErrRestartFailed is returned by Trigger when the service did not come back
var ErrRestartFailed = errors.New("service restart failed")

// Trigger restarts the configured service for raised anomalies, at most once
// per cooldown
type Trigger struct {
	restarter *Restarter
	service   string
	cooldown  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewTrigger creates an alert sink restarting conf.Service
func NewTrigger(conf config.RemediationConfig, restarter *Restarter) *Trigger {
	return &Trigger{
		restarter: restarter,
		service:   conf.Service,
		cooldown:  time.Duration(conf.CooldownSecs) * time.Second,
		now:       time.Now,
	}
}

func (t *Trigger) acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.cooldown {
		return false
	}
	t.last = now
	return true
}

// HandleAnomaly restarts the service unless a restart happened within the
// cooldown, marking the anomaly remediated on success
func (t *Trigger) HandleAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	if t.service == "" || !t.acquire() {
		return nil
	}
	if !t.restarter.Restart(ctx, t.service) {
		return fmt.Errorf("%w: %s", ErrRestartFailed, t.service)
	}
	anomaly.Remediated = true
	return nil
}
