package remediation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	units     string
	statuses  []string
	failStop  bool
	failStart bool
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	switch args[0] {
	case "list-unit-files":
		return f.units, nil
	case "is-active":
		if len(f.statuses) == 0 {
			return "", errors.New("exit status 3")
		}
		s := f.statuses[0]
		f.statuses = f.statuses[1:]
		return s, nil
	case "stop":
		if f.failStop {
			return "", errors.New("exit status 5")
		}
	case "start":
		if f.failStart {
			return "", errors.New("exit status 1")
		}
	}
	return "", nil
}

func newTestRestarter(runner CommandRunner) (*Restarter, *[]time.Duration) {
	r := NewRestarter(config.DefaultConfig().Remediation, runner)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

const units = "nginx.service enabled enabled\nssh.service enabled enabled\n"

func TestRestartSuccess(t *testing.T) {
	runner := &fakeRunner{units: units, statuses: []string{"failed", "active"}}
	r, slept := newTestRestarter(runner)

	assert.True(t, r.Restart(context.Background(), "nginx"))
	assert.Equal(t, []string{
		"systemctl list-unit-files",
		"systemctl is-active nginx",
		"systemctl stop nginx",
		"systemctl start nginx",
		"systemctl is-active nginx",
	}, runner.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, *slept)
}

func TestRestartFailures(t *testing.T) {
	testCases := []struct {
		name   string
		runner *fakeRunner
	}{
		{"UnknownService", &fakeRunner{units: units}},
		{"StartFails", &fakeRunner{units: units, statuses: []string{"active"}, failStart: true}},
		{"NotActiveAfterStart", &fakeRunner{units: units, statuses: []string{"active", "activating"}}},
		{"StatusUnknown", &fakeRunner{units: units, statuses: []string{"active"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRestarter(tc.runner)
			assert.False(t, r.Restart(context.Background(), "nginx"))
		})
	}
}

func TestRestartIgnoresStopFailure(t *testing.T) {
	runner := &fakeRunner{units: units, statuses: []string{"inactive", "active"}, failStop: true}
	r, _ := newTestRestarter(runner)
	assert.True(t, r.Restart(context.Background(), "nginx"))
}

func TestRestartCancelledDuringWait(t *testing.T) {
	runner := &fakeRunner{units: units, statuses: []string{"active", "active"}}
	r := NewRestarter(config.DefaultConfig().Remediation, runner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, r.Restart(ctx, "nginx"))
	assert.NotContains(t, runner.calls, "systemctl start nginx")
}

func TestExecRunner(t *testing.T) {
	out, err := ExecRunner{Timeout: time.Second}.Run(context.Background(), "echo", "  hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = ExecRunner{}.Run(context.Background(), "false")
	assert.Error(t, err)

	_, err = ExecRunner{Timeout: 10 * time.Millisecond}.Run(context.Background(), "sleep", "5")
	assert.Error(t, err)
}

func TestTriggerCooldown(t *testing.T) {
	conf := config.DefaultConfig().Remediation
	conf.Service = "nginx"
	runner := &fakeRunner{units: units, statuses: []string{"active", "active", "active", "active"}}
	r, _ := newTestRestarter(runner)
	trigger := NewTrigger(conf, r)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trigger.now = func() time.Time { return now }

	first := &models.Anomaly{}
	require.NoError(t, trigger.HandleAnomaly(context.Background(), first))
	assert.True(t, first.Remediated)

	now = now.Add(time.Minute)
	second := &models.Anomaly{}
	require.NoError(t, trigger.HandleAnomaly(context.Background(), second))
	assert.False(t, second.Remediated)

	now = now.Add(5 * time.Minute)
	third := &models.Anomaly{}
	require.NoError(t, trigger.HandleAnomaly(context.Background(), third))
	assert.True(t, third.Remediated)
	assert.Len(t, runner.calls, 10)
}

func TestTriggerReportsFailure(t *testing.T) {
	conf := config.DefaultConfig().Remediation
	conf.Service = "missing"
	r, _ := newTestRestarter(&fakeRunner{units: units})
	trigger := NewTrigger(conf, r)

	anomaly := &models.Anomaly{}
	err := trigger.HandleAnomaly(context.Background(), anomaly)
	assert.ErrorIs(t, err, ErrRestartFailed)
	assert.False(t, anomaly.Remediated)
}

func TestTriggerWithoutService(t *testing.T) {
	runner := &fakeRunner{units: units}
	r, _ := newTestRestarter(runner)
	trigger := NewTrigger(config.DefaultConfig().Remediation, r)

	require.NoError(t, trigger.HandleAnomaly(context.Background(), &models.Anomaly{}))
	assert.Empty(t, runner.calls)
}
