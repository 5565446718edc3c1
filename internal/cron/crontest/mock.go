// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/tierllm/internal/adaptive"
	"github.com/flemzord/tierllm/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockRetuner is a test double for cron.Retuner. A nil RetuneFunc reports
// no change.
type MockRetuner struct {
	RetuneFunc func(ctx context.Context) (adaptive.Params, bool)
	Calls      atomic.Int32
}

var _ cron.Retuner = (*MockRetuner)(nil)

// Retune implements cron.Retuner.
func (m *MockRetuner) Retune(ctx context.Context) (adaptive.Params, bool) {
	m.Calls.Add(1)
	if m.RetuneFunc != nil {
		return m.RetuneFunc(ctx)
	}
	return adaptive.Params{}, false
}

// MockStatusLogger counts LogStatus calls.
type MockStatusLogger struct {
	Calls atomic.Int32
}

var _ cron.StatusLogger = (*MockStatusLogger)(nil)

// LogStatus implements cron.StatusLogger.
func (m *MockStatusLogger) LogStatus() { m.Calls.Add(1) }
