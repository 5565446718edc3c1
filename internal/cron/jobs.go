package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/tierllm/internal/adaptive"
)

// Retuner re-evaluates adaptive parameters. *manager.Manager satisfies it.
type Retuner interface {
	Retune(ctx context.Context) (adaptive.Params, bool)
}

// StatusLogger writes the current memory status to its log.
type StatusLogger interface {
	LogStatus()
}

// RetuneJob re-evaluates adaptive parameters between requests so an idle
// process still follows memory pressure. It never collects garbage.
type RetuneJob struct {
	Retuner      Retuner
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"
}

// Compile-time interface check.
var _ Job = (*RetuneJob)(nil)

// Name implements Job.
func (j *RetuneJob) Name() string { return "retune" }

// Schedule implements Job.
func (j *RetuneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run re-evaluates the parameters once.
func (j *RetuneJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: retune cancelled: %w", ctx.Err())
	}
	params, changed := j.Retuner.Retune(ctx)
	if changed {
		j.Logger.Info("cron: parameters retuned",
			"context_window", params.ContextWindow,
			"max_response_tokens", params.MaxResponseTokens,
			"threads", params.Threads,
		)
	}
	return nil
}

// StatusLogJob logs the memory status periodically.
type StatusLogJob struct {
	Status       StatusLogger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*StatusLogJob)(nil)

// Name implements Job.
func (j *StatusLogJob) Name() string { return "status-log" }

// Schedule implements Job.
func (j *StatusLogJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run logs the status once.
func (j *StatusLogJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: status log cancelled: %w", ctx.Err())
	}
	j.Status.LogStatus()
	return nil
}
