// Package cron runs periodic background jobs such as parameter
// re-evaluation and memory status logging.
package cron

import "context"

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes one tick. Implementations should honor ctx.Done().
	Run(ctx context.Context) error
}
