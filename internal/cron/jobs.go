package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engramdev/engram/internal/memory"
)

// Compressor is the subset of the engine needed by the compression sweep.
// Defined here to avoid a dependency on the engine package.
type Compressor interface {
	CompressUserMemories(ctx context.Context, userID string) ([]memory.Summary, error)
}

// UserLister enumerates users for a sweep.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// CompressionSweepJob walks every user and compacts their aged session
// history into summaries. Per-user failures are logged and the sweep moves
// on; only a failure to enumerate users fails the run.
type CompressionSweepJob struct {
	Users        UserLister
	Compressor   Compressor
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*CompressionSweepJob)(nil)

// Name implements Job.
func (j *CompressionSweepJob) Name() string { return "compression_sweep" }

// Schedule implements Job.
func (j *CompressionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run compresses every user's eligible sessions.
func (j *CompressionSweepJob) Run(ctx context.Context) error {
	users, err := j.Users.Users(ctx)
	if err != nil {
		return fmt.Errorf("cron: list users: %w", err)
	}

	created := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return fmt.Errorf("cron: compression sweep cancelled: %w", ctx.Err())
		}
		sums, err := j.Compressor.CompressUserMemories(ctx, userID)
		if err != nil {
			j.Logger.Error("cron: compression sweep: user failed", "user", userID, "error", err)
			continue
		}
		created += len(sums)
	}
	if created > 0 {
		j.Logger.Info("cron: compression sweep done", "users", len(users), "summaries", created)
	}
	return nil
}

// AccessRecordCleanupJob drops access-log entries older than the retention
// window. The log is diagnostic data, so pruning never loses conversation
// history.
type AccessRecordCleanupJob struct {
	Store        memory.Store
	Retention    time.Duration // zero = default 90 days
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "30 3 * * *"
}

// Compile-time interface check.
var _ Job = (*AccessRecordCleanupJob)(nil)

// Name implements Job.
func (j *AccessRecordCleanupJob) Name() string { return "access_record_cleanup" }

// Schedule implements Job.
func (j *AccessRecordCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "30 3 * * *"
}

// Run prunes expired access records.
func (j *AccessRecordCleanupJob) Run(ctx context.Context) error {
	retention := j.Retention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-retention)
	pruned, err := j.Store.PruneAccessRecords(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cron: prune access records: %w", err)
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned access records", "count", pruned, "cutoff", cutoff)
	}
	return nil
}
