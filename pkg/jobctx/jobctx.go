// Package jobctx gives handlers access to the job they are running.
package jobctx

import (
	"context"
	"log/slog"

	"github.com/jdziat/docpipeline/pkg/core"
)

type contextKey struct{}

// Info describes the job execution a context belongs to.
type Info struct {
	Job      *core.Job
	WorkerID string
	Logger   *slog.Logger
}

// With returns a context carrying info. If info has no logger, one is derived
// from slog.Default with the job's identifying attributes.
func With(ctx context.Context, info *Info) context.Context {
	if info.Logger == nil {
		info.Logger = slog.Default()
	}
	if info.Job != nil {
		info.Logger = info.Logger.With(
			"job_id", info.Job.ID,
			"kind", info.Job.Kind,
			"attempt", info.Job.AttemptCount+1,
		)
	}
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext returns the execution info, or nil outside a job handler.
func FromContext(ctx context.Context) *Info {
	info, _ := ctx.Value(contextKey{}).(*Info)
	return info
}

// JobFromContext returns the current Job, or nil outside a job handler.
func JobFromContext(ctx context.Context) *core.Job {
	if info := FromContext(ctx); info != nil {
		return info.Job
	}
	return nil
}

// JobIDFromContext returns the current job ID, or "" outside a job handler.
func JobIDFromContext(ctx context.Context) string {
	if job := JobFromContext(ctx); job != nil {
		return job.ID
	}
	return ""
}

// Attempt returns the 1-based number of the attempt in progress, or 0
// outside a job handler.
func Attempt(ctx context.Context) int {
	if job := JobFromContext(ctx); job != nil {
		return job.AttemptCount + 1
	}
	return 0
}

// Logger returns a logger annotated with the current job, falling back to
// slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if info := FromContext(ctx); info != nil && info.Logger != nil {
		return info.Logger
	}
	return slog.Default()
}
