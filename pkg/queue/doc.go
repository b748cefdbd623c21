// Package queue is the producer-side entry point of the job core.
//
// Queue validates and persists new jobs and notifies listeners, such as a
// dispatcher waiting for work, when a job is added. It implements
// core.Enqueuer, which is what workers use to submit follow-up jobs.
package queue
