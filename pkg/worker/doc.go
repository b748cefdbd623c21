// Package worker provides the Pool that executes claimed jobs.
//
// A Pool owns a fixed number of execution slots. The dispatcher reserves
// slots before it claims jobs, so every claimed job submitted to the pool
// starts immediately. The pool looks up the job's handler, runs it under the
// kind's timeout, and records the outcome in the store: success, a retry
// scheduled by the retry policy, or exhaustion.
//
// On shutdown the pool stops accepting work, lets running handlers finish
// within the grace period and then cancels them. A job interrupted this way
// keeps its claim and is picked up again once the claim goes stale.
package worker
