// Package retry holds the two retry concerns of the job core.
//
// Policy is the job-level schedule: how long a failed job waits before its
// next attempt and how many attempts it gets. Do is the call-level helper the
// dispatcher and workers wrap store calls in, so a briefly unreachable
// database does not turn into a lost claim or a lost completion.
package retry
