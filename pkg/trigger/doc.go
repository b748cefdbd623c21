// Package trigger turns recurring rules into jobs.
//
// Rules live in the store with a watermark of the last fire time. On each
// tick a Trigger computes, for every rule, the latest scheduled time that is
// due, and asks the store to advance the watermark and enqueue the job in
// one step. The step is conditional on the rule's version, so triggers in
// several processes fire each scheduled time once, and a restarted process
// resumes from the stored watermark instead of firing again.
package trigger
