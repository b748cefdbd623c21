// Package dispatch moves due jobs from the store into a worker pool.
//
// A Dispatcher reserves free pool slots, claims at most that many due or
// stale jobs and submits them. When nothing is due it sleeps for the poll
// interval or until Wake is called. Any number of dispatchers, in one process
// or many, can share a store: the store's claim is what keeps a job from
// running twice.
package dispatch
