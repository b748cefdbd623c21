// Package schedule parses the schedule expressions recurring rules fire on.
//
// Parse accepts five-field cron expressions, descriptors such as "@daily",
// "@every <duration>" intervals and an optional CRON_TZ= prefix. Latest
// collapses any number of missed firings into the most recent one.
package schedule
