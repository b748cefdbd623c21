// Package core provides the fundamental types and interfaces of the job orchestration core.
//
// This package contains:
//   - Job and RecurringRule data models with GORM annotations
//   - The Store interface defining the persistence contract
//   - The error taxonomy shared by the store, worker pool and handlers
package core
