// Package handler maps job kinds to the code that executes them.
//
// Handlers are registered explicitly by kind in a Registry. A handler that
// succeeds may return follow-up jobs in its Result; the worker enqueues them
// only after the current job is recorded as succeeded.
package handler
