package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/security"
)

// DefaultTimeout bounds a handler invocation when its registration sets none.
const DefaultTimeout = 5 * time.Minute

// FollowUp is a job to enqueue once the current job has succeeded.
type FollowUp struct {
	Kind      string
	Payload   any
	Delay     time.Duration
	UniqueKey string
}

// Result is returned by a handler that completed its work.
type Result struct {
	FollowUps []FollowUp
}

// Then appends a follow-up job to the result.
func (r Result) Then(f FollowUp) Result {
	r.FollowUps = append(r.FollowUps, f)
	return r
}

// Handler executes jobs of one kind.
type Handler interface {
	Handle(ctx context.Context, job *core.Job) (Result, error)
}

// Func adapts a function to the Handler interface.
type Func func(ctx context.Context, job *core.Job) (Result, error)

// Handle calls f.
func (f Func) Handle(ctx context.Context, job *core.Job) (Result, error) {
	return f(ctx, job)
}

// Typed wraps a function that takes the job's decoded JSON payload.
// A payload that fails to decode can never succeed, so it is not retried.
func Typed[T any](fn func(ctx context.Context, payload T) (Result, error)) Handler {
	return Func(func(ctx context.Context, job *core.Job) (Result, error) {
		var payload T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return Result{}, core.NoRetry(fmt.Errorf("decode %s payload: %w", job.Kind, err))
			}
		}
		return fn(ctx, payload)
	})
}

// Registration is a handler together with its execution settings.
type Registration struct {
	Kind    string
	Handler Handler
	Timeout time.Duration
}

// Option configures a Registration.
type Option interface {
	applyRegistration(*Registration)
}

type optionFunc func(*Registration)

func (f optionFunc) applyRegistration(r *Registration) { f(r) }

// Timeout bounds each invocation of the handler.
func Timeout(d time.Duration) Option {
	return optionFunc(func(r *Registration) {
		if d > 0 {
			r.Timeout = d
		}
	})
}

// Registry holds the handler for each job kind.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register binds h to kind. A kind can only be registered once.
func (r *Registry) Register(kind string, h Handler, opts ...Option) error {
	if err := security.ValidateJobKind(kind); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("handler for %q cannot be nil", kind)
	}

	reg := Registration{Kind: kind, Handler: h, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt.applyRegistration(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[kind]; exists {
		return fmt.Errorf("handler for %q already registered", kind)
	}
	r.entries[kind] = reg
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind string, h Handler, opts ...Option) {
	if err := r.Register(kind, h, opts...); err != nil {
		panic(err)
	}
}

// Lookup returns the registration for kind.
func (r *Registry) Lookup(kind string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[kind]
	return reg, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
