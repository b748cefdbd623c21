package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/security"
)

// DefaultMaxAttempts applies when neither the queue nor the enqueue sets one.
const DefaultMaxAttempts = 2

// Queue validates and persists jobs.
type Queue struct {
	store              core.Store
	registry           *handler.Registry
	defaultMaxAttempts int
	now                func() time.Time

	mu        sync.RWMutex
	onEnqueue []func(context.Context, *core.Job)
}

var _ core.Enqueuer = (*Queue)(nil)

// New creates a Queue over the given store.
func New(store core.Store, opts ...Option) *Queue {
	q := &Queue{
		store:              store,
		defaultMaxAttempts: DefaultMaxAttempts,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt.applyQueue(q)
	}
	return q
}

// Store returns the underlying store.
func (q *Queue) Store() core.Store {
	return q.store
}

// OnEnqueue registers a callback invoked after each successful enqueue.
func (q *Queue) OnEnqueue(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onEnqueue = append(q.onEnqueue, fn)
	q.mu.Unlock()
}

// Enqueue persists a job of the given kind and returns its ID.
//
// payload is JSON-encoded unless it is already []byte or json.RawMessage.
// A Unique key that is held by a non-terminal job yields core.ErrDuplicateJob.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts ...core.EnqueueOption) (string, error) {
	if err := security.ValidateJobKind(kind); err != nil {
		return "", err
	}
	if q.registry != nil {
		if _, ok := q.registry.Lookup(kind); !ok {
			return "", fmt.Errorf("%w: %s", core.ErrUnknownJobKind, kind)
		}
	}

	var options core.EnqueueOptions
	for _, opt := range opts {
		opt.ApplyEnqueue(&options)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to marshal payload: %w", err)
	}
	if len(data) > security.MaxPayloadSize {
		return "", core.ErrPayloadTooLarge
	}

	maxAttempts := q.defaultMaxAttempts
	if options.MaxAttempts > 0 {
		maxAttempts = options.MaxAttempts
	}

	now := q.now()
	notBefore := now
	if options.Delay > 0 {
		notBefore = now.Add(options.Delay)
	}
	if options.NotBefore != nil {
		notBefore = *options.NotBefore
	}

	job := &core.Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Payload:     data,
		State:       core.StateScheduled,
		NotBefore:   notBefore.UTC(),
		MaxAttempts: maxAttempts,
	}

	if options.UniqueKey != "" {
		if err := security.ValidateUniqueKey(options.UniqueKey); err != nil {
			return "", err
		}
		if err := q.store.EnqueueUnique(ctx, job, options.UniqueKey); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) {
				return "", err
			}
			return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
		}
	} else if err := q.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onEnqueue))
	copy(hooks, q.onEnqueue)
	q.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}

	return job.ID, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
