// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package itemlock hands out exclusive, scoped leases on item identities.
// Leases on different items never contend with each other.
package itemlock

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// CodeUnavailable is returned when a lease cannot be obtained in time.
const CodeUnavailable = "ITEM_LOCK_UNAVAILABLE"

// DefaultTimeout bounds how long Acquire waits when no timeout is configured.
const DefaultTimeout = 2 * time.Second

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry maps item identities to exclusive leases. Entries exist only
// while a lease is held or awaited.
type Registry struct {
	mu      sync.Mutex
	entries map[ulid.ULID]*entry
	timeout time.Duration
	onWait  func(wait time.Duration, acquired bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the maximum wait for a lease.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWaitObserver registers fn to be told how long each Acquire waited.
func WithWaitObserver(fn func(wait time.Duration, acquired bool)) Option {
	return func(r *Registry) { r.onWait = fn }
}

// NewRegistry creates a Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[ulid.ULID]*entry), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lease is exclusive access to one item. Release is idempotent.
type Lease struct {
	r    *Registry
	id   ulid.ULID
	e    *entry
	once sync.Once
}

// ItemID returns the leased identity.
func (l *Lease) ItemID() ulid.ULID { return l.id }

// Release gives the lease back.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.e.sem
		l.r.unref(l.id, l.e)
	})
}

// Acquire waits for exclusive access to id, up to the configured timeout or
// until ctx is done.
func (r *Registry) Acquire(ctx context.Context, id ulid.ULID) (*Lease, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[id] = e
	}
	e.refs++
	r.mu.Unlock()

	start := time.Now()
	select {
	case e.sem <- struct{}{}:
		r.observe(time.Since(start), true)
		return &Lease{r: r, id: id, e: e}, nil
	default:
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
		r.observe(time.Since(start), true)
		return &Lease{r: r, id: id, e: e}, nil
	case <-timer.C:
		r.unref(id, e)
		r.observe(time.Since(start), false)
		return nil, oops.Code(CodeUnavailable).With("item_id", id.String()).With("timeout", r.timeout.String()).
			Errorf("item lease not acquired within %s", r.timeout)
	case <-ctx.Done():
		r.unref(id, e)
		r.observe(time.Since(start), false)
		return nil, oops.Code(CodeUnavailable).With("item_id", id.String()).Wrap(ctx.Err())
	}
}

func (r *Registry) unref(id ulid.ULID, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, id)
	}
}

func (r *Registry) observe(wait time.Duration, acquired bool) {
	if r.onWait != nil {
		r.onWait(wait, acquired)
	}
}

// Len returns the number of identities currently held or awaited.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
