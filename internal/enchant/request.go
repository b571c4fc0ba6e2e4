// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the lifecycle position of a player's request slot.
type State uint8

// Request states. A slot moves Idle -> Pending -> Processing -> Terminal and
// back to Idle when cleared; Pending may go straight to Terminal when the
// request is rejected or discarded.
const (
	StateIdle State = iota
	StatePending
	StateProcessing
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:       {StatePending},
	StatePending:    {StateProcessing, StateTerminal},
	StateProcessing: {StateTerminal},
	StateTerminal:   {StateIdle},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Handle names one request generation in a player's slot. A handle goes
// stale once its request is cleared, so late callers cannot touch a newer
// request.
type Handle struct {
	player ulid.ULID
	gen    uint64
}

// PlayerID returns the slot owner.
func (h Handle) PlayerID() ulid.ULID { return h.player }

// Request is a snapshot of a player's in-flight enchant request.
type Request struct {
	PlayerID  ulid.ULID
	ItemID    ulid.ULID
	ScrollID  ulid.ULID
	SupportID ulid.ULID
	// LevelSnapshot is the item's enchant level when the request was made.
	LevelSnapshot int
	CreatedAt     time.Time
	State         State

	handle Handle
}

// HasSupport reports whether a support catalyst is attached.
func (r Request) HasSupport() bool { return r.SupportID != (ulid.ULID{}) }

// Handle returns the handle of this request.
func (r Request) Handle() Handle { return r.handle }

// Processing reports whether settlement has started.
func (r Request) Processing() bool { return r.State == StateProcessing }

// Registry holds at most one request per player. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	slots map[ulid.ULID]*Request
	gen   uint64
	now   func() time.Time
}

// NewRegistry creates an empty Registry. A nil clock uses time.Now.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{slots: make(map[ulid.ULID]*Request), now: clock}
}

func (r *Registry) move(req *Request, to State) bool {
	if !CanTransition(req.State, to) {
		return false
	}
	req.State = to
	return true
}

// Begin registers a new request for player. It fails with DUPLICATE_REQUEST
// while an earlier request is pending or processing; the earlier request is
// left untouched.
func (r *Registry) Begin(player, item, scroll, support ulid.ULID, level int) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.slots[player]; ok {
		return Handle{}, ErrDuplicateRequest(player, cur.State)
	}
	r.gen++
	req := &Request{
		PlayerID:      player,
		ItemID:        item,
		ScrollID:      scroll,
		SupportID:     support,
		LevelSnapshot: level,
		CreatedAt:     r.now(),
		State:         StateIdle,
		handle:        Handle{player: player, gen: r.gen},
	}
	r.move(req, StatePending)
	r.slots[player] = req
	return req.handle, nil
}

func (r *Registry) lookup(h Handle) (*Request, bool) {
	req, ok := r.slots[h.player]
	if !ok || req.handle != h {
		return nil, false
	}
	return req, true
}

// AttachSupport sets the support catalyst of a pending request.
func (r *Registry) AttachSupport(h Handle, support ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.lookup(h)
	if !ok || req.State != StatePending {
		return ErrNoRequest(h.player)
	}
	req.SupportID = support
	return nil
}

// Get returns a snapshot of the player's request.
func (r *Registry) Get(player ulid.ULID) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.slots[player]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// MarkProcessing promotes a pending request. It returns false when the
// request is gone, stale or already processing; the caller must abort.
func (r *Registry) MarkProcessing(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.lookup(h)
	if !ok || req.State != StatePending {
		return false
	}
	return r.move(req, StateProcessing)
}

// Clear drives the request to Terminal and frees the slot. Clearing a stale
// handle is a no-op and returns false.
func (r *Registry) Clear(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.lookup(h)
	if !ok {
		return false
	}
	r.move(req, StateTerminal)
	r.move(req, StateIdle)
	delete(r.slots, h.player)
	return true
}

// Discard drops a pending request, as when the session disconnects. A
// request already processing is left alone and finishes normally.
func (r *Registry) Discard(player ulid.ULID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.slots[player]
	if !ok || req.State != StatePending {
		return false
	}
	r.move(req, StateTerminal)
	delete(r.slots, player)
	return true
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
