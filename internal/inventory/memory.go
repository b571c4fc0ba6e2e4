// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package inventory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/core"
)

// MemoryStore is an in-process Store and Transactor. Transactions keep an
// undo journal of inverse operations and roll back by replaying it, so a
// rollback only reverses its own changes and leaves concurrent writes to the
// same stack intact.
type MemoryStore struct {
	mu    sync.Mutex
	items map[ulid.ULID]*Item
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[ulid.ULID]*Item), now: time.Now}
}

type journalKey struct{}

type journal struct {
	undo []func(map[ulid.ULID]*Item)
}

// InTransaction runs fn; if fn fails every mutation it made is reverted.
// Nested calls join the outer transaction.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		s.mu.Lock()
		for _, undo := range slices.Backward(j.undo) {
			undo(s.items)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback registers the inverse of a mutation made under ctx. Callers
// hold s.mu.
func onRollback(ctx context.Context, undo func(map[ulid.ULID]*Item)) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.undo = append(j.undo, undo)
	}
}

// Get returns a copy of the item.
func (s *MemoryStore) Get(_ context.Context, id ulid.ULID) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, oops.Code(CodeItemNotFound).With("item_id", id.String()).Errorf("item not found")
	}
	return it.Clone(), nil
}

// GetForUpdate is Get. In-process writers are serialized by the caller's
// item lease, and conditional writes catch anything that slips past it.
func (s *MemoryStore) GetForUpdate(ctx context.Context, id ulid.ULID) (*Item, error) {
	return s.Get(ctx, id)
}

// ListByOwner returns copies of every item owner holds, ordered by id.
func (s *MemoryStore) ListByOwner(_ context.Context, owner ulid.ULID) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, it := range s.items {
		if it.OwnerID == owner {
			out = append(out, it.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Item) int { return a.ID.Compare(b.ID) })
	return out, nil
}

// Create stores a copy of item. A zero ID is assigned a fresh one.
func (s *MemoryStore) Create(ctx context.Context, item *Item) error {
	if item.Count <= 0 {
		return oops.Code(CodeInvalidQuantity).With("count", item.Count).Errorf("item count must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID.IsZero() {
		item.ID = core.NewULID()
	}
	if _, exists := s.items[item.ID]; exists {
		return oops.Code(CodeItemExists).With("item_id", item.ID.String()).Errorf("item already exists")
	}
	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	id := item.ID
	onRollback(ctx, func(items map[ulid.ULID]*Item) { delete(items, id) })
	s.items[id] = item.Clone()
	return nil
}

func (s *MemoryStore) owned(owner, id ulid.ULID) (*Item, error) {
	it, ok := s.items[id]
	if !ok {
		return nil, oops.Code(CodeItemNotFound).With("item_id", id.String()).Errorf("item not found")
	}
	if it.OwnerID != owner {
		return nil, oops.Code(CodeNotOwner).With("item_id", id.String()).With("owner_id", owner.String()).
			Errorf("item held by another owner")
	}
	return it, nil
}

// grow adds delta units to stack id, restoring it from gone when a rollback
// finds it already deleted and dropping it when it reaches zero.
func grow(items map[ulid.ULID]*Item, id ulid.ULID, delta int64, gone *Item) {
	it, ok := items[id]
	if !ok {
		if gone == nil || delta <= 0 {
			return
		}
		it = gone.Clone()
		it.Count = 0
		items[id] = it
	}
	it.Count += delta
	if it.Count <= 0 {
		delete(items, id)
	}
}

// Consume removes qty units from the stack.
func (s *MemoryStore) Consume(ctx context.Context, owner, id ulid.ULID, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, oops.Code(CodeInvalidQuantity).With("qty", qty).Errorf("quantity must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.owned(owner, id)
	if err != nil {
		return 0, err
	}
	if it.Count < qty {
		return it.Count, oops.Code(CodeInsufficientQuantity).
			With("item_id", id.String()).With("have", it.Count).With("want", qty).
			Errorf("not enough items")
	}
	gone := it.Clone()
	onRollback(ctx, func(items map[ulid.ULID]*Item) { grow(items, id, qty, gone) })
	if it.Count == qty {
		delete(s.items, id)
		return 0, nil
	}
	it.Count -= qty
	it.UpdatedAt = s.now()
	return it.Count, nil
}

// Destroy removes the item.
func (s *MemoryStore) Destroy(ctx context.Context, owner, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.owned(owner, id)
	if err != nil {
		return err
	}
	gone := it.Clone()
	onRollback(ctx, func(items map[ulid.ULID]*Item) {
		if _, ok := items[id]; !ok {
			items[id] = gone
		}
	})
	delete(s.items, id)
	return nil
}

// AddStack grants qty units of tmpl to owner.
func (s *MemoryStore) AddStack(ctx context.Context, owner ulid.ULID, tmpl catalog.TemplateID, qty int64) (*Item, error) {
	if qty <= 0 {
		return nil, oops.Code(CodeInvalidQuantity).With("qty", qty).Errorf("quantity must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var it *Item
	for _, cand := range s.items {
		if cand.OwnerID == owner && cand.TemplateID == tmpl && cand.Stackable {
			it = cand
			break
		}
	}
	if it == nil {
		it = &Item{
			ID:         core.NewULID(),
			OwnerID:    owner,
			TemplateID: tmpl,
			Stackable:  true,
			CreatedAt:  now,
		}
		s.items[it.ID] = it
	}
	it.Count += qty
	it.UpdatedAt = now
	id := it.ID
	onRollback(ctx, func(items map[ulid.ULID]*Item) { grow(items, id, -qty, nil) })
	return it.Clone(), nil
}

// Unequip clears the equipped flag and slot.
func (s *MemoryStore) Unequip(ctx context.Context, owner, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.OwnerID != owner {
		return oops.Code(CodeItemChanged).With("item_id", id.String()).With("owner_id", owner.String()).
			Errorf("item is gone or no longer matches")
	}
	equipped, slot := it.Equipped, it.Slot
	onRollback(ctx, func(items map[ulid.ULID]*Item) {
		if it, ok := items[id]; ok {
			it.Equipped, it.Slot = equipped, slot
		}
	})
	it.Equipped = false
	it.Slot = ""
	it.UpdatedAt = s.now()
	return nil
}

// SetEnchant moves the item from level from to level to.
func (s *MemoryStore) SetEnchant(ctx context.Context, owner, id ulid.ULID, from, to int, crystals int64) error {
	if to < 0 {
		return oops.Code("INVALID_ENCHANT_LEVEL").With("level", to).Errorf("enchant level must be >= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.OwnerID != owner || it.EnchantLevel != from {
		return oops.Code(CodeItemChanged).With("item_id", id.String()).With("owner_id", owner.String()).
			With("from", from).Errorf("item is gone or no longer matches")
	}
	level, prev := it.EnchantLevel, it.Crystals
	onRollback(ctx, func(items map[ulid.ULID]*Item) {
		if it, ok := items[id]; ok {
			it.EnchantLevel, it.Crystals = level, prev
		}
	})
	it.EnchantLevel = to
	it.Crystals = crystals
	it.UpdatedAt = s.now()
	return nil
}
