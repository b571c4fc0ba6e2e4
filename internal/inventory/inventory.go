// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package inventory

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/catalog"
)

// Error codes returned by Store implementations.
const (
	CodeItemNotFound         = "ITEM_NOT_FOUND"
	CodeItemExists           = "ITEM_EXISTS"
	CodeNotOwner             = "NOT_OWNER"
	CodeInsufficientQuantity = "INSUFFICIENT_QUANTITY"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	// CodeItemChanged marks a conditional write whose item no longer has the
	// owner or level the caller expected.
	CodeItemChanged = "ITEM_CHANGED"
	// CodeContention marks a write that lost to a concurrent transaction and
	// may be retried.
	CodeContention = "STORE_CONTENTION"
)

// Store is the authoritative inventory. Mutating calls made with a context
// returned by a Transactor participate in that transaction.
type Store interface {
	Get(ctx context.Context, id ulid.ULID) (*Item, error)
	// GetForUpdate is Get that, inside a transaction, also holds the item
	// against concurrent writers until the transaction ends.
	GetForUpdate(ctx context.Context, id ulid.ULID) (*Item, error)
	ListByOwner(ctx context.Context, owner ulid.ULID) ([]*Item, error)
	Create(ctx context.Context, item *Item) error

	// Consume removes qty units from a stack the owner holds, deleting the
	// stack when it reaches zero. It returns the remaining count.
	Consume(ctx context.Context, owner, id ulid.ULID, qty int64) (int64, error)
	// Destroy removes the item entirely.
	Destroy(ctx context.Context, owner, id ulid.ULID) error
	// AddStack grants qty units of a stackable template, merging into an
	// existing stack when the owner already has one.
	AddStack(ctx context.Context, owner ulid.ULID, tmpl catalog.TemplateID, qty int64) (*Item, error)
	// Unequip clears the equipped flag of an item owner holds.
	Unequip(ctx context.Context, owner, id ulid.ULID) error
	// SetEnchant moves an item owner holds from enchant level from to level
	// to, with a new accumulated crystal value. It fails with CodeItemChanged
	// when the item is gone, changed hands, or is no longer at from.
	SetEnchant(ctx context.Context, owner, id ulid.ULID, from, to int, crystals int64) error
}

// Transactor runs fn atomically against the store.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
