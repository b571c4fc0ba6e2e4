// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package inventory defines player-owned item instances and the store the
// enchant engine settles against.
package inventory

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/catalog"
)

// Item is one owned item instance. Stackable items (scrolls, crystals) carry
// a Count; equipment has Count 1.
type Item struct {
	ID           ulid.ULID
	OwnerID      ulid.ULID
	TemplateID   catalog.TemplateID
	EnchantLevel int
	Equipped     bool
	Slot         string
	Enchantable  bool
	Stackable    bool
	Count        int64
	// Crystals is the crystal value accumulated by enchanting; it drives the
	// refund when the item is destroyed.
	Crystals  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand to callers.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// OwnedBy reports whether owner holds the item.
func (i *Item) OwnedBy(owner ulid.ULID) bool {
	return i.OwnerID == owner
}
