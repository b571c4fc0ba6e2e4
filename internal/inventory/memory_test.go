// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/pkg/errutil"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()

	item := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, Enchantable: true}
	require.NoError(t, s.Create(ctx, item))
	assert.False(t, item.ID.IsZero())

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)

	got.EnchantLevel = 9
	again, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.EnchantLevel, "Get returns copies")

	err = s.Create(ctx, item)
	errutil.AssertErrorCode(t, err, inventory.CodeItemExists)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := inventory.NewMemoryStore().Get(context.Background(), core.NewULID())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, inventory.CodeItemNotFound)
}

func TestMemoryStore_Consume(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()
	scroll := &inventory.Item{OwnerID: owner, TemplateID: 955, Count: 2, Stackable: true}
	require.NoError(t, s.Create(ctx, scroll))

	left, err := s.Consume(ctx, owner, scroll.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)

	_, err = s.Consume(ctx, core.NewULID(), scroll.ID, 1)
	errutil.AssertErrorCode(t, err, inventory.CodeNotOwner)

	_, err = s.Consume(ctx, owner, scroll.ID, 5)
	errutil.AssertErrorCode(t, err, inventory.CodeInsufficientQuantity)

	left, err = s.Consume(ctx, owner, scroll.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)

	_, err = s.Get(ctx, scroll.ID)
	errutil.AssertErrorCode(t, err, inventory.CodeItemNotFound)
}

func TestMemoryStore_AddStackMerges(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()

	first, err := s.AddStack(ctx, owner, 1458, 5)
	require.NoError(t, err)
	second, err := s.AddStack(ctx, owner, 1458, 3)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(8), second.Count)

	items, err := s.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMemoryStore_UnequipAndSetEnchant(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()
	item := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, Equipped: true, Slot: "rhand"}
	require.NoError(t, s.Create(ctx, item))

	require.NoError(t, s.Unequip(ctx, owner, item.ID))
	require.NoError(t, s.SetEnchant(ctx, owner, item.ID, 0, 4, 14))

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Equipped)
	assert.Empty(t, got.Slot)
	assert.Equal(t, 4, got.EnchantLevel)
	assert.Equal(t, int64(14), got.Crystals)

	assert.Error(t, s.SetEnchant(ctx, owner, item.ID, 4, -1, 0))
}

func TestMemoryStore_ConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner, other := core.NewULID(), core.NewULID()
	item := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, EnchantLevel: 3, Equipped: true, Slot: "rhand"}
	require.NoError(t, s.Create(ctx, item))

	tests := []struct {
		name string
		call func() error
	}{
		{"set enchant from a stale level", func() error { return s.SetEnchant(ctx, owner, item.ID, 2, 4, 0) }},
		{"set enchant for another owner", func() error { return s.SetEnchant(ctx, other, item.ID, 3, 4, 0) }},
		{"set enchant on a missing item", func() error { return s.SetEnchant(ctx, owner, core.NewULID(), 0, 1, 0) }},
		{"unequip for another owner", func() error { return s.Unequip(ctx, other, item.ID) }},
		{"unequip a missing item", func() error { return s.Unequip(ctx, owner, core.NewULID()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.call(), inventory.CodeItemChanged)
		})
	}

	got, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EnchantLevel)
	assert.True(t, got.Equipped)
}

func TestMemoryStore_RollbackKeepsConcurrentStackChanges(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()
	scrolls, err := s.AddStack(ctx, owner, 955, 3)
	require.NoError(t, err)
	weapon := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, EnchantLevel: 2}
	require.NoError(t, s.Create(ctx, weapon))

	boom := errors.New("boom")
	err = s.InTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.Consume(txCtx, owner, scrolls.ID, 1); err != nil {
			return err
		}
		if err := s.SetEnchant(txCtx, owner, weapon.ID, 2, 3, 0); err != nil {
			return err
		}
		// Writes made outside the transaction while it is open.
		if _, err := s.AddStack(ctx, owner, 955, 5); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, scrolls.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Count, "rollback returns the consumed unit and keeps the outside grant")
	w, err := s.Get(ctx, weapon.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, w.EnchantLevel)
}

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()
	scroll := &inventory.Item{OwnerID: owner, TemplateID: 955, Count: 1, Stackable: true}
	weapon := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, EnchantLevel: 3}
	require.NoError(t, s.Create(ctx, scroll))
	require.NoError(t, s.Create(ctx, weapon))

	boom := errors.New("boom")
	err := s.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.Consume(ctx, owner, scroll.ID, 1); err != nil {
			return err
		}
		if err := s.Destroy(ctx, owner, weapon.ID); err != nil {
			return err
		}
		if _, err := s.AddStack(ctx, owner, 1458, 7); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	items, err := s.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, items, 2)
	got, err := s.Get(ctx, weapon.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EnchantLevel)
}

func TestMemoryStore_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	s := inventory.NewMemoryStore()
	owner := core.NewULID()
	weapon := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1}
	require.NoError(t, s.Create(ctx, weapon))

	err := s.InTransaction(ctx, func(ctx context.Context) error {
		return s.SetEnchant(ctx, owner, weapon.ID, 0, 1, 11)
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, weapon.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EnchantLevel)
}
