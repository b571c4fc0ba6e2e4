// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/internal/inventory/postgres"
	"github.com/forgeworks/anvil/pkg/errutil"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		s     *postgres.Store
		tx    *postgres.Transactor
		owner = core.NewULID()
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = postgres.NewStore(testPool)
		tx = postgres.NewTransactor(testPool)
		owner = core.NewULID()
	})

	It("creates, reads and enchants an item", func() {
		item := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, Enchantable: true, Equipped: true, Slot: "rhand"}
		Expect(s.Create(ctx, item)).To(Succeed())

		Expect(s.SetEnchant(ctx, owner, item.ID, 0, 4, 14)).To(Succeed())
		Expect(s.Unequip(ctx, owner, item.ID)).To(Succeed())

		err := s.SetEnchant(ctx, core.NewULID(), item.ID, 4, 5, 0)
		Expect(errutil.Code(err)).To(Equal(inventory.CodeItemChanged))
		err = s.SetEnchant(ctx, owner, item.ID, 3, 5, 0)
		Expect(errutil.Code(err)).To(Equal(inventory.CodeItemChanged))

		got, err := s.Get(ctx, item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EnchantLevel).To(Equal(4))
		Expect(got.Crystals).To(Equal(int64(14)))
		Expect(got.Equipped).To(BeFalse())
	})

	It("merges stacks and consumes them down to nothing", func() {
		first, err := s.AddStack(ctx, owner, 955, 2)
		Expect(err).NotTo(HaveOccurred())
		second, err := s.AddStack(ctx, owner, 955, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
		Expect(second.Count).To(Equal(int64(3)))

		left, err := s.Consume(ctx, owner, first.ID, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(BeZero())

		_, err = s.Get(ctx, first.ID)
		Expect(errutil.Code(err)).To(Equal(inventory.CodeItemNotFound))
	})

	It("rolls back every write when the transaction fails", func() {
		scroll, err := s.AddStack(ctx, owner, 955, 1)
		Expect(err).NotTo(HaveOccurred())
		weapon := &inventory.Item{OwnerID: owner, TemplateID: 100, Count: 1, Enchantable: true}
		Expect(s.Create(ctx, weapon)).To(Succeed())

		boom := errors.New("boom")
		err = tx.InTransaction(ctx, func(ctx context.Context) error {
			if _, err := s.Consume(ctx, owner, scroll.ID, 1); err != nil {
				return err
			}
			if err := s.Destroy(ctx, owner, weapon.ID); err != nil {
				return err
			}
			return boom
		})
		Expect(err).To(MatchError(boom))

		items, err := s.ListByOwner(ctx, owner)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(2))
	})

	It("refuses to consume another owner's stack", func() {
		scroll, err := s.AddStack(ctx, owner, 955, 1)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Consume(ctx, core.NewULID(), scroll.ID, 1)
		Expect(errutil.Code(err)).To(Equal(inventory.CodeNotOwner))
	})
})
