// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/pkg/errutil"
)

// Inventory operations named in settlement errors.
const (
	whatConsumeScroll  = "consume scroll"
	whatConsumeSupport = "consume support"
	whatUnequip        = "unequip item"
	whatDestroy        = "destroy item"
)

// RefundCount is the crystal refund for destroying an item that accumulated
// crystals from a template whose base count is base: crystals minus half the
// base, rounded up, never negative.
func RefundCount(crystals, base int64) int64 {
	return max(0, crystals-(base+1)/2)
}

// settlement is a Result plus the inventory entries observers need to see.
type settlement struct {
	Result
	unequipped *inventory.Item
	refund     *inventory.Item
}

// settle runs the critical section for a validated attempt. Under the item
// lease it opens one store transaction that re-reads and holds the item,
// re-checks it, resolves the outcome, then spends the catalysts and applies
// the outcome. Catalysts are never spent on an error outcome.
func (e *Engine) settle(ctx context.Context, a *Attempt) (settlement, error) {
	s := settlement{Result: errorResult(a.Item.ID, a.Item.EnchantLevel)}

	lease, err := e.locks.Acquire(ctx, a.Item.ID)
	if err != nil {
		return s, ErrItemUnavailable(a.Item.ID, err)
	}
	defer lease.Release()

	var (
		applied settlement
		live    *inventory.Item
	)
	err = e.tx.InTransaction(ctx, func(ctx context.Context) error {
		pid := a.Request.PlayerID
		var err error
		live, err = e.store.GetForUpdate(ctx, a.Item.ID)
		if err != nil && errutil.Code(err) != inventory.CodeItemNotFound {
			return itemStoreErr("lock item", a.Item.ID, err)
		}
		if live == nil || live.OwnerID != pid || !live.Enchantable {
			return ErrResolution("item changed owner or became unenchantable", nil)
		}
		a.Item = live
		s.LevelBefore, s.Level = live.EnchantLevel, live.EnchantLevel

		base, hasBase, err := e.catalog.BaseChance(ctx, a.ScrollTemplate, a.ItemTemplate, live.EnchantLevel)
		if err != nil {
			return ErrResolution("chance function failed", err)
		}
		res := Resolve(roll(a, live.EnchantLevel, base, hasBase, e.cfg.DisableOverEnchanting), e.rng)
		s.Chance = res.FinalChance
		if res.Outcome == OutcomeError {
			return ErrResolution(res.Reason, nil)
		}

		if _, err := e.store.Consume(ctx, pid, a.Scroll.ID, 1); err != nil {
			return catalystStoreErr(whatConsumeScroll, a.Scroll.ID, err)
		}
		if a.Support != nil {
			if _, err := e.store.Consume(ctx, pid, a.Support.ID, 1); err != nil {
				return catalystStoreErr(whatConsumeSupport, a.Support.ID, err)
			}
		}
		applied, err = e.apply(ctx, a, live, res)
		return err
	})
	if err != nil {
		if !isEngineError(err) {
			err = itemStoreErr("settlement transaction", a.Item.ID, err)
		}
		return s, err
	}

	if applied.Outcome == OutcomeSuccess && live.Equipped && e.skills != nil {
		if skills := a.ItemTemplate.SkillsAt(applied.Level); len(skills) > 0 {
			if err := e.skills.GrantSkills(ctx, a.Request.PlayerID, skills); err != nil {
				e.log.WarnContext(ctx, "failed to grant enchant skills",
					"player_id", a.Request.PlayerID.String(), "item_id", live.ID.String(), "error", err)
			} else {
				applied.Granted = skills
			}
		}
	}
	return applied, nil
}

// catalystStoreErr classifies a store failure while spending a catalyst or
// destroying the item. Only refusals the player could have caused are
// suspected cheating; a lost write race fails safe as ITEM_UNAVAILABLE.
func catalystStoreErr(what string, id ulid.ULID, err error) error {
	switch errutil.Code(err) {
	case inventory.CodeContention:
		return ErrItemUnavailable(id, err)
	case inventory.CodeInsufficientQuantity, inventory.CodeNotOwner, inventory.CodeItemNotFound:
		return ErrInventoryInconsistency(what, id, err)
	default:
		return ErrResolution(what, err)
	}
}

// itemStoreErr classifies a store failure on the enchanted item itself.
func itemStoreErr(what string, id ulid.ULID, err error) error {
	switch errutil.Code(err) {
	case inventory.CodeContention:
		return ErrItemUnavailable(id, err)
	case inventory.CodeItemChanged, inventory.CodeNotOwner, inventory.CodeItemNotFound:
		return ErrResolution("item changed during settlement", err)
	default:
		return ErrResolution(what, err)
	}
}

func (e *Engine) apply(ctx context.Context, a *Attempt, live *inventory.Item, res Resolution) (settlement, error) {
	tmpl := a.ItemTemplate
	s := settlement{Result: Result{
		Outcome:     res.Outcome,
		ItemID:      live.ID,
		LevelBefore: live.EnchantLevel,
		Level:       live.EnchantLevel,
		Chance:      res.FinalChance,
	}}

	if res.Outcome == OutcomeSuccess {
		s.Code = ResultSuccess
		if res.NewLevel != live.EnchantLevel {
			if err := e.store.SetEnchant(ctx, live.OwnerID, live.ID, live.EnchantLevel, res.NewLevel, tmpl.CrystalCountAt(res.NewLevel)); err != nil {
				return s, itemStoreErr("persist enchant level", live.ID, err)
			}
			s.Level = res.NewLevel
		}
		return s, nil
	}

	s.Class = catalog.ResolveFailure(a.ScrollTemplate.Class, a.SupportTemplate)
	switch s.Class {
	case catalog.FailureSafe:
		s.Code = ResultSafeFail
		return s, nil
	case catalog.FailureBlessed, catalog.FailureBlessedDown:
		level := 0
		if s.Class == catalog.FailureBlessedDown {
			level = max(live.EnchantLevel-1, 0)
		}
		if err := e.store.SetEnchant(ctx, live.OwnerID, live.ID, live.EnchantLevel, level, tmpl.CrystalCountAt(level)); err != nil {
			return s, itemStoreErr("persist enchant level", live.ID, err)
		}
		s.Code = ResultBlessedFail
		s.Level = level
		return s, nil
	default:
		return e.destroy(ctx, a, live, s)
	}
}

func (e *Engine) destroy(ctx context.Context, a *Attempt, live *inventory.Item, s settlement) (settlement, error) {
	pid := a.Request.PlayerID
	if live.Equipped {
		if err := e.store.Unequip(ctx, pid, live.ID); err != nil {
			return s, itemStoreErr(whatUnequip, live.ID, err)
		}
		u := live.Clone()
		u.Equipped, u.Slot = false, ""
		s.Unequipped, s.unequipped = true, u
	}
	if err := e.store.Destroy(ctx, pid, live.ID); err != nil {
		return s, catalystStoreErr(whatDestroy, live.ID, err)
	}
	s.Destroyed = true
	s.Code = ResultNoCrystal

	tmpl := a.ItemTemplate
	if !tmpl.Crystallizable() {
		return s, nil
	}
	count := RefundCount(live.Crystals, tmpl.CrystalCount)
	if count == 0 {
		return s, nil
	}
	stack, err := e.store.AddStack(ctx, pid, tmpl.CrystalItemID, count)
	if err != nil {
		return s, ErrResolution("grant crystal refund", err)
	}
	s.Code = ResultFail
	s.Refund = &Refund{TemplateID: tmpl.CrystalItemID, Count: count}
	s.refund = stack
	return s, nil
}
