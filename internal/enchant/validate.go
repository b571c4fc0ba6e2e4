// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/internal/player"
)

// Attempt is one commit as it moves through validation and settlement. The
// engine fills the request, player and item fields before validation;
// validation fills the templates.
type Attempt struct {
	Request Request
	Player  player.State
	// Known is false when the player provider has no record of the player.
	Known bool

	Item    *inventory.Item
	Scroll  *inventory.Item
	Support *inventory.Item

	ItemTemplate    *catalog.ItemTemplate
	ScrollTemplate  *catalog.ScrollTemplate
	SupportTemplate *catalog.SupportTemplate
}

// Validator runs the commit checks in order, stopping at the first failure:
// liveness, busy state, stale references, applicability, then timing.
type Validator struct {
	Catalog               *catalog.Catalog
	MinCommitInterval     time.Duration
	DisableOverEnchanting bool
}

// Validate checks a at time now.
func (v *Validator) Validate(a *Attempt, now time.Time) error {
	req := a.Request
	if !a.Known || !a.Player.Online || !a.Player.Attached {
		return ErrSessionDetached(req.PlayerID)
	}
	if a.Player.Busy() {
		return ErrBusyState(req.PlayerID)
	}
	if err := v.resolveInstances(a); err != nil {
		return err
	}
	if err := v.checkApplicable(a); err != nil {
		return err
	}
	elapsed := now.Sub(req.CreatedAt)
	if req.CreatedAt.IsZero() || elapsed < v.MinCommitInterval {
		return ErrAutomationSuspected(req.PlayerID, elapsed, v.MinCommitInterval)
	}
	return nil
}

func (v *Validator) resolveInstances(a *Attempt) error {
	owner := a.Request.PlayerID
	if a.Item == nil || !a.Item.OwnedBy(owner) {
		return ErrStaleReference("item", a.Request.ItemID)
	}
	if !held(a.Scroll, owner) {
		return ErrStaleReference("scroll", a.Request.ScrollID)
	}
	if a.Request.HasSupport() && !held(a.Support, owner) {
		return ErrStaleReference("support", a.Request.SupportID)
	}
	return nil
}

func held(it *inventory.Item, owner ulid.ULID) bool {
	return it != nil && it.OwnedBy(owner) && it.Count > 0
}

func (v *Validator) checkApplicable(a *Attempt) error {
	itemID := a.Item.ID
	tmpl, ok := v.Catalog.Item(a.Item.TemplateID)
	if !ok {
		return ErrIneligible("unknown item template", itemID)
	}
	a.ItemTemplate = tmpl

	scroll, ok := v.Catalog.Scroll(a.Scroll.TemplateID)
	if !ok {
		return ErrIneligible("not an enchant scroll", itemID)
	}
	a.ScrollTemplate = scroll

	if a.Request.HasSupport() {
		support, ok := v.Catalog.Support(a.Support.TemplateID)
		if !ok {
			return ErrIneligible("not a support item", itemID)
		}
		a.SupportTemplate = support
	}

	level := a.Item.EnchantLevel
	if !a.Item.Enchantable {
		return ErrIneligible("item cannot be enchanted", itemID)
	}
	if !scroll.Applicable(tmpl, level, a.SupportTemplate) {
		return ErrIneligible("catalyst does not apply to item", itemID)
	}
	if v.DisableOverEnchanting && tmpl.AtEnchantLimit(level) {
		return ErrIneligible("item is at its enchant limit", itemID)
	}
	return nil
}
