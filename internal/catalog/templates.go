// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import (
	"slices"

	"github.com/samber/oops"
)

// TemplateID identifies an item template. Scrolls and supports are items too,
// so their templates share the identity space.
type TemplateID int32

// ItemKind is the broad equipment category of an item template.
type ItemKind string

// Item kinds that can be enchanted.
const (
	KindWeapon    ItemKind = "weapon"
	KindArmor     ItemKind = "armor"
	KindAccessory ItemKind = "accessory"
	KindEtc       ItemKind = "etc"
)

// Validate reports whether k is a known kind.
func (k ItemKind) Validate() error {
	switch k {
	case KindWeapon, KindArmor, KindAccessory, KindEtc:
		return nil
	default:
		return oops.Code("INVALID_ITEM_KIND").With("kind", string(k)).Errorf("unknown item kind %q", k)
	}
}

// Grade is the crystal grade of an item. Scrolls only apply to their own grade.
type Grade string

// Unbounded is the sentinel cap meaning "no maximum enchant level".
const Unbounded = 0

// EnchantSkill is a bonus granted while an equipped item is at or above MinLevel.
type EnchantSkill struct {
	SkillID  int32 `yaml:"skill_id" jsonschema:"required"`
	Level    int32 `yaml:"level" jsonschema:"required"`
	MinLevel int   `yaml:"min_level" jsonschema:"required"`
}

// ItemTemplate is the immutable description of an item.
type ItemTemplate struct {
	ID    TemplateID `yaml:"id" jsonschema:"required"`
	Name  string     `yaml:"name" jsonschema:"required"`
	Kind  ItemKind   `yaml:"kind" jsonschema:"required,enum=weapon,enum=armor,enum=accessory,enum=etc"`
	Grade Grade      `yaml:"grade,omitempty"`
	// EnchantLimit caps the level for this template; Unbounded means no cap.
	EnchantLimit int `yaml:"enchant_limit,omitempty"`
	// CrystalItemID is the material returned on destruction; 0 when the item
	// cannot be crystallized.
	CrystalItemID       TemplateID     `yaml:"crystal_item_id,omitempty"`
	CrystalCount        int64          `yaml:"crystal_count,omitempty"`
	CrystalEnchantBonus int64          `yaml:"crystal_enchant_bonus,omitempty"`
	EnchantSkills       []EnchantSkill `yaml:"enchant_skills,omitempty"`
}

// Crystallizable reports whether destroying the item can yield material.
func (t *ItemTemplate) Crystallizable() bool {
	return t.CrystalItemID != 0 && t.CrystalCount > 0
}

// CrystalCountAt returns the accumulated crystal value of an item of this
// template at the given enchant level.
func (t *ItemTemplate) CrystalCountAt(level int) int64 {
	if !t.Crystallizable() {
		return 0
	}
	bonus := t.CrystalEnchantBonus
	switch {
	case level > 3:
		if t.Kind == KindWeapon {
			return t.CrystalCount + bonus*int64(2*level-3)
		}
		return t.CrystalCount + bonus*int64(3*level-6)
	case level > 0:
		return t.CrystalCount + bonus*int64(level)
	default:
		return t.CrystalCount
	}
}

// AtEnchantLimit reports whether level has reached the template's own limit.
func (t *ItemTemplate) AtEnchantLimit(level int) bool {
	return t.EnchantLimit != Unbounded && level >= t.EnchantLimit
}

// SkillsAt returns the enchant skills active at level, in declaration order.
func (t *ItemTemplate) SkillsAt(level int) []EnchantSkill {
	var out []EnchantSkill
	for _, s := range t.EnchantSkills {
		if level >= s.MinLevel {
			out = append(out, s)
		}
	}
	return out
}

func (t *ItemTemplate) validate() error {
	errb := oops.Code("INVALID_CATALOG").With("template_id", t.ID)
	if t.ID <= 0 {
		return errb.Errorf("item template id must be positive")
	}
	if t.Name == "" {
		return errb.Errorf("item template %d has no name", t.ID)
	}
	if err := t.Kind.Validate(); err != nil {
		return errb.Wrap(err)
	}
	if t.EnchantLimit < 0 {
		return errb.Errorf("item template %d has negative enchant_limit", t.ID)
	}
	if t.CrystalCount < 0 || t.CrystalEnchantBonus < 0 {
		return errb.Errorf("item template %d has negative crystal values", t.ID)
	}
	for _, s := range t.EnchantSkills {
		if s.MinLevel < 0 {
			return errb.With("skill_id", s.SkillID).Errorf("enchant skill min_level must be >= 0")
		}
	}
	return nil
}

func containsKind(kinds []ItemKind, k ItemKind) bool {
	return slices.Contains(kinds, k)
}
