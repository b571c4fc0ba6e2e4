// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import (
	"slices"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Catalyst holds what scroll and support templates have in common: which
// items they accept, how far they can take them, and how large a success step is.
type Catalyst struct {
	ItemID TemplateID `yaml:"item_id" jsonschema:"required"`
	Name   string     `yaml:"name" jsonschema:"required"`
	Kinds  []ItemKind `yaml:"kinds" jsonschema:"required,minItems=1,enum=weapon,enum=armor,enum=accessory,enum=etc"`
	Grade  Grade      `yaml:"grade,omitempty"`
	// MaxEnchantLevel is the highest level reachable with this catalyst;
	// Unbounded means no cap.
	MaxEnchantLevel int     `yaml:"max_enchant_level,omitempty"`
	StepMin         int     `yaml:"step_min,omitempty"`
	StepMax         int     `yaml:"step_max,omitempty"`
	BonusRate       float64 `yaml:"bonus_rate,omitempty"`
	// Items restricts the catalyst to specific item templates.
	Items []TemplateID `yaml:"items,omitempty"`
	// Patterns restricts the catalyst to item templates whose name matches
	// one of the globs.
	Patterns []string `yaml:"patterns,omitempty"`
	FailureFlags `yaml:",inline"`

	// Class is derived from FailureFlags at load time.
	Class FailureClass `yaml:"-"`

	globs []glob.Glob
}

// StepRange returns the [min, max] levels gained on success.
func (c *Catalyst) StepRange() (lo, hi int) {
	return c.StepMin, c.StepMax
}

// Cap returns the maximum enchant level reachable with this catalyst.
func (c *Catalyst) Cap() int {
	return c.MaxEnchantLevel
}

func (c *Catalyst) prepare(kind string) error {
	errb := oops.Code("INVALID_CATALOG").With(kind, c.ItemID)
	if c.ItemID <= 0 {
		return errb.Errorf("%s item_id must be positive", kind)
	}
	if len(c.Kinds) == 0 {
		return errb.Errorf("%s %d accepts no item kinds", kind, c.ItemID)
	}
	for _, k := range c.Kinds {
		if err := k.Validate(); err != nil {
			return errb.Wrap(err)
		}
	}
	if c.MaxEnchantLevel < 0 {
		return errb.Errorf("%s %d has negative max_enchant_level", kind, c.ItemID)
	}
	if c.StepMin == 0 && c.StepMax == 0 {
		c.StepMin, c.StepMax = 1, 1
	}
	if c.StepMin < 1 || c.StepMax < c.StepMin {
		return errb.With("step_min", c.StepMin).With("step_max", c.StepMax).
			Errorf("%s %d has invalid step range", kind, c.ItemID)
	}
	class, err := c.FailureFlags.Class()
	if err != nil {
		return errb.Wrap(err)
	}
	c.Class = class

	c.globs = make([]glob.Glob, 0, len(c.Patterns))
	for _, p := range c.Patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return errb.With("pattern", p).Wrapf(err, "invalid pattern")
		}
		c.globs = append(c.globs, g)
	}
	return nil
}

// accepts reports whether the catalyst can be applied to an item of template
// tmpl currently at level.
func (c *Catalyst) accepts(tmpl *ItemTemplate, level int) bool {
	if !containsKind(c.Kinds, tmpl.Kind) {
		return false
	}
	if c.Grade != tmpl.Grade {
		return false
	}
	if c.MaxEnchantLevel != Unbounded && level >= c.MaxEnchantLevel {
		return false
	}
	if len(c.Items) > 0 && !slices.Contains(c.Items, tmpl.ID) {
		return false
	}
	if len(c.globs) > 0 && !slices.ContainsFunc(c.globs, func(g glob.Glob) bool { return g.Match(tmpl.Name) }) {
		return false
	}
	return true
}

// ScrollTemplate is a primary catalyst.
type ScrollTemplate struct {
	Catalyst `yaml:",inline"`
	// ChanceGroup names the chance table (or script) used for this scroll.
	ChanceGroup string `yaml:"chance_group" jsonschema:"required"`
}

// SupportTemplate is an optional secondary catalyst. When present it
// overrides the scroll's step range and cap.
type SupportTemplate struct {
	Catalyst `yaml:",inline"`
}

// Applicable reports whether scroll (with the optional support) may be used
// on an item of template tmpl at level. Enchantability of the item instance and
// the template's own enchant limit are the caller's concern.
func (s *ScrollTemplate) Applicable(tmpl *ItemTemplate, level int, support *SupportTemplate) bool {
	if tmpl == nil || !s.accepts(tmpl, level) {
		return false
	}
	if support != nil && !support.accepts(tmpl, level) {
		return false
	}
	return true
}

// Governing returns the step range and cap that apply on success: the
// support's when present, otherwise the scroll's.
func (s *ScrollTemplate) Governing(support *SupportTemplate) (lo, hi, limit int) {
	c := &s.Catalyst
	if support != nil {
		c = &support.Catalyst
	}
	lo, hi = c.StepRange()
	return lo, hi, c.Cap()
}

// TighterCap returns the stricter of two caps, treating Unbounded as no cap.
func TighterCap(a, b int) int {
	switch {
	case a == Unbounded:
		return b
	case b == Unbounded:
		return a
	default:
		return min(a, b)
	}
}
