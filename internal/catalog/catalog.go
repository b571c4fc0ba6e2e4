// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package catalog holds the immutable item, catalyst and chance definitions
// the enchant engine resolves requests against.
package catalog

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// Document is the on-disk shape of a catalog file.
type Document struct {
	FormatVersion string            `yaml:"format_version" jsonschema:"required"`
	Items         []ItemTemplate    `yaml:"items" jsonschema:"required"`
	ChanceGroups  []ChanceGroup     `yaml:"chance_groups" jsonschema:"required"`
	Scrolls       []ScrollTemplate  `yaml:"scrolls" jsonschema:"required"`
	Supports      []SupportTemplate `yaml:"supports,omitempty"`
}

// Catalog is a validated, read-only view of a Document. It is safe for
// concurrent use.
type Catalog struct {
	version  string
	items    map[TemplateID]*ItemTemplate
	scrolls  map[TemplateID]*ScrollTemplate
	supports map[TemplateID]*SupportTemplate
	groups   map[string]*ChanceGroup
}

// Option configures catalog construction.
type Option func(*buildOptions)

type buildOptions struct {
	scriptTimeout time.Duration
}

// WithScriptTimeout bounds each chance script evaluation.
func WithScriptTimeout(d time.Duration) Option {
	return func(o *buildOptions) { o.scriptTimeout = d }
}

// New validates doc and builds a Catalog from it.
func New(doc *Document, opts ...Option) (*Catalog, error) {
	o := buildOptions{scriptTimeout: DefaultScriptTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkFormatVersion(doc.FormatVersion); err != nil {
		return nil, err
	}

	c := &Catalog{
		version:  doc.FormatVersion,
		items:    make(map[TemplateID]*ItemTemplate, len(doc.Items)),
		scrolls:  make(map[TemplateID]*ScrollTemplate, len(doc.Scrolls)),
		supports: make(map[TemplateID]*SupportTemplate, len(doc.Supports)),
		groups:   make(map[string]*ChanceGroup, len(doc.ChanceGroups)),
	}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	for i := range doc.Items {
		t := doc.Items[i]
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.items[t.ID]; dup {
			return nil, oops.Code("INVALID_CATALOG").With("item", t.ID).Errorf("duplicate item template")
		}
		c.items[t.ID] = &t
	}

	for i := range doc.ChanceGroups {
		g := doc.ChanceGroups[i]
		if _, dup := c.groups[g.Name]; dup {
			return nil, oops.Code("INVALID_CATALOG").With("chance_group", g.Name).Errorf("duplicate chance group")
		}
		if err := g.prepare(o.scriptTimeout); err != nil {
			return nil, err
		}
		c.groups[g.Name] = &g
	}

	for i := range doc.Scrolls {
		s := doc.Scrolls[i]
		if err := s.prepare("scroll"); err != nil {
			return nil, err
		}
		if _, found := c.groups[s.ChanceGroup]; !found {
			return nil, oops.Code("INVALID_CATALOG").With("scroll", s.ItemID).With("chance_group", s.ChanceGroup).
				Errorf("scroll references unknown chance group")
		}
		if err := c.claimCatalystID(s.ItemID); err != nil {
			return nil, err
		}
		c.scrolls[s.ItemID] = &s
	}

	for i := range doc.Supports {
		s := doc.Supports[i]
		if err := s.prepare("support"); err != nil {
			return nil, err
		}
		if s.Class == FailureSafe {
			return nil, oops.Code("INVALID_CATALOG").With("support", s.ItemID).
				Errorf("support catalysts cannot carry the safe flag")
		}
		if err := c.claimCatalystID(s.ItemID); err != nil {
			return nil, err
		}
		c.supports[s.ItemID] = &s
	}

	ok = true
	return c, nil
}

func (c *Catalog) claimCatalystID(id TemplateID) error {
	_, scroll := c.scrolls[id]
	_, support := c.supports[id]
	if scroll || support {
		return oops.Code("INVALID_CATALOG").With("item_id", id).Errorf("duplicate catalyst template")
	}
	return nil
}

// FormatVersion returns the document's format_version.
func (c *Catalog) FormatVersion() string { return c.version }

// Item returns the template for id.
func (c *Catalog) Item(id TemplateID) (*ItemTemplate, bool) {
	t, ok := c.items[id]
	return t, ok
}

// Scroll returns the scroll template for id.
func (c *Catalog) Scroll(id TemplateID) (*ScrollTemplate, bool) {
	s, ok := c.scrolls[id]
	return s, ok
}

// Support returns the support template for id.
func (c *Catalog) Support(id TemplateID) (*SupportTemplate, bool) {
	s, ok := c.supports[id]
	return s, ok
}

// ChanceGroup returns the named chance group.
func (c *Catalog) ChanceGroup(name string) (*ChanceGroup, bool) {
	g, ok := c.groups[name]
	return g, ok
}

// BaseChance resolves the scroll's chance group for an item at level.
func (c *Catalog) BaseChance(ctx context.Context, scroll *ScrollTemplate, item *ItemTemplate, level int) (float64, bool, error) {
	g, ok := c.groups[scroll.ChanceGroup]
	if !ok {
		return 0, false, nil
	}
	return g.Chance(ctx, level, item.Kind, item.Grade)
}

// Stats summarizes catalog contents.
type Stats struct {
	Items, Scrolls, Supports, ChanceGroups int
}

// Stats returns entry counts.
func (c *Catalog) Stats() Stats {
	return Stats{Items: len(c.items), Scrolls: len(c.scrolls), Supports: len(c.supports), ChanceGroups: len(c.groups)}
}

// Close releases script resources held by chance groups.
func (c *Catalog) Close() {
	for _, g := range c.groups {
		g.close()
	}
}
