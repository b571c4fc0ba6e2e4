// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/catalog"
)

func TestCrystalCountAt(t *testing.T) {
	weapon := &catalog.ItemTemplate{Kind: catalog.KindWeapon, CrystalItemID: 1458, CrystalCount: 10, CrystalEnchantBonus: 2}
	armor := &catalog.ItemTemplate{Kind: catalog.KindArmor, CrystalItemID: 1458, CrystalCount: 10, CrystalEnchantBonus: 2}

	tests := []struct {
		name  string
		tmpl  *catalog.ItemTemplate
		level int
		want  int64
	}{
		{"weapon base", weapon, 0, 10},
		{"weapon low tier", weapon, 3, 16},
		{"weapon high tier", weapon, 5, 10 + 2*7},
		{"armor low tier", armor, 2, 14},
		{"armor high tier", armor, 4, 10 + 2*6},
		{"not crystallizable", &catalog.ItemTemplate{Kind: catalog.KindWeapon}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tmpl.CrystalCountAt(tt.level))
		})
	}
}

func TestSkillsAt(t *testing.T) {
	tmpl := &catalog.ItemTemplate{EnchantSkills: []catalog.EnchantSkill{
		{SkillID: 1, Level: 1, MinLevel: 4},
		{SkillID: 2, Level: 1, MinLevel: 6},
	}}

	assert.Empty(t, tmpl.SkillsAt(3))
	assert.Len(t, tmpl.SkillsAt(4), 1)
	assert.Len(t, tmpl.SkillsAt(7), 2)
}

func TestItemKindValidate(t *testing.T) {
	require.NoError(t, catalog.KindArmor.Validate())
	assert.Error(t, catalog.ItemKind("shield").Validate())
}

func TestFailureFlagsClass(t *testing.T) {
	tests := []struct {
		flags   catalog.FailureFlags
		want    catalog.FailureClass
		wantErr bool
	}{
		{catalog.FailureFlags{}, catalog.FailureDestructive, false},
		{catalog.FailureFlags{Safe: true}, catalog.FailureSafe, false},
		{catalog.FailureFlags{Blessed: true}, catalog.FailureBlessed, false},
		{catalog.FailureFlags{BlessedDown: true}, catalog.FailureBlessedDown, false},
		{catalog.FailureFlags{Blessed: true, BlessedDown: true}, catalog.FailureDestructive, true},
		{catalog.FailureFlags{Safe: true, Blessed: true, BlessedDown: true}, catalog.FailureDestructive, true},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got, err := tt.flags.Class()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFailure(t *testing.T) {
	support := func(c catalog.FailureClass) *catalog.SupportTemplate {
		return &catalog.SupportTemplate{Catalyst: catalog.Catalyst{Class: c}}
	}

	assert.Equal(t, catalog.FailureSafe, catalog.ResolveFailure(catalog.FailureSafe, support(catalog.FailureBlessedDown)))
	assert.Equal(t, catalog.FailureDestructive, catalog.ResolveFailure(catalog.FailureDestructive, nil))
	assert.Equal(t, catalog.FailureBlessed, catalog.ResolveFailure(catalog.FailureDestructive, support(catalog.FailureBlessed)))
	assert.Equal(t, catalog.FailureBlessedDown, catalog.ResolveFailure(catalog.FailureBlessed, support(catalog.FailureBlessedDown)))
	assert.Equal(t, catalog.FailureBlessedDown, catalog.ResolveFailure(catalog.FailureBlessedDown, support(catalog.FailureBlessed)))
}
