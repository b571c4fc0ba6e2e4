// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/inventory"
)

// ResultCode is what the client renders for a commit.
type ResultCode string

// Result codes.
const (
	ResultSuccess     ResultCode = "success"
	ResultSafeFail    ResultCode = "safe_fail"
	ResultBlessedFail ResultCode = "blessed_fail"
	// ResultFail is a destructive failure that returned crystals.
	ResultFail ResultCode = "fail"
	// ResultNoCrystal is a destructive failure with no refund.
	ResultNoCrystal ResultCode = "no_crystal"
	ResultError     ResultCode = "error"
)

// Refund is the material returned when an item is destroyed.
type Refund struct {
	TemplateID catalog.TemplateID
	Count      int64
}

// Result is the settlement of one commit.
type Result struct {
	Code    ResultCode
	Outcome Outcome
	// Class is the failure class applied; only meaningful on OutcomeFailure.
	Class       catalog.FailureClass
	ItemID      ulid.ULID
	LevelBefore int
	// Level is the item's level afterwards, or its last level when destroyed.
	Level      int
	Destroyed  bool
	Unequipped bool
	// Refund is nil when nothing was returned.
	Refund  *Refund
	Granted []catalog.EnchantSkill
	// Chance is the final success chance used, in percent.
	Chance float64
	// Narrative is a one-line human description for reviewers.
	Narrative string
}

func errorResult(itemID ulid.ULID, level int) Result {
	return Result{Code: ResultError, Outcome: OutcomeError, ItemID: itemID, LevelBefore: level, Level: level}
}

// label maps a result to its audit label.
func (r Result) label() string {
	switch r.Code {
	case ResultSuccess:
		return audit.LabelSuccess
	case ResultSafeFail:
		return audit.LabelSafeFail
	case ResultBlessedFail:
		return audit.LabelBlessedFail
	case ResultFail, ResultNoCrystal:
		return audit.LabelFail
	default:
		return audit.LabelError
	}
}

// narrative renders a reviewer-facing line such as
// "Fail, Character:Aria [01J...] Account:aria IP:10.0.0.1, +5 Sword of Valor(1) [01J...], Scroll(3) [01J...]".
func narrative(label string, a *Attempt, level int) string {
	var b strings.Builder
	prov := a.Player.Provenance
	fmt.Fprintf(&b, "%s, Character:%s [%s] Account:%s IP:%s", label, prov.Name, a.Request.PlayerID, prov.Account, prov.RemoteAddr)
	if a.Item != nil {
		b.WriteString(", ")
		if level > 0 {
			fmt.Fprintf(&b, "+%d ", level)
		}
		fmt.Fprintf(&b, "%s(%d) [%s]", itemName(a.ItemTemplate, a.Item), a.Item.Count, a.Item.ID)
	}
	if a.Scroll != nil {
		fmt.Fprintf(&b, ", %s(%d) [%s]", catalystName(a.ScrollTemplate, a.Scroll), a.Scroll.Count, a.Scroll.ID)
	}
	if a.Support != nil {
		var c *catalog.Catalyst
		if a.SupportTemplate != nil {
			c = &a.SupportTemplate.Catalyst
		}
		fmt.Fprintf(&b, ", %s(%d) [%s]", catalystNameOf(c, a.Support), a.Support.Count, a.Support.ID)
	}
	return b.String()
}

func itemName(t *catalog.ItemTemplate, it *inventory.Item) string {
	if t != nil {
		return t.Name
	}
	return fmt.Sprintf("item %d", it.TemplateID)
}

func catalystName(t *catalog.ScrollTemplate, it *inventory.Item) string {
	if t == nil {
		return catalystNameOf(nil, it)
	}
	return catalystNameOf(&t.Catalyst, it)
}

func catalystNameOf(c *catalog.Catalyst, it *inventory.Item) string {
	if c != nil {
		return c.Name
	}
	return fmt.Sprintf("item %d", it.TemplateID)
}
