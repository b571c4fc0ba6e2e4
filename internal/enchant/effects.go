// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/inventory"
)

// Publisher delivers events to observers. *core.Broadcaster satisfies it.
type Publisher interface {
	Broadcast(event core.Event)
}

type noopPublisher struct{}

func (noopPublisher) Broadcast(core.Event) {}

// Range is an inclusive level range.
type Range struct {
	Min int
	Max int
}

// Contains reports whether level lies in r.
func (r Range) Contains(level int) bool {
	return level >= r.Min && level <= r.Max
}

// ResultPayload is the body of an enchant.result event.
type ResultPayload struct {
	Code         ResultCode `json:"code"`
	ItemID       string     `json:"item_id,omitempty"`
	Level        int        `json:"level"`
	RefundItemID int32      `json:"refund_item_id,omitempty"`
	RefundCount  int64      `json:"refund_count,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// AnnouncePayload is the body of a world enchant.announce event.
type AnnouncePayload struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	ItemID     string `json:"item_id"`
	TemplateID int32  `json:"template_id"`
	ItemName   string `json:"item_name"`
	Level      int    `json:"level"`
}

// ItemDelta is one changed inventory entry.
type ItemDelta struct {
	ItemID     string `json:"item_id"`
	TemplateID int32  `json:"template_id"`
	Count      int64  `json:"count"`
	Level      int    `json:"level"`
	Equipped   bool   `json:"equipped"`
	Removed    bool   `json:"removed,omitempty"`
}

// InventoryPayload is the body of an inventory.updated event.
type InventoryPayload struct {
	Items []ItemDelta `json:"items"`
}

// SkillsPayload is the body of a skill.granted event.
type SkillsPayload struct {
	Skills []catalog.EnchantSkill `json:"skills"`
}

// PlayerUpdatedPayload is the body of a player.updated event.
type PlayerUpdatedPayload struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

type effects struct {
	pub            Publisher
	now            func() time.Time
	log            *slog.Logger
	announceWeapon Range
	announceArmor  Range
}

func (f *effects) emit(stream string, typ core.EventType, actor core.Actor, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Error("failed to encode event payload", "event_type", typ, "error", err)
		return
	}
	f.pub.Broadcast(core.Event{
		ID:        core.NewULID(),
		Stream:    stream,
		Type:      typ,
		Timestamp: f.now(),
		Actor:     actor,
		Payload:   data,
	})
}

func playerActor(id ulid.ULID) core.Actor {
	return core.Actor{Kind: core.ActorPlayer, ID: id.String()}
}

// result sends the one outcome notification of a commit.
func (f *effects) result(playerID ulid.ULID, r Result, message string) {
	p := ResultPayload{Code: r.Code, Level: r.Level, Message: message}
	if r.ItemID != (ulid.ULID{}) {
		p.ItemID = r.ItemID.String()
	}
	if r.Refund != nil {
		p.RefundItemID = int32(r.Refund.TemplateID)
		p.RefundCount = r.Refund.Count
	}
	f.emit(core.PlayerStream(playerID), core.EventTypeEnchantResult, core.Actor{Kind: core.ActorSystem, ID: "enchant"}, p)
}

func (f *effects) announceRange(kind catalog.ItemKind) Range {
	if kind == catalog.KindWeapon {
		return f.announceWeapon
	}
	return f.announceArmor
}

// settled fans out everything observers should see after a successful
// settlement, except the result itself.
func (f *effects) settled(a *Attempt, r Result, unequipped *inventory.Item, refund *inventory.Item) {
	pid := a.Request.PlayerID
	actor := playerActor(pid)

	if r.Outcome == OutcomeSuccess && a.ItemTemplate != nil && f.announceRange(a.ItemTemplate.Kind).Contains(r.Level) {
		f.emit(core.StreamWorld, core.EventTypeEnchantAnnounce, actor, AnnouncePayload{
			PlayerID:   pid.String(),
			PlayerName: a.Player.Provenance.Name,
			ItemID:     r.ItemID.String(),
			TemplateID: int32(a.ItemTemplate.ID),
			ItemName:   a.ItemTemplate.Name,
			Level:      r.Level,
		})
		f.emit(core.NearbyStream(pid), core.EventTypeFirework, actor, PlayerUpdatedPayload{PlayerID: pid.String(), Reason: "enchant"})
	}

	if len(r.Granted) > 0 {
		f.emit(core.PlayerStream(pid), core.EventTypeSkillGranted, actor, SkillsPayload{Skills: r.Granted})
	}

	var deltas []ItemDelta
	if unequipped != nil {
		deltas = append(deltas, ItemDelta{
			ItemID:     unequipped.ID.String(),
			TemplateID: int32(unequipped.TemplateID),
			Count:      unequipped.Count,
			Level:      unequipped.EnchantLevel,
		})
	}
	if r.Destroyed {
		deltas = append(deltas, ItemDelta{ItemID: r.ItemID.String(), Level: r.Level, Removed: true})
	}
	if refund != nil {
		deltas = append(deltas, ItemDelta{
			ItemID:     refund.ID.String(),
			TemplateID: int32(refund.TemplateID),
			Count:      refund.Count,
		})
	}
	if len(deltas) > 0 {
		f.emit(core.PlayerStream(pid), core.EventTypeInventoryDelta, actor, InventoryPayload{Items: deltas})
	}

	if a.Item != nil && a.Item.Equipped && (r.Outcome == OutcomeSuccess || r.Unequipped) {
		f.emit(core.NearbyStream(pid), core.EventTypePlayerUpdated, actor, PlayerUpdatedPayload{PlayerID: pid.String(), Reason: "equipment"})
	}
}
