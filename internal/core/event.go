// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package core contains the shared identifiers, events and observer fan-out
// used by the item engine.
package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of event.
type EventType string

// Event types emitted by the item engine.
const (
	EventTypeEnchantResult   EventType = "enchant.result"
	EventTypeEnchantAnnounce EventType = "enchant.announce"
	EventTypeFirework        EventType = "enchant.firework"
	EventTypeInventoryDelta  EventType = "inventory.updated"
	EventTypePlayerUpdated   EventType = "player.updated"
	EventTypeSkillGranted    EventType = "skill.granted"
	EventTypeSystemMessage   EventType = "system.message"
)

// Stream names.
const (
	// StreamWorld reaches every online player.
	StreamWorld = "world"
)

// PlayerStream returns the private stream of a player.
func PlayerStream(playerID ulid.ULID) string {
	return "player:" + playerID.String()
}

// NearbyStream returns the stream observed by players around playerID.
func NearbyStream(playerID ulid.ULID) string {
	return "nearby:" + playerID.String()
}

// ActorKind identifies what type of entity caused an event.
type ActorKind uint8

// Actor kinds.
const (
	ActorPlayer ActorKind = iota
	ActorSystem
)

func (a ActorKind) String() string {
	switch a {
	case ActorPlayer:
		return "player"
	case ActorSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Actor represents who or what caused an event.
type Actor struct {
	Kind ActorKind
	ID   string
}

// Event represents something observers may want to see.
type Event struct {
	ID        ulid.ULID
	Stream    string
	Type      EventType
	Timestamp time.Time
	Actor     Actor
	Payload   []byte // JSON
}
