// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package player tracks the transient player state the enchant engine
// consults: presence, busy flags, provenance, granted skills and penalties.
package player

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/catalog"
)

// Provenance identifies where a player connected from, for audit.
type Provenance struct {
	Name       string
	Account    string
	RemoteAddr string
}

// State is a snapshot of a player's transient state.
type State struct {
	ID         ulid.ULID
	Provenance Provenance
	Online     bool
	// Attached is false once the last connection dropped.
	Attached   bool
	Trading    bool
	Storefront bool
	Jailed     bool
}

// Busy reports whether the player is in a mode that forbids enchanting.
func (s State) Busy() bool {
	return s.Trading || s.Storefront
}

// Provider answers state lookups.
type Provider interface {
	State(id ulid.ULID) (State, bool)
}

// SkillGranter applies level-gated item skills to a player.
type SkillGranter interface {
	GrantSkills(ctx context.Context, id ulid.ULID, skills []catalog.EnchantSkill) error
}

// Punishment is the sanction applied to suspected cheating.
type Punishment string

// Punishments, in increasing severity.
const (
	PunishNone Punishment = "none"
	PunishKick Punishment = "kick"
	PunishJail Punishment = "jail"
	PunishBan  Punishment = "ban"
)

// ParsePunishment validates a configured punishment name.
func ParsePunishment(s string) (Punishment, error) {
	switch p := Punishment(s); p {
	case PunishNone, PunishKick, PunishJail, PunishBan:
		return p, nil
	default:
		return "", oops.Code("INVALID_PUNISHMENT").With("punishment", s).Errorf("unknown punishment %q", s)
	}
}

// Punisher applies sanctions for suspected cheating.
type Punisher interface {
	Punish(ctx context.Context, id ulid.ULID, reason string, p Punishment) error
}
