// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package player

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/catalog"
)

// Penalty records one applied sanction.
type Penalty struct {
	Reason     string
	Punishment Punishment
}

type presence struct {
	state       State
	connections []ulid.ULID
	skills      map[int32]int32
	penalties   []Penalty
}

// Registry is an in-memory Provider, SkillGranter and Punisher.
type Registry struct {
	mu      sync.RWMutex
	players map[ulid.ULID]*presence
	logger  *slog.Logger
	// OnDetach is called, without the lock held, when a player loses their
	// last connection or is removed by a sanction.
	OnDetach func(id ulid.ULID)
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{players: make(map[ulid.ULID]*presence), logger: logger}
}

// Connect attaches a connection, creating the player's presence if needed.
func (r *Registry) Connect(id, connID ulid.ULID, prov Provenance) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		p = &presence{state: State{ID: id}, skills: make(map[int32]int32)}
		r.players[id] = p
	}
	p.state.Provenance = prov
	p.state.Online = true
	p.state.Attached = true
	p.connections = append(p.connections, connID)
	return p.state
}

// Disconnect detaches one connection. The player stays known but is no
// longer attached once no connections remain.
func (r *Registry) Disconnect(id, connID ulid.ULID) {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("disconnect for unknown player", "player_id", id.String(), "conn_id", connID.String())
		return
	}
	p.connections = slices.DeleteFunc(p.connections, func(c ulid.ULID) bool { return c == connID })
	detached := len(p.connections) == 0
	if detached {
		p.state.Attached = false
		p.state.Online = false
	}
	r.mu.Unlock()

	if detached && r.OnDetach != nil {
		r.OnDetach(id)
	}
}

func (r *Registry) update(id ulid.ULID, fn func(*State)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return oops.Code("PLAYER_NOT_FOUND").With("player_id", id.String()).Errorf("player not found")
	}
	fn(&p.state)
	return nil
}

// SetTrading toggles the trade flag.
func (r *Registry) SetTrading(id ulid.ULID, on bool) error {
	return r.update(id, func(s *State) { s.Trading = on })
}

// SetStorefront toggles the private store flag.
func (r *Registry) SetStorefront(id ulid.ULID, on bool) error {
	return r.update(id, func(s *State) { s.Storefront = on })
}

// State returns a snapshot of the player's state.
func (r *Registry) State(id ulid.ULID) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return State{}, false
	}
	return p.state, true
}

// GrantSkills records the highest level granted per skill.
func (r *Registry) GrantSkills(_ context.Context, id ulid.ULID, skills []catalog.EnchantSkill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return oops.Code("PLAYER_NOT_FOUND").With("player_id", id.String()).Errorf("player not found")
	}
	for _, s := range skills {
		if s.Level > p.skills[s.SkillID] {
			p.skills[s.SkillID] = s.Level
		}
	}
	return nil
}

// Skills returns skill id to level for everything granted to the player.
func (r *Registry) Skills(id ulid.ULID) map[int32]int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil
	}
	out := make(map[int32]int32, len(p.skills))
	for k, v := range p.skills {
		out[k] = v
	}
	return out
}

// Punish records the sanction and applies it: kick and ban drop every
// connection, jail flags the player.
func (r *Registry) Punish(_ context.Context, id ulid.ULID, reason string, pun Punishment) error {
	r.mu.Lock()
	p, ok := r.players[id]
	if !ok {
		r.mu.Unlock()
		return oops.Code("PLAYER_NOT_FOUND").With("player_id", id.String()).Errorf("player not found")
	}
	p.penalties = append(p.penalties, Penalty{Reason: reason, Punishment: pun})
	detached := false
	switch pun {
	case PunishKick, PunishBan:
		p.connections = nil
		p.state.Online = false
		p.state.Attached = false
		detached = true
	case PunishJail:
		p.state.Jailed = true
	}
	prov := p.state.Provenance
	r.mu.Unlock()

	r.logger.Warn("player punished",
		"player_id", id.String(),
		"player_name", prov.Name,
		"account", prov.Account,
		"reason", reason,
		"punishment", string(pun))

	if detached && r.OnDetach != nil {
		r.OnDetach(id)
	}
	return nil
}

// Penalties returns the sanctions applied to the player.
func (r *Registry) Penalties(id ulid.ULID) []Penalty {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil
	}
	return slices.Clone(p.penalties)
}
