// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"math/rand/v2"

	"github.com/forgeworks/anvil/internal/catalog"
)

// Outcome is the probabilistic resolution of an attempt.
type Outcome uint8

// Outcomes.
const (
	OutcomeError Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "error"
	}
}

// RNG is the randomness the outcome engine draws from. *rand.Rand satisfies it.
type RNG interface {
	Float64() float64
	IntN(n int) int
}

type globalRNG struct{}

func (globalRNG) Float64() float64 { return rand.Float64() }
func (globalRNG) IntN(n int) int   { return rand.IntN(n) }

// MaxChance is the ceiling of a final success chance, in percent.
const MaxChance = 100.0

// Roll describes the inputs of one resolution.
type Roll struct {
	// Level is the item's live level; Snapshot is the level recorded when
	// the request was made.
	Level    int
	Snapshot int
	// Base is the scroll's chance at Level; HasBase is false when the chance
	// function defines nothing for it.
	Base    float64
	HasBase bool
	// Bonus is the sum of the scroll and support bonus rates.
	Bonus            float64
	StepMin, StepMax int
	// Limit caps the resulting level; catalog.Unbounded means no cap.
	Limit int
}

// Resolution is the result of Resolve.
type Resolution struct {
	Outcome     Outcome
	FinalChance float64
	// Draw is the random value compared with FinalChance, in [0, 100).
	Draw float64
	// NewLevel is the level after a success. It equals Level when the chance
	// band is zero or on any other outcome.
	NewLevel int
	// Reason explains an OutcomeError.
	Reason string
}

// Resolve decides the outcome of r. The step is only applied when the base
// chance at the current level is positive: zero-chance bands may still
// succeed through bonuses but never advance the level.
func Resolve(r Roll, rng RNG) Resolution {
	res := Resolution{Outcome: OutcomeError, NewLevel: r.Level}
	if r.Level != r.Snapshot {
		res.Reason = "enchant level changed since the request was made"
		return res
	}
	if !r.HasBase || r.Base < 0 {
		res.Reason = "no enchant chance defined for level"
		return res
	}

	res.FinalChance = min(r.Base+r.Bonus, MaxChance)
	res.Draw = rng.Float64() * 100
	if res.Draw >= res.FinalChance {
		res.Outcome = OutcomeFailure
		return res
	}

	res.Outcome = OutcomeSuccess
	if r.Base > 0 {
		step := r.StepMin
		if r.StepMax > r.StepMin {
			step += rng.IntN(r.StepMax - r.StepMin + 1)
		}
		res.NewLevel = r.Level + step
		if r.Limit != catalog.Unbounded {
			res.NewLevel = min(res.NewLevel, r.Limit)
		}
	}
	return res
}

// roll builds the resolution inputs for a against the item's live level.
func roll(a *Attempt, level int, base float64, hasBase, strict bool) Roll {
	lo, hi, limit := a.ScrollTemplate.Governing(a.SupportTemplate)
	if strict {
		limit = catalog.TighterCap(limit, a.ItemTemplate.EnchantLimit)
	}
	bonus := a.ScrollTemplate.BonusRate
	if a.SupportTemplate != nil {
		bonus += a.SupportTemplate.BonusRate
	}
	return Roll{
		Level:    level,
		Snapshot: a.Request.LevelSnapshot,
		Base:     base,
		HasBase:  hasBase,
		Bonus:    bonus,
		StepMin:  lo,
		StepMax:  hi,
		Limit:    limit,
	}
}
