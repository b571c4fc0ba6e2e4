// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import "github.com/samber/oops"

// FailureClass is the closed economic consequence of a failed attempt.
type FailureClass uint8

// Failure classes. The zero value is the destructive default.
const (
	FailureDestructive FailureClass = iota
	FailureSafe
	FailureBlessed
	FailureBlessedDown
)

func (c FailureClass) String() string {
	switch c {
	case FailureDestructive:
		return "destructive"
	case FailureSafe:
		return "safe"
	case FailureBlessed:
		return "blessed"
	case FailureBlessedDown:
		return "blessed_down"
	default:
		return "unknown"
	}
}

// FailureFlags are the authoring flags of a catalyst template. Exactly one
// class is derived from them when the catalog loads.
type FailureFlags struct {
	Safe        bool `yaml:"safe,omitempty"`
	Blessed     bool `yaml:"blessed,omitempty"`
	BlessedDown bool `yaml:"blessed_down,omitempty"`
}

// Class derives the failure class. Combinations that would need ad hoc
// precedence are rejected.
func (f FailureFlags) Class() (FailureClass, error) {
	set := 0
	class := FailureDestructive
	if f.Safe {
		set++
		class = FailureSafe
	}
	if f.Blessed {
		set++
		class = FailureBlessed
	}
	if f.BlessedDown {
		set++
		class = FailureBlessedDown
	}
	if set > 1 {
		return FailureDestructive, oops.Code("AMBIGUOUS_FAILURE_CLASS").
			With("safe", f.Safe).
			With("blessed", f.Blessed).
			With("blessed_down", f.BlessedDown).
			Errorf("at most one of safe, blessed, blessed_down may be set")
	}
	return class, nil
}

// ResolveFailure combines the scroll class with the optional support class.
// Safe scrolls keep the level regardless of support; otherwise a down class on
// either catalyst wins over plain blessed, and blessed wins over destruction.
func ResolveFailure(scroll FailureClass, support *SupportTemplate) FailureClass {
	if scroll == FailureSafe {
		return FailureSafe
	}
	var sup FailureClass
	if support != nil {
		sup = support.Class
	}
	if scroll == FailureBlessedDown || sup == FailureBlessedDown {
		return FailureBlessedDown
	}
	if scroll == FailureBlessed || sup == FailureBlessed {
		return FailureBlessed
	}
	return FailureDestructive
}
