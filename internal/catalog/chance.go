// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultScriptTimeout bounds a single chance script evaluation.
const DefaultScriptTimeout = 50 * time.Millisecond

// chanceFunc is the global a chance script must define.
const chanceFunc = "chance"

// ChanceStep gives the base success chance (in percent) for items whose
// current level falls in [MinLevel, MaxLevel].
type ChanceStep struct {
	MinLevel int     `yaml:"min_level"`
	MaxLevel int     `yaml:"max_level"`
	Chance   float64 `yaml:"chance" jsonschema:"minimum=0,maximum=100"`
}

// ChanceGroup maps an item's current level to a base success chance. It is
// either a step table or a Lua script defining chance(level, kind, grade).
type ChanceGroup struct {
	Name   string       `yaml:"name" jsonschema:"required"`
	Steps  []ChanceStep `yaml:"steps,omitempty"`
	Script string       `yaml:"script,omitempty"`

	script *scriptPool
}

// Chance returns the base chance for an item at level. ok is false when the
// group defines no chance for that level.
func (g *ChanceGroup) Chance(ctx context.Context, level int, kind ItemKind, grade Grade) (chance float64, ok bool, err error) {
	if g.script != nil {
		return g.script.eval(ctx, level, kind, grade)
	}
	for _, s := range g.Steps {
		if level >= s.MinLevel && level <= s.MaxLevel {
			return s.Chance, true, nil
		}
	}
	return 0, false, nil
}

func (g *ChanceGroup) prepare(timeout time.Duration) error {
	errb := oops.Code("INVALID_CATALOG").With("chance_group", g.Name)
	if g.Name == "" {
		return errb.Errorf("chance group has no name")
	}
	hasScript := strings.TrimSpace(g.Script) != ""
	if hasScript == (len(g.Steps) > 0) {
		return errb.Errorf("chance group must define exactly one of steps or script")
	}
	if hasScript {
		pool, err := newScriptPool(g.Name, g.Script, timeout)
		if err != nil {
			return errb.Wrap(err)
		}
		g.script = pool
		return nil
	}
	for i, s := range g.Steps {
		if s.MinLevel < 0 || s.MaxLevel < s.MinLevel {
			return errb.With("step", i).Errorf("invalid level range %d..%d", s.MinLevel, s.MaxLevel)
		}
		if s.Chance < 0 || s.Chance > 100 {
			return errb.With("step", i).Errorf("chance %v out of range", s.Chance)
		}
		for _, prev := range g.Steps[:i] {
			if s.MinLevel <= prev.MaxLevel && prev.MinLevel <= s.MaxLevel {
				return errb.With("step", i).Errorf("level range %d..%d overlaps another step", s.MinLevel, s.MaxLevel)
			}
		}
	}
	return nil
}

func (g *ChanceGroup) close() {
	if g.script != nil {
		g.script.close()
	}
}

// scriptPool keeps a small set of sandboxed Lua states that share one
// compiled chance script. LState is not safe for concurrent use, so each
// evaluation checks a state out of the pool.
type scriptPool struct {
	proto   *lua.FunctionProto
	timeout time.Duration
	states  chan *lua.LState
}

const scriptPoolSize = 4

var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

func newScriptPool(name, src string, timeout time.Duration) (*scriptPool, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, oops.Code("INVALID_CHANCE_SCRIPT").Wrapf(err, "parse script")
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.Code("INVALID_CHANCE_SCRIPT").Wrapf(err, "compile script")
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	p := &scriptPool{proto: proto, timeout: timeout, states: make(chan *lua.LState, scriptPoolSize)}

	// Load one state eagerly so scripts that fail to define chance() are
	// rejected at load time.
	L, err := p.newState()
	if err != nil {
		return nil, err
	}
	p.put(L)
	return p, nil
}

func (p *scriptPool) newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.Code("INVALID_CHANCE_SCRIPT").Wrapf(err, "open library %s", lib.name)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, oops.Code("INVALID_CHANCE_SCRIPT").Wrapf(err, "run script")
	}
	if L.GetGlobal(chanceFunc).Type() != lua.LTFunction {
		L.Close()
		return nil, oops.Code("INVALID_CHANCE_SCRIPT").Errorf("script does not define %s()", chanceFunc)
	}
	return L, nil
}

func (p *scriptPool) get() (*lua.LState, error) {
	select {
	case L := <-p.states:
		return L, nil
	default:
		return p.newState()
	}
}

func (p *scriptPool) put(L *lua.LState) {
	select {
	case p.states <- L:
	default:
		L.Close()
	}
}

func (p *scriptPool) eval(ctx context.Context, level int, kind ItemKind, grade Grade) (float64, bool, error) {
	L, err := p.get()
	if err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	L.SetContext(ctx)

	err = L.CallByParam(lua.P{Fn: L.GetGlobal(chanceFunc), NRet: 1, Protect: true},
		lua.LNumber(level), lua.LString(kind), lua.LString(grade))
	if err != nil {
		// A state interrupted mid-call may hold a broken stack.
		L.Close()
		return 0, false, oops.Code("CHANCE_SCRIPT_FAILED").With("level", level).Wrap(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	L.RemoveContext()
	p.put(L)

	switch v := ret.(type) {
	case lua.LNumber:
		f := float64(v)
		if f < 0 || f > 100 {
			return 0, false, oops.Code("CHANCE_SCRIPT_FAILED").With("level", level).Errorf("chance %v out of range", f)
		}
		return f, true, nil
	default:
		if ret == lua.LNil {
			return 0, false, nil
		}
		return 0, false, oops.Code("CHANCE_SCRIPT_FAILED").With("level", level).Errorf("chance() returned %s", ret.Type())
	}
}

func (p *scriptPool) close() {
	for {
		select {
		case L := <-p.states:
			L.Close()
		default:
			return
		}
	}
}
