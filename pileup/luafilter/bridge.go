// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package luafilter

import (
	"fmt"
	"unicode/utf8"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/pbr/pileup"
	lua "github.com/yuin/gopher-lua"
)

// Stats counts read evaluations since the Bridge was created.
type Stats struct {
	// ReadsEvaluated counts EvalRead calls that ran the read expression.
	ReadsEvaluated int64
	// ReadsFiltered counts reads rejected by the expression, errors included.
	ReadsFiltered int64
	// ReadErrors counts runtime faults in the read expression.
	ReadErrors int64
}

// Bridge evaluates a read expression and a position expression in one
// embedded Lua state. It is not safe for concurrent use.
type Bridge struct {
	l *lua.LState

	readExpr, posExpr string
	readFn, posFn     *lua.LFunction

	read   readView
	readUD *lua.LUserData
	pile   pileView
	pileUD *lua.LUserData

	stats Stats
}

// stringCount implements string_count(haystack, needle).
func stringCount(L *lua.LState) int {
	haystack := L.CheckString(1)
	needle := L.CheckString(2)
	if utf8.RuneCountInString(needle) != 1 {
		L.ArgError(2, "needle must be a single character")
		return 0
	}
	r, _ := utf8.DecodeRuneInString(needle)
	n := 0
	for _, c := range haystack {
		if c == r {
			n++
		}
	}
	L.Push(lua.LNumber(n))
	return 1
}

func compile(L *lua.LState, expr string) (*lua.LFunction, error) {
	if expr == "" {
		return nil, nil
	}
	fn, err := L.LoadString(expr)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("luafilter: compile expression %q", expr), err)
	}
	return fn, nil
}

// NewBridge compiles readExpr, evaluated once per read at each column, and
// posExpr, evaluated once per pileup position. Each expression is a Lua
// chunk that returns a boolean, e.g. "return read.mapping_quality >= 20". An
// empty expression accepts everything.
func NewBridge(readExpr, posExpr string) (*Bridge, error) {
	L := lua.NewState()
	b := &Bridge{l: L, readExpr: readExpr, posExpr: posExpr}
	var err error
	if b.readFn, err = compile(L, readExpr); err != nil {
		L.Close()
		return nil, err
	}
	if b.posFn, err = compile(L, posExpr); err != nil {
		L.Close()
		return nil, err
	}
	registerReadType(L)
	registerPileType(L)
	L.SetGlobal("string_count", L.NewFunction(stringCount))

	b.readUD = L.NewUserData()
	b.readUD.Value = &b.read
	L.SetMetatable(b.readUD, L.GetTypeMetatable(readTypeName))
	b.pileUD = L.NewUserData()
	b.pileUD.Value = &b.pile
	L.SetMetatable(b.pileUD, L.GetTypeMetatable(pileTypeName))
	return b, nil
}

func (b *Bridge) call(fn *lua.LFunction) (bool, error) {
	if err := b.l.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return false, err
	}
	ret := b.l.Get(-1)
	b.l.Pop(1)
	return lua.LVAsBool(ret), nil
}

// EvalRead reports whether rec passes the read expression. qpos is the query
// offset of the read at the current column, -1 if it has no base there. A
// runtime fault in the expression is logged and rejects the read.
func (b *Bridge) EvalRead(rec *sam.Record, qpos int) bool {
	if b.readFn == nil {
		return true
	}
	b.read = readView{rec: rec, qpos: qpos}
	b.l.SetGlobal("read", b.readUD)
	ok, err := b.call(b.readFn)
	b.read = readView{}
	b.stats.ReadsEvaluated++
	if err != nil {
		b.stats.ReadErrors++
		log.Error.Printf("luafilter: expression %q failed on read %s: %v", b.readExpr, rec.Name, err)
	}
	if !ok {
		b.stats.ReadsFiltered++
	}
	return ok
}

// EvalPosition reports whether p passes the position expression. Unlike
// EvalRead, a runtime fault is returned to the caller.
func (b *Bridge) EvalPosition(p *pileup.Position) (bool, error) {
	if b.posFn == nil {
		return true, nil
	}
	b.pile.p = p
	b.l.SetGlobal("pile", b.pileUD)
	ok, err := b.call(b.posFn)
	b.pile.p = nil
	if err != nil {
		return false, errors.E(errors.Invalid,
			fmt.Sprintf("luafilter: position expression %q at %s:%d", b.posExpr, p.RefName, p.Pos), err)
	}
	return ok, nil
}

// Stats returns the read evaluation counters.
func (b *Bridge) Stats() Stats {
	return b.stats
}

// Close releases the Lua state.
func (b *Bridge) Close() {
	b.l.Close()
}
