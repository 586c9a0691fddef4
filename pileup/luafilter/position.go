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
	"github.com/grailbio/pbr/pileup"
	lua "github.com/yuin/gopher-lua"
)

const pileTypeName = "pbr.pile"

// pileView is the Go side of the `pile` userdata. p is nil outside of an
// EvalPosition call.
type pileView struct {
	p *pileup.Position
}

func (v *pileView) field(key string) (lua.LValue, bool) {
	p := v.p
	switch key {
	case "depth":
		return lua.LNumber(p.Depth), true
	case "a":
		return lua.LNumber(p.A), true
	case "c":
		return lua.LNumber(p.C), true
	case "g":
		return lua.LNumber(p.G), true
	case "t":
		return lua.LNumber(p.T), true
	case "n":
		return lua.LNumber(p.N), true
	case "fail":
		return lua.LNumber(p.Fail), true
	case "ins":
		return lua.LNumber(p.Ins), true
	case "del":
		return lua.LNumber(p.Del), true
	case "ref_skip":
		return lua.LNumber(p.RefSkip), true
	case "pos":
		return lua.LNumber(p.Pos), true
	case "ref_seq":
		return lua.LString(p.RefName), true
	case "near_max_depth":
		return lua.LBool(p.NearMaxDepth), true
	case "ref_base":
		if p.RefBase == 0 {
			return lua.LNil, true
		}
		return lua.LString([]byte{p.RefBase}), true
	case "flank":
		if p.Flank == "" {
			return lua.LNil, true
		}
		return lua.LString(p.Flank), true
	}
	return lua.LNil, false
}

func registerPileType(L *lua.LState) {
	mt := L.NewTypeMetatable(pileTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		v, ok := ud.Value.(*pileView)
		if !ok {
			L.ArgError(1, "pile expected")
			return 0
		}
		if v.p == nil {
			L.RaiseError("pile is only accessible while its expression is being evaluated")
			return 0
		}
		key := L.CheckString(2)
		val, ok := v.field(key)
		if !ok {
			L.RaiseError("pile has no field %q", key)
			return 0
		}
		L.Push(val)
		return 1
	}))
}
