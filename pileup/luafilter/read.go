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
	"github.com/biogo/hts/sam"
	"github.com/grailbio/pbr/pileup"
	lua "github.com/yuin/gopher-lua"
)

const readTypeName = "pbr.read"

// readView is the Go side of the `read` userdata. rec is nil outside of an
// EvalRead call.
type readView struct {
	rec  *sam.Record
	qpos int
}

func (v *readView) isReverse() bool {
	return v.rec.Flags&sam.Reverse != 0
}

func (v *readView) length() int {
	return v.rec.Seq.Length
}

func (v *readView) baseQuality() int {
	if v.qpos < 0 || v.qpos >= len(v.rec.Qual) {
		return -1
	}
	return int(v.rec.Qual[v.qpos])
}

func (v *readView) distanceFrom5Prime() int {
	if v.qpos < 0 {
		return -1
	}
	if v.isReverse() {
		return v.length() - v.qpos
	}
	return v.qpos
}

func (v *readView) distanceFrom3Prime() int {
	if v.qpos < 0 {
		return -1
	}
	if v.isReverse() {
		return v.qpos
	}
	return v.length() - v.qpos
}

func (v *readView) indelCount() int {
	n := 0
	for _, op := range v.rec.Cigar {
		if t := op.Type(); t == sam.CigarInsertion || t == sam.CigarDeletion {
			n++
		}
	}
	return n
}

// leadingSoftClip and trailingSoftClip look past hard clips, which may only
// sit outside the soft clips.
func leadingSoftClip(cigar sam.Cigar) int {
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarHardClipped:
			continue
		case sam.CigarSoftClipped:
			return op.Len()
		}
		break
	}
	return 0
}

func trailingSoftClip(cigar sam.Cigar) int {
	for i := len(cigar) - 1; i >= 0; i-- {
		switch cigar[i].Type() {
		case sam.CigarHardClipped:
			continue
		case sam.CigarSoftClipped:
			return cigar[i].Len()
		}
		break
	}
	return 0
}

func (v *readView) softClips5Prime() int {
	if v.isReverse() {
		return trailingSoftClip(v.rec.Cigar)
	}
	return leadingSoftClip(v.rec.Cigar)
}

func (v *readView) softClips3Prime() int {
	if v.isReverse() {
		return leadingSoftClip(v.rec.Cigar)
	}
	return trailingSoftClip(v.rec.Cigar)
}

func (v *readView) averageBaseQuality() float64 {
	if len(v.rec.Qual) == 0 {
		return 0
	}
	var sum int
	for _, q := range v.rec.Qual {
		sum += int(q)
	}
	return float64(sum) / float64(len(v.rec.Qual))
}

// nProportion returns the fraction of N bases among the n bases at one end of
// the read. fromTail selects the end of the stored sequence.
func (v *readView) nProportion(n int, fromTail bool) float64 {
	seqLen := v.length()
	if n > seqLen {
		n = seqLen
	}
	if n <= 0 {
		return 0
	}
	count := 0
	for i := 0; i < n; i++ {
		qpos := i
		if fromTail {
			qpos = seqLen - 1 - i
		}
		if pileup.Seq8ToASCIITable[pileup.Seq8At(v.rec, qpos)] == 'N' {
			count++
		}
	}
	return float64(count) / float64(n)
}

// field returns the value of a non-method attribute, and false if there is no
// attribute with that name.
func (v *readView) field(key string) (lua.LValue, bool) {
	rec := v.rec
	switch key {
	case "mapping_quality":
		return lua.LNumber(rec.MapQ), true
	case "flags":
		return lua.LNumber(rec.Flags), true
	case "tid":
		return lua.LNumber(rec.Ref.ID()), true
	case "start":
		return lua.LNumber(rec.Pos), true
	case "stop":
		return lua.LNumber(rec.End()), true
	case "length":
		return lua.LNumber(v.length()), true
	case "insert_size":
		return lua.LNumber(rec.TempLen), true
	case "qname":
		return lua.LString(rec.Name), true
	case "sequence":
		return lua.LString(rec.Seq.Expand()), true
	case "strand":
		return lua.LNumber(pileup.ReadStrand(rec.Flags).Sign()), true
	case "qpos":
		return lua.LNumber(v.qpos), true
	case "bq":
		return lua.LNumber(v.baseQuality()), true
	case "distance_from_5prime":
		return lua.LNumber(v.distanceFrom5Prime()), true
	case "distance_from_3prime":
		return lua.LNumber(v.distanceFrom3Prime()), true
	case "indel_count":
		return lua.LNumber(v.indelCount()), true
	case "soft_clips_3_prime":
		return lua.LNumber(v.softClips3Prime()), true
	case "soft_clips_5_prime":
		return lua.LNumber(v.softClips5Prime()), true
	case "average_base_quality":
		return lua.LNumber(v.averageBaseQuality()), true
	}
	return lua.LNil, false
}

func checkRead(L *lua.LState, n int) *readView {
	ud := L.CheckUserData(n)
	v, ok := ud.Value.(*readView)
	if !ok {
		L.ArgError(n, "read expected")
		return nil
	}
	if v.rec == nil {
		L.RaiseError("read is only accessible while its expression is being evaluated")
		return nil
	}
	return v
}

// readMethods are looked up before fields. Lua calls them as read:name(...).
var readMethods = map[string]lua.LGFunction{
	"n_proportion_3_prime": func(L *lua.LState) int {
		v := checkRead(L, 1)
		// The 3' end is the tail of a forward read.
		L.Push(lua.LNumber(v.nProportion(L.CheckInt(2), !v.isReverse())))
		return 1
	},
	"n_proportion_5_prime": func(L *lua.LState) int {
		v := checkRead(L, 1)
		L.Push(lua.LNumber(v.nProportion(L.CheckInt(2), v.isReverse())))
		return 1
	},
	"tag": func(L *lua.LState) int {
		v := checkRead(L, 1)
		val, err := lookupTag(L, v.rec, L.CheckString(2))
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(val)
		return 1
	},
}

func registerReadType(L *lua.LState) {
	mt := L.NewTypeMetatable(readTypeName)
	methods := make(map[string]*lua.LFunction, len(readMethods))
	for name, fn := range readMethods {
		methods[name] = L.NewFunction(fn)
	}
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		v := checkRead(L, 1)
		key := L.CheckString(2)
		if m, ok := methods[key]; ok {
			L.Push(m)
			return 1
		}
		val, ok := v.field(key)
		if !ok {
			L.RaiseError("read has no field %q", key)
			return 0
		}
		L.Push(val)
		return 1
	}))
}
