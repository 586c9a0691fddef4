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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/biogo/hts/sam"
	lua "github.com/yuin/gopher-lua"
)

// Aux fields are decoded from their BAM wire layout: two tag bytes, the type
// byte, then the value. 'B' arrays carry a subtype byte and a little-endian
// element count before the elements.

// auxElemSize is the width of each numeric aux type.
var auxElemSize = [256]int{
	'A': 1, 'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4, 'f': 4,
	'd': 8,
}

func decodeNumber(typ byte, b []byte) (lua.LNumber, error) {
	if n := auxElemSize[typ]; n == 0 || len(b) < n {
		return 0, fmt.Errorf("truncated or unknown aux value of type %q", typ)
	}
	switch typ {
	case 'c':
		return lua.LNumber(int8(b[0])), nil
	case 'C':
		return lua.LNumber(b[0]), nil
	case 's':
		return lua.LNumber(int16(binary.LittleEndian.Uint16(b))), nil
	case 'S':
		return lua.LNumber(binary.LittleEndian.Uint16(b)), nil
	case 'i':
		return lua.LNumber(int32(binary.LittleEndian.Uint32(b))), nil
	case 'I':
		return lua.LNumber(binary.LittleEndian.Uint32(b)), nil
	case 'f':
		return lua.LNumber(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case 'd':
		return lua.LNumber(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	return 0, fmt.Errorf("aux type %q is not numeric", typ)
}

// auxToLua converts one aux field to the matching Lua value: a one-character
// string for 'A', a string for 'Z' and 'H', a number for the scalar numeric
// types and a sequence table for 'B' arrays.
func auxToLua(L *lua.LState, aux sam.Aux) (lua.LValue, error) {
	if len(aux) < 3 {
		return lua.LNil, fmt.Errorf("malformed aux field %q", []byte(aux))
	}
	typ := aux[2]
	val := []byte(aux[3:])
	switch typ {
	case 'A':
		if len(val) < 1 {
			return lua.LNil, fmt.Errorf("malformed aux field %q", []byte(aux))
		}
		return lua.LString(val[:1]), nil
	case 'Z', 'H':
		// The reader strips the terminating NUL, but records built in memory
		// may keep it.
		if n := len(val); n > 0 && val[n-1] == 0 {
			val = val[:n-1]
		}
		return lua.LString(val), nil
	case 'B':
		if len(val) < 5 {
			return lua.LNil, fmt.Errorf("malformed aux array %q", []byte(aux[:2]))
		}
		sub := val[0]
		size := auxElemSize[sub]
		if size == 0 || sub == 'A' || sub == 'd' {
			return lua.LNil, fmt.Errorf("unknown aux array subtype %q", sub)
		}
		count := int(binary.LittleEndian.Uint32(val[1:5]))
		data := val[5:]
		if count < 0 || len(data) < count*size {
			return lua.LNil, fmt.Errorf("truncated aux array %q", []byte(aux[:2]))
		}
		tbl := L.NewTable()
		for i := 0; i < count; i++ {
			n, err := decodeNumber(sub, data[i*size:])
			if err != nil {
				return lua.LNil, err
			}
			tbl.Append(n)
		}
		return tbl, nil
	}
	n, err := decodeNumber(typ, val)
	if err != nil {
		return lua.LNil, err
	}
	return n, nil
}

// lookupTag returns the Lua value of the aux field name, or nil if the read
// does not carry it.
func lookupTag(L *lua.LState, rec *sam.Record, name string) (lua.LValue, error) {
	if len(name) != 2 {
		return lua.LNil, fmt.Errorf("tag name %q must be two characters", name)
	}
	for _, aux := range rec.AuxFields {
		if len(aux) >= 2 && aux[0] == name[0] && aux[1] == name[1] {
			return auxToLua(L, aux)
		}
	}
	return lua.LNil, nil
}
