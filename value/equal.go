package value

import (
	"time"

	"github.com/shopspring/decimal"
)

// Equal reports whether a and b represent the same decoded value under the
// equality rules of spec §4.2: container element order matters except for
// Set/FrozenSet, which compare as multisets.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av.v.Cmp(bv.v) == 0
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytesEqual(av, bv)
	case List:
		bv, ok := b.(List)
		return ok && sequenceEqual([]Value(av), []Value(bv))
	case Tuple:
		bv, ok := b.(Tuple)
		return ok && sequenceEqual([]Value(av), []Value(bv))
	case Set:
		bv, ok := b.(Set)
		return ok && multisetEqual([]Value(av), []Value(bv))
	case FrozenSet:
		bv, ok := b.(FrozenSet)
		return ok && multisetEqual([]Value(av), []Value(bv))
	case Mapping:
		bv, ok := b.(Mapping)
		return ok && mappingEqual(av, bv)
	case Record:
		bv, ok := b.(Record)
		return ok && recordEqual(av, bv)
	case DateTime:
		bv, ok := b.(DateTime)
		return ok && time.Time(av).Equal(time.Time(bv))
	case Date:
		bv, ok := b.(Date)
		return ok && time.Time(av).Format("2006-01-02") == time.Time(bv).Format("2006-01-02")
	case TimeOfDay:
		bv, ok := b.(TimeOfDay)
		return ok && time.Time(av).Format("15:04:05.999999999") == time.Time(bv).Format("15:04:05.999999999")
	case Duration:
		bv, ok := b.(Duration)
		return ok && av == bv
	case Decimal:
		bv, ok := b.(Decimal)
		return ok && decimal.Decimal(av).Equal(decimal.Decimal(bv))
	case Complex:
		bv, ok := b.(Complex)
		return ok && av == bv
	case UUID:
		bv, ok := b.(UUID)
		return ok && av == bv
	case Enum:
		bv, ok := b.(Enum)
		return ok && av == bv
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sequenceEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func multisetEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, av := range a {
		matched := false
		for j, bv := range b {
			if used[j] {
				continue
			}
			if Equal(av, bv) {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func mappingEqual(a, b Mapping) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i].Key, b[i].Key) || !Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

func recordEqual(a, b Record) bool {
	if a.TypeName != b.TypeName || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name != b.Fields[i].Name || !Equal(a.Fields[i].Value, b.Fields[i].Value) {
			return false
		}
	}
	return true
}
