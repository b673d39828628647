// Package value implements the HTCP self-describing value serializer
// (spec §4.2): a tagged binary encoding for a closed domain of primitive,
// container, temporal, decimal, UUID, enum, and record values, plus the
// argument-coercion pass (spec §4.9) that lifts decoded values into
// schema-shaped records and enums.
package value

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tag is the one-byte discriminator prefixing every encoded value.
type Tag byte

const (
	TagNull             Tag = 0x00
	TagBoolTrue         Tag = 0x01
	TagBoolFalse        Tag = 0x02
	TagIntNonNeg        Tag = 0x03
	TagFloat            Tag = 0x04
	TagString           Tag = 0x05
	TagBytes            Tag = 0x06
	TagList             Tag = 0x07
	TagTuple            Tag = 0x08
	TagMapping          Tag = 0x09
	TagSet              Tag = 0x0A
	TagFrozenSet        Tag = 0x0B
	TagRecord           Tag = 0x0C
	TagDatetime         Tag = 0x0D
	TagDate             Tag = 0x0E
	TagTime             Tag = 0x0F
	TagDuration         Tag = 0x10
	TagDecimal          Tag = 0x11
	TagComplex          Tag = 0x12
	TagUUID             Tag = 0x13
	TagEnum             Tag = 0x14
	TagIntNeg           Tag = 0x15
	TagIntBigNonNeg     Tag = 0x16
	TagIntBigNeg        Tag = 0x17
	TagRecordWithSchema Tag = 0x18
)

// Value is a closed tagged sum over every wire-encodable shape (spec §3).
// Concrete implementations are the exported types in this file; the
// interface exists only to give the sum a name, the way a discriminated
// union is expressed in idiomatic Go.
type Value interface {
	isValue()
}

// Null is the absence of a value.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Int is an arbitrary-precision integer. Use NewInt / NewIntFromInt64 to
// construct one; the zero value is not valid.
type Int struct {
	v *big.Int
}

// NewIntFromInt64 wraps a native int64 as an Int.
func NewIntFromInt64(v int64) Int { return Int{v: big.NewInt(v)} }

// NewInt wraps a copy of an existing big.Int; later changes to v do not
// affect the returned Int.
func NewInt(v *big.Int) Int { return Int{v: new(big.Int).Set(v)} }

// BigInt returns the underlying signed value as a *big.Int. The returned
// value must not be mutated.
func (i Int) BigInt() *big.Int { return i.v }

// Int64 reports the value as an int64 along with whether it fit.
func (i Int) Int64() (int64, bool) {
	if i.v.IsInt64() {
		return i.v.Int64(), true
	}
	return 0, false
}

// Float is an IEEE-754 double.
type Float float64

// String is a UTF-8 string.
type String string

// Bytes is an opaque byte string.
type Bytes []byte

// List is an ordered, mutable-arity sequence.
type List []Value

// Tuple is an ordered, fixed-arity sequence.
type Tuple []Value

// MapEntry is one key/value pair of a Mapping, preserving insertion order.
type MapEntry struct {
	Key   Value
	Value Value
}

// Mapping is an insertion-ordered association of Value keys to Value
// values.
type Mapping []MapEntry

// Get returns the value for key, if present, preserving the first match
// in insertion order.
func (m Mapping) Get(key string) (Value, bool) {
	for _, e := range m {
		if s, ok := e.Key.(String); ok && string(s) == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set is an unordered collection. Encoding preserves the slice's
// iteration order; decoding yields a Set whose Equal compares under set
// semantics (spec §4.2).
type Set []Value

// FrozenSet is Set's immutable counterpart; it carries the same
// encoding/equality rules.
type FrozenSet []Value

// RecordField is one named field of a Record, in declaration order.
type RecordField struct {
	Name  string
	Value Value
}

// Record is a named-field value. Both TagRecord and TagRecordWithSchema
// always carry TypeName on the wire (a length-prefixed qualified type
// name, possibly empty); this package only ever encodes TagRecord, but
// decodes either tag identically: Decode returns the field-name-keyed
// Mapping built by RecordSentinel and drops the type name. Coerce against
// a KindRecord schema turns that Mapping back into a Record.
type Record struct {
	TypeName string
	Fields   []RecordField
}

// Get returns the named field's value, if present.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// DateTime is a timezone-aware instant, encoded as an ISO-8601 string.
type DateTime time.Time

// Date is a civil date with no time-of-day or zone component.
type Date time.Time

// TimeOfDay is a wall-clock time with no date or zone component.
type TimeOfDay time.Time

// Duration is a span of time, encoded as a float64 of total seconds.
type Duration time.Duration

// Decimal is an exact decimal value.
type Decimal decimal.Decimal

// Complex is a complex number, encoded as two IEEE-754 doubles.
type Complex complex128

// UUID is a 128-bit identifier, encoded as 16 raw bytes.
type UUID uuid.UUID

// Enum identifies a member of an enumeration by qualified type name and
// member name. The wire form carries no other payload; a schema is
// required to recover the member's underlying value, if any.
type Enum struct {
	TypeName string
	Member   string
}

func (Null) isValue()        {}
func (Bool) isValue()        {}
func (Int) isValue()         {}
func (Float) isValue()       {}
func (String) isValue()      {}
func (Bytes) isValue()       {}
func (List) isValue()        {}
func (Tuple) isValue()       {}
func (Mapping) isValue()     {}
func (Set) isValue()         {}
func (FrozenSet) isValue()   {}
func (Record) isValue()      {}
func (DateTime) isValue()    {}
func (Date) isValue()        {}
func (TimeOfDay) isValue()   {}
func (Duration) isValue()    {}
func (Decimal) isValue()     {}
func (Complex) isValue()     {}
func (UUID) isValue()        {}
func (Enum) isValue()        {}

// Sentinel mapping keys used when the decoder materializes an Enum
// without a schema to consult (spec §4.2 round-trip contract).
const (
	SentinelEnumKey   = "__enum__"
	SentinelMemberKey = "__member__"
)

// EnumSentinel builds the schema-less decode form of an Enum value.
func EnumSentinel(typeName, member string) Mapping {
	return Mapping{
		{Key: String(SentinelEnumKey), Value: String(typeName)},
		{Key: String(SentinelMemberKey), Value: String(member)},
	}
}

// AsEnumSentinel reports whether m is the schema-less decode form of an
// Enum, returning its type and member names.
func AsEnumSentinel(m Mapping) (typeName, member string, ok bool) {
	if len(m) != 2 {
		return "", "", false
	}
	tv, tok := m.Get(SentinelEnumKey)
	mv, mok := m.Get(SentinelMemberKey)
	if !tok || !mok {
		return "", "", false
	}
	ts, tsok := tv.(String)
	ms, msok := mv.(String)
	if !tsok || !msok {
		return "", "", false
	}
	return string(ts), string(ms), true
}

// RecordSentinel builds the schema-less decode form of a Record: a plain
// field-name-keyed Mapping preserving field order.
func RecordSentinel(r Record) Mapping {
	out := make(Mapping, 0, len(r.Fields))
	for _, f := range r.Fields {
		out = append(out, MapEntry{Key: String(f.Name), Value: f.Value})
	}
	return out
}
