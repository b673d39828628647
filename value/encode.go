package value

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Encode renders v in the tagged binary grammar of spec §4.2.
func Encode(v Value) ([]byte, error) {
	buf := make([]byte, 0, 64)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch t := v.(type) {
	case nil, Null:
		return append(buf, byte(TagNull)), nil

	case Bool:
		if t {
			return append(buf, byte(TagBoolTrue)), nil
		}
		return append(buf, byte(TagBoolFalse)), nil

	case Int:
		return appendInt(buf, t)

	case Float:
		buf = append(buf, byte(TagFloat))
		return appendFloat64(buf, float64(t)), nil

	case String:
		buf = append(buf, byte(TagString))
		return appendLenPrefixed(buf, []byte(t)), nil

	case Bytes:
		buf = append(buf, byte(TagBytes))
		return appendLenPrefixed(buf, []byte(t)), nil

	case List:
		return appendSequence(buf, TagList, []Value(t))

	case Tuple:
		return appendSequence(buf, TagTuple, []Value(t))

	case Set:
		return appendSequence(buf, TagSet, []Value(t))

	case FrozenSet:
		return appendSequence(buf, TagFrozenSet, []Value(t))

	case Mapping:
		buf = append(buf, byte(TagMapping))
		buf = appendLen(buf, len(t))
		var err error
		for _, e := range t {
			buf, err = appendValue(buf, e.Key)
			if err != nil {
				return nil, err
			}
			buf, err = appendValue(buf, e.Value)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil

	case Record:
		return appendRecord(buf, t)

	case DateTime:
		buf = append(buf, byte(TagDatetime))
		return appendLenPrefixed(buf, []byte(time.Time(t).UTC().Format(time.RFC3339Nano))), nil

	case Date:
		buf = append(buf, byte(TagDate))
		return appendLenPrefixed(buf, []byte(time.Time(t).Format("2006-01-02"))), nil

	case TimeOfDay:
		buf = append(buf, byte(TagTime))
		return appendLenPrefixed(buf, []byte(time.Time(t).Format("15:04:05.999999999"))), nil

	case Duration:
		buf = append(buf, byte(TagDuration))
		return appendFloat64(buf, time.Duration(t).Seconds()), nil

	case Decimal:
		buf = append(buf, byte(TagDecimal))
		return appendLenPrefixed(buf, []byte(decimal.Decimal(t).String())), nil

	case Complex:
		buf = append(buf, byte(TagComplex))
		c := complex128(t)
		buf = appendFloat64(buf, real(c))
		buf = appendFloat64(buf, imag(c))
		return buf, nil

	case UUID:
		buf = append(buf, byte(TagUUID))
		return append(buf, t[:]...), nil

	case Enum:
		buf = append(buf, byte(TagEnum))
		buf = appendLenPrefixed(buf, []byte(t.TypeName))
		buf = appendLenPrefixed(buf, []byte(t.Member))
		return buf, nil

	default:
		return nil, serializationErrorf("unencodable value of type %T", v)
	}
}

func appendSequence(buf []byte, tag Tag, items []Value) ([]byte, error) {
	buf = append(buf, byte(tag))
	buf = appendLen(buf, len(items))
	var err error
	for _, item := range items {
		buf, err = appendValue(buf, item)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendRecord(buf []byte, r Record) ([]byte, error) {
	buf = append(buf, byte(TagRecord))
	buf = appendLenPrefixed(buf, []byte(r.TypeName))
	buf = appendLen(buf, len(r.Fields))
	var err error
	for _, f := range r.Fields {
		buf = appendLenPrefixed(buf, []byte(f.Name))
		buf, err = appendValue(buf, f.Value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

var int64Min = big.NewInt(math.MinInt64)
var int64Max = big.NewInt(math.MaxInt64)

func appendInt(buf []byte, i Int) ([]byte, error) {
	v := i.v
	if v == nil {
		return nil, serializationErrorf("nil Int")
	}
	if v.Cmp(int64Min) >= 0 && v.Cmp(int64Max) <= 0 {
		n := v.Int64()
		if n < 0 {
			buf = append(buf, byte(TagIntNeg))
		} else {
			buf = append(buf, byte(TagIntNonNeg))
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(n))
		return append(buf, tmp[:]...), nil
	}

	neg := v.Sign() < 0
	mag := new(big.Int).Abs(v)
	magBytes := mag.Bytes()
	if neg {
		buf = append(buf, byte(TagIntBigNeg))
	} else {
		buf = append(buf, byte(TagIntBigNonNeg))
	}
	return appendLenPrefixed(buf, magBytes), nil
}

func appendLen(buf []byte, n int) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n))
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendLen(buf, len(data))
	return append(buf, data...)
}

func appendFloat64(buf []byte, f float64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
	return append(buf, tmp[:]...)
}
