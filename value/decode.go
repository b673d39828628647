package value

import (
	"encoding/binary"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Decode parses a single value from data per spec §4.2. Without a schema,
// Enum and Record tags materialize as sentinel-marked Mapping values
// (EnumSentinel / RecordSentinel); use Coerce (schema.go) to lift them
// into concrete Enum/Record values once the declared shape is known.
func Decode(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, protocolErrorf(0, "empty input")
	}
	d := &decoder{buf: data}
	v, err := d.readValue()
	if err != nil {
		return nil, err
	}
	return v, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return protocolErrorf(d.pos, "truncated input: need %d bytes at offset %d, have %d", n, d.pos, len(d.buf)-d.pos)
	}
	return nil
}

func (d *decoder) readByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readLen() (int, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(b)), nil
}

func (d *decoder) readLenPrefixed() ([]byte, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	return d.readN(n)
}

func (d *decoder) readUint64() (uint64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) readFloat64() (float64, error) {
	u, err := d.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func (d *decoder) readValue() (Value, error) {
	tagByte, err := d.readByte()
	if err != nil {
		return nil, err
	}
	tag := Tag(tagByte)

	switch tag {
	case TagNull:
		return Null{}, nil
	case TagBoolTrue:
		return Bool(true), nil
	case TagBoolFalse:
		return Bool(false), nil
	case TagIntNonNeg, TagIntNeg:
		u, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		return NewIntFromInt64(int64(u)), nil
	case TagIntBigNonNeg, TagIntBigNeg:
		mag, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(mag)
		if tag == TagIntBigNeg {
			n.Neg(n)
		}
		return NewInt(n), nil
	case TagFloat:
		f, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case TagString:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		return String(string(b)), nil
	case TagBytes:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Bytes(out), nil
	case TagList:
		items, err := d.readSequence()
		if err != nil {
			return nil, err
		}
		return List(items), nil
	case TagTuple:
		items, err := d.readSequence()
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	case TagSet:
		items, err := d.readSequence()
		if err != nil {
			return nil, err
		}
		return Set(items), nil
	case TagFrozenSet:
		items, err := d.readSequence()
		if err != nil {
			return nil, err
		}
		return FrozenSet(items), nil
	case TagMapping:
		n, err := d.readLen()
		if err != nil {
			return nil, err
		}
		m := make(Mapping, 0, n)
		for i := 0; i < n; i++ {
			k, err := d.readValue()
			if err != nil {
				return nil, err
			}
			v, err := d.readValue()
			if err != nil {
				return nil, err
			}
			m = append(m, MapEntry{Key: k, Value: v})
		}
		return m, nil
	case TagRecord, TagRecordWithSchema:
		r, err := d.readRecord(tag)
		if err != nil {
			return nil, err
		}
		return RecordSentinel(r), nil
	case TagDatetime:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		t, perr := time.Parse(time.RFC3339Nano, string(b))
		if perr != nil {
			return nil, protocolErrorf(d.pos, "invalid datetime %q: %v", b, perr)
		}
		return DateTime(t), nil
	case TagDate:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		t, perr := time.Parse("2006-01-02", string(b))
		if perr != nil {
			return nil, protocolErrorf(d.pos, "invalid date %q: %v", b, perr)
		}
		return Date(t), nil
	case TagTime:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		t, perr := time.Parse("15:04:05.999999999", string(b))
		if perr != nil {
			return nil, protocolErrorf(d.pos, "invalid time %q: %v", b, perr)
		}
		return TimeOfDay(t), nil
	case TagDuration:
		f, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		return Duration(time.Duration(f * float64(time.Second))), nil
	case TagDecimal:
		b, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		dec, perr := decimal.NewFromString(string(b))
		if perr != nil {
			return nil, protocolErrorf(d.pos, "invalid decimal %q: %v", b, perr)
		}
		return Decimal(dec), nil
	case TagComplex:
		re, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		im, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		return Complex(complex(re, im)), nil
	case TagUUID:
		b, err := d.readN(16)
		if err != nil {
			return nil, err
		}
		u, perr := uuid.FromBytes(b)
		if perr != nil {
			return nil, protocolErrorf(d.pos, "invalid uuid: %v", perr)
		}
		return UUID(u), nil
	case TagEnum:
		typeName, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		member, err := d.readLenPrefixed()
		if err != nil {
			return nil, err
		}
		return EnumSentinel(string(typeName), string(member)), nil
	default:
		return nil, protocolErrorf(d.pos-1, "unknown tag 0x%02x", tagByte)
	}
}

func (d *decoder) readSequence() ([]Value, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// readRecord reads a record body: a length-prefixed qualified type name
// (possibly empty) followed by the field count and fields. Both TagRecord
// and TagRecordWithSchema carry the name — every record on the wire names
// its producing type, the way a serialized dataclass or Pydantic model
// always does on the Python side of this protocol.
func (d *decoder) readRecord(tag Tag) (Record, error) {
	nameBytes, err := d.readLenPrefixed()
	if err != nil {
		return Record{}, err
	}
	typeName := string(nameBytes)
	n, err := d.readLen()
	if err != nil {
		return Record{}, err
	}
	fields := make([]RecordField, 0, n)
	for i := 0; i < n; i++ {
		name, err := d.readLenPrefixed()
		if err != nil {
			return Record{}, err
		}
		v, err := d.readValue()
		if err != nil {
			return Record{}, err
		}
		fields = append(fields, RecordField{Name: string(name), Value: v})
	}
	return Record{TypeName: typeName, Fields: fields}, nil
}
