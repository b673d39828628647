package value

import "fmt"

// Kind discriminates the declared shape a Schema describes (spec §4.9).
type Kind int

const (
	KindAny Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindUUID
	KindDateTime
	KindDate
	KindTime
	KindDuration
	KindDecimal
	KindComplex
	KindOptional // Optional-of-T / union-of-(T, null)
	KindList
	KindSet
	KindFrozenSet
	KindTuple      // fixed-arity, Elems gives each position's schema
	KindTupleOf    // tuple-of-T with ellipsis, Elem gives the repeated schema
	KindMapping    // Key/Elem give key and value schemas
	KindRecord     // Fields gives the declared field schemas
	KindEnum       // Members gives the set of legal member names
)

// Schema is a declared parameter/field/return type (spec §3
// Transaction.parameter schema, Subscription.yield schema).
type Schema struct {
	Kind     Kind
	TypeName string // qualified name for KindRecord / KindEnum
	Elem     *Schema // element schema: KindOptional/List/Set/FrozenSet/TupleOf element, or KindMapping value
	Key      *Schema // KindMapping key schema
	Elems    []Schema // KindTuple positional element schemas
	Fields   []FieldSchema
	Members  []string // KindEnum legal member names
}

// FieldSchema is one declared field of a KindRecord schema.
type FieldSchema struct {
	Name   string
	Schema Schema
}

// CoercionError reports a declared-schema mismatch (spec §4.9.3): wrong
// shape or an unknown enum member. The server reports a CoercionError from
// argument coercion as ErrorCodeInvalidArguments on the wire; one returned
// by a handler is reported like any other handler error.
type CoercionError struct {
	Path   string
	Reason string
}

func (e *CoercionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("value: cannot coerce %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("value: cannot coerce: %s", e.Reason)
}

// Coerce lifts v into the shape declared by schema, recursing into
// containers, records, and enums per spec §4.9. A nil v represents an
// absent argument; callers decide whether that's acceptable (e.g. a
// handler default) before calling Coerce, except for KindOptional, which
// explicitly accepts Null.
func Coerce(schema Schema, v Value) (Value, error) {
	return coerce(schema, v, "$")
}

func coerce(s Schema, v Value, path string) (Value, error) {
	if s.Kind == KindOptional {
		if v == nil {
			return Null{}, nil
		}
		if _, isNull := v.(Null); isNull {
			return Null{}, nil
		}
		return coerce(*s.Elem, v, path)
	}

	if v == nil {
		return nil, &CoercionError{Path: path, Reason: "missing required value"}
	}

	switch s.Kind {
	case KindAny:
		return v, nil

	case KindNull:
		if _, ok := v.(Null); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "null", v)

	case KindBool:
		if _, ok := v.(Bool); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "bool", v)

	case KindInt:
		if _, ok := v.(Int); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "int", v)

	case KindFloat:
		if _, ok := v.(Float); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "float", v)

	case KindString:
		if _, ok := v.(String); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "string", v)

	case KindBytes:
		if _, ok := v.(Bytes); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "bytes", v)

	case KindUUID:
		if _, ok := v.(UUID); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "uuid", v)

	case KindDateTime:
		if _, ok := v.(DateTime); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "datetime", v)

	case KindDate:
		if _, ok := v.(Date); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "date", v)

	case KindTime:
		if _, ok := v.(TimeOfDay); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "time", v)

	case KindDuration:
		if _, ok := v.(Duration); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "duration", v)

	case KindDecimal:
		if _, ok := v.(Decimal); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "decimal", v)

	case KindComplex:
		if _, ok := v.(Complex); ok {
			return v, nil
		}
		return nil, typeMismatch(path, "complex", v)

	case KindList:
		return coerceSequence(s, v, path, func(items []Value) Value { return List(items) })

	case KindSet:
		return coerceSequence(s, v, path, func(items []Value) Value { return Set(items) })

	case KindFrozenSet:
		return coerceSequence(s, v, path, func(items []Value) Value { return FrozenSet(items) })

	case KindTupleOf:
		return coerceSequence(s, v, path, func(items []Value) Value { return Tuple(items) })

	case KindTuple:
		return coerceFixedTuple(s, v, path)

	case KindMapping:
		return coerceMapping(s, v, path)

	case KindRecord:
		return coerceRecord(s, v, path)

	case KindEnum:
		return coerceEnum(s, v, path)

	default:
		return nil, &CoercionError{Path: path, Reason: "unsupported schema kind"}
	}
}

func typeMismatch(path, want string, got Value) error {
	return &CoercionError{Path: path, Reason: fmt.Sprintf("expected %s, got %T", want, got)}
}

func sequenceElements(v Value) ([]Value, bool) {
	switch t := v.(type) {
	case List:
		return []Value(t), true
	case Tuple:
		return []Value(t), true
	case Set:
		return []Value(t), true
	case FrozenSet:
		return []Value(t), true
	default:
		return nil, false
	}
}

func coerceSequence(s Schema, v Value, path string, wrap func([]Value) Value) (Value, error) {
	items, ok := sequenceElements(v)
	if !ok {
		return nil, typeMismatch(path, "sequence", v)
	}
	out := make([]Value, len(items))
	for i, item := range items {
		c, err := coerce(*s.Elem, item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return wrap(out), nil
}

func coerceFixedTuple(s Schema, v Value, path string) (Value, error) {
	items, ok := sequenceElements(v)
	if !ok {
		return nil, typeMismatch(path, "tuple", v)
	}
	if len(items) != len(s.Elems) {
		return nil, &CoercionError{Path: path, Reason: fmt.Sprintf("expected tuple of %d elements, got %d", len(s.Elems), len(items))}
	}
	out := make([]Value, len(items))
	for i, item := range items {
		c, err := coerce(s.Elems[i], item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return Tuple(out), nil
}

func coerceMapping(s Schema, v Value, path string) (Value, error) {
	m, ok := v.(Mapping)
	if !ok {
		return nil, typeMismatch(path, "mapping", v)
	}
	keySchema := Schema{Kind: KindAny}
	if s.Key != nil {
		keySchema = *s.Key
	}

	out := make(Mapping, 0, len(m))
	for _, e := range m {
		k, err := coerce(keySchema, e.Key, path+".key")
		if err != nil {
			return nil, err
		}
		val, err := coerce(*s.Elem, e.Value, path+"."+fmt.Sprint(e.Key))
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{Key: k, Value: val})
	}
	return out, nil
}

func coerceRecord(s Schema, v Value, path string) (Value, error) {
	var fields Mapping
	switch t := v.(type) {
	case Mapping:
		fields = t
	case Record:
		fields = RecordSentinel(t)
	default:
		return nil, typeMismatch(path, "record", v)
	}

	out := make([]RecordField, 0, len(s.Fields))
	for _, fs := range s.Fields {
		fv, present := fields.Get(fs.Name)
		if !present {
			if fs.Schema.Kind == KindOptional {
				out = append(out, RecordField{Name: fs.Name, Value: Null{}})
				continue
			}
			return nil, &CoercionError{Path: path + "." + fs.Name, Reason: "missing required field"}
		}
		cv, err := coerce(fs.Schema, fv, path+"."+fs.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, RecordField{Name: fs.Name, Value: cv})
	}
	return Record{TypeName: s.TypeName, Fields: out}, nil
}

func coerceEnum(s Schema, v Value, path string) (Value, error) {
	var member string
	switch t := v.(type) {
	case Mapping:
		typeName, m, ok := AsEnumSentinel(t)
		if !ok {
			return nil, typeMismatch(path, "enum", v)
		}
		if s.TypeName != "" && typeName != "" && typeName != s.TypeName {
			return nil, &CoercionError{Path: path, Reason: fmt.Sprintf("enum type %q does not match declared %q", typeName, s.TypeName)}
		}
		member = m
	case String:
		member = string(t)
	case Enum:
		member = t.Member
	default:
		return nil, typeMismatch(path, "enum", v)
	}

	for _, m := range s.Members {
		if m == member {
			return Enum{TypeName: s.TypeName, Member: member}, nil
		}
	}
	return nil, &CoercionError{Path: path, Reason: fmt.Sprintf("unknown enum member %q", member)}
}
