package value

import "testing"

func TestCoerceExactMatch(t *testing.T) {
	v, err := Coerce(Schema{Kind: KindInt}, NewIntFromInt64(7))
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if !Equal(v, NewIntFromInt64(7)) {
		t.Fatalf("got %#v", v)
	}
}

func TestCoerceOptionalPassesNullThrough(t *testing.T) {
	s := Schema{Kind: KindOptional, Elem: &Schema{Kind: KindString}}
	v, err := Coerce(s, Null{})
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if _, ok := v.(Null); !ok {
		t.Fatalf("got %#v, want Null", v)
	}

	v2, err := Coerce(s, String("hi"))
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if !Equal(v2, String("hi")) {
		t.Fatalf("got %#v", v2)
	}
}

func TestCoerceMissingRequiredFails(t *testing.T) {
	_, err := Coerce(Schema{Kind: KindInt}, nil)
	if _, ok := err.(*CoercionError); !ok {
		t.Fatalf("err = %v (%T), want *CoercionError", err, err)
	}
}

func TestCoerceListOfInt(t *testing.T) {
	s := Schema{Kind: KindList, Elem: &Schema{Kind: KindInt}}
	v, err := Coerce(s, List{NewIntFromInt64(1), NewIntFromInt64(2)})
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	l, ok := v.(List)
	if !ok || len(l) != 2 {
		t.Fatalf("got %#v", v)
	}
}

func TestCoerceRecordFromMapping(t *testing.T) {
	s := Schema{
		Kind:     KindRecord,
		TypeName: "Point",
		Fields: []FieldSchema{
			{Name: "x", Schema: Schema{Kind: KindInt}},
			{Name: "y", Schema: Schema{Kind: KindInt}},
		},
	}
	input := Mapping{
		{Key: String("x"), Value: NewIntFromInt64(1)},
		{Key: String("y"), Value: NewIntFromInt64(2)},
	}
	v, err := Coerce(s, input)
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	rec, ok := v.(Record)
	if !ok {
		t.Fatalf("got %T, want Record", v)
	}
	if rec.TypeName != "Point" {
		t.Fatalf("type name = %q", rec.TypeName)
	}
	xv, _ := rec.Get("x")
	if !Equal(xv, NewIntFromInt64(1)) {
		t.Fatalf("x = %#v", xv)
	}
}

func TestCoerceRecordMissingFieldFails(t *testing.T) {
	s := Schema{
		Kind: KindRecord,
		Fields: []FieldSchema{
			{Name: "x", Schema: Schema{Kind: KindInt}},
		},
	}
	_, err := Coerce(s, Mapping{})
	if _, ok := err.(*CoercionError); !ok {
		t.Fatalf("err = %v, want *CoercionError", err)
	}
}

func TestCoerceEnumFromSentinel(t *testing.T) {
	s := Schema{Kind: KindEnum, TypeName: "Color", Members: []string{"RED", "GREEN", "BLUE"}}
	v, err := Coerce(s, EnumSentinel("Color", "GREEN"))
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	e, ok := v.(Enum)
	if !ok || e.Member != "GREEN" {
		t.Fatalf("got %#v", v)
	}
}

func TestCoerceEnumUnknownMemberFails(t *testing.T) {
	s := Schema{Kind: KindEnum, TypeName: "Color", Members: []string{"RED"}}
	_, err := Coerce(s, EnumSentinel("Color", "PURPLE"))
	if _, ok := err.(*CoercionError); !ok {
		t.Fatalf("err = %v, want *CoercionError", err)
	}
}

func TestCoerceMappingKV(t *testing.T) {
	s := Schema{Kind: KindMapping, Key: &Schema{Kind: KindString}, Elem: &Schema{Kind: KindInt}}
	in := Mapping{{Key: String("a"), Value: NewIntFromInt64(1)}}
	v, err := Coerce(s, in)
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if _, ok := v.(Mapping); !ok {
		t.Fatalf("got %T", v)
	}
}
