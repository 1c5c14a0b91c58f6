package packet

import "testing"

func TestRoundTrip(t *testing.T) {
	guid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	s := NewSerializer(42)
	s.AppendNull()
	s.AppendDWord(0xdeadbeef)
	s.AppendData([]byte("hello"))
	s.AppendWString("héllo")
	s.AppendGUID(guid)

	raw := s.Bytes()

	d, consumed, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if d.PacketType() != 42 {
		t.Fatalf("PacketType = %d, want 42", d.PacketType())
	}
	if d.NumFields() != 5 {
		t.Fatalf("NumFields = %d, want 5", d.NumFields())
	}

	if isNull, err := d.IsNull(0); err != nil || !isNull {
		t.Fatalf("field 0: IsNull = %v, %v", isNull, err)
	}
	if v, err := d.GetDWord(1); err != nil || v != 0xdeadbeef {
		t.Fatalf("field 1: GetDWord = %v, %v", v, err)
	}
	if v, err := d.GetData(2); err != nil || string(v) != "hello" {
		t.Fatalf("field 2: GetData = %q, %v", v, err)
	}
	if v, err := d.GetWString(3); err != nil || v != "héllo" {
		t.Fatalf("field 3: GetWString = %q, %v", v, err)
	}
	if v, err := d.GetGUID(4); err != nil || v != guid {
		t.Fatalf("field 4: GetGUID = %v, %v", v, err)
	}
}

func TestExtraBytesIgnored(t *testing.T) {
	s := NewSerializer(1)
	s.AppendDWord(7)
	raw := append(s.Bytes(), []byte{0xff, 0xff, 0xff}...)

	d, consumed, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if consumed != len(raw)-3 {
		t.Fatalf("consumed = %d, want %d", consumed, len(raw)-3)
	}
	if v, err := d.GetDWord(0); err != nil || v != 7 {
		t.Fatalf("GetDWord = %v, %v", v, err)
	}
}

func TestZeroLengthFields(t *testing.T) {
	s := NewSerializer(1)
	s.AppendData(nil)
	s.AppendWString("")
	raw := s.Bytes()

	d, _, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	data, err := d.GetData(0)
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("GetData = %v, want empty", data)
	}
	ws, err := d.GetWString(1)
	if err != nil {
		t.Fatalf("GetWString: %v", err)
	}
	if ws != "" {
		t.Fatalf("GetWString = %q, want empty", ws)
	}
}

func TestIncomplete(t *testing.T) {
	s := NewSerializer(1)
	s.AppendDWord(1)
	raw := s.Bytes()

	if _, _, err := Deserialize(raw[:len(raw)-2]); err == nil {
		t.Fatal("expected error for truncated packet")
	} else if fe, ok := err.(*FieldError); !ok || fe.Kind != ErrIncomplete {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
}

func TestMalformedFieldOverflowsOuterValue(t *testing.T) {
	// Hand-craft an outer record whose single field claims a length
	// longer than the remaining outer value.
	raw := []byte{
		1, 0, 0, 0, // type
		8, 0, 0, 0, // value_length = 8 (one empty-looking field header)
		1, 0, 0, 0, // field type = DWORD
		100, 0, 0, 0, // field length = 100, way beyond outer value
	}
	_, _, err := Deserialize(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if fe, ok := err.(*FieldError); !ok || fe.Kind != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestTypeMismatch(t *testing.T) {
	s := NewSerializer(1)
	s.AppendDWord(5)
	d, _, err := Deserialize(s.Bytes())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, err := d.GetData(0); err == nil {
		t.Fatal("expected type mismatch")
	} else if fe, ok := err.(*FieldError); !ok || fe.Kind != ErrTypeMismatch {
		t.Fatalf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestMissingField(t *testing.T) {
	s := NewSerializer(1)
	d, _, err := Deserialize(s.Bytes())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, err := d.GetDWord(0); err == nil {
		t.Fatal("expected missing field error")
	} else if fe, ok := err.(*FieldError); !ok || fe.Kind != ErrMissingField {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestMalformedDWordLength(t *testing.T) {
	raw := []byte{
		1, 0, 0, 0, // outer type
		11, 0, 0, 0, // value_length = 8 (field header) + 3 (field value)
		1, 0, 0, 0, // field type = DWORD
		3, 0, 0, 0, // field length = 3 (invalid for DWORD)
		1, 2, 3, // 3 bytes of "value"
	}
	d, _, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if _, err := d.GetDWord(0); err == nil {
		t.Fatal("expected malformed error")
	} else if fe, ok := err.(*FieldError); !ok || fe.Kind != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
