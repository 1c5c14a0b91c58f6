// Package packet implements the self-describing, type-tagged TLV record
// format used for both the TCP and UDP payloads of the session protocol.
//
// Wire layout (all integers little-endian):
//
//	u32 type
//	u32 value_length
//	byte[value_length] value
//
// value is itself a concatenation of field records of the same shape.
// This mirrors original_source/src/packet.cpp's TLVChunk layout; unlike
// the C++ PacketSerialiser/PacketDeserialiser pair (which throws
// exceptions), Deserialize returns a sum-typed error via FieldError.
package packet

import (
	"encoding/binary"
	"unicode/utf16"
)

// FieldType tags the shape of a field's value.
type FieldType uint32

const (
	FieldNull    FieldType = 0
	FieldDWord   FieldType = 1
	FieldData    FieldType = 2
	FieldWString FieldType = 3
	FieldGUID    FieldType = 4
)

const headerSize = 8 // u32 type + u32 value_length

// field is one decoded {type, length, bytes} chunk.
type field struct {
	typ   FieldType
	value []byte
}

// Serializer builds one outer packet record out of field appends. The zero
// value is not usable; use NewSerializer.
type Serializer struct {
	msgType uint32
	buf     []byte
}

// NewSerializer starts a new packet of the given outer message type.
func NewSerializer(msgType uint32) *Serializer {
	return &Serializer{msgType: msgType}
}

func (s *Serializer) appendField(typ FieldType, value []byte) {
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(typ))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(value)))
	s.buf = append(s.buf, hdr...)
	s.buf = append(s.buf, value...)
}

// AppendNull appends a zero-length NULL field.
func (s *Serializer) AppendNull() *Serializer {
	s.appendField(FieldNull, nil)
	return s
}

// AppendDWord appends a 4-byte little-endian integer field.
func (s *Serializer) AppendDWord(v uint32) *Serializer {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	s.appendField(FieldDWord, b)
	return s
}

// AppendData appends an opaque byte-slice field. A nil or empty slice
// produces a valid zero-length DATA field.
func (s *Serializer) AppendData(v []byte) *Serializer {
	s.appendField(FieldData, v)
	return s
}

// AppendWString appends a UTF-16LE field with no trailing NUL. The empty
// string produces a valid zero-length WSTRING field.
func (s *Serializer) AppendWString(v string) *Serializer {
	units := utf16.Encode([]rune(v))
	b := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], u)
	}
	s.appendField(FieldWString, b)
	return s
}

// AppendGUID appends a 16-byte opaque field.
func (s *Serializer) AppendGUID(v [16]byte) *Serializer {
	s.appendField(FieldGUID, v[:])
	return s
}

// Bytes returns the fully serialized outer packet: header + accumulated
// field bytes.
func (s *Serializer) Bytes() []byte {
	out := make([]byte, headerSize+len(s.buf))
	binary.LittleEndian.PutUint32(out[0:4], s.msgType)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(s.buf)))
	copy(out[headerSize:], s.buf)
	return out
}

// FieldErrorKind distinguishes the ways a Deserialize/getter call can fail.
type FieldErrorKind int

const (
	// ErrIncomplete means header or value bytes are missing from the
	// buffer (more data is expected to arrive on the stream).
	ErrIncomplete FieldErrorKind = iota
	// ErrMalformed means a field doesn't fit inside the outer value, or
	// its length contradicts its declared type.
	ErrMalformed
	// ErrMissingField means the requested field index is >= num fields.
	ErrMissingField
	// ErrTypeMismatch means the getter doesn't match the field's tag.
	ErrTypeMismatch
)

func (k FieldErrorKind) String() string {
	switch k {
	case ErrIncomplete:
		return "INCOMPLETE"
	case ErrMalformed:
		return "MALFORMED"
	case ErrMissingField:
		return "MISSING_FIELD"
	case ErrTypeMismatch:
		return "TYPE_MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// FieldError is returned by Deserialize and every Deserializer getter.
type FieldError struct {
	Kind FieldErrorKind
	Msg  string
}

func (e *FieldError) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func fieldErr(kind FieldErrorKind, msg string) error {
	return &FieldError{Kind: kind, Msg: msg}
}

// Deserializer provides 0-based indexed access to the fields of one
// decoded outer packet.
type Deserializer struct {
	msgType uint32
	fields  []field
}

// Deserialize parses buf as one outer packet record. Extra bytes after the
// declared outer value are permitted and ignored, which supports implicit
// message framing on a stream transport (the caller re-slices buf past
// headerSize+valueLength to find the next packet).
func Deserialize(buf []byte) (*Deserializer, int, error) {
	if len(buf) < headerSize {
		return nil, 0, fieldErr(ErrIncomplete, "short packet header")
	}

	msgType := binary.LittleEndian.Uint32(buf[0:4])
	valueLength := binary.LittleEndian.Uint32(buf[4:8])

	total := headerSize + int(valueLength)
	if len(buf) < total {
		return nil, 0, fieldErr(ErrIncomplete, "packet value not fully buffered")
	}

	value := buf[headerSize:total]

	var fields []field
	remain := value
	for len(remain) > 0 {
		if len(remain) < headerSize {
			return nil, 0, fieldErr(ErrMalformed, "field header doesn't fit inside outer value")
		}
		ftyp := FieldType(binary.LittleEndian.Uint32(remain[0:4]))
		flen := binary.LittleEndian.Uint32(remain[4:8])

		if uint32(len(remain)-headerSize) < flen {
			return nil, 0, fieldErr(ErrMalformed, "field value doesn't fit inside outer value")
		}

		fields = append(fields, field{typ: ftyp, value: remain[headerSize : headerSize+int(flen)]})
		remain = remain[headerSize+int(flen):]
	}

	return &Deserializer{msgType: msgType, fields: fields}, total, nil
}

// PacketType returns the outer message type.
func (d *Deserializer) PacketType() uint32 {
	return d.msgType
}

// NumFields returns the number of decoded fields.
func (d *Deserializer) NumFields() int {
	return len(d.fields)
}

func (d *Deserializer) field(index int) (*field, error) {
	if index < 0 || index >= len(d.fields) {
		return nil, fieldErr(ErrMissingField, "field index out of range")
	}
	return &d.fields[index], nil
}

// IsNull reports whether field index is present and tagged NULL.
func (d *Deserializer) IsNull(index int) (bool, error) {
	f, err := d.field(index)
	if err != nil {
		return false, err
	}
	return f.typ == FieldNull, nil
}

// GetDWord decodes field index as a 4-byte little-endian integer.
func (d *Deserializer) GetDWord(index int) (uint32, error) {
	f, err := d.field(index)
	if err != nil {
		return 0, err
	}
	if f.typ != FieldDWord {
		return 0, fieldErr(ErrTypeMismatch, "field is not a DWORD")
	}
	if len(f.value) != 4 {
		return 0, fieldErr(ErrMalformed, "DWORD field length != 4")
	}
	return binary.LittleEndian.Uint32(f.value), nil
}

// GetData decodes field index as an opaque byte slice. A zero-length DATA
// field returns a non-nil empty slice.
func (d *Deserializer) GetData(index int) ([]byte, error) {
	f, err := d.field(index)
	if err != nil {
		return nil, err
	}
	if f.typ != FieldData {
		return nil, fieldErr(ErrTypeMismatch, "field is not DATA")
	}
	out := make([]byte, len(f.value))
	copy(out, f.value)
	return out, nil
}

// GetWString decodes field index as a UTF-16LE string with no trailing
// NUL. A zero-length WSTRING field returns the empty string.
func (d *Deserializer) GetWString(index int) (string, error) {
	f, err := d.field(index)
	if err != nil {
		return "", err
	}
	if f.typ != FieldWString {
		return "", fieldErr(ErrTypeMismatch, "field is not WSTRING")
	}
	if len(f.value)%2 != 0 {
		return "", fieldErr(ErrMalformed, "WSTRING length not a multiple of 2")
	}
	units := make([]uint16, len(f.value)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(f.value[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

// GetGUID decodes field index as a 16-byte opaque value.
func (d *Deserializer) GetGUID(index int) ([16]byte, error) {
	var out [16]byte
	f, err := d.field(index)
	if err != nil {
		return out, err
	}
	if f.typ != FieldGUID {
		return out, fieldErr(ErrTypeMismatch, "field is not GUID")
	}
	if len(f.value) != 16 {
		return out, fieldErr(ErrMalformed, "GUID field length != 16")
	}
	copy(out[:], f.value)
	return out, nil
}
