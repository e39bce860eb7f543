package tpm

import (
	"strconv"

	"github.com/google/uuid"
)

// Tag identifies the wire type of a Value. The numbering is frozen by the
// wire format and must never be renumbered.
type Tag uint8

const (
	TagUnspecified Tag = 0
	TagString      Tag = 1
	TagBool        Tag = 2
	TagByteArray   Tag = 3
	TagUint8       Tag = 4
	TagInt16       Tag = 5
	TagUint16      Tag = 6
	TagInt32       Tag = 7
	TagUint32      Tag = 8
	TagInt64       Tag = 9
	TagUint64      Tag = 10
	TagFloat32     Tag = 11
	TagFloat64     Tag = 12
	TagDecimal     Tag = 13
	TagMap         Tag = 14
	TagGUID        Tag = 15
)

func (t Tag) String() string {
	switch t {
	case TagUnspecified:
		return "Unspecified"
	case TagString:
		return "String"
	case TagBool:
		return "Bool"
	case TagByteArray:
		return "ByteArray"
	case TagUint8:
		return "Uint8"
	case TagInt16:
		return "Int16"
	case TagUint16:
		return "Uint16"
	case TagInt32:
		return "Int32"
	case TagUint32:
		return "Uint32"
	case TagInt64:
		return "Int64"
	case TagUint64:
		return "Uint64"
	case TagFloat32:
		return "Float32"
	case TagFloat64:
		return "Float64"
	case TagDecimal:
		return "Decimal"
	case TagMap:
		return "Map"
	case TagGUID:
		return "GUID"
	default:
		return "Unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Value is a tagged union over the frozen value-tag table. It never exposes
// a bare interface{} at the public edge; construct one with the *Value
// helpers (StringValue, Int64Value, ...) and read it back with the Map's
// typed Get* accessors.
type Value struct {
	tag   Tag
	str   string
	b     bool
	bytes []byte
	u8    uint8
	i16   int16
	u16   uint16
	i32   int32
	u32   uint32
	i64   int64
	u64   uint64
	f32   float32
	f64   float64
	dec   Decimal
	guid  uuid.UUID
	m     *Map
}

// Tag reports the value's wire tag.
func (v Value) Tag() Tag { return v.tag }

func StringValue(s string) Value    { return Value{tag: TagString, str: s} }
func BoolValue(b bool) Value        { return Value{tag: TagBool, b: b} }
func BytesValue(b []byte) Value     { return Value{tag: TagByteArray, bytes: append([]byte(nil), b...)} }
func Uint8Value(v uint8) Value      { return Value{tag: TagUint8, u8: v} }
func Int16Value(v int16) Value      { return Value{tag: TagInt16, i16: v} }
func Uint16Value(v uint16) Value    { return Value{tag: TagUint16, u16: v} }
func Int32Value(v int32) Value      { return Value{tag: TagInt32, i32: v} }
func Uint32Value(v uint32) Value    { return Value{tag: TagUint32, u32: v} }
func Int64Value(v int64) Value      { return Value{tag: TagInt64, i64: v} }
func Uint64Value(v uint64) Value    { return Value{tag: TagUint64, u64: v} }
func Float32Value(v float32) Value  { return Value{tag: TagFloat32, f32: v} }
func Float64Value(v float64) Value  { return Value{tag: TagFloat64, f64: v} }
func DecimalValue(d Decimal) Value  { return Value{tag: TagDecimal, dec: d} }
func GUIDValue(g uuid.UUID) Value   { return Value{tag: TagGUID, guid: g} }
func MapValue(m *Map) Value         { return Value{tag: TagMap, m: m} }

// clone returns a deep copy of v; nested maps are cloned recursively.
func (v Value) clone() Value {
	cp := v
	if v.bytes != nil {
		cp.bytes = append([]byte(nil), v.bytes...)
	}
	if v.tag == TagMap && v.m != nil {
		cp.m = v.m.Clone()
	}
	return cp
}

// asInt64 performs the best-effort lexical coercion described in spec §4.1:
// any integer-family tag converts directly; String attempts strconv.ParseInt.
func (v Value) asInt64() (int64, bool) {
	switch v.tag {
	case TagUint8:
		return int64(v.u8), true
	case TagInt16:
		return int64(v.i16), true
	case TagUint16:
		return int64(v.u16), true
	case TagInt32:
		return int64(v.i32), true
	case TagUint32:
		return int64(v.u32), true
	case TagInt64:
		return v.i64, true
	case TagUint64:
		return int64(v.u64), true
	case TagString:
		n, err := strconv.ParseInt(v.str, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v Value) asUint64() (uint64, bool) {
	switch v.tag {
	case TagUint8:
		return uint64(v.u8), true
	case TagInt16:
		return uint64(v.i16), true
	case TagUint16:
		return uint64(v.u16), true
	case TagInt32:
		return uint64(v.i32), true
	case TagUint32:
		return uint64(v.u32), true
	case TagInt64:
		return uint64(v.i64), true
	case TagUint64:
		return v.u64, true
	case TagString:
		n, err := strconv.ParseUint(v.str, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v Value) asFloat64() (float64, bool) {
	switch v.tag {
	case TagFloat32:
		return float64(v.f32), true
	case TagFloat64:
		return v.f64, true
	case TagString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	default:
		if n, ok := v.asInt64(); ok {
			return float64(n), true
		}
		return 0, false
	}
}

func (v Value) asString() (string, bool) {
	switch v.tag {
	case TagString:
		return v.str, true
	case TagBool:
		return strconv.FormatBool(v.b), true
	case TagUint8:
		return strconv.FormatUint(uint64(v.u8), 10), true
	case TagInt16:
		return strconv.FormatInt(int64(v.i16), 10), true
	case TagUint16:
		return strconv.FormatUint(uint64(v.u16), 10), true
	case TagInt32:
		return strconv.FormatInt(int64(v.i32), 10), true
	case TagUint32:
		return strconv.FormatUint(uint64(v.u32), 10), true
	case TagInt64:
		return strconv.FormatInt(v.i64, 10), true
	case TagUint64:
		return strconv.FormatUint(v.u64, 10), true
	case TagFloat32:
		return strconv.FormatFloat(float64(v.f32), 'g', -1, 32), true
	case TagFloat64:
		return strconv.FormatFloat(v.f64, 'g', -1, 64), true
	case TagGUID:
		return v.guid.String(), true
	default:
		return "", false
	}
}

func (v Value) asBool() (bool, bool) {
	switch v.tag {
	case TagBool:
		return v.b, true
	case TagString:
		b, err := strconv.ParseBool(v.str)
		return b, err == nil
	default:
		if n, ok := v.asInt64(); ok {
			return n != 0, true
		}
		return false, false
	}
}
