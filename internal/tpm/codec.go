package tpm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"
)

const (
	magicHeader0 = 0xFE
	magicHeader1 = 0xEF
	magicFooter0 = 0xEF
	magicFooter1 = 0xFE
	wireVersion  = 0x01

	flagCaseInsensitive = 1 << 0
	flagReadOnly        = 1 << 1
	flagConcurrent      = 1 << 2
)

// Serialize encodes m to its binary wire form. Serialize is the last-resort
// cycle check: a graph that reaches itself (including one introduced via
// SetPath, which bypasses the Set-time check) fails here with
// ErrCycleDetected instead of recursing forever.
func Serialize(m *Map) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeMap(&buf, m, map[*Map]bool{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMap(buf *bytes.Buffer, m *Map, ancestors map[*Map]bool) error {
	if ancestors[m] {
		return ErrCycleDetected
	}
	ancestors[m] = true
	defer delete(ancestors, m)

	m.rlock()
	defer m.runlock()

	var flags byte
	if m.caseInsensitive {
		flags |= flagCaseInsensitive
	}
	if m.readOnly {
		flags |= flagReadOnly
	}
	if m.concurrent {
		flags |= flagConcurrent
	}
	buf.WriteByte(magicHeader0)
	buf.WriteByte(magicHeader1)
	buf.WriteByte(wireVersion)
	buf.WriteByte(flags)

	for _, lk := range m.order {
		e := m.entries[lk]
		if err := writeEntry(buf, e, ancestors); err != nil {
			return err
		}
	}

	buf.WriteByte(magicFooter0)
	buf.WriteByte(magicFooter1)
	return nil
}

func writeEntry(buf *bytes.Buffer, e *entry, ancestors map[*Map]bool) error {
	keyBytes := []byte(e.rawKey)
	if len(keyBytes) > MaxKeyLen {
		return ErrBoundsExceeded
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(keyBytes)))
	buf.Write(lenBuf[:])
	buf.Write(keyBytes)

	v := e.value
	buf.WriteByte(byte(v.tag))
	switch v.tag {
	case TagString:
		if len(v.str) > MaxValueLen {
			return ErrBoundsExceeded
		}
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(v.str)))
		buf.Write(lenBuf[:])
		buf.WriteString(v.str)
	case TagByteArray:
		if len(v.bytes) > MaxValueLen {
			return ErrBoundsExceeded
		}
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(v.bytes)))
		buf.Write(lenBuf[:])
		buf.Write(v.bytes)
	case TagBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TagUint8:
		buf.WriteByte(v.u8)
	case TagInt16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.i16))
		buf.Write(b[:])
	case TagUint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v.u16)
		buf.Write(b[:])
	case TagInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.i32))
		buf.Write(b[:])
	case TagUint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v.u32)
		buf.Write(b[:])
	case TagInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i64))
		buf.Write(b[:])
	case TagUint64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v.u64)
		buf.Write(b[:])
	case TagFloat32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.f32))
		buf.Write(b[:])
	case TagFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.f64))
		buf.Write(b[:])
	case TagDecimal:
		buf.Write(v.dec[:])
	case TagGUID:
		buf.Write(v.guid[:])
	case TagMap:
		if err := writeMap(buf, v.m, ancestors); err != nil {
			return err
		}
	default:
		return ErrMalformedPayload
	}
	return nil
}

// Deserialize decodes a Map from its binary wire form. It fails with
// ErrTruncated on incomplete input and ErrMalformedPayload on an unknown
// tag, bad magic, or bad version.
func Deserialize(data []byte) (*Map, error) {
	r := bytes.NewReader(data)
	m, err := readMap(r)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func readMap(r *bytes.Reader) (*Map, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, ErrTruncated
	}
	if hdr[0] != magicHeader0 || hdr[1] != magicHeader1 {
		return nil, ErrMalformedPayload
	}
	if hdr[2] != wireVersion {
		return nil, ErrMalformedPayload
	}
	flags := hdr[3]

	var opts []Option
	if flags&flagCaseInsensitive != 0 {
		opts = append(opts, WithCaseInsensitive())
	}
	if flags&flagConcurrent != 0 {
		opts = append(opts, WithConcurrent())
	}
	m := New(opts...)

	for {
		b0, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncated
		}
		if b0 == magicFooter0 {
			b1, err := r.ReadByte()
			if err != nil {
				return nil, ErrTruncated
			}
			if b1 != magicFooter1 {
				return nil, ErrMalformedPayload
			}
			break
		}
		if err := r.UnreadByte(); err != nil {
			return nil, ErrMalformedPayload
		}
		key, value, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		if len(key) > MaxKeyLen {
			return nil, ErrMalformedPayload
		}
		lk := m.normalize(key)
		if _, exists := m.entries[lk]; !exists {
			m.order = append(m.order, lk)
		}
		m.entries[lk] = &entry{rawKey: key, value: value}
	}

	if flags&flagReadOnly != 0 {
		m.readOnly = true
	}
	return m, nil
}

func readEntry(r *bytes.Reader) (string, Value, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", Value{}, ErrTruncated
	}
	klen := binary.LittleEndian.Uint16(lenBuf[:])
	if klen > MaxKeyLen {
		return "", Value{}, ErrBoundsExceeded
	}
	keyBytes := make([]byte, klen)
	if _, err := io.ReadFull(r, keyBytes); err != nil {
		return "", Value{}, ErrTruncated
	}

	tagByte, err := r.ReadByte()
	if err != nil {
		return "", Value{}, ErrTruncated
	}
	tag := Tag(tagByte)

	var v Value
	switch tag {
	case TagString:
		n, err := readU16(r)
		if err != nil {
			return "", Value{}, err
		}
		if n > MaxValueLen {
			return "", Value{}, ErrBoundsExceeded
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", Value{}, ErrTruncated
		}
		v = StringValue(string(b))
	case TagByteArray:
		n, err := readU16(r)
		if err != nil {
			return "", Value{}, err
		}
		if n > MaxValueLen {
			return "", Value{}, ErrBoundsExceeded
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", Value{}, ErrTruncated
		}
		v = BytesValue(b)
	case TagBool:
		b, err := r.ReadByte()
		if err != nil {
			return "", Value{}, ErrTruncated
		}
		v = BoolValue(b != 0)
	case TagUint8:
		b, err := r.ReadByte()
		if err != nil {
			return "", Value{}, ErrTruncated
		}
		v = Uint8Value(b)
	case TagInt16:
		n, err := readU16(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Int16Value(int16(n))
	case TagUint16:
		n, err := readU16(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Uint16Value(n)
	case TagInt32:
		n, err := readU32(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Int32Value(int32(n))
	case TagUint32:
		n, err := readU32(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Uint32Value(n)
	case TagInt64:
		n, err := readU64(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Int64Value(int64(n))
	case TagUint64:
		n, err := readU64(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Uint64Value(n)
	case TagFloat32:
		n, err := readU32(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Float32Value(math.Float32frombits(n))
	case TagFloat64:
		n, err := readU64(r)
		if err != nil {
			return "", Value{}, err
		}
		v = Float64Value(math.Float64frombits(n))
	case TagDecimal:
		var d Decimal
		if _, err := io.ReadFull(r, d[:]); err != nil {
			return "", Value{}, ErrTruncated
		}
		v = DecimalValue(d)
	case TagGUID:
		var g uuid.UUID
		if _, err := io.ReadFull(r, g[:]); err != nil {
			return "", Value{}, ErrTruncated
		}
		v = GUIDValue(g)
	case TagMap:
		nested, err := readMap(r)
		if err != nil {
			return "", Value{}, err
		}
		v = MapValue(nested)
	default:
		return "", Value{}, ErrMalformedPayload
	}

	return string(keyBytes), v, nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
