package tpm

// Decimal is the 16-byte fixed-point wire form used by the decimal value
// tag. No spec operation performs decimal arithmetic, so this type is
// byte-faithful carry-through storage plus a best-effort Int64 accessor,
// not an arbitrary-precision decimal implementation.
type Decimal [16]byte

// DecimalFromInt64 packs v into the low 8 bytes of a Decimal (little-endian),
// zeroing the remaining scale/sign bytes.
func DecimalFromInt64(v int64) Decimal {
	var d Decimal
	u := uint64(v)
	for i := 0; i < 8; i++ {
		d[i] = byte(u >> (8 * i))
	}
	return d
}

// Int64 reads back the low 8 bytes written by DecimalFromInt64.
func (d Decimal) Int64() int64 {
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(d[i]) << (8 * i)
	}
	return int64(u)
}
