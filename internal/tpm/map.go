package tpm

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// MaxKeyLen is the maximum encoded length, in UTF-8 bytes, of a key.
	MaxKeyLen = 128
	// MaxValueLen is the maximum encoded length, in bytes, of a String or
	// ByteArray value.
	MaxValueLen = 4096
)

type entry struct {
	rawKey string
	value  Value
}

// Map is the Typed Payload Map: a mapping from string keys to tagged
// values, optionally case-insensitive, optionally safe for concurrent
// mutation, and lockable into a read-only snapshot.
type Map struct {
	mu              sync.RWMutex
	caseInsensitive bool
	concurrent      bool
	readOnly        bool
	entries         map[string]*entry
	order           []string // lookup keys, insertion order
}

// Option configures a new Map.
type Option func(*Map)

// WithCaseInsensitive makes key comparisons case-insensitive.
func WithCaseInsensitive() Option {
	return func(m *Map) { m.caseInsensitive = true }
}

// WithConcurrent makes the Map safe for concurrent mutation from multiple
// goroutines without external synchronization.
func WithConcurrent() Option {
	return func(m *Map) { m.concurrent = true }
}

// New creates an empty Map with the given options applied.
func New(opts ...Option) *Map {
	m := &Map{entries: make(map[string]*entry)}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Map) normalize(key string) string {
	if m.caseInsensitive {
		return strings.ToLower(key)
	}
	return key
}

func (m *Map) lock() {
	if m.concurrent {
		m.mu.Lock()
	}
}

func (m *Map) unlock() {
	if m.concurrent {
		m.mu.Unlock()
	}
}

func (m *Map) rlock() {
	if m.concurrent {
		m.mu.RLock()
	}
}

func (m *Map) runlock() {
	if m.concurrent {
		m.mu.RUnlock()
	}
}

func validateKey(key string) error {
	if key == "" || len(key) > MaxKeyLen {
		return ErrInvalidKey
	}
	if strings.IndexByte(key, 0) >= 0 {
		return ErrInvalidKey
	}
	return nil
}

func validateValue(v Value) error {
	switch v.tag {
	case TagString:
		if len(v.str) > MaxValueLen {
			return ErrBoundsExceeded
		}
	case TagByteArray:
		if len(v.bytes) > MaxValueLen {
			return ErrBoundsExceeded
		}
	}
	return nil
}

// Set inserts or replaces the value at key. Nesting a Map value is checked
// against reference cycles: direct self-nesting is rejected, and the
// candidate's descendants are scanned for any reference back to m.
func (m *Map) Set(key string, v Value) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(v); err != nil {
		return err
	}
	if v.tag == TagMap {
		if err := checkNoCycle(m, v.m); err != nil {
			return err
		}
	}

	m.lock()
	defer m.unlock()
	if m.readOnly {
		return ErrReadOnlyViolation
	}
	lk := m.normalize(key)
	if _, exists := m.entries[lk]; !exists {
		m.order = append(m.order, lk)
	}
	m.entries[lk] = &entry{rawKey: key, value: v}
	return nil
}

// checkNoCycle rejects direct self-nesting (child == parent) and scans
// child's descendant maps for any reference back to parent.
func checkNoCycle(parent, child *Map) error {
	if child == nil {
		return nil
	}
	if child == parent {
		return ErrCycleDetected
	}
	return dfsFindRef(child, parent, map[*Map]bool{})
}

func dfsFindRef(node, target *Map, visited map[*Map]bool) error {
	if visited[node] {
		return nil
	}
	visited[node] = true
	node.rlock()
	defer node.runlock()
	for _, lk := range node.order {
		e, ok := node.entries[lk]
		if !ok || e.value.tag != TagMap || e.value.m == nil {
			continue
		}
		if e.value.m == target {
			return ErrCycleDetected
		}
		if err := dfsFindRef(e.value.m, target, visited); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes key if present. It is a no-op if key is absent.
func (m *Map) Delete(key string) error {
	m.lock()
	defer m.unlock()
	if m.readOnly {
		return ErrReadOnlyViolation
	}
	lk := m.normalize(key)
	if _, ok := m.entries[lk]; !ok {
		return nil
	}
	delete(m.entries, lk)
	for i, k := range m.order {
		if k == lk {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Map) get(key string) (Value, bool) {
	m.rlock()
	defer m.runlock()
	e, ok := m.entries[m.normalize(key)]
	if !ok {
		return Value{}, false
	}
	return e.value, true
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.get(key)
	return ok
}

// Keys returns the raw (original-case) keys in insertion order.
func (m *Map) Keys() []string {
	m.rlock()
	defer m.runlock()
	out := make([]string, 0, len(m.order))
	for _, lk := range m.order {
		out = append(out, m.entries[lk].rawKey)
	}
	return out
}

// Len returns the number of entries.
func (m *Map) Len() int {
	m.rlock()
	defer m.runlock()
	return len(m.order)
}

// Lock makes the map read-only. Idempotent.
func (m *Map) Lock() {
	m.lock()
	defer m.unlock()
	m.readOnly = true
}

// IsReadOnly reports whether the map has been locked.
func (m *Map) IsReadOnly() bool {
	m.rlock()
	defer m.runlock()
	return m.readOnly
}

// Clone performs a deep copy, including nested maps. The clone is always
// writable regardless of m's read-only state.
func (m *Map) Clone() *Map {
	m.rlock()
	defer m.runlock()
	cp := &Map{
		caseInsensitive: m.caseInsensitive,
		concurrent:      m.concurrent,
		entries:         make(map[string]*entry, len(m.entries)),
		order:           append([]string(nil), m.order...),
	}
	for lk, e := range m.entries {
		cp.entries[lk] = &entry{rawKey: e.rawKey, value: e.value.clone()}
	}
	return cp
}

// GetValue returns the raw tagged Value for key.
func (m *Map) GetValue(key string) (Value, error) {
	v, ok := m.get(key)
	if !ok {
		return Value{}, ErrKeyNotFound
	}
	return v, nil
}

func (m *Map) GetString(key string) (string, error) {
	v, ok := m.get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	s, ok := v.asString()
	if !ok {
		return "", ErrTypeMismatch
	}
	return s, nil
}

func (m *Map) GetBool(key string) (bool, error) {
	v, ok := m.get(key)
	if !ok {
		return false, ErrKeyNotFound
	}
	b, ok := v.asBool()
	if !ok {
		return false, ErrTypeMismatch
	}
	return b, nil
}

func (m *Map) GetBytes(key string) ([]byte, error) {
	v, ok := m.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	if v.tag != TagByteArray {
		return nil, ErrTypeMismatch
	}
	return append([]byte(nil), v.bytes...), nil
}

func (m *Map) GetUint8(key string) (uint8, error) {
	n, err := m.getInt64(key)
	return uint8(n), err
}

func (m *Map) GetInt16(key string) (int16, error) {
	n, err := m.getInt64(key)
	return int16(n), err
}

func (m *Map) GetUint16(key string) (uint16, error) {
	n, err := m.getInt64(key)
	return uint16(n), err
}

func (m *Map) GetInt32(key string) (int32, error) {
	n, err := m.getInt64(key)
	return int32(n), err
}

func (m *Map) GetUint32(key string) (uint32, error) {
	n, err := m.getInt64(key)
	return uint32(n), err
}

func (m *Map) GetInt64(key string) (int64, error) {
	return m.getInt64(key)
}

func (m *Map) getInt64(key string) (int64, error) {
	v, ok := m.get(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	n, ok := v.asInt64()
	if !ok {
		return 0, ErrTypeMismatch
	}
	return n, nil
}

func (m *Map) GetUint64(key string) (uint64, error) {
	v, ok := m.get(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	n, ok := v.asUint64()
	if !ok {
		return 0, ErrTypeMismatch
	}
	return n, nil
}

func (m *Map) GetFloat32(key string) (float32, error) {
	f, err := m.getFloat64(key)
	return float32(f), err
}

func (m *Map) GetFloat64(key string) (float64, error) {
	return m.getFloat64(key)
}

func (m *Map) getFloat64(key string) (float64, error) {
	v, ok := m.get(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	f, ok := v.asFloat64()
	if !ok {
		return 0, ErrTypeMismatch
	}
	return f, nil
}

func (m *Map) GetDecimal(key string) (Decimal, error) {
	v, ok := m.get(key)
	if !ok {
		return Decimal{}, ErrKeyNotFound
	}
	if v.tag != TagDecimal {
		return Decimal{}, ErrTypeMismatch
	}
	return v.dec, nil
}

func (m *Map) GetGUID(key string) (uuid.UUID, error) {
	v, ok := m.get(key)
	if !ok {
		return uuid.Nil, ErrKeyNotFound
	}
	if v.tag != TagGUID {
		return uuid.Nil, ErrTypeMismatch
	}
	return v.guid, nil
}

func (m *Map) GetMap(key string) (*Map, error) {
	v, ok := m.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	if v.tag != TagMap {
		return nil, ErrTypeMismatch
	}
	return v.m, nil
}
