package tpm

import (
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	m := New()
	if err := m.Set("n", Int32Value(-456789)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set("s", StringValue("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := m.GetInt32("n")
	if err != nil || n != -456789 {
		t.Fatalf("GetInt32 = %d, %v", n, err)
	}
	s, err := m.GetString("s")
	if err != nil || s != "hello" {
		t.Fatalf("GetString = %q, %v", s, err)
	}
}

func TestCaseInsensitive(t *testing.T) {
	m := New(WithCaseInsensitive())
	if err := m.Set("Cmd", Uint8Value(1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := m.GetUint8("cMD")
	if err != nil || v != 1 {
		t.Fatalf("GetUint8 = %d, %v", v, err)
	}
}

func TestLexicalCoercion(t *testing.T) {
	m := New()
	if err := m.Set("port", StringValue("8080")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := m.GetInt32("port")
	if err != nil || n != 8080 {
		t.Fatalf("GetInt32 = %d, %v", n, err)
	}
}

func TestReadOnlyLock(t *testing.T) {
	m := New()
	_ = m.Set("k", BoolValue(true))
	m.Lock()

	if err := m.Set("k2", BoolValue(false)); err != ErrReadOnlyViolation {
		t.Errorf("Set on locked map = %v, want ErrReadOnlyViolation", err)
	}
	if err := m.Delete("k"); err != ErrReadOnlyViolation {
		t.Errorf("Delete on locked map = %v, want ErrReadOnlyViolation", err)
	}
	if err := m.SetPath("a.b", Int64Value(1), ""); err != ErrReadOnlyViolation {
		t.Errorf("SetPath on locked map = %v, want ErrReadOnlyViolation", err)
	}
	if err := m.DeletePath("k", ""); err != ErrReadOnlyViolation {
		t.Errorf("DeletePath on locked map = %v, want ErrReadOnlyViolation", err)
	}
}

func TestDirectSelfNestRejected(t *testing.T) {
	a := New()
	if err := a.Set("self", MapValue(a)); err != ErrCycleDetected {
		t.Fatalf("Set direct self-nest = %v, want ErrCycleDetected", err)
	}
}

func TestTransitiveCycleRejectedAtSet(t *testing.T) {
	a, b, c := New(), New(), New()
	if err := a.Set("b", MapValue(b)); err != nil {
		t.Fatalf("a.Set(b): %v", err)
	}
	if err := b.Set("c", MapValue(c)); err != nil {
		t.Fatalf("b.Set(c): %v", err)
	}
	if err := c.Set("a", MapValue(a)); err != ErrCycleDetected {
		t.Fatalf("c.Set(a) = %v, want ErrCycleDetected", err)
	}
}

func TestCycleViaSetPathCaughtAtSerialize(t *testing.T) {
	a, b, c := New(), New(), New()
	if err := a.SetPath("b", MapValue(b), ""); err != nil {
		t.Fatalf("a.SetPath(b): %v", err)
	}
	if err := b.SetPath("c", MapValue(c), ""); err != nil {
		t.Fatalf("b.SetPath(c): %v", err)
	}
	// SetPath does not perform the cycle check.
	if err := c.SetPath("a", MapValue(a), ""); err != nil {
		t.Fatalf("c.SetPath(a) unexpectedly failed: %v", err)
	}
	if _, err := Serialize(a); err != ErrCycleDetected {
		t.Fatalf("Serialize = %v, want ErrCycleDetected", err)
	}
}

func TestSetPathCreatesIntermediates(t *testing.T) {
	m := New()
	if err := m.SetPath("a.b.c", StringValue("leaf"), ""); err != nil {
		t.Fatalf("SetPath: %v", err)
	}
	v, err := m.GetPathValue("a.b.c", "")
	if err != nil {
		t.Fatalf("GetPathValue: %v", err)
	}
	s, ok := v.asString()
	if !ok || s != "leaf" {
		t.Fatalf("leaf value = %q, %v", s, ok)
	}
}

func TestClone(t *testing.T) {
	inner := New()
	_ = inner.Set("x", Int64Value(5))
	outer := New()
	_ = outer.Set("inner", MapValue(inner))
	outer.Lock()

	cp := outer.Clone()
	if cp.IsReadOnly() {
		t.Fatal("Clone of a locked map should be writable")
	}
	if err := cp.Set("y", BoolValue(true)); err != nil {
		t.Fatalf("Set on clone: %v", err)
	}
	innerCp, err := cp.GetMap("inner")
	if err != nil {
		t.Fatalf("GetMap: %v", err)
	}
	if innerCp == inner {
		t.Fatal("Clone must deep-copy nested maps")
	}
}

func TestKeyAndValueBounds(t *testing.T) {
	m := New()
	longKey := make([]byte, MaxKeyLen+1)
	if err := m.Set(string(longKey), BoolValue(true)); err != ErrInvalidKey {
		t.Errorf("Set with oversized key = %v, want ErrInvalidKey", err)
	}
	bigStr := string(make([]byte, MaxValueLen+1))
	if err := m.Set("s", StringValue(bigStr)); err != ErrBoundsExceeded {
		t.Errorf("Set with oversized string = %v, want ErrBoundsExceeded", err)
	}
}

func TestConcurrentMapIsSafe(t *testing.T) {
	m := New(WithConcurrent())
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			_ = m.Set("k", Int64Value(int64(i)))
			_, _ = m.GetInt64("k")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
