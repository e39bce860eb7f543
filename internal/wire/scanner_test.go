package wire

import (
	"bytes"
	"testing"
)

func TestScannerResyncAcrossJunk(t *testing.T) {
	f1, err := Pack(1, []byte("hello"))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	f2, err := Pack(2, []byte("world"))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	var stream []byte
	stream = append(stream, []byte("\x01\x05junk-before")...)
	stream = append(stream, f1...)
	stream = append(stream, []byte("garbage-not-a-frame")...)
	stream = append(stream, f2...)

	s := NewScanner()
	got := s.Feed(stream)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	check := func(i int, cid int64, payload string) {
		f, err := Parse(Unstuff(got[i]))
		if err != nil {
			t.Fatalf("frame %d: Parse: %v", i, err)
		}
		if f.ChannelID != cid {
			t.Errorf("frame %d: ChannelID = %d, want %d", i, f.ChannelID, cid)
		}
		if !bytes.Equal(f.Payload, []byte(payload)) {
			t.Errorf("frame %d: Payload = %q, want %q", i, f.Payload, payload)
		}
	}
	check(0, 1, "hello")
	check(1, 2, "world")
}

func TestScannerSplitAcrossFeeds(t *testing.T) {
	f1, _ := Pack(9, []byte("abc"))
	s := NewScanner()
	mid := len(f1) / 2
	if got := s.Feed(f1[:mid]); len(got) != 0 {
		t.Fatalf("got %d frames before complete, want 0", len(got))
	}
	got := s.Feed(f1[mid:])
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	f, err := Parse(Unstuff(got[0]))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.ChannelID != 9 || !bytes.Equal(f.Payload, []byte("abc")) {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestScannerNoSTXConsumesEverything(t *testing.T) {
	s := NewScanner()
	got := s.Feed([]byte("no delimiters here"))
	if len(got) != 0 {
		t.Fatalf("got %d frames, want 0", len(got))
	}
	if len(s.buf) != 0 {
		t.Fatalf("scanner retained %d bytes with no STX seen", len(s.buf))
	}
}

func TestScannerEscapedETXDoesNotTerminate(t *testing.T) {
	// A payload containing a literal ETX byte must stuff it; the scanner
	// must not treat the escaped occurrence as the frame terminator.
	f, _ := Pack(3, []byte{ETX, ETX, ETX})
	s := NewScanner()
	got := s.Feed(f)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	parsed, err := Parse(Unstuff(got[0]))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(parsed.Payload, []byte{ETX, ETX, ETX}) {
		t.Fatalf("Payload = %x, want 3 ETX bytes", parsed.Payload)
	}
}
