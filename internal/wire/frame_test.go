package wire

import "testing"

func TestPackParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cid     int64
		payload []byte
	}{
		{name: "empty", cid: 0, payload: nil},
		{name: "small", cid: 7, payload: []byte{0x02, 0x03, 0x10, 'A', 'B', 'C'}},
		{name: "mtu", cid: -42, payload: make([]byte, MTU)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.cid, tt.payload)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if packed[0] != STX || packed[len(packed)-1] != ETX {
				t.Fatalf("packed frame not bracketed by STX/ETX: %x", packed)
			}
			unstuffed := Unstuff(packed[1 : len(packed)-1])
			f, err := Parse(unstuffed)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if f.ChannelID != tt.cid {
				t.Errorf("ChannelID = %d, want %d", f.ChannelID, tt.cid)
			}
			if len(f.Payload) != len(tt.payload) {
				t.Fatalf("len(Payload) = %d, want %d", len(f.Payload), len(tt.payload))
			}
			for i := range tt.payload {
				if f.Payload[i] != tt.payload[i] {
					t.Fatalf("Payload[%d] = %x, want %x", i, f.Payload[i], tt.payload[i])
				}
			}
		})
	}
}

func TestScenarioS1(t *testing.T) {
	// cid=7, payload={STX, ETX, DLE, 'A', 'B', 'C'}: the header (cid=7,
	// length=6, both little-endian i64) contains no byte that needs
	// stuffing, so only the payload's leading STX/ETX/DLE bytes are
	// escaped.
	payload := []byte{0x02, 0x03, 0x10, 'A', 'B', 'C'}
	packed, err := Pack(7, payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	want := []byte{
		0x02,                                           // STX
		0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // cid = 7
		0x06, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // length = 6
		0x10, 0xFD, // stuffed STX (0x02 ^ 0xFF)
		0x10, 0xFC, // stuffed ETX (0x03 ^ 0xFF)
		0x10, 0xEF, // stuffed DLE (0x10 ^ 0xFF)
		'A', 'B', 'C',
		0x03, // ETX
	}
	if len(packed) != len(want) {
		t.Fatalf("len(packed) = %d, want %d (%x)", len(packed), len(want), packed)
	}
	for i := range want {
		if packed[i] != want[i] {
			t.Fatalf("packed[%d] = %#x, want %#x (full: %x)", i, packed[i], want[i], packed)
		}
	}

	unstuffed := Unstuff(packed[1 : len(packed)-1])
	f, err := Parse(unstuffed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.ChannelID != 7 {
		t.Fatalf("ChannelID = %d, want 7", f.ChannelID)
	}
	for i, b := range payload {
		if f.Payload[i] != b {
			t.Fatalf("Payload[%d] = %x, want %x", i, f.Payload[i], b)
		}
	}
}

func TestStuffingTransparency(t *testing.T) {
	src := []byte{STX, ETX, DLE, 0x00, 0xFF, STX, DLE, ETX}
	stuffed := Stuff(src)
	for _, b := range stuffed {
		if b == STX || b == ETX {
			t.Fatalf("stuffed form still contains an unescaped delimiter: %x", stuffed)
		}
	}
	back := Unstuff(stuffed)
	if len(back) != len(src) {
		t.Fatalf("len(Unstuff) = %d, want %d", len(back), len(src))
	}
	for i := range src {
		if back[i] != src[i] {
			t.Fatalf("Unstuff[%d] = %x, want %x", i, back[i], src[i])
		}
	}
}

func TestUnstuffTrailingDLEIsDiscarded(t *testing.T) {
	back := Unstuff([]byte{'a', 'b', DLE})
	if string(back) != "ab" {
		t.Fatalf("got %q, want %q", back, "ab")
	}
}

func TestParseTruncated(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
	body, _ := Build(1, []byte("hello"))
	if _, err := Parse(body[:len(body)-2]); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestBuildRejectsOverMTU(t *testing.T) {
	if _, err := Build(1, make([]byte, MTU+1)); err == nil {
		t.Fatal("expected error for payload exceeding MTU")
	}
}
