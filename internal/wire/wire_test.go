package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecode(t *testing.T, b []byte) Parked {
	t.Helper()
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return p
}

func TestParkedRoundTripKeepsEpochKeyAndPayload(t *testing.T) {
	cases := []Parked{
		{Epoch: 0, Key: "posts", Payload: nil},
		{Epoch: 42, Key: "posts?user=u1", Payload: []byte(`{"pages":[]}`)},
		{Epoch: math.MaxUint64, Key: "k", Payload: []byte{0, 1, 2, 3}},
	}
	for _, tc := range cases {
		got := mustDecode(t, Encode(tc))
		if got.Epoch != tc.Epoch || got.Key != tc.Key {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	enc := Encode(Parked{Epoch: 7, Key: "posts", Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestDecodeRejectsCorruptHeaders(t *testing.T) {
	enc := Encode(Parked{Epoch: 1, Key: "posts", Payload: []byte("abc")})

	bad := append([]byte(nil), enc...)
	bad[0] = 'X'
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("bad magic: got %v", err)
	}

	bad = append([]byte(nil), enc...)
	bad[4] = version + 1
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("bad version: got %v", err)
	}

	bad = append([]byte(nil), enc...)
	bad[5] = 9
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("bad kind: got %v", err)
	}

	if _, err := Decode(enc[:10]); err != ErrCorrupt {
		t.Fatalf("truncated header: got %v", err)
	}
}

func TestDecodeRejectsOversizedLengths(t *testing.T) {
	enc := Encode(Parked{Epoch: 1, Key: "posts", Payload: []byte("abc")})

	// key length beyond buffer
	bad := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(bad[14:16], 0xFFFF)
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("oversized key: got %v", err)
	}

	// payload length beyond buffer
	bad = append([]byte(nil), enc...)
	voff := 16 + len("posts")
	binary.BigEndian.PutUint32(bad[voff:voff+4], 1000)
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("oversized payload: got %v", err)
	}
}

func TestEncodePanicsOnEmptyKey(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for empty key")
		}
	}()
	_ = Encode(Parked{Key: ""})
}
