package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindParked byte = 1
)

var (
	ErrCorrupt = errors.New("querycache: corrupt parked record")
	magic4     = [...]byte{'Q', 'C', 'P', 'K'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Parked is one idle-evicted query as stored in the parking tier.
// Epoch is the invalidation epoch of the query's kind at eviction time.
// Key is the canonical query key; it guards against hash collisions on the
// storage key.
type Parked struct {
	Epoch   uint64
	Key     string
	Payload []byte
}

// Encode layout:
//
//	magic(4) | ver(1) | kind(1=parked) | epoch(u64 be) | keyLen(u16 be) | key | vlen(u32 be) | payload(vlen)
func Encode(p Parked) []byte {
	if l := len(p.Key); l == 0 || l > 0xFFFF {
		panic("querycache: invalid parked key length")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + len(p.Key) + 4 + len(p.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindParked)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], p.Epoch)
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(p.Key)))
	buf.Write(u2[:])
	buf.WriteString(p.Key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(p.Payload)))
	buf.Write(u4[:])
	buf.Write(p.Payload)

	return buf.Bytes()
}

// Decode is strict: wrong magic, version, kind, truncated sections and trailing
// bytes are all ErrCorrupt.
func Decode(b []byte) (Parked, error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindParked {
		return Parked{}, ErrCorrupt
	}
	off := 6

	epoch := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen == 0 || klen > len(b)-off {
		return Parked{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+4 > len(b) {
		return Parked{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Parked{}, ErrCorrupt
	}

	return Parked{Epoch: epoch, Key: key, Payload: b[off:]}, nil
}
