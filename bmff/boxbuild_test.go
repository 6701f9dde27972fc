package bmff_test

import "encoding/binary"

// box builds a complete box (size + type + payload) for tests.
func box(typ string, payload []byte) []byte {
	if len(typ) != 4 {
		panic("box type must be 4 bytes")
	}
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload)))
	copy(buf[4:8], typ)
	copy(buf[8:], payload)
	return buf
}

// fullBoxPayload prepends a version/flags word to a full box's payload.
func fullBoxPayload(version uint8, flags uint32, rest []byte) []byte {
	buf := make([]byte, 4+len(rest))
	binary.BigEndian.PutUint32(buf[0:4], uint32(version)<<24|flags&0x00ffffff)
	copy(buf[4:], rest)
	return buf
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
