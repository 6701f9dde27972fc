package demux

import "encoding/binary"

// box builds a complete ISOBMFF box (size + type + payload). Shared by this
// package's tests for constructing synthetic movies.
func testBox(typ string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload)))
	copy(buf[4:8], typ)
	copy(buf[8:], payload)
	return buf
}

func testFullBox(rest []byte) []byte {
	buf := make([]byte, 4+len(rest))
	copy(buf[4:], rest)
	return buf
}

func testU16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func testU32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func testCat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
