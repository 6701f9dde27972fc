package bmff_test

import (
	"testing"

	"github.com/nori-av/demux/bmff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderNextSiblings(t *testing.T) {
	data := concat(
		box("free", nil),
		box("skip", []byte{1, 2, 3}),
	)
	r := bmff.NewReader(data)

	require.True(t, r.Next())
	assert.Equal(t, bmff.TypeFree, r.Type())
	assert.Equal(t, uint64(8), r.Size())

	require.True(t, r.Next())
	assert.Equal(t, bmff.TypeSkip, r.Type())
	assert.Equal(t, []byte{1, 2, 3}, r.Data())

	assert.False(t, r.Next())
}

func TestReaderEnterExit(t *testing.T) {
	inner := concat(box("tkhd", fullBoxPayload(0, 0, make([]byte, 80))))
	data := box("moov", inner)

	r := bmff.NewReader(data)
	require.True(t, r.Next())
	assert.Equal(t, bmff.TypeMoov, r.Type())

	r.Enter()
	require.True(t, r.Next())
	assert.Equal(t, bmff.TypeTkhd, r.Type())
	assert.False(t, r.Next())
	r.Exit()

	assert.False(t, r.Next())
}

func TestReaderLargesize(t *testing.T) {
	payload := make([]byte, 16)
	totalSize := uint64(16 + len(payload)) // 4(size)+4(type)+8(largesize) header
	body := concat(u32(1), []byte("free"), u64(totalSize), payload)
	r := bmff.NewReader(body)
	require.True(t, r.Next())
	assert.Equal(t, bmff.TypeFree, r.Type())
	assert.Equal(t, totalSize, r.Size())
	assert.Len(t, r.Data(), 16)
}

func TestReaderMalformedSizeRejected(t *testing.T) {
	data := concat(u32(3), []byte("free"))
	r := bmff.NewReader(data)
	assert.False(t, r.Next())
}

func TestReaderUuidBox(t *testing.T) {
	extendedType := make([]byte, 16)
	payload := []byte{9, 9}
	data := box("uuid", concat(extendedType, payload))
	r := bmff.NewReader(data)
	require.True(t, r.Next())
	assert.Equal(t, []byte{9, 9}, r.Data())
}

func TestReadMvhdVersion0(t *testing.T) {
	rest := make([]byte, 96)
	copy(rest[0:4], u32(100))  // creation_time
	copy(rest[4:8], u32(200))  // modification_time
	copy(rest[8:12], u32(1000)) // timescale
	copy(rest[12:16], u32(5000)) // duration
	copy(rest[92:96], u32(7)) // next_track_id
	data := box("mvhd", fullBoxPayload(0, 0, rest))

	r := bmff.NewReader(data)
	require.True(t, r.Next())
	ts, dur, ctime, mtime, next := r.ReadMvhd()
	assert.Equal(t, uint32(1000), ts)
	assert.Equal(t, uint64(5000), dur)
	assert.Equal(t, uint64(100), ctime)
	assert.Equal(t, uint64(200), mtime)
	assert.Equal(t, uint32(7), next)
}

func TestReadHdlr(t *testing.T) {
	rest := concat(u32(0), []byte("vide"), make([]byte, 12))
	data := box("hdlr", fullBoxPayload(0, 0, rest))
	r := bmff.NewReader(data)
	require.True(t, r.Next())
	handler := r.ReadHdlr()
	assert.Equal(t, [4]byte{'v', 'i', 'd', 'e'}, handler)
}
