package bmff_test

import (
	"testing"

	"github.com/nori-av/demux/bmff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStszIterUniform(t *testing.T) {
	data := concat(u32(512), u32(3)) // uniform sample_size, count
	it := bmff.NewStszIter(data)
	assert.Equal(t, uint32(3), it.Count())
	assert.Equal(t, uint32(512), it.UniformSize())
	for i := 0; i < 3; i++ {
		v, ok := it.Next()
		require.True(t, ok)
		assert.Equal(t, uint32(512), v)
	}
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestStszIterPerSample(t *testing.T) {
	data := concat(u32(0), u32(2), u32(100), u32(200))
	it := bmff.NewStszIter(data)
	v1, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint32(100), v1)
	v2, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint32(200), v2)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestCo64Iter(t *testing.T) {
	data := concat(u32(2), u64(1000), u64(2000))
	it := bmff.NewCo64Iter(data)
	assert.Equal(t, uint32(2), it.Count())
	v1, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(1000), v1)
	v2, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(2000), v2)
}

func TestSttsIter(t *testing.T) {
	data := concat(u32(2), u32(3), u32(1000), u32(1), u32(500))
	it := bmff.NewSttsIter(data)
	e1, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, bmff.SttsEntry{Count: 3, Delta: 1000}, e1)
	e2, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, bmff.SttsEntry{Count: 1, Delta: 500}, e2)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestStscIter(t *testing.T) {
	data := concat(u32(1), u32(1), u32(10), u32(1))
	it := bmff.NewStscIter(data)
	e, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, bmff.StscEntry{FirstChunk: 1, SamplesPerChunk: 10, SampleDescriptionID: 1}, e)
}

func TestReadFtyp(t *testing.T) {
	data := concat([]byte("isom"), u32(512), []byte("isomiso2avc1mp41"))
	f := bmff.ReadFtyp(data)
	assert.Equal(t, [4]byte{'i', 's', 'o', 'm'}, f.MajorBrand)
	assert.Equal(t, uint32(512), f.MinorVersion)
	require.Len(t, f.Compatible, 4)
	assert.Equal(t, [4]byte{'i', 's', 'o', 'm'}, f.Compatible[0])
}

func TestReadVisualSampleEntry(t *testing.T) {
	data := make([]byte, 78)
	copy(data[6:8], u16(1))    // data_reference_index
	copy(data[24:26], u16(1920))
	copy(data[26:28], u16(1080))
	data[42] = 5
	copy(data[43:48], []byte("hello"))
	v := bmff.ReadVisualSampleEntry(data)
	assert.Equal(t, uint16(1920), v.Width)
	assert.Equal(t, uint16(1080), v.Height)
	assert.Equal(t, "hello", v.CompressorName)
	assert.Equal(t, 78, v.ChildOffset)
}

func TestReadAudioSampleEntry(t *testing.T) {
	data := make([]byte, 28)
	copy(data[16:18], u16(2))
	copy(data[18:20], u16(16))
	copy(data[24:28], u32(44100<<16))
	a := bmff.ReadAudioSampleEntry(data)
	assert.Equal(t, uint16(2), a.ChannelCount)
	assert.Equal(t, uint16(16), a.SampleSize)
	assert.Equal(t, uint32(44100<<16), a.SampleRate)
}

func TestReadMetadataSampleEntry(t *testing.T) {
	data := concat(make([]byte, 8), []byte("text/uri"), []byte{0}, []byte("application/octet-stream"), []byte{0})
	m := bmff.ReadMetadataSampleEntry(data)
	assert.Equal(t, "text/uri", m.ContentEncoding)
	assert.Equal(t, "application/octet-stream", m.MimeFormat)
}

func TestReadAvcC(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x1f}
	pps := []byte{0x68, 0xeb}
	data := concat(
		[]byte{1, 0x64, 0x00, 0x1f},    // configurationVersion, profile, compat, level
		[]byte{0xff},                   // lengthSizeMinusOne(2 bits)=3 | reserved
		[]byte{0xe1},                   // reserved(3 bits) | numOfSPS=1
		u16(uint16(len(sps))), sps,
		[]byte{1}, // numOfPPS
		u16(uint16(len(pps))), pps,
	)
	cfg, ok := bmff.ReadAvcC(data)
	require.True(t, ok)
	assert.Equal(t, byte(0x64), cfg.Profile)
	assert.Equal(t, byte(0x1f), cfg.Level)
	assert.Equal(t, uint8(4), cfg.LengthSize)
	assert.Equal(t, sps, cfg.SPS)
	assert.Equal(t, pps, cfg.PPS)
}

func TestAvcProfileHex(t *testing.T) {
	assert.Equal(t, "64001f", bmff.AvcProfileHex(0x64, 0x00, 0x1f))
}
