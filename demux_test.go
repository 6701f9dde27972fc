package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildVideoTrak constructs a minimal video trak box whose sample table
// holds one sample per entry of sizes, all in a single chunk starting at
// chunkOffset (written into stco); only the first sample is a sync sample.
func buildVideoTrak(trackID uint32, chunkOffset uint32, sizes []uint32) []byte {
	tkhd := testBox("tkhd", testFullBox(testCat(testU32(0), testU32(0), testU32(trackID), testU32(0), testU32(0), make([]byte, 60))))
	mdhd := testBox("mdhd", testFullBox(testCat(testU32(0), testU32(0), testU32(1000), testU32(3000), testU16(0))))
	hdlr := testBox("hdlr", testFullBox(testCat(testU32(0), []byte("vide"), make([]byte, 12))))

	stsd := testBox("stsd", testFullBox(testCat(testU32(1), testBox("avc1", make([]byte, 78)))))
	stts := testBox("stts", testFullBox(testCat(testU32(1), testU32(uint32(len(sizes))), testU32(1000))))
	stsc := testBox("stsc", testFullBox(testCat(testU32(1), testU32(1), testU32(uint32(len(sizes))), testU32(1))))

	szParts := [][]byte{testU32(uint32(len(sizes)))}
	for _, sz := range sizes {
		szParts = append(szParts, testU32(sz))
	}
	stsz := testBox("stsz", testFullBox(testCat(append([][]byte{testU32(0)}, szParts...)...)))
	stco := testBox("stco", testFullBox(testCat(testU32(1), testU32(chunkOffset))))
	stss := testBox("stss", testFullBox(testCat(testU32(1), testU32(1))))
	stbl := testBox("stbl", testCat(stsd, stts, stsc, stsz, stco, stss))

	vmhd := testBox("vmhd", testFullBox(testU32(0)))
	minf := testBox("minf", testCat(vmhd, stbl))
	mdia := testBox("mdia", testCat(mdhd, hdlr, minf))
	return testBox("trak", testCat(tkhd, mdia))
}

// buildMetaTrak constructs a minimal metadata trak box whose sample table
// mirrors buildVideoTrak's shape (a single chunk holding every sample).
func buildMetaTrak(trackID uint32, chunkOffset uint32, sizes []uint32) []byte {
	tkhd := testBox("tkhd", testFullBox(testCat(testU32(0), testU32(0), testU32(trackID), testU32(0), testU32(0), make([]byte, 60))))
	mdhd := testBox("mdhd", testFullBox(testCat(testU32(0), testU32(0), testU32(1000), testU32(3000), testU16(0))))
	hdlr := testBox("hdlr", testFullBox(testCat(testU32(0), []byte("meta"), make([]byte, 12))))

	mettEntry := testCat(make([]byte, 8), []byte{0}, []byte{0}) // reserved+data_ref_index, two empty cstrings
	stsd := testBox("stsd", testFullBox(testCat(testU32(1), testBox("mett", mettEntry))))
	stts := testBox("stts", testFullBox(testCat(testU32(1), testU32(uint32(len(sizes))), testU32(1000))))
	stsc := testBox("stsc", testFullBox(testCat(testU32(1), testU32(1), testU32(uint32(len(sizes))), testU32(1))))

	szParts := [][]byte{testU32(uint32(len(sizes)))}
	for _, sz := range sizes {
		szParts = append(szParts, testU32(sz))
	}
	stsz := testBox("stsz", testFullBox(testCat(append([][]byte{testU32(0)}, szParts...)...)))
	stco := testBox("stco", testFullBox(testCat(testU32(1), testU32(chunkOffset))))
	stbl := testBox("stbl", testCat(stsd, stts, stsc, stsz, stco))

	nmhd := testBox("nmhd", testFullBox(testU32(0)))
	minf := testBox("minf", testCat(nmhd, stbl))
	mdia := testBox("mdia", testCat(mdhd, hdlr, minf))
	return testBox("trak", testCat(tkhd, mdia))
}

// buildMovieFileWithMetaTrack builds a movie with one video track and one
// metadata track (linked via the single-video/single-metadata heuristic),
// each with the given per-sample sizes and identical decode times.
func buildMovieFileWithMetaTrack(videoSizes, metaSizes []uint32) []byte {
	ftyp := testBox("ftyp", testCat([]byte("isom"), testU32(0), []byte("isomiso2mp41")))

	var mdatPayload []byte
	for _, sz := range videoSizes {
		mdatPayload = append(mdatPayload, make([]byte, sz)...)
	}
	var metaStart uint32
	metaStart = uint32(len(mdatPayload))
	for _, sz := range metaSizes {
		mdatPayload = append(mdatPayload, make([]byte, sz)...)
	}
	mdat := testBox("mdat", mdatPayload)

	mvhd := testBox("mvhd", testFullBox(testCat(testU32(0), testU32(0), testU32(1000), testU32(3000), make([]byte, 76), testU32(3))))
	videoTrak := buildVideoTrak(1, 0, videoSizes)
	metaTrak := buildMetaTrak(2, 0, metaSizes)
	moov := testBox("moov", testCat(mvhd, videoTrak, metaTrak))

	mdatStart := uint32(len(ftyp)) + uint32(len(moov)) + 8
	videoTrak = buildVideoTrak(1, mdatStart, videoSizes)
	metaTrak = buildMetaTrak(2, mdatStart+metaStart, metaSizes)
	moov = testBox("moov", testCat(mvhd, videoTrak, metaTrak))

	return testCat(ftyp, moov, mdat)
}

func buildMovieFile(sizes []uint32) (buf []byte, sampleOffsets []int64) {
	ftyp := testBox("ftyp", testCat([]byte("isom"), testU32(0), []byte("isomiso2mp41")))

	var mdatPayload []byte
	for i, sz := range sizes {
		sampleOffsets = append(sampleOffsets, int64(len(mdatPayload)))
		b := make([]byte, sz)
		for j := range b {
			b[j] = byte(i + 1)
		}
		mdatPayload = append(mdatPayload, b...)
	}
	mdat := testBox("mdat", mdatPayload)

	mdatStart := int64(len(ftyp)) // moov is placed before mdat; computed below once moov size is known.

	// Placeholder trak built first with chunk offset 0, then patched once the
	// real mdat start is known, since stco needs an absolute file offset.
	trak := buildVideoTrak(1, 0, sizes)
	mvhd := testBox("mvhd", testFullBox(testCat(testU32(0), testU32(0), testU32(1000), testU32(3000), make([]byte, 76), testU32(2))))
	moov := testBox("moov", testCat(mvhd, trak))

	mdatStart = int64(len(ftyp)) + int64(len(moov)) + 8 // +8 for mdat's own header
	trak = buildVideoTrak(1, uint32(mdatStart), sizes)
	moov = testBox("moov", testCat(mvhd, trak))

	buf = testCat(ftyp, moov, mdat)
	for i := range sampleOffsets {
		sampleOffsets[i] += mdatStart
	}
	return buf, sampleOffsets
}

func TestOpenSourceAndMediaInfo(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10, 20, 15})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	info := d.MediaInfo()
	assert.Equal(t, "isom", info.MajorBrand)
	assert.Equal(t, uint32(1000), info.TimeScale)
	assert.Equal(t, 1, info.TrackCount)
}

func TestTrackInfo(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10, 20, 15})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	info, err := d.TrackInfo(1)
	require.NoError(t, err)
	assert.Equal(t, "video", info.Kind)
	assert.Equal(t, 3, info.SampleCount)

	_, err = d.TrackInfo(99)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, NotFound, derr.Code)
}

func TestNextSampleReadsAndAdvances(t *testing.T) {
	sizes := []uint32{10, 20, 15}
	buf, _ := buildMovieFile(sizes)
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	out := make([]byte, 64)
	res, err := d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Size)
	assert.True(t, res.IsSync)
	assert.Equal(t, uint64(0), res.DTS)

	res, err = d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Size)
	assert.False(t, res.IsSync)
	assert.Equal(t, uint64(1000), res.DTS)

	_, err = d.NextSample(1, out, nil)
	require.NoError(t, err)

	res, err = d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, NextSampleResult{}, res)
}

func TestNextSampleBufTooSmall(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	out := make([]byte, 2)
	_, err = d.NextSample(1, out, nil)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, BufTooSmall, derr.Code)
}

func TestSeekNonSync(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10, 20, 15})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	// Samples at DTS 0, 1000, 2000 (timescale 1000): seeking to 1.5s lands on
	// the sample at 1000 (the last one not after the target).
	err = d.Seek(1, 1_500_000, false)
	require.NoError(t, err)

	out := make([]byte, 64)
	res, err := d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.DTS)
}

func TestSeekSyncWalksBack(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10, 20, 15})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	// Only the first sample is a sync sample, so a sync-seek past the
	// second sample must still land on index 0.
	err = d.Seek(1, 2_500_000, true)
	require.NoError(t, err)

	out := make([]byte, 64)
	res, err := d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.DTS)
	assert.True(t, res.IsSync)
}

func TestChaptersNoChapterTrack(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	chapters, err := d.Chapters()
	require.NoError(t, err)
	assert.Nil(t, chapters)
}

func TestMetadataCoverNotFound(t *testing.T) {
	buf, _ := buildMovieFile([]uint32{10})
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	_, _, err = d.MetadataCover(make([]byte, 16))
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, NotFound, derr.Code)
}

func TestSeekPropagatesToLinkedMetadataTrack(t *testing.T) {
	videoSizes := []uint32{10, 20, 15}
	metaSizes := []uint32{4, 4, 4}
	buf := buildMovieFileWithMetaTrack(videoSizes, metaSizes)
	d, err := OpenSource(NewMemSource(buf))
	require.NoError(t, err)

	// Both tracks share the same timescale and per-sample duration, so their
	// DTS sequences line up exactly: 0, 1000, 2000.
	err = d.Seek(1, 1_500_000, false)
	require.NoError(t, err)

	out := make([]byte, 64)
	videoRes, err := d.NextSample(1, out, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), videoRes.DTS)

	metaRes, err := d.NextSample(2, out, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), metaRes.DTS)
}

func TestOpenSourceNoMoovIsInvalid(t *testing.T) {
	ftyp := testBox("ftyp", testCat([]byte("isom"), testU32(0), []byte("isom")))
	_, err := OpenSource(NewMemSource(ftyp))
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, Invalid, derr.Code)
}
