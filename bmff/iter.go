package bmff

import "math"

const uint32Max = math.MaxUint32

// StszIter iterates over sample sizes in an stsz box.
type StszIter struct {
	buf        []byte
	sampleSize uint32
	count      uint32
	index      uint32
}

// NewStszIter creates an iterator from stsz box data.
func NewStszIter(data []byte) StszIter {
	if len(data) < 8 {
		return StszIter{}
	}
	return StszIter{
		buf:        data,
		sampleSize: be.Uint32(data[0:4]),
		count:      be.Uint32(data[4:8]),
	}
}

// Count returns the total number of samples.
func (it *StszIter) Count() uint32 { return it.count }

// UniformSize returns the constant sample size, or 0 if sizes vary per sample.
func (it *StszIter) UniformSize() uint32 { return it.sampleSize }

// Next returns the next sample size. Returns (0, false) when done.
func (it *StszIter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	var size uint32
	if it.sampleSize != 0 {
		size = it.sampleSize
	} else {
		offset := 8 + int(it.index)*4
		if offset+4 > len(it.buf) {
			return 0, false
		}
		size = be.Uint32(it.buf[offset:])
	}
	it.index++
	return size, true
}

// Co64Iter iterates over uint64 chunk offsets in a co64 box.
type Co64Iter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewCo64Iter creates an iterator from co64 box data.
func NewCo64Iter(data []byte) Co64Iter {
	if len(data) < 4 {
		return Co64Iter{}
	}
	return Co64Iter{
		buf:   data,
		count: be.Uint32(data[0:4]),
	}
}

// Count returns the total number of entries.
func (it *Co64Iter) Count() uint32 { return it.count }

// Next returns the next chunk offset. Returns (0, false) when done.
func (it *Co64Iter) Next() (uint64, bool) {
	if it.index >= it.count {
		return 0, false
	}
	offset := 4 + int(it.index)*8
	if offset+8 > len(it.buf) {
		return 0, false
	}
	v := be.Uint64(it.buf[offset:])
	it.index++
	return v, true
}

// SttsEntry is a decoding time-to-sample entry.
type SttsEntry struct {
	Count uint32
	Delta uint32
}

// SttsIter iterates over stts entries.
type SttsIter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewSttsIter creates an iterator from stts box data.
func NewSttsIter(data []byte) SttsIter {
	if len(data) < 4 {
		return SttsIter{}
	}
	return SttsIter{
		buf:   data,
		count: be.Uint32(data[0:4]),
	}
}

// Count returns the total number of run-length entries.
func (it *SttsIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *SttsIter) Next() (SttsEntry, bool) {
	if it.index >= it.count {
		return SttsEntry{}, false
	}
	offset := 4 + int(it.index)*8
	if offset+8 > len(it.buf) {
		return SttsEntry{}, false
	}
	e := SttsEntry{
		Count: be.Uint32(it.buf[offset:]),
		Delta: be.Uint32(it.buf[offset+4:]),
	}
	it.index++
	return e, true
}

// StscEntry is a sample-to-chunk run-length entry.
type StscEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// StscIter iterates over stsc entries.
type StscIter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewStscIter creates an iterator from stsc box data.
func NewStscIter(data []byte) StscIter {
	if len(data) < 4 {
		return StscIter{}
	}
	return StscIter{
		buf:   data,
		count: be.Uint32(data[0:4]),
	}
}

// Count returns the total number of entries.
func (it *StscIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *StscIter) Next() (StscEntry, bool) {
	if it.index >= it.count {
		return StscEntry{}, false
	}
	offset := 4 + int(it.index)*12
	if offset+12 > len(it.buf) {
		return StscEntry{}, false
	}
	e := StscEntry{
		FirstChunk:          be.Uint32(it.buf[offset:]),
		SamplesPerChunk:     be.Uint32(it.buf[offset+4:]),
		SampleDescriptionID: be.Uint32(it.buf[offset+8:]),
	}
	it.index++
	return e, true
}

// Uint32Iter iterates over uint32 entries (stco, stss).
type Uint32Iter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewUint32Iter creates an iterator from box data containing a count + uint32 entries.
func NewUint32Iter(data []byte) Uint32Iter {
	if len(data) < 4 {
		return Uint32Iter{}
	}
	return Uint32Iter{
		buf:   data,
		count: be.Uint32(data[0:4]),
	}
}

// Count returns the total number of entries.
func (it *Uint32Iter) Count() uint32 { return it.count }

// Next returns the next entry. Returns (0, false) when done.
func (it *Uint32Iter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	offset := 4 + int(it.index)*4
	if offset+4 > len(it.buf) {
		return 0, false
	}
	v := be.Uint32(it.buf[offset:])
	it.index++
	return v, true
}

// FtypInfo holds parsed fields from an ftyp box.
type FtypInfo struct {
	MajorBrand   [4]byte
	MinorVersion uint32
	Compatible   [][4]byte
}

// ReadFtyp parses an ftyp box. Neither the major brand nor the compatible
// brand list is validated against an allow-list; the caller decides whether
// to enforce one.
func ReadFtyp(data []byte) FtypInfo {
	if len(data) < 8 {
		return FtypInfo{}
	}
	f := FtypInfo{
		MinorVersion: be.Uint32(data[4:8]),
	}
	copy(f.MajorBrand[:], data[0:4])
	for i := 8; i+4 <= len(data); i += 4 {
		var b [4]byte
		copy(b[:], data[i:i+4])
		f.Compatible = append(f.Compatible, b)
	}
	return f
}

// VisualSampleEntry holds parsed fields from a visual sample entry (e.g. avc1).
type VisualSampleEntry struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HResolution        uint32 // 16.16 fixed point
	VResolution        uint32 // 16.16 fixed point
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
	ChildOffset        int // byte offset within data where child boxes begin
}

// ReadVisualSampleEntry parses a visual sample entry from box data.
// Child boxes (e.g. avcC) start at ChildOffset within the data.
// The compressor name is a Pascal-style field: the first byte is a length,
// followed by up to 31 bytes of UTF-8 text.
func ReadVisualSampleEntry(data []byte) VisualSampleEntry {
	if len(data) < 78 {
		return VisualSampleEntry{}
	}
	nameLen := min(int(data[42]), 31)
	return VisualSampleEntry{
		DataReferenceIndex: be.Uint16(data[6:8]),
		Width:              be.Uint16(data[24:26]),
		Height:             be.Uint16(data[26:28]),
		HResolution:        be.Uint32(data[28:32]),
		VResolution:        be.Uint32(data[32:36]),
		FrameCount:         be.Uint16(data[40:42]),
		CompressorName:     string(data[43 : 43+nameLen]),
		Depth:              be.Uint16(data[74:76]),
		ChildOffset:        78,
	}
}

// AudioSampleEntry holds parsed fields from an audio sample entry (e.g. mp4a).
type AudioSampleEntry struct {
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	SampleRate         uint32 // 16.16 fixed point
	ChildOffset        int    // byte offset within data where child boxes begin
}

// ReadAudioSampleEntry parses an audio sample entry from box data.
// Child boxes (e.g. esds) start at ChildOffset within the data.
func ReadAudioSampleEntry(data []byte) AudioSampleEntry {
	if len(data) < 28 {
		return AudioSampleEntry{}
	}
	return AudioSampleEntry{
		DataReferenceIndex: be.Uint16(data[6:8]),
		ChannelCount:       be.Uint16(data[16:18]),
		SampleSize:         be.Uint16(data[18:20]),
		SampleRate:         be.Uint32(data[24:28]),
		ChildOffset:        28,
	}
}

// MetadataSampleEntry holds parsed fields from a metadata sample entry.
type MetadataSampleEntry struct {
	DataReferenceIndex uint16
	ContentEncoding    string
	MimeFormat         string
}

// ReadMetadataSampleEntry parses a metadata sample entry (stsd entry under a
// "meta" handler track): reserved + data_reference_index, then two
// null-terminated strings for content_encoding and mime_format.
func ReadMetadataSampleEntry(data []byte) MetadataSampleEntry {
	var e MetadataSampleEntry
	if len(data) < 8 {
		return e
	}
	e.DataReferenceIndex = be.Uint16(data[6:8])
	p := 8
	enc, n := readCString(data, p)
	e.ContentEncoding = enc
	p += n
	mime, _ := readCString(data, p)
	e.MimeFormat = mime
	return e
}

func readCString(data []byte, start int) (string, int) {
	if start >= len(data) {
		return "", 0
	}
	end := start
	for end < len(data) && data[end] != 0 {
		end++
	}
	consumed := end - start
	if end < len(data) {
		consumed++ // account for the terminating NUL
	}
	return string(data[start:end]), consumed
}

// AvcDecoderConfig holds the fields extracted from an avcC box: the first
// SPS and first PPS found, captured verbatim. Any further SPS/PPS entries
// present in the box are skipped, matching the original demuxer's behavior.
type AvcDecoderConfig struct {
	Profile        byte
	ProfileCompat  byte
	Level          byte
	LengthSize     uint8
	SPS            []byte
	PPS            []byte
}

// ReadAvcC parses an avcC (AVCDecoderConfigurationRecord) box.
func ReadAvcC(data []byte) (AvcDecoderConfig, bool) {
	var cfg AvcDecoderConfig
	if len(data) < 6 {
		return cfg, false
	}
	cfg.Profile = data[1]
	cfg.ProfileCompat = data[2]
	cfg.Level = data[3]
	cfg.LengthSize = (data[4] & 0x3) + 1

	p := 5
	spsCount := int(data[p] & 0x1f)
	p++
	for i := 0; i < spsCount; i++ {
		if p+2 > len(data) {
			return cfg, false
		}
		length := int(be.Uint16(data[p:]))
		p += 2
		if p+length > len(data) {
			return cfg, false
		}
		if cfg.SPS == nil && length > 0 {
			cfg.SPS = append([]byte(nil), data[p:p+length]...)
		}
		p += length
	}

	if p >= len(data) {
		return cfg, true
	}
	ppsCount := int(data[p])
	p++
	for i := 0; i < ppsCount; i++ {
		if p+2 > len(data) {
			return cfg, true
		}
		length := int(be.Uint16(data[p:]))
		p += 2
		if p+length > len(data) {
			return cfg, true
		}
		if cfg.PPS == nil && length > 0 {
			cfg.PPS = append([]byte(nil), data[p:p+length]...)
		}
		p += length
	}
	return cfg, true
}

const hexChars = "0123456789abcdef"

// hexDigit returns the lowercase hex character for a 4-bit nibble.
func hexDigit(b byte) byte {
	return hexChars[b&0x0f]
}

// AvcProfileHex renders the avc1.PPCCLL codec parameter suffix used in MIME
// strings, e.g. "64001f".
func AvcProfileHex(profile, compat, level byte) string {
	var buf [6]byte
	buf[0] = hexDigit(profile >> 4)
	buf[1] = hexDigit(profile & 0x0f)
	buf[2] = hexDigit(compat >> 4)
	buf[3] = hexDigit(compat & 0x0f)
	buf[4] = hexDigit(level >> 4)
	buf[5] = hexDigit(level & 0x0f)
	return string(buf[:])
}
