// Package track expands the compact stsc/stco/co64/stsz/stts sample tables
// of a parsed moov box into a dense per-sample index, and resolves
// cross-track references (tref) including chapter and metadata linkage.
package track

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nori-av/demux/bmff"
)

var be = binary.BigEndian

// TrackKind is the tagged kind of a track's media.
type TrackKind int

const (
	Unknown TrackKind = iota
	Video
	Audio
	Hint
	Metadata
	Text
	Chapters
)

func (k TrackKind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Hint:
		return "hint"
	case Metadata:
		return "metadata"
	case Text:
		return "text"
	case Chapters:
		return "chapters"
	default:
		return "unknown"
	}
}

var (
	handlerVide = [4]byte{'v', 'i', 'd', 'e'}
	handlerSoun = [4]byte{'s', 'o', 'u', 'n'}
	handlerHint = [4]byte{'h', 'i', 'n', 't'}
	handlerMeta = [4]byte{'m', 'e', 't', 'a'}
	handlerText = [4]byte{'t', 'e', 'x', 't'}
	handlerSbtl = [4]byte{'s', 'b', 't', 'l'}
)

func kindFromHandler(h [4]byte) TrackKind {
	switch h {
	case handlerVide:
		return Video
	case handlerSoun:
		return Audio
	case handlerHint:
		return Hint
	case handlerMeta:
		return Metadata
	case handlerText, handlerSbtl:
		return Text
	default:
		return Unknown
	}
}

// Sample is one entry in a track's dense sample index.
type Sample struct {
	Offset int64  // absolute file offset
	Size   uint32 // bytes on disk
	DTS    uint64 // cumulative decode time in track ticks
	IsSync bool   // true if this is a random-access point
}

// Track holds everything known about one trak box after sample expansion.
type Track struct {
	ID               uint32
	Kind             TrackKind
	TimeScale        uint32
	Duration         uint64
	CreationTime     uint64
	ModificationTime uint64

	// Video fields (Kind == Video, codec AVC only).
	Width, Height uint16
	SPS, PPS      []byte

	// Audio fields (Kind == Audio).
	ChannelCount              uint16
	SampleSize                uint16
	SampleRate                uint32 // 16.16 fixed point
	AudioObjectTypeIndication byte

	// Metadata track fields (Kind == Metadata).
	ContentEncoding string
	MimeFormat      string

	// Media header corroboration: which *mhd box minf actually carried.
	HasVideoHeader           bool
	HasSoundHeader           bool
	HasHintHeader            bool
	HasNullHeader            bool
	HasExternalDataReference bool

	// Raw tref fields, resolved into MetadataOf/ChaptersOf after all tracks
	// in the moov have been parsed.
	RefKind    [4]byte
	RefTrackID uint32

	// Resolved cross-track links (see ResolveReferences).
	MetadataOf *Track
	ChaptersOf *Track

	Samples []Sample

	// CurrentSample is the caller-visible read cursor, advanced by
	// NextSample and jumped by Seek. Zero-valued on a freshly built track.
	CurrentSample int

	// raw holds sample-table box data collected while walking stbl, consumed
	// and cleared by expandSamples.
	raw *rawStbl
}

var (
	// ErrMoovNotFound is returned when the supplied buffer does not begin
	// with a moov box.
	ErrMoovNotFound = errors.New("track: moov box not found")
	// ErrInvalidTrack is returned when a track is missing sample tables
	// required to build its sample index.
	ErrInvalidTrack = errors.New("track: invalid or incomplete track data")
	// ErrProtocol is returned when the stsc/stco expansion's sample count
	// disagrees with stsz or stts.
	ErrProtocol = errors.New("track: sample count mismatch between sample tables")
)

// MovieHeader holds the movie-wide fields read from mvhd.
type MovieHeader struct {
	TimeScale        uint32
	Duration         uint64
	CreationTime     uint64
	ModificationTime uint64
	NextTrackID      uint32
}

// BuildResult is the outcome of walking and expanding a moov box.
type BuildResult struct {
	Movie MovieHeader
	Tracks []*Track

	// UdtaRaw and MetaRaw are the raw moov-level udta/meta boxes (including
	// their own headers), located but not interpreted here; interpreting
	// them is the MetadataConsolidator's job, a separate component from the
	// TrackBuilder.
	UdtaRaw []byte
	MetaRaw []byte
}

// Build walks a moov box buffer (the full box, including its own header),
// expands every track's sample tables, and resolves tref links. A track
// without a tkhd track ID is dropped, and a track without stsz is kept with
// no samples. A track that has stsz but lacks stts, stsc, or chunk offsets
// fails the whole build with ErrInvalidTrack, and a sample-count mismatch
// among the tables fails it with ErrProtocol.
func Build(moovBuf []byte) (*BuildResult, error) {
	mr := bmff.NewReader(moovBuf)
	if !mr.Next() || mr.Type() != bmff.TypeMoov {
		return nil, ErrMoovNotFound
	}

	res := &BuildResult{}

	mr.Enter()
	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeMvhd:
			ts, dur, ctime, mtime, next := mr.ReadMvhd()
			res.Movie = MovieHeader{
				TimeScale:        ts,
				Duration:         dur,
				CreationTime:     ctime,
				ModificationTime: mtime,
				NextTrackID:      next,
			}
		case bmff.TypeTrak:
			t := parseTrak(&mr)
			if t != nil {
				res.Tracks = append(res.Tracks, t)
			}
		case bmff.TypeUdta:
			res.UdtaRaw = mr.RawBox()
		case bmff.TypeMeta:
			res.MetaRaw = mr.RawBox()
		}
	}
	mr.Exit()

	for _, t := range res.Tracks {
		if err := t.expandSamples(); err != nil {
			return nil, err
		}
	}

	ResolveReferences(res.Tracks)

	return res, nil
}

// FindTrack returns the track with the given ID, or nil.
func FindTrack(tracks []*Track, id uint32) *Track {
	for _, t := range tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ResolveReferences applies tref-derived cross-track linkage, including the
// single-video/single-metadata heuristic fallback for files with no
// explicit tref but an unambiguous single pair of tracks to link.
func ResolveReferences(tracks []*Track) {
	const (
		refCdsc = "cdsc"
		refChap = "chap"
	)

	for _, t := range tracks {
		if t.RefTrackID == 0 {
			continue
		}
		ref := FindTrack(tracks, t.RefTrackID)
		if ref == nil {
			continue
		}
		switch string(t.RefKind[:]) {
		case refCdsc:
			if t.Kind == Metadata {
				ref.MetadataOf = t
			}
		case refChap:
			if ref.Kind == Text {
				ref.Kind = Chapters
				t.ChaptersOf = ref
			}
		}
	}

	var onlyVideo, onlyMetadata *Track
	videoCount, metadataCount, otherCount := 0, 0, 0
	for _, t := range tracks {
		switch t.Kind {
		case Video:
			videoCount++
			onlyVideo = t
		case Metadata:
			metadataCount++
			onlyMetadata = t
		default:
			otherCount++
		}
	}
	if videoCount == 1 && metadataCount == 1 && otherCount == 0 &&
		onlyVideo.MetadataOf == nil && onlyMetadata.RefTrackID == 0 {
		onlyVideo.MetadataOf = onlyMetadata
	}
}

func parseTrak(mr *bmff.Reader) *Track {
	t := &Track{}

	mr.Enter()
	defer mr.Exit()

	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeTkhd:
			id, _, ctime, mtime, w, h := mr.ReadTkhd()
			t.ID = id
			t.CreationTime = ctime
			t.ModificationTime = mtime
			// Width/height here come from tkhd; stsd's own values (native
			// pixel counts) take precedence once parsed.
			t.Width = uint16(w >> 16)
			t.Height = uint16(h >> 16)
		case bmff.TypeTref:
			parseTref(mr, t)
		case bmff.TypeMdia:
			parseMdia(mr, t)
		}
	}

	if t.ID == 0 {
		return nil
	}
	return t
}

func parseTref(mr *bmff.Reader, t *Track) {
	mr.Enter()
	defer mr.Exit()

	if mr.Next() {
		t.RefKind = mr.Type()
		data := mr.Data()
		if len(data) >= 4 {
			t.RefTrackID = be.Uint32(data)
		}
	}
}

func parseMdia(mr *bmff.Reader, t *Track) {
	mr.Enter()
	defer mr.Exit()

	var handler [4]byte

	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeMdhd:
			ts, dur, ctime, mtime, _ := mr.ReadMdhd()
			t.TimeScale = ts
			t.Duration = dur
			t.CreationTime = ctime
			t.ModificationTime = mtime
		case bmff.TypeHdlr:
			handler = mr.ReadHdlr()
			t.Kind = kindFromHandler(handler)
		case bmff.TypeMinf:
			parseMinf(mr, t, handler)
		}
	}
}

func parseMinf(mr *bmff.Reader, t *Track, handler [4]byte) {
	mr.Enter()
	defer mr.Exit()

	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeVmhd:
			t.HasVideoHeader = true
		case bmff.TypeSmhd:
			t.HasSoundHeader = true
		case bmff.TypeHmhd:
			t.HasHintHeader = true
		case bmff.TypeNmhd:
			t.HasNullHeader = true
		case bmff.TypeDinf:
			parseDinf(mr, t)
		case bmff.TypeStbl:
			parseStbl(mr, t, handler)
		}
	}
}

func parseDinf(mr *bmff.Reader, t *Track) {
	mr.Enter()
	defer mr.Exit()

	for mr.Next() {
		if mr.Type() != bmff.TypeDref {
			continue
		}
		data := mr.Data()
		if len(data) < 4 {
			continue
		}
		count := be.Uint32(data)
		mr.Enter()
		mr.Skip(4)
		for i := uint32(0); i < count && mr.Next(); i++ {
			// An entry's low flag bit set means "data is in this file";
			// anything else is an external reference this demuxer cannot
			// follow.
			if mr.Flags()&0x1 == 0 {
				t.HasExternalDataReference = true
			}
		}
		mr.Exit()
	}
}

func parseStbl(mr *bmff.Reader, t *Track, handler [4]byte) *rawStbl {
	mr.Enter()
	defer mr.Exit()

	raw := &rawStbl{}

	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeStsd:
			parseStsd(mr, t, handler)
		case bmff.TypeStsz:
			raw.stsz = mr.Data()
		case bmff.TypeStts:
			raw.stts = mr.Data()
		case bmff.TypeStsc:
			raw.stsc = mr.Data()
		case bmff.TypeStss:
			raw.stss = mr.Data()
		case bmff.TypeStco:
			raw.stco = mr.Data()
		case bmff.TypeCo64:
			raw.co64 = mr.Data()
			raw.hasCo64 = true
		}
	}

	t.raw = raw
	return raw
}

func parseStsd(mr *bmff.Reader, t *Track, handler [4]byte) {
	data := mr.Data()
	if len(data) < 4 {
		return
	}

	mr.Enter()
	defer mr.Exit()
	mr.Skip(4) // entry_count; this demuxer only ever consumes the first entry

	if !mr.Next() {
		return
	}

	entryData := mr.Data()

	switch {
	case handler == handlerVide && mr.Type() == bmff.TypeAvc1:
		v := bmff.ReadVisualSampleEntry(entryData)
		if v.Width != 0 {
			t.Width = v.Width
			t.Height = v.Height
		}
		mr.Enter()
		mr.Skip(v.ChildOffset)
		for mr.Next() {
			if mr.Type() == bmff.TypeAvcC {
				if cfg, ok := bmff.ReadAvcC(mr.Data()); ok {
					t.SPS = cfg.SPS
					t.PPS = cfg.PPS
				}
				break
			}
		}
		mr.Exit()

	case handler == handlerSoun && mr.Type() == bmff.TypeMp4a:
		a := bmff.ReadAudioSampleEntry(entryData)
		t.ChannelCount = a.ChannelCount
		t.SampleSize = a.SampleSize
		t.SampleRate = a.SampleRate
		mr.Enter()
		mr.Skip(a.ChildOffset)
		for mr.Next() {
			if mr.Type() == bmff.TypeEsds {
				info := bmff.ReadEsds(mr.Data())
				t.AudioObjectTypeIndication = info.ObjectTypeIndication
				break
			}
		}
		mr.Exit()

	case handler == handlerMeta:
		m := bmff.ReadMetadataSampleEntry(entryData)
		t.ContentEncoding = m.ContentEncoding
		t.MimeFormat = m.MimeFormat
	}
}

// rawStbl holds raw sample-table box data collected during the moov walk,
// consumed by expandSamples once the whole trak has been seen.
type rawStbl struct {
	stsz, stts, stsc, stss, stco, co64 []byte
	hasCo64                            bool
}

// expandSamples turns the compact stsc/stco(co64)/stsz/stts encoding into a
// dense per-sample index. Tracks without a sample table (e.g. a hint track
// with no data) are left with a nil Samples slice.
func (t *Track) expandSamples() error {
	raw := t.raw
	t.raw = nil
	if raw == nil || raw.stsz == nil {
		return nil
	}
	if raw.stts == nil || raw.stsc == nil {
		return fmt.Errorf("%w: track %d missing stts/stsc", ErrInvalidTrack, t.ID)
	}
	if raw.stco == nil && !raw.hasCo64 {
		return fmt.Errorf("%w: track %d missing stco/co64", ErrInvalidTrack, t.ID)
	}

	stsz := bmff.NewStszIter(raw.stsz)
	sampleCount := int(stsz.Count())
	if sampleCount == 0 {
		t.Samples = []Sample{}
		return nil
	}

	sizes := make([]uint32, sampleCount)
	for i := 0; i < sampleCount; i++ {
		size, ok := stsz.Next()
		if !ok {
			return fmt.Errorf("%w: track %d stsz exhausted at sample %d/%d", ErrProtocol, t.ID, i, sampleCount)
		}
		sizes[i] = size
	}

	samples := make([]Sample, sampleCount)

	var chunkOffsets []uint64
	if raw.hasCo64 {
		it := bmff.NewCo64Iter(raw.co64)
		chunkOffsets = make([]uint64, 0, it.Count())
		for {
			v, ok := it.Next()
			if !ok {
				break
			}
			chunkOffsets = append(chunkOffsets, v)
		}
	} else {
		it := bmff.NewUint32Iter(raw.stco)
		chunkOffsets = make([]uint64, 0, it.Count())
		for {
			v, ok := it.Next()
			if !ok {
				break
			}
			chunkOffsets = append(chunkOffsets, uint64(v))
		}
	}
	totalChunks := uint32(len(chunkOffsets))

	stsc := bmff.NewStscIter(raw.stsc)
	var runs []bmff.StscEntry
	for {
		e, ok := stsc.Next()
		if !ok {
			break
		}
		runs = append(runs, e)
	}
	if len(runs) == 0 {
		return fmt.Errorf("%w: track %d empty stsc table", ErrInvalidTrack, t.ID)
	}
	runs = append(runs, bmff.StscEntry{FirstChunk: totalChunks + 1})

	sampleI := 0
	chunkI := uint32(0)
	for k := 0; k < len(runs)-1; k++ {
		cur := runs[k]
		repeatCount := runs[k+1].FirstChunk - cur.FirstChunk
		for r := uint32(0); r < repeatCount; r++ {
			if chunkI >= totalChunks {
				return fmt.Errorf("%w: track %d stsc references chunk %d beyond %d chunk offsets", ErrProtocol, t.ID, chunkI, totalChunks)
			}
			offset := int64(chunkOffsets[chunkI])
			for s := uint32(0); s < cur.SamplesPerChunk; s++ {
				if sampleI >= sampleCount {
					return fmt.Errorf("%w: track %d stsc expansion exceeds stsz sample count %d", ErrProtocol, t.ID, sampleCount)
				}
				samples[sampleI].Offset = offset
				samples[sampleI].Size = sizes[sampleI]
				offset += int64(sizes[sampleI])
				sampleI++
			}
			chunkI++
		}
	}
	if sampleI != sampleCount {
		return fmt.Errorf("%w: track %d: stsc+stco expansion produced %d samples, stsz declares %d", ErrProtocol, t.ID, sampleI, sampleCount)
	}

	stts := bmff.NewSttsIter(raw.stts)
	var dts uint64
	idx := 0
	for {
		e, ok := stts.Next()
		if !ok {
			break
		}
		for c := uint32(0); c < e.Count; c++ {
			if idx >= sampleCount {
				return fmt.Errorf("%w: track %d: stts run-length total exceeds stsz sample count %d", ErrProtocol, t.ID, sampleCount)
			}
			samples[idx].DTS = dts
			dts += uint64(e.Delta)
			idx++
		}
	}
	if idx != sampleCount {
		return fmt.Errorf("%w: track %d: stts total %d samples, stsz declares %d", ErrProtocol, t.ID, idx, sampleCount)
	}

	if raw.stss == nil {
		for i := range samples {
			samples[i].IsSync = true
		}
	} else {
		sync := bmff.NewUint32Iter(raw.stss)
		for {
			v, ok := sync.Next()
			if !ok {
				break
			}
			if v >= 1 && int(v) <= sampleCount {
				samples[v-1].IsSync = true
			}
		}
	}

	t.Samples = samples
	return nil
}
