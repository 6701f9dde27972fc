// Package demux implements a read-only ISOBMFF/MP4 demultiplexer: it parses
// a movie's box structure into tracks and a dense per-sample index, and
// lets a caller read samples, seek, and recover chapter and metadata
// dictionaries without decoding any media payload itself.
package demux

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/nori-av/demux/bmff"
	"github.com/nori-av/demux/track"
)

// macEpochOffset converts a Mac HFS epoch (1904-01-01) timestamp to Unix
// epoch (1970-01-01) seconds.
const macEpochOffset = 0x7C25B080

func macToUnix(t uint64) time.Time {
	return time.Unix(int64(t)-macEpochOffset, 0).UTC()
}

// defaultMaxMoovSize bounds how large a moov box Open will read fully into
// memory before giving up with an Oom error.
const defaultMaxMoovSize = 64 << 20

// Option configures a Demux at Open time.
type Option func(*Demux)

// WithLogger sets the structured logger used for diagnostic output. The
// zero value uses slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Demux) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxMoovSize overrides the moov-box size ceiling enforced at Open.
func WithMaxMoovSize(n int64) Option {
	return func(d *Demux) { d.maxMoovSize = n }
}

// Demux holds an opened movie's parsed structure and a cursor per track.
// A Demux is not safe for concurrent use; it has no internal locking.
type Demux struct {
	src     ByteSource
	closer  io.Closer
	logger  *slog.Logger
	ftyp    bmff.FtypInfo
	moovBuf []byte

	movie    track.MovieHeader
	tracks   []*track.Track
	metadata *Metadata

	maxMoovSize int64
}

// MediaInfo summarizes the movie-wide fields a caller typically wants
// before inspecting individual tracks.
type MediaInfo struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
	TimeScale        uint32
	Duration         uint64
	CreationTime     time.Time
	ModificationTime time.Time
	TrackCount       int
}

// TrackInfo is the caller-facing view of a parsed track.
type TrackInfo struct {
	ID                uint32
	Kind              string
	TimeScale         uint32
	Duration          uint64
	CreationTime      time.Time
	ModificationTime  time.Time
	SampleCount       int

	Width, Height uint16
	SPS, PPS      []byte

	ChannelCount              uint16
	SampleSize                uint16
	SampleRate                uint32
	AudioObjectTypeIndication byte

	ContentEncoding string
	MimeFormat      string

	HasVideoHeader           bool
	HasSoundHeader           bool
	HasHintHeader            bool
	HasNullHeader            bool
	HasExternalDataReference bool

	MetadataTrackID uint32
	ChaptersTrackID uint32
}

// NextSampleResult describes the sample NextSample just read.
type NextSampleResult struct {
	Size     int
	MetaSize int
	DTS      uint64
	TimeUs   uint64
	IsSync   bool
}

// Open parses the moov box of the MP4 file at path.
func Open(path string, opts ...Option) (*Demux, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	d, err := openSource(src, opts...)
	if err != nil {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	if c, ok := src.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

// OpenSource parses the moov box read through an already-open ByteSource,
// e.g. one backed by an in-memory buffer.
func OpenSource(src ByteSource, opts ...Option) (*Demux, error) {
	return openSource(src, opts...)
}

func openSource(src ByteSource, opts ...Option) (*Demux, error) {
	d := &Demux{
		src:         src,
		logger:      slog.Default(),
		maxMoovSize: defaultMaxMoovSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	ftyp, moovBuf, err := scanTopLevel(src, d.maxMoovSize)
	if err != nil {
		return nil, err
	}
	d.ftyp = ftyp
	d.moovBuf = moovBuf

	res, err := track.Build(moovBuf)
	if err != nil {
		switch {
		case stderrors.Is(err, track.ErrMoovNotFound):
			return nil, errInvalid("Open", "moov", err)
		case stderrors.Is(err, track.ErrProtocol):
			return nil, errProtocol("Open", "", err)
		default:
			return nil, errInvalid("Open", "", err)
		}
	}
	d.movie = res.Movie
	d.tracks = res.Tracks
	d.metadata = consolidateMetadata(res.UdtaRaw, res.MetaRaw)

	d.logger.Debug("opened movie",
		"major_brand", ftyp.MajorBrand.String(),
		"tracks", len(d.tracks),
	)
	return d, nil
}

// scanTopLevel walks the top-level boxes of an MP4 file looking for ftyp
// and moov, skipping everything else (mdat sample bytes are never read
// here; they're reached later by absolute offset).
func scanTopLevel(src ByteSource, maxMoov int64) (bmff.FtypInfo, []byte, error) {
	size := src.Size()
	var ftyp bmff.FtypInfo
	var moovBuf []byte

	hdr := make([]byte, 16)
	pos := int64(0)
	for pos+8 <= size {
		if _, err := src.ReadAt(hdr[:8], pos); err != nil {
			return ftyp, nil, errIo("Open", err)
		}
		size32 := binary.BigEndian.Uint32(hdr[0:4])
		var boxType [4]byte
		copy(boxType[:], hdr[4:8])

		headerLen := int64(8)
		boxSize := uint64(size32)
		switch {
		case size32 == 1:
			if pos+16 > size {
				return ftyp, nil, errInvalid("Open", string(boxType[:]), fmt.Errorf("truncated largesize header"))
			}
			if _, err := src.ReadAt(hdr[8:16], pos+8); err != nil {
				return ftyp, nil, errIo("Open", err)
			}
			boxSize = binary.BigEndian.Uint64(hdr[8:16])
			headerLen = 16
		case size32 == 0:
			boxSize = uint64(size - pos)
		case size32 >= 2 && size32 < 8:
			return ftyp, nil, errInvalid("Open", string(boxType[:]), fmt.Errorf("malformed box size %d", size32))
		}
		if boxSize < uint64(headerLen) || pos+int64(boxSize) > size {
			return ftyp, nil, errInvalid("Open", string(boxType[:]), fmt.Errorf("box size out of range"))
		}

		switch boxType {
		case bmff.TypeFtyp:
			buf := make([]byte, boxSize)
			if _, err := src.ReadAt(buf, pos); err != nil {
				return ftyp, nil, errIo("Open", err)
			}
			ftyp = bmff.ReadFtyp(buf[headerLen:])
		case bmff.TypeMoov:
			if int64(boxSize) > maxMoov {
				return ftyp, nil, newErr(Oom, "Open", "moov", fmt.Errorf("moov box of %d bytes exceeds %d byte limit", boxSize, maxMoov))
			}
			buf := make([]byte, boxSize)
			if _, err := src.ReadAt(buf, pos); err != nil {
				return ftyp, nil, errIo("Open", err)
			}
			moovBuf = buf
		}

		pos += int64(boxSize)
	}

	if moovBuf == nil {
		return ftyp, nil, errInvalid("Open", "moov", fmt.Errorf("no moov box found"))
	}
	return ftyp, moovBuf, nil
}

// Close releases the underlying file, if Open opened one.
func (d *Demux) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// MediaInfo returns movie-wide fields.
func (d *Demux) MediaInfo() MediaInfo {
	compat := make([]string, len(d.ftyp.Compatible))
	for i, b := range d.ftyp.Compatible {
		compat[i] = bmff.BoxType(b).String()
	}
	return MediaInfo{
		MajorBrand:        d.ftyp.MajorBrand.String(),
		MinorVersion:      d.ftyp.MinorVersion,
		CompatibleBrands:  compat,
		TimeScale:         d.movie.TimeScale,
		Duration:          d.movie.Duration,
		CreationTime:      macToUnix(d.movie.CreationTime),
		ModificationTime:  macToUnix(d.movie.ModificationTime),
		TrackCount:        len(d.tracks),
	}
}

// TrackCount returns the number of tracks found in the movie.
func (d *Demux) TrackCount() int { return len(d.tracks) }

// TrackIDs returns every track ID, in moov order.
func (d *Demux) TrackIDs() []uint32 {
	ids := make([]uint32, len(d.tracks))
	for i, t := range d.tracks {
		ids[i] = t.ID
	}
	return ids
}

// TrackInfo returns the caller-facing view of the track with the given ID.
func (d *Demux) TrackInfo(trackID uint32) (TrackInfo, error) {
	t := track.FindTrack(d.tracks, trackID)
	if t == nil {
		return TrackInfo{}, errNotFound("TrackInfo", "", fmt.Errorf("track %d not found", trackID))
	}
	return toTrackInfo(t), nil
}

func toTrackInfo(t *track.Track) TrackInfo {
	info := TrackInfo{
		ID:                        t.ID,
		Kind:                      t.Kind.String(),
		TimeScale:                 t.TimeScale,
		Duration:                  t.Duration,
		CreationTime:              macToUnix(t.CreationTime),
		ModificationTime:          macToUnix(t.ModificationTime),
		SampleCount:               len(t.Samples),
		Width:                     t.Width,
		Height:                    t.Height,
		SPS:                       t.SPS,
		PPS:                       t.PPS,
		ChannelCount:              t.ChannelCount,
		SampleSize:                t.SampleSize,
		SampleRate:                t.SampleRate,
		AudioObjectTypeIndication: t.AudioObjectTypeIndication,
		ContentEncoding:           t.ContentEncoding,
		MimeFormat:                t.MimeFormat,
		HasVideoHeader:            t.HasVideoHeader,
		HasSoundHeader:            t.HasSoundHeader,
		HasHintHeader:             t.HasHintHeader,
		HasNullHeader:             t.HasNullHeader,
		HasExternalDataReference:  t.HasExternalDataReference,
	}
	if t.MetadataOf != nil {
		info.MetadataTrackID = t.MetadataOf.ID
	}
	if t.ChaptersOf != nil {
		info.ChaptersTrackID = t.ChaptersOf.ID
	}
	return info
}

// AVCDecoderConfig returns the first SPS and PPS NAL units recovered from a
// video track's avcC box.
func (d *Demux) AVCDecoderConfig(trackID uint32) (sps, pps []byte, err error) {
	t := track.FindTrack(d.tracks, trackID)
	if t == nil {
		return nil, nil, errNotFound("AVCDecoderConfig", "", fmt.Errorf("track %d not found", trackID))
	}
	if t.Kind != track.Video {
		return nil, nil, errUnsupported("AVCDecoderConfig", "avcC", fmt.Errorf("track %d is not a video track", trackID))
	}
	return t.SPS, t.PPS, nil
}

// Seek positions a track's read cursor at the sample nearest to, and not
// after, timeUs. If sync is true the cursor is walked back to the nearest
// preceding sync sample.
func (d *Demux) Seek(trackID uint32, timeUs uint64, sync bool) error {
	t := track.FindTrack(d.tracks, trackID)
	if t == nil {
		return errNotFound("Seek", "", fmt.Errorf("track %d not found", trackID))
	}
	if len(t.Samples) == 0 || t.TimeScale == 0 {
		return errNotFound("Seek", "", fmt.Errorf("track %d has no samples", trackID))
	}

	ticks := timeUs * uint64(t.TimeScale) / 1_000_000

	idx := sort.Search(len(t.Samples), func(i int) bool {
		return t.Samples[i].DTS > ticks
	}) - 1
	if idx < 0 {
		idx = 0
	}
	if sync {
		for idx > 0 && !t.Samples[idx].IsSync {
			idx--
		}
	}
	t.CurrentSample = idx

	if meta := t.MetadataOf; meta != nil && len(meta.Samples) > 0 {
		dts := t.Samples[idx].DTS
		mi := sort.Search(len(meta.Samples), func(i int) bool {
			return meta.Samples[i].DTS >= dts
		})
		if mi < len(meta.Samples) && meta.Samples[mi].DTS == dts {
			meta.CurrentSample = mi
		}
	}
	return nil
}

// NextSample reports the track's current sample and advances its cursor.
// If sampleBuf is non-nil the sample is read into it, and a sampleBuf
// shorter than the sample fails with BufTooSmall; a nil sampleBuf only
// reports the sample. Once every sample has been returned, NextSample
// returns a zero NextSampleResult and a nil error. If the track has an
// associated metadata track (TrackInfo's MetadataTrackID) whose current
// sample shares the exact same decode time and fits in metaBuf, that sample
// is also read into metaBuf and its cursor advanced; otherwise (including a
// nil or too-short metaBuf) MetaSize is left 0 and the metadata cursor is
// untouched.
func (d *Demux) NextSample(trackID uint32, sampleBuf, metaBuf []byte) (NextSampleResult, error) {
	t := track.FindTrack(d.tracks, trackID)
	if t == nil {
		return NextSampleResult{}, errNotFound("NextSample", "", fmt.Errorf("track %d not found", trackID))
	}
	if t.CurrentSample >= len(t.Samples) {
		return NextSampleResult{}, nil
	}

	s := t.Samples[t.CurrentSample]
	if sampleBuf != nil {
		if len(sampleBuf) < int(s.Size) {
			return NextSampleResult{}, errBufTooSmall("NextSample", int(s.Size))
		}
		if _, err := d.src.ReadAt(sampleBuf[:s.Size], s.Offset); err != nil {
			return NextSampleResult{}, errIo("NextSample", err)
		}
	}
	t.CurrentSample++

	res := NextSampleResult{
		Size:   int(s.Size),
		DTS:    s.DTS,
		TimeUs: ticksToUs(s.DTS, t.TimeScale),
		IsSync: s.IsSync,
	}

	if meta := t.MetadataOf; meta != nil && len(metaBuf) > 0 && meta.CurrentSample < len(meta.Samples) {
		ms := meta.Samples[meta.CurrentSample]
		if ms.DTS == s.DTS && int(ms.Size) <= len(metaBuf) {
			mn, err := d.src.ReadAt(metaBuf[:ms.Size], ms.Offset)
			if err == nil {
				res.MetaSize = mn
				meta.CurrentSample++
			}
		}
	}

	return res, nil
}

func ticksToUs(ticks uint64, timescale uint32) uint64 {
	if timescale == 0 {
		return 0
	}
	return (ticks*1_000_000 + uint64(timescale)/2) / uint64(timescale)
}

// Chapters returns the movie's chapter list, decoded from its Chapters-kind
// track if one exists, or nil if there is none.
func (d *Demux) Chapters() ([]Chapter, error) {
	for _, t := range d.tracks {
		if t.Kind == track.Chapters {
			return extractChapters(t, d.src)
		}
	}
	return nil, nil
}

// MetadataStrings returns the movie's consolidated metadata dictionary.
func (d *Demux) MetadataStrings() []MetadataEntry {
	return d.metadata.Strings()
}

// MetadataCover copies the movie's cover art into buf, returning the cover's
// size in bytes and its image format ("jpeg", "png", or "bmp"). If buf is
// nil or shorter than the cover, nothing is copied and only the size and
// format are returned.
func (d *Demux) MetadataCover(buf []byte) (int, string, error) {
	c := d.metadata.Cover()
	if c == nil {
		return 0, "", errNotFound("MetadataCover", "", fmt.Errorf("no cover art present"))
	}
	if len(buf) < len(c.Data) {
		return len(c.Data), c.Format, nil
	}
	return copy(buf, c.Data), c.Format, nil
}
