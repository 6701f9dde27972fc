package demux

import (
	"encoding/binary"

	"github.com/nori-av/demux/track"
)

// maxChapters caps chapter extraction; a chapter track beyond this many
// samples is truncated rather than rejected.
const maxChapters = 100

// Chapter is one named chapter marker recovered from a Chapters-kind track.
type Chapter struct {
	TimeUs uint64
	Title  string
}

// extractChapters reads every sample of a Chapters-kind track and decodes
// it as a QuickTime text sample: a big-endian uint16 length prefix followed
// by that many bytes of UTF-8 text.
func extractChapters(t *track.Track, src ByteSource) ([]Chapter, error) {
	if t == nil || t.TimeScale == 0 {
		return nil, nil
	}

	n := len(t.Samples)
	if n > maxChapters {
		n = maxChapters
	}

	chapters := make([]Chapter, 0, n)
	buf := make([]byte, 0, 256)

	for i := 0; i < n; i++ {
		s := t.Samples[i]
		if cap(buf) < int(s.Size) {
			buf = make([]byte, s.Size)
		} else {
			buf = buf[:s.Size]
		}
		if _, err := src.ReadAt(buf, s.Offset); err != nil {
			return nil, errIo("Chapters", err)
		}
		if len(buf) < 2 {
			continue
		}
		textLen := int(binary.BigEndian.Uint16(buf[0:2]))
		if 2+textLen > len(buf) {
			textLen = len(buf) - 2
		}
		title := string(buf[2 : 2+textLen])

		timeUs := (s.DTS*1_000_000 + uint64(t.TimeScale)/2) / uint64(t.TimeScale)
		chapters = append(chapters, Chapter{TimeUs: timeUs, Title: title})
	}

	return chapters, nil
}
