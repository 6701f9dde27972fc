package demux

import (
	"encoding/binary"

	"github.com/nori-av/demux/bmff"
)

// Cover art value classes, as used by the "data" box's flags field (ISO
// 14496-12 §8.11.3 / QuickTime metadata class codes).
const (
	classUTF8 = 1
	classJPEG = 13
	classPNG  = 14
	classBMP  = 27
)

// textTagWhitelist is the closed set of QuickTime four-char tags whose
// text values become metadata entries; every other tag's text is dropped,
// except the "----" freeform tag, which is keyed by its own name child.
var textTagWhitelist = map[string]bool{
	"\xa9ART": true,
	"\xa9nam": true,
	"\xa9day": true,
	"\xa9cmt": true,
	"\xa9cpy": true,
	"\xa9mak": true,
	"\xa9mod": true,
	"\xa9swr": true,
	"\xa9too": true,
}

// CoverArt is an embedded cover image recovered from either metadata
// dictionary.
type CoverArt struct {
	Data   []byte
	Format string // "jpeg", "png", or "bmp"
}

// Metadata is the consolidated result of walking a movie's udta and meta
// boxes: a flat string dictionary plus an optional cover image, merged with
// the precedence the ISO meta dictionary takes over the QuickTime udta
// dictionary, which in turn takes over the legacy "©xyz" style tags.
type Metadata struct {
	entries map[string]string
	order   []string
	cover   *CoverArt
}

// Strings returns the consolidated key/value pairs in first-seen order.
func (m *Metadata) Strings() []MetadataEntry {
	out := make([]MetadataEntry, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, MetadataEntry{Key: k, Value: m.entries[k]})
	}
	return out
}

// MetadataEntry is one consolidated key/value metadata pair.
type MetadataEntry struct {
	Key   string
	Value string
}

// Cover returns the consolidated cover image, or nil if none was found.
func (m *Metadata) Cover() *CoverArt { return m.cover }

func (m *Metadata) set(key, value string) {
	if key == "" || value == "" {
		return
	}
	if _, exists := m.entries[key]; exists {
		return
	}
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[key] = value
	m.order = append(m.order, key)
}

func (m *Metadata) setCover(c *CoverArt, preferred bool) {
	if c == nil {
		return
	}
	if m.cover == nil || preferred {
		m.cover = c
	}
}

// consolidateMetadata merges a movie's ISO meta dictionary and QuickTime
// udta dictionary into a single Metadata value. Either buffer may be nil.
// metaRaw and udtaRaw are raw boxes (header included), as captured by
// track.Build.
func consolidateMetadata(udtaRaw, metaRaw []byte) *Metadata {
	m := &Metadata{}

	// ISO meta/keys+ilst dictionary takes top precedence.
	if metaRaw != nil {
		gatherIsoMeta(metaRaw, m)
	}

	// QuickTime udta/meta/ilst four-char-tag dictionary, the "----" freeform
	// tags, and the udta "©xyz" location. An ilst placed directly under udta
	// (without a meta box) is not read.
	if udtaRaw != nil {
		gatherUdta(udtaRaw, m)
	}

	return m
}

func gatherIsoMeta(metaRaw []byte, m *Metadata) {
	mr := bmff.NewReader(metaRaw)
	if !mr.Next() || mr.Type() != bmff.TypeMeta {
		return
	}

	var keys []string // 1-based; keys[0] unused
	var ilstData []byte

	mr.Enter()
	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeKeys:
			keys = readKeys(mr.Data())
		case bmff.TypeIlst:
			ilstData = mr.RawBox()
		}
	}
	mr.Exit()

	if ilstData == nil {
		return
	}
	walkIlst(ilstData, func(tag [4]byte, vr *bmff.Reader) {
		var key string
		if tag[0] == 0 && tag[1] == 0 && tag[2] == 0 {
			idx := int(binary.BigEndian.Uint32(tag[:]))
			if idx >= 1 && idx < len(keys) {
				key = keys[idx]
			}
		}
		if key == "" {
			return
		}
		value, cover := readDataEntry(vr)
		m.set(key, value)
		if key == "com.apple.quicktime.artwork" {
			m.setCover(cover, true)
		}
	})
}

func readKeys(data []byte) []string {
	if len(data) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(data[0:4])
	keys := make([]string, count+1)
	kr := bmff.NewReader(data[4:])
	i := 1
	for kr.Next() && i <= int(count) {
		keys[i] = string(kr.Data())
		i++
	}
	return keys
}

func gatherUdta(udtaRaw []byte, m *Metadata) {
	mr := bmff.NewReader(udtaRaw)
	if !mr.Next() || mr.Type() != bmff.TypeUdta {
		return
	}

	var xyz string
	mr.Enter()
	for mr.Next() {
		switch mr.Type() {
		case bmff.TypeMeta:
			gatherUdtaMeta(mr.RawBox(), m)
		case bmff.TypeXyz:
			// u16 location_size, u16 language, then the location string.
			if data := mr.Data(); len(data) >= 4 {
				n := min(int(binary.BigEndian.Uint16(data[0:2])), len(data)-4)
				xyz = string(data[4 : 4+n])
			}
		}
	}
	mr.Exit()

	// The location entry follows every udta tag entry.
	m.set(bmff.TypeXyz.String(), xyz)
}

func gatherUdtaMeta(metaRaw []byte, m *Metadata) {
	mr := bmff.NewReader(metaRaw)
	if !mr.Next() || mr.Type() != bmff.TypeMeta {
		return
	}

	var ilstData []byte
	mr.Enter()
	for mr.Next() {
		if mr.Type() == bmff.TypeIlst {
			ilstData = mr.RawBox()
		}
	}
	mr.Exit()

	if ilstData == nil {
		return
	}
	walkIlst(ilstData, func(tag [4]byte, vr *bmff.Reader) {
		bt := bmff.BoxType(tag)
		if bt == (bmff.BoxType{'-', '-', '-', '-'}) {
			key, value := readFreeformEntry(vr)
			m.set(key, value)
			return
		}
		value, cover := readDataEntry(vr)
		if textTagWhitelist[bt.String()] {
			m.set(bt.String(), value)
		}
		if bt == bmff.TypeCovr {
			m.setCover(cover, false)
		}
	})
}

// walkIlst iterates an ilst box's direct children, calling fn with each
// child's raw tag and a Reader positioned to walk that child's own
// children (already Enter()ed).
func walkIlst(ilstRaw []byte, fn func(tag [4]byte, vr *bmff.Reader)) {
	lr := bmff.NewReader(ilstRaw)
	if !lr.Next() || lr.Type() != bmff.TypeIlst {
		return
	}
	lr.Enter()
	for lr.Next() {
		tag := lr.Type()
		child := bmff.NewReader(lr.RawBox())
		if !child.Next() {
			continue
		}
		fn([4]byte(tag), &child)
	}
	lr.Exit()
}

// readDataEntry expects vr positioned at a tag box (not yet entered) and
// looks for a nested "data" box among its children.
func readDataEntry(vr *bmff.Reader) (value string, cover *CoverArt) {
	vr.Enter()
	defer vr.Exit()
	for vr.Next() {
		if vr.Type() != bmff.TypeData {
			continue
		}
		data := vr.Data()
		if len(data) < 4 {
			continue
		}
		class := vr.Flags()
		payload := data[4:]
		switch class {
		case classUTF8:
			value = string(payload)
		case classJPEG:
			cover = &CoverArt{Data: append([]byte(nil), payload...), Format: "jpeg"}
		case classPNG:
			cover = &CoverArt{Data: append([]byte(nil), payload...), Format: "png"}
		case classBMP:
			cover = &CoverArt{Data: append([]byte(nil), payload...), Format: "bmp"}
		}
		return
	}
	return
}

// readFreeformEntry expects vr positioned at a "----" tag box and recovers
// the name and UTF-8 data children iTunes uses for vendor-extension
// metadata. The mean (namespace) child is not read.
func readFreeformEntry(vr *bmff.Reader) (key, value string) {
	vr.Enter()
	defer vr.Exit()

	var name string
	for vr.Next() {
		switch vr.Type() {
		case bmff.TypeName:
			data := vr.Data()
			if len(data) > 4 {
				name = string(data[4:])
			}
		case bmff.TypeData:
			data := vr.Data()
			if len(data) >= 4 && vr.Flags() == classUTF8 {
				value = string(data[4:])
			}
		}
	}
	return name, value
}
