package bmff

import "encoding/binary"

var be = binary.BigEndian

// maxDepth limits the reader's nesting stack.
const maxDepth = 32

// readerFrame stores parent state when entering a container box.
type readerFrame struct {
	end    int // parent's iteration end boundary
	boxEnd int // position to resume after exiting this container
}

// Reader provides streaming parsing of ISOBMFF boxes over an in-memory
// buffer (the fully-read moov payload, or any other self-contained box
// range). It never sees mdat sample bytes; those are located by absolute
// offset and read separately through the byte source.
type Reader struct {
	buf []byte
	pos int // next position to parse from
	end int // iteration end boundary

	// Current box state
	boxType   BoxType
	boxSize   uint64
	boxStart  int
	boxEnd    int
	dataStart int

	// Full box fields
	version uint8
	flags   uint32

	// Nesting stack
	stack [maxDepth]readerFrame
	depth int
}

// NewReader creates a Reader for the given buffer.
func NewReader(buf []byte) Reader {
	return Reader{
		buf: buf,
		end: len(buf),
	}
}

// Next advances to the next sibling box. Returns false if no more boxes.
func (r *Reader) Next() bool {
	if r.boxEnd > r.pos {
		r.pos = r.boxEnd
	}

	if r.end-r.pos < 8 {
		return false
	}

	r.boxStart = r.pos
	size := uint64(be.Uint32(r.buf[r.pos:]))
	copy(r.boxType[:], r.buf[r.pos+4:r.pos+8])
	ptr := r.pos + 8

	switch {
	case size == 1:
		if r.end-r.pos < 16 {
			return false
		}
		size = be.Uint64(r.buf[ptr:])
		ptr += 8
	case size == 0:
		size = uint64(r.end - r.pos)
	case size >= 2 && size < 8:
		// Malformed: a box can never be smaller than its own header.
		return false
	}

	r.boxSize = size
	r.boxEnd = r.boxStart + int(size)

	if r.boxEnd > r.end || r.boxEnd < ptr {
		return false
	}

	if r.boxType == (BoxType{'u', 'u', 'i', 'd'}) {
		if r.boxEnd-ptr < 16 {
			return false
		}
		ptr += 16
	}

	if IsFullBox(r.boxType) {
		if r.boxEnd-ptr < 4 {
			return false
		}
		vf := be.Uint32(r.buf[ptr:])
		r.version = uint8(vf >> 24)
		r.flags = vf & 0x00ffffff
		ptr += 4
	} else {
		r.version = 0
		r.flags = 0
	}

	r.dataStart = ptr
	return true
}

// Type returns the current box's type.
func (r *Reader) Type() BoxType { return r.boxType }

// Size returns the current box's total size including header.
func (r *Reader) Size() uint64 { return r.boxSize }

// Version returns the version field for full boxes.
func (r *Reader) Version() uint8 { return r.version }

// Flags returns the flags field for full boxes.
func (r *Reader) Flags() uint32 { return r.flags }

// Offset returns the byte offset of the current box's start in the buffer.
func (r *Reader) Offset() int { return r.boxStart }

// DataOffset returns the byte offset where the current box's data begins.
func (r *Reader) DataOffset() int { return r.dataStart }

// HeaderSize returns the size of the current box's header in bytes.
func (r *Reader) HeaderSize() int { return r.dataStart - r.boxStart }

// Data returns the current box's data (after all headers).
// The returned slice points into the original buffer.
func (r *Reader) Data() []byte {
	return r.buf[r.dataStart:r.boxEnd]
}

// RawBox returns the entire current box including headers.
// The returned slice points into the original buffer.
func (r *Reader) RawBox() []byte {
	return r.buf[r.boxStart:r.boxEnd]
}

// Depth returns the current nesting depth (0 at top level).
func (r *Reader) Depth() int { return r.depth }

// Enter descends into the current container box to iterate its children.
// After Enter, call Next to advance to the first child box. Call Exit when
// done to return to the parent level.
//
// For boxes like stsd, dref, or ilst index entries that carry fixed fields
// before any child boxes, call Skip(n) after Enter to move past them.
func (r *Reader) Enter() {
	r.stack[r.depth] = readerFrame{
		end:    r.end,
		boxEnd: r.boxEnd,
	}
	r.depth++
	r.end = r.boxEnd
	r.pos = r.dataStart
	r.boxEnd = r.dataStart // prevent Next from skipping
}

// Exit returns to the parent container level. After Exit, the next call to
// Next will advance to the next sibling.
func (r *Reader) Exit() {
	r.depth--
	f := r.stack[r.depth]
	r.end = f.end
	r.pos = f.boxEnd
	r.boxEnd = f.boxEnd
}

// Skip advances the data position by n bytes within the current container.
func (r *Reader) Skip(n int) {
	r.pos += n
	r.boxEnd = r.pos
}

// EntryCount reads the uint32 entry count at the start of box data. Used for
// boxes like stsd, dref, and keys that begin with a count field.
func (r *Reader) EntryCount() uint32 {
	data := r.Data()
	return be.Uint32(data[0:4])
}

// ReadMvhd extracts key fields from an mvhd box.
// Returns timescale, duration, creation time, modification time, and
// nextTrackId, all in raw (Mac-epoch, untranslated) units.
func (r *Reader) ReadMvhd() (timescale uint32, duration, creationTime, modificationTime uint64, nextTrackID uint32) {
	data := r.Data()
	if r.version == 1 {
		creationTime = be.Uint64(data[0:8])
		modificationTime = be.Uint64(data[8:16])
		timescale = be.Uint32(data[16:20])
		duration = be.Uint64(data[20:28])
		nextTrackID = be.Uint32(data[104:108])
	} else {
		creationTime = uint64(be.Uint32(data[0:4]))
		modificationTime = uint64(be.Uint32(data[4:8]))
		timescale = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[12:16]))
		nextTrackID = be.Uint32(data[92:96])
	}
	return
}

// ReadTkhd extracts key fields from a tkhd box.
// Width and height are 16.16 fixed-point values.
func (r *Reader) ReadTkhd() (trackID uint32, duration, creationTime, modificationTime uint64, width, height uint32) {
	data := r.Data()
	if r.version == 1 {
		creationTime = be.Uint64(data[0:8])
		modificationTime = be.Uint64(data[8:16])
		trackID = be.Uint32(data[16:20])
		duration = be.Uint64(data[24:32])
		width = be.Uint32(data[84:88])
		height = be.Uint32(data[88:92])
	} else {
		creationTime = uint64(be.Uint32(data[0:4]))
		modificationTime = uint64(be.Uint32(data[4:8]))
		trackID = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[16:20]))
		width = be.Uint32(data[72:76])
		height = be.Uint32(data[76:80])
	}
	return
}

// ReadMdhd extracts key fields from an mdhd box.
func (r *Reader) ReadMdhd() (timescale uint32, duration, creationTime, modificationTime uint64, language uint16) {
	data := r.Data()
	if r.version == 1 {
		creationTime = be.Uint64(data[0:8])
		modificationTime = be.Uint64(data[8:16])
		timescale = be.Uint32(data[16:20])
		duration = be.Uint64(data[20:28])
		language = be.Uint16(data[28:30])
	} else {
		creationTime = uint64(be.Uint32(data[0:4]))
		modificationTime = uint64(be.Uint32(data[4:8]))
		timescale = be.Uint32(data[8:12])
		duration = uint64(be.Uint32(data[12:16]))
		language = be.Uint16(data[16:18])
	}
	return
}

// ReadHdlr extracts the handler type from an hdlr box.
func (r *Reader) ReadHdlr() [4]byte {
	data := r.Data()
	var t [4]byte
	if len(data) >= 8 {
		copy(t[:], data[4:8])
	}
	return t
}
