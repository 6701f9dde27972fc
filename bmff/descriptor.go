package bmff

// MPEG-4 descriptor parsing for esds box payloads (ISO/IEC 14496-1 §8.3).
// Only enough of the descriptor tree is walked to recover the decoder's
// object type indication and decoder-specific info; the full descriptor
// grammar has many optional fields this demuxer has no use for.

const (
	descTagESDescriptor             = 0x03
	descTagDecoderConfigDescriptor  = 0x04
	descTagDecoderSpecificInfo      = 0x05
)

// EsdsInfo holds the fields recovered from an esds box's descriptor tree.
type EsdsInfo struct {
	ObjectTypeIndication byte
	DecoderSpecificInfo  []byte
}

// ReadEsds walks the ES_Descriptor inside an esds box's payload and returns
// the decoder config's object type indication and any decoder-specific
// info blob (e.g. the AudioSpecificConfig for AAC).
func ReadEsds(data []byte) EsdsInfo {
	var info EsdsInfo
	if len(data) < 2 || data[0] != descTagESDescriptor {
		return info
	}
	ptr, end := 1, len(data)
	length, ptr, ok := decodeDescLength(data, ptr, end)
	if !ok {
		return info
	}
	descEnd := min(ptr+length, end)

	// ES_Descriptor: ES_ID(2) + flags(1) [+ dependsOn(2)] [+ URL] [+ OCR(2)]
	if ptr+3 > descEnd {
		return info
	}
	flags := data[ptr+2]
	ptr += 3
	if flags&0x80 != 0 { // streamDependenceFlag
		ptr += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if ptr >= descEnd {
			return info
		}
		urlLen := int(data[ptr])
		ptr += 1 + urlLen
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		ptr += 2
	}

	if ptr >= descEnd || data[ptr] != descTagDecoderConfigDescriptor {
		return info
	}
	ptr++
	cfgLen, ptr, ok := decodeDescLength(data, ptr, descEnd)
	if !ok {
		return info
	}
	cfgEnd := min(ptr+cfgLen, descEnd)

	// DecoderConfigDescriptor: objectTypeIndication(1) + streamType etc(12) ...
	if ptr >= cfgEnd {
		return info
	}
	info.ObjectTypeIndication = data[ptr]
	ptr += 13
	if ptr >= cfgEnd || ptr >= descEnd {
		return info
	}
	if data[ptr] != descTagDecoderSpecificInfo {
		return info
	}
	ptr++
	dsiLen, ptr, ok := decodeDescLength(data, ptr, descEnd)
	if !ok {
		return info
	}
	dsiEnd := min(ptr+dsiLen, descEnd)
	if ptr < dsiEnd {
		info.DecoderSpecificInfo = append([]byte(nil), data[ptr:dsiEnd]...)
	}
	return info
}

// decodeDescLength decodes the variable-length quantity (7 bits per byte,
// top bit a continuation flag) used for descriptor lengths. Returns the
// decoded length and the position immediately after it.
func decodeDescLength(buf []byte, ptr, end int) (length, next int, ok bool) {
	for ptr < end {
		b := buf[ptr]
		ptr++
		length = (length << 7) | int(b&0x7f)
		if b&0x80 == 0 {
			return length, ptr, true
		}
	}
	return 0, ptr, false
}
