package demux

import (
	"io"
	"os"
)

// ByteSource is the abstraction this demuxer reads mdat sample bytes
// through. It never needs sequential access: every read is addressed by an
// absolute offset recovered from a track's sample index.
type ByteSource interface {
	io.ReaderAt
	// Size returns the total size of the underlying data in bytes.
	Size() int64
}

// fileSource is the default ByteSource, backed by an *os.File.
type fileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path and wraps it as a ByteSource.
func OpenFile(path string) (ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errIo("OpenFile", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errIo("OpenFile", err)
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }
func (s *fileSource) Close() error                            { return s.f.Close() }

// memSource is a ByteSource backed by an in-memory buffer, useful for tests
// and for callers that have already read a whole file into memory.
type memSource struct {
	buf []byte
}

// NewMemSource wraps buf as a ByteSource. buf is not copied.
func NewMemSource(buf []byte) ByteSource { return &memSource{buf: buf} }

func (s *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *memSource) Size() int64 { return int64(len(s.buf)) }
