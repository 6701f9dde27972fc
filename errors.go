package demux

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies the failure mode of an Error, mirroring the taxonomy a
// caller needs to decide whether a retry, a different file, or a bug report
// is in order.
type Code int

const (
	// Invalid means the input bytes are not a well-formed ISOBMFF structure
	// (bad box size, header truncated mid-box, and similar).
	Invalid Code = iota
	// Io means the underlying byte source returned a read error.
	Io
	// Oom means an allocation was refused because it exceeded a configured
	// resource bound.
	Oom
	// NotFound means a requested track ID does not exist, a track has no
	// samples to seek to, or the movie has no cover art.
	NotFound
	// BufTooSmall means a caller-supplied buffer is smaller than the data
	// that must be written into it.
	BufTooSmall
	// Protocol means the file is syntactically valid ISOBMFF but violates
	// an invariant this demuxer relies on (e.g. mismatched sample counts).
	Protocol
	// Unsupported means the requested operation does not apply to the track
	// (AVCDecoderConfig on a track that is not a video track).
	Unsupported
)

func (c Code) String() string {
	switch c {
	case Invalid:
		return "invalid"
	case Io:
		return "io"
	case Oom:
		return "oom"
	case NotFound:
		return "not_found"
	case BufTooSmall:
		return "buf_too_small"
	case Protocol:
		return "protocol"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported operation in this
// package. Op names the failing operation ("Open", "Seek", "NextSample",
// ...) and Box names the box type under inspection when known.
type Error struct {
	Code Code
	Op   string
	Box  string
	Err  error
}

func (e *Error) Error() string {
	if e.Box != "" {
		return fmt.Sprintf("demux: %s: %s (%s): %v", e.Op, e.Code, e.Box, e.Err)
	}
	return fmt.Sprintf("demux: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an Error, wrapping the cause with a stack trace recorded at
// this call.
func newErr(code Code, op, box string, err error) *Error {
	return &Error{Code: code, Op: op, Box: box, Err: errors.WithStack(err)}
}

func errInvalid(op, box string, err error) error {
	return newErr(Invalid, op, box, err)
}

func errProtocol(op, box string, err error) error {
	return newErr(Protocol, op, box, err)
}

func errNotFound(op, box string, err error) error {
	return newErr(NotFound, op, box, err)
}

func errIo(op string, err error) error {
	return newErr(Io, op, "", err)
}

func errUnsupported(op, box string, err error) error {
	return newErr(Unsupported, op, box, err)
}

func errBufTooSmall(op string, need int) error {
	return newErr(BufTooSmall, op, "", errors.Errorf("buffer too small, need %d bytes", need))
}
