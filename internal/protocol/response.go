package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
)

// DefaultChunkSize is the payload write size used when none is configured.
const DefaultChunkSize = 1024

// LengthSize is the size of the big-endian payload length prefix.
const LengthSize = 8

// Sentinel responses, matched byte for byte including the trailing NUL.
var (
	NotFoundSentinel      = []byte("File not found\x00")
	NoUpdateSentinel      = []byte("NO_UPDATE\x00")
	ProtocolErrorSentinel = []byte("PROTOCOL_ERROR\x00")
)

// ResponseKind identifies which response the server chose.
type ResponseKind int

const (
	NotFound ResponseKind = iota + 1
	FullContent
	NoUpdate
	Delta
	ProtocolError
)

func (k ResponseKind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case FullContent:
		return "full-content"
	case NoUpdate:
		return "no-update"
	case Delta:
		return "delta"
	case ProtocolError:
		return "protocol-error"
	default:
		return fmt.Sprintf("response(%d)", int(k))
	}
}

// Response describes one reply. Size is the payload length for
// FullContent and Delta; Offset is where a Delta starts in the file.
type Response struct {
	Kind   ResponseKind
	Size   uint64
	Offset uint64
	Reason string
}

// HasPayload reports whether the response is a length-prefixed frame.
func (r Response) HasPayload() bool {
	return r.Kind == FullContent || r.Kind == Delta
}

// Sentinel returns the fixed bytes for sentinel responses and nil for
// framed ones.
func (r Response) Sentinel() []byte {
	switch r.Kind {
	case NotFound:
		return NotFoundSentinel
	case NoUpdate:
		return NoUpdateSentinel
	case ProtocolError:
		return ProtocolErrorSentinel
	}
	return nil
}

// PutLength stores n in network byte order.
func PutLength(dst []byte, n uint64) {
	binary.BigEndian.PutUint64(dst, n)
}

// Length decodes a network byte order length prefix.
func Length(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// WriteSentinel writes a sentinel response.
func WriteSentinel(w io.Writer, sentinel []byte) error {
	if _, err := w.Write(sentinel); err != nil {
		return Wrap(err, ErrConnection, "writing response")
	}
	return nil
}

// WriteLength writes the length prefix that opens a framed response.
func WriteLength(w io.Writer, n uint64) error {
	var prefix [LengthSize]byte
	PutLength(prefix[:], n)
	if _, err := w.Write(prefix[:]); err != nil {
		return Wrap(err, ErrConnection, "writing length prefix")
	}
	return nil
}

// WriteFrame writes a complete framed response: the length prefix
// followed by exactly size bytes from src, in chunkSize writes. Before
// each write, beforeChunk (if non-nil) is called so the caller can extend
// deadlines. Running out of src early is ErrTransferAborted.
func WriteFrame(w io.Writer, src io.Reader, size uint64, chunkSize int, beforeChunk func() error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if beforeChunk != nil {
		if err := beforeChunk(); err != nil {
			return err
		}
	}
	if err := WriteLength(w, size); err != nil {
		return err
	}

	buf := make([]byte, chunkSize)
	var sent uint64
	for sent < size {
		want := uint64(chunkSize)
		if remaining := size - sent; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(src, buf[:want])
		if n > 0 {
			if beforeChunk != nil {
				if err := beforeChunk(); err != nil {
					return err
				}
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: sent %d of %d bytes: %w", ErrTransferAborted, sent, size, Wrap(werr, ErrConnection, "writing payload"))
			}
			sent += uint64(n)
		}
		if err != nil {
			if sent == size {
				break
			}
			return fmt.Errorf("%w: source ended after %d of %d bytes: %w", ErrTransferAborted, sent, size, err)
		}
	}
	return nil
}

// ReadResponse reads the head of a response. Every sentinel is tried in
// full before the first eight bytes are taken as a length prefix. For
// framed responses the payload is left on r; use CopyPayload to drain it.
// The wire does not distinguish whole files from deltas, so every frame
// comes back as FullContent and the caller reinterprets it by request kind.
func ReadResponse(r *bufio.Reader) (Response, error) {
	for _, candidate := range []struct {
		sentinel []byte
		kind     ResponseKind
	}{
		{NotFoundSentinel, NotFound},
		{NoUpdateSentinel, NoUpdate},
		{ProtocolErrorSentinel, ProtocolError},
	} {
		peeked, err := r.Peek(len(candidate.sentinel))
		if err == nil && bytes.Equal(peeked, candidate.sentinel) {
			if _, err := r.Discard(len(candidate.sentinel)); err != nil {
				return Response{}, Wrap(err, ErrConnection, "reading response")
			}
			return Response{Kind: candidate.kind}, nil
		}
		// A short response shows up as EOF here; anything else is fatal.
		if err != nil && !errors.Is(err, io.EOF) {
			return Response{}, Wrap(err, ErrConnection, "reading response")
		}
	}

	var prefix [LengthSize]byte
	n, err := io.ReadFull(r, prefix[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, fmt.Errorf("%w: response ended after %d bytes, before the length prefix", ErrTruncated, n)
		}
		return Response{}, Wrap(err, ErrConnection, "reading response")
	}
	return Response{Kind: FullContent, Size: Length(prefix[:])}, nil
}

// CopyPayload copies exactly size payload bytes from r to w. Fewer bytes
// before EOF is ErrTruncated.
func CopyPayload(w io.Writer, r io.Reader, size uint64) (uint64, error) {
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("%w: payload length %d out of range", ErrProtocol, size)
	}
	n, err := io.CopyN(w, r, int64(size))
	switch {
	case err == nil:
		return uint64(n), nil
	case errors.Is(err, io.EOF):
		return uint64(n), fmt.Errorf("%w: received %d of %d bytes", ErrTruncated, n, size)
	}
	// Local write failures come back as *fs.PathError; the rest is the
	// connection.
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return uint64(n), fmt.Errorf("writing payload: %w", err)
	}
	return uint64(n), Wrap(err, ErrConnection, "reading payload")
}
