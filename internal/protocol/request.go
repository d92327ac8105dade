package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the TCP port the server listens on unless configured.
	DefaultPort = 12345

	// MaxRequestLength bounds the request line read by the server.
	MaxRequestLength = 1024

	// MaxFileNameLength bounds the file name carried in a request.
	MaxFileNameLength = 255

	fieldSeparator = "|"
)

// Kind selects what the client is asking for.
type Kind int

const (
	// Download asks for the whole file.
	Download Kind = 1
	// UpdateCheck asks for the bytes past KnownSize.
	UpdateCheck Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Download:
		return "download"
	case UpdateCheck:
		return "update-check"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Request is the single message a client sends on a connection.
type Request struct {
	Kind      Kind
	FileName  string
	KnownSize uint64
}

// NewRequest builds a validated request. KnownSize is forced to zero for
// downloads.
func NewRequest(kind Kind, fileName string, knownSize uint64) (Request, error) {
	if kind != Download && kind != UpdateCheck {
		return Request{}, fmt.Errorf("%w: unknown request kind %d", ErrProtocol, int(kind))
	}
	if err := ValidateFileName(fileName); err != nil {
		return Request{}, err
	}
	if kind == Download {
		knownSize = 0
	}
	return Request{Kind: kind, FileName: fileName, KnownSize: knownSize}, nil
}

// ValidateFileName checks the constraints the wire format puts on a file
// name. Path safety is the store's job.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty file name", ErrProtocol)
	case len(name) > MaxFileNameLength:
		return fmt.Errorf("%w: file name is %d bytes, limit %d", ErrProtocol, len(name), MaxFileNameLength)
	case strings.Contains(name, fieldSeparator):
		return fmt.Errorf("%w: file name %q contains %q", ErrProtocol, name, fieldSeparator)
	case strings.ContainsAny(name, "\x00\n\r"):
		return fmt.Errorf("%w: file name %q contains a control byte", ErrProtocol, name)
	}
	return nil
}

// EncodeRequest renders the request line "<kind>|<fileName>|<knownSize>".
func EncodeRequest(req Request) ([]byte, error) {
	req, err := NewRequest(req.Kind, req.FileName, req.KnownSize)
	if err != nil {
		return nil, err
	}
	line := make([]byte, 0, len(req.FileName)+24)
	line = strconv.AppendInt(line, int64(req.Kind), 10)
	line = append(line, fieldSeparator...)
	line = append(line, req.FileName...)
	line = append(line, fieldSeparator...)
	line = strconv.AppendUint(line, req.KnownSize, 10)
	return line, nil
}

// DecodeRequest parses a request line. Any deviation from the three-field
// layout is an ErrProtocol.
func DecodeRequest(line []byte) (Request, error) {
	if len(line) > MaxRequestLength {
		return Request{}, fmt.Errorf("%w: request is %d bytes, limit %d", ErrProtocol, len(line), MaxRequestLength)
	}
	fields := strings.Split(string(line), fieldSeparator)
	if len(fields) != 3 {
		return Request{}, fmt.Errorf("%w: request has %d fields, want 3", ErrProtocol, len(fields))
	}

	var kind Kind
	switch fields[0] {
	case "1":
		kind = Download
	case "2":
		kind = UpdateCheck
	default:
		return Request{}, fmt.Errorf("%w: invalid request kind %q", ErrProtocol, fields[0])
	}

	// ParseUint accepts a leading '+'; the wire format does not.
	if fields[2] == "" || fields[2][0] < '0' || fields[2][0] > '9' {
		return Request{}, fmt.Errorf("%w: invalid known size %q", ErrProtocol, fields[2])
	}
	knownSize, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("%w: invalid known size %q", ErrProtocol, fields[2])
	}

	return NewRequest(kind, fields[1], knownSize)
}

// ReadRequest reads one request line from r. The line ends at the first
// newline or NUL, at EOF (the client half-closes after sending), or as
// soon as the bytes read so far decode as a complete request, since
// clients may send the bare line and wait. More than MaxRequestLength
// bytes without an end is an ErrProtocol, as is a partial line cut off by
// a read error or deadline.
func ReadRequest(r io.Reader) (Request, error) {
	buf := make([]byte, 0, 128)
	chunk := make([]byte, 256)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if i := bytes.IndexAny(buf, "\n\x00"); i >= 0 {
				return DecodeRequest(bytes.TrimSuffix(buf[:i], []byte("\r")))
			}
			if len(buf) > MaxRequestLength {
				return Request{}, fmt.Errorf("%w: request exceeds %d bytes", ErrProtocol, MaxRequestLength)
			}
			if req, derr := DecodeRequest(buf); derr == nil {
				return req, nil
			}
		}
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 {
				return Request{}, fmt.Errorf("%w: connection closed before a request was sent", ErrProtocol)
			}
			return DecodeRequest(buf)
		}
		if err != nil {
			if len(buf) > 0 {
				_, derr := DecodeRequest(buf)
				return Request{}, fmt.Errorf("incomplete request %q: %w: %w", buf, derr, Wrap(err, ErrConnection, "reading request"))
			}
			return Request{}, Wrap(err, ErrConnection, "reading request")
		}
	}
}
