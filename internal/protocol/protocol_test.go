package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"download", Request{Kind: Download, FileName: "a.txt"}, "1|a.txt|0"},
		{"download ignores known size", Request{Kind: Download, FileName: "a.txt", KnownSize: 9}, "1|a.txt|0"},
		{"update", Request{Kind: UpdateCheck, FileName: "a.txt", KnownSize: 5}, "2|a.txt|5"},
		{"max size", Request{Kind: UpdateCheck, FileName: "b", KnownSize: 1<<64 - 1}, "2|b|18446744073709551615"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeRequestRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "a|b", "a\x00b", "a\nb", strings.Repeat("x", MaxFileNameLength+1)} {
		if _, err := EncodeRequest(Request{Kind: Download, FileName: name}); !errors.Is(err, ErrProtocol) {
			t.Errorf("EncodeRequest(%q) error = %v, want ErrProtocol", name, err)
		}
	}
	if _, err := EncodeRequest(Request{Kind: 3, FileName: "a"}); !errors.Is(err, ErrProtocol) {
		t.Errorf("EncodeRequest(kind 3) error = %v, want ErrProtocol", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte("2|a.txt|5"))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	want := Request{Kind: UpdateCheck, FileName: "a.txt", KnownSize: 5}
	if req != want {
		t.Errorf("DecodeRequest = %+v, want %+v", req, want)
	}

	req, err = DecodeRequest([]byte("1|dir/b.bin|0"))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Kind != Download || req.FileName != "dir/b.bin" {
		t.Errorf("DecodeRequest = %+v", req)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"1|a.txt",
		"1|a.txt|0|extra",
		"3|a.txt|0",
		"0|a.txt|0",
		"x|a.txt|0",
		"2|a.txt|-1",
		"2|a.txt|+1",
		"2|a.txt|",
		"2|a.txt|5x",
		"2|a.txt|18446744073709551616",
		"1||0",
		"1|" + strings.Repeat("y", MaxRequestLength) + "|0",
	} {
		if _, err := DecodeRequest([]byte(line)); !errors.Is(err, ErrProtocol) {
			t.Errorf("DecodeRequest(%q) error = %v, want ErrProtocol", line, err)
		}
	}
}

func TestRequestRoundTrip(t *testing.T) {
	original := Request{Kind: UpdateCheck, FileName: "notes/today.md", KnownSize: 4096}
	line, err := EncodeRequest(original)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	decoded, err := DecodeRequest(line)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}

func TestReadRequestTerminators(t *testing.T) {
	tests := []struct {
		name  string
		input io.Reader
	}{
		{"eof", strings.NewReader("2|a.txt|5")},
		{"newline", strings.NewReader("2|a.txt|5\ntrailing garbage")},
		{"crlf", strings.NewReader("2|a.txt|5\r\n")},
		{"nul", strings.NewReader("2|a.txt|5\x00")},
		{"one byte at a time", iotest.OneByteReader(strings.NewReader("2|a.txt|5"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ReadRequest(tt.input)
			if err != nil {
				t.Fatalf("ReadRequest: %v", err)
			}
			if req.Kind != UpdateCheck || req.FileName != "a.txt" || req.KnownSize != 5 {
				t.Errorf("ReadRequest = %+v", req)
			}
		})
	}
}

// scriptedReader returns each chunk from one Read, then err forever.
type scriptedReader struct {
	chunks []string
	err    error
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestReadRequestBareLine(t *testing.T) {
	// The client sends the line and waits; a further read would block.
	blocked := errors.New("read past a complete request")
	for _, chunks := range [][]string{
		{"1|a.txt|0"},
		{"1|a.t", "xt|0"},
	} {
		req, err := ReadRequest(&scriptedReader{chunks: chunks, err: blocked})
		if err != nil {
			t.Fatalf("ReadRequest(%q): %v", chunks, err)
		}
		if req.Kind != Download || req.FileName != "a.txt" {
			t.Errorf("ReadRequest(%q) = %+v", chunks, req)
		}
	}
}

func TestReadRequestPartialLineAtDeadline(t *testing.T) {
	_, err := ReadRequest(&scriptedReader{chunks: []string{"2|a.txt|"}, err: os.ErrDeadlineExceeded})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadRequest error = %v, want ErrProtocol", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadRequest error = %v, want ErrTimeout in chain", err)
	}
}

func TestReadRequestRejectsOversizedInput(t *testing.T) {
	huge := strings.Repeat("z", MaxRequestLength*4)
	_, err := ReadRequest(strings.NewReader("1|" + huge))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadRequest error = %v, want ErrProtocol", err)
	}
}

func TestReadRequestEmpty(t *testing.T) {
	if _, err := ReadRequest(strings.NewReader("")); !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadRequest error = %v, want ErrProtocol", err)
	}
}

func TestReadRequestConnectionError(t *testing.T) {
	_, err := ReadRequest(iotest.ErrReader(errors.New("reset by peer")))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("ReadRequest error = %v, want ErrConnection", err)
	}
}

func TestLengthIsNetworkByteOrder(t *testing.T) {
	var buf [LengthSize]byte
	PutLength(buf[:], 0x0102030405060708)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("PutLength = %v, want %v", buf, want)
	}
	if got := Length(want); got != 0x0102030405060708 {
		t.Errorf("Length = %#x", got)
	}

	PutLength(buf[:], 11)
	if !bytes.Equal(buf[:], []byte{0, 0, 0, 0, 0, 0, 0, 11}) {
		t.Errorf("PutLength(11) = %v", buf)
	}
}

func TestReadResponseSentinels(t *testing.T) {
	tests := []struct {
		wire []byte
		want ResponseKind
	}{
		{NotFoundSentinel, NotFound},
		{NoUpdateSentinel, NoUpdate},
		{ProtocolErrorSentinel, ProtocolError},
	}
	for _, tt := range tests {
		resp, err := ReadResponse(bufio.NewReader(bytes.NewReader(tt.wire)))
		if err != nil {
			t.Fatalf("ReadResponse(%q): %v", tt.wire, err)
		}
		if resp.Kind != tt.want {
			t.Errorf("ReadResponse(%q) kind = %v, want %v", tt.wire, resp.Kind, tt.want)
		}
	}
}

func TestReadResponseSentinelWithoutNulIsNotASentinel(t *testing.T) {
	// "NO_UPDATE" without its NUL is 9 bytes: enough for a length
	// prefix, so it must be read as one.
	resp, err := ReadResponse(bufio.NewReader(strings.NewReader("NO_UPDATE")))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Kind != FullContent {
		t.Errorf("kind = %v, want full-content", resp.Kind)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 307)
	for _, chunkSize := range []int{1, 7, 1024, 1 << 16} {
		var wire bytes.Buffer
		if err := WriteFrame(&wire, bytes.NewReader(payload), uint64(len(payload)), chunkSize, nil); err != nil {
			t.Fatalf("WriteFrame(chunk %d): %v", chunkSize, err)
		}
		if wire.Len() != LengthSize+len(payload) {
			t.Fatalf("wire length = %d, want %d", wire.Len(), LengthSize+len(payload))
		}

		reader := bufio.NewReader(&wire)
		resp, err := ReadResponse(reader)
		if err != nil {
			t.Fatalf("ReadResponse: %v", err)
		}
		if resp.Size != uint64(len(payload)) {
			t.Fatalf("size = %d, want %d", resp.Size, len(payload))
		}
		var got bytes.Buffer
		if _, err := CopyPayload(&got, reader, resp.Size); err != nil {
			t.Fatalf("CopyPayload: %v", err)
		}
		if !bytes.Equal(got.Bytes(), payload) {
			t.Fatalf("payload mismatch with chunk size %d", chunkSize)
		}
	}
}

func TestZeroLengthFrame(t *testing.T) {
	var wire bytes.Buffer
	if err := WriteFrame(&wire, strings.NewReader(""), 0, DefaultChunkSize, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(wire.Bytes(), make([]byte, LengthSize)) {
		t.Fatalf("wire = %v, want eight zero bytes", wire.Bytes())
	}
	resp, err := ReadResponse(bufio.NewReader(&wire))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Kind != FullContent || resp.Size != 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestWriteFrameShortSource(t *testing.T) {
	var wire bytes.Buffer
	err := WriteFrame(&wire, strings.NewReader("abc"), 10, 4, nil)
	if !errors.Is(err, ErrTransferAborted) {
		t.Fatalf("WriteFrame error = %v, want ErrTransferAborted", err)
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("broken pipe")
	}
	w.after--
	return len(p), nil
}

func TestWriteFrameWriteFailure(t *testing.T) {
	err := WriteFrame(&failingWriter{after: 2}, strings.NewReader(strings.Repeat("a", 100)), 100, 10, nil)
	if !errors.Is(err, ErrTransferAborted) {
		t.Fatalf("WriteFrame error = %v, want ErrTransferAborted", err)
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("WriteFrame error = %v, want ErrConnection in chain", err)
	}
}

func TestReadResponseTruncatedPrefix(t *testing.T) {
	_, err := ReadResponse(bufio.NewReader(bytes.NewReader([]byte{0, 0, 0})))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("ReadResponse error = %v, want ErrTruncated", err)
	}
	_, err = ReadResponse(bufio.NewReader(bytes.NewReader(nil)))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("ReadResponse(empty) error = %v, want ErrTruncated", err)
	}
}

func TestCopyPayloadTruncated(t *testing.T) {
	var out bytes.Buffer
	n, err := CopyPayload(&out, strings.NewReader("hello"), 11)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("CopyPayload error = %v, want ErrTruncated", err)
	}
	if n != 5 {
		t.Errorf("copied = %d, want 5", n)
	}
}

func TestClassify(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), ErrConnection, "dialing")
	if !errors.Is(wrapped, ErrConnection) {
		t.Errorf("Wrap lost the fallback kind: %v", wrapped)
	}
	if got := Classify(wrapped, ErrProtocol); got != ErrConnection {
		t.Errorf("Classify = %v, want ErrConnection", got)
	}
	if Wrap(nil, ErrConnection, "x") != nil {
		t.Error("Wrap(nil) != nil")
	}
}

func TestCopyPayloadLengthOutOfRange(t *testing.T) {
	var out bytes.Buffer
	_, err := CopyPayload(&out, strings.NewReader("x"), 1<<63)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("CopyPayload error = %v, want ErrProtocol", err)
	}
	if out.Len() != 0 {
		t.Errorf("copied %d bytes for an invalid length", out.Len())
	}
}
