package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSuccessPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	if p.styled {
		t.Fatal("buffer should not be treated as a terminal")
	}

	p.Success("notes.txt", "downloaded", 2048, 2048)
	if got, want := buf.String(), "ok notes.txt downloaded (2.0 KiB)\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSuccessShowsPartialReceive(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Success("log", "updated", 1536, 512)
	if got := buf.String(); !strings.Contains(got, "received 512 B") {
		t.Errorf("missing received detail: %q", got)
	}
}

func TestFailure(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Failure("missing.bin", errors.New("file not found"))
	if got, want := buf.String(), "failed missing.bin: file not found\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
