package protocol

import (
	"context"
	"errors"
	"net"
	"os"
)

// Error kinds surfaced by the transfer engines. Callers match them with
// errors.Is; each layer wraps them with the detail it knows about.
var (
	ErrConnection      = errors.New("connection error")
	ErrProtocol        = errors.New("protocol error")
	ErrFileNotFound    = errors.New("file not found")
	ErrTruncated       = errors.New("truncated transfer")
	ErrTransferAborted = errors.New("transfer aborted")
	ErrTimeout         = errors.New("timeout")
)

// Classify reports which error kind err belongs to when it came straight
// out of the net or os packages. Errors that already carry a kind are
// returned with that kind. The fallback kind applies to everything else.
func Classify(err error, fallback error) error {
	for _, kind := range []error{ErrTimeout, ErrConnection, ErrProtocol, ErrFileNotFound, ErrTruncated, ErrTransferAborted} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, os.ErrNotExist) {
		return ErrFileNotFound
	}
	return fallback
}

// Wrap prefixes err with op and attaches the error kind chosen by
// Classify, keeping err in the chain so the cause is still visible.
func Wrap(err error, fallback error, op string) error {
	if err == nil {
		return nil
	}
	kind := Classify(err, fallback)
	if errors.Is(err, kind) {
		return &wrapped{op: op, err: err}
	}
	return &wrapped{op: op, kind: kind, err: err}
}

type wrapped struct {
	op   string
	kind error
	err  error
}

func (w *wrapped) Error() string {
	if w.kind == nil {
		return w.op + ": " + w.err.Error()
	}
	return w.op + ": " + w.kind.Error() + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	if w.kind == nil {
		return []error{w.err}
	}
	return []error{w.kind, w.err}
}
