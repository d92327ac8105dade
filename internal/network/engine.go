package network

import (
	"errors"
	"fmt"
	"io"

	"filesync/internal/protocol"
	"filesync/internal/store"
)

// Engine decides how to answer a request and streams the answer.
type Engine struct {
	Store     *store.Store
	ChunkSize int
}

// Transfer is a resolved response together with the file handle its
// payload will be read from. Close must be called on every path.
type Transfer struct {
	protocol.Response
	file *store.File
}

func (t *Transfer) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Resolve maps a request onto a response. The file is opened once and
// its size taken from that handle, so the declared length and the bytes
// streamed come from the same file.
//
// A missing file answers NotFound for both kinds. For an update check
// the returned error is ErrFileNotFound as well, since no delta can be
// computed. A file that exists but cannot be opened, such as a symlink
// leading out of the store, also answers NotFound, with the open error. A known size beyond the server's size is a ProtocolError
// response plus an ErrProtocol error.
func (e *Engine) Resolve(req protocol.Request) (*Transfer, error) {
	f, err := e.Store.Open(req.FileName)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrFileNotFound) && req.Kind == protocol.Download:
			return &Transfer{Response: protocol.Response{Kind: protocol.NotFound}}, nil
		case errors.Is(err, protocol.ErrFileNotFound):
			return &Transfer{Response: protocol.Response{Kind: protocol.NotFound}},
				fmt.Errorf("update check for %s: %w", req.FileName, err)
		case errors.Is(err, protocol.ErrProtocol):
			return &Transfer{Response: protocol.Response{Kind: protocol.ProtocolError, Reason: err.Error()}}, err
		default:
			return &Transfer{Response: protocol.Response{Kind: protocol.NotFound}},
				fmt.Errorf("opening %s: %w", req.FileName, err)
		}
	}

	switch req.Kind {
	case protocol.Download:
		return &Transfer{
			Response: protocol.Response{Kind: protocol.FullContent, Size: f.Size},
			file:     f,
		}, nil

	case protocol.UpdateCheck:
		switch {
		case req.KnownSize == f.Size:
			f.Close()
			return &Transfer{Response: protocol.Response{Kind: protocol.NoUpdate}}, nil
		case req.KnownSize < f.Size:
			return &Transfer{
				Response: protocol.Response{Kind: protocol.Delta, Size: f.Size - req.KnownSize, Offset: req.KnownSize},
				file:     f,
			}, nil
		default:
			f.Close()
			err := fmt.Errorf("%w: client ahead of server for %s (client %d bytes, server %d bytes)",
				protocol.ErrProtocol, req.FileName, req.KnownSize, f.Size)
			return &Transfer{Response: protocol.Response{Kind: protocol.ProtocolError, Reason: err.Error()}}, err
		}
	}

	f.Close()
	err = fmt.Errorf("%w: unknown request kind %v", protocol.ErrProtocol, req.Kind)
	return &Transfer{Response: protocol.Response{Kind: protocol.ProtocolError, Reason: err.Error()}}, err
}

// Stream writes the transfer's response to w. Framed responses send
// exactly Size bytes starting at Offset; anything less is
// ErrTransferAborted. beforeChunk runs ahead of every write.
func (e *Engine) Stream(w io.Writer, t *Transfer, beforeChunk func() error) error {
	if sentinel := t.Sentinel(); sentinel != nil {
		if beforeChunk != nil {
			if err := beforeChunk(); err != nil {
				return err
			}
		}
		return protocol.WriteSentinel(w, sentinel)
	}
	if t.file == nil {
		return fmt.Errorf("%w: %v response without a file", protocol.ErrTransferAborted, t.Kind)
	}

	if _, err := t.file.Seek(int64(t.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to %d: %w", protocol.ErrTransferAborted, t.Offset, err)
	}
	return protocol.WriteFrame(w, t.file, t.Size, e.ChunkSize, beforeChunk)
}
