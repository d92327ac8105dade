package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"filesync/internal/logger"
	"filesync/internal/protocol"
	"filesync/internal/store"
)

// Outcome is what a successful exchange did to the local file.
type Outcome int

const (
	Downloaded Outcome = iota + 1
	Updated
	UpToDate
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Updated:
		return "updated"
	case UpToDate:
		return "up to date"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Result struct {
	Outcome  Outcome
	FileName string
	// Received is the number of payload bytes written locally.
	Received uint64
	// Size is the local file size after the exchange.
	Size   uint64
	Digest string
}

// Client fetches or updates one file per Run.
type Client struct {
	Store       *store.Store
	DialTimeout time.Duration
	// IOTimeout bounds each read and write on the connection.
	IOTimeout time.Duration
}

// Run brings the local copy of fileName up to date with the server. A
// missing local file is downloaded whole; an existing one is extended by
// the bytes the server has past its current size. On error the local
// file is left as it was.
func (c *Client) Run(ctx context.Context, fileName, serverAddress string) (Result, error) {
	result := Result{FileName: fileName}
	if _, err := c.Store.Path(fileName); err != nil {
		return result, err
	}

	exists, err := c.Store.Exists(fileName)
	if err != nil {
		return result, err
	}
	var localSize uint64
	kind := protocol.Download
	if exists {
		if localSize, err = c.Store.Size(fileName); err != nil {
			return result, err
		}
		kind = protocol.UpdateCheck
		logger.Info.Printf("File %s exists (%s), checking for update on server", fileName, humanize.IBytes(localSize))
	} else {
		logger.Info.Printf("Requesting file %s", fileName)
	}

	req, err := protocol.NewRequest(kind, fileName, localSize)
	if err != nil {
		return result, err
	}
	line, err := protocol.EncodeRequest(req)
	if err != nil {
		return result, err
	}

	logger.Debug.Println("Connecting to server:", serverAddress)
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", serverAddress)
	if err != nil {
		return result, protocol.Wrap(err, protocol.ErrConnection, "connecting to "+serverAddress)
	}
	defer conn.Close()

	// Cancelling ctx unblocks whatever read or write is in progress.
	dc := &deadlineConn{Conn: conn, timeout: c.IOTimeout}
	stop := context.AfterFunc(ctx, dc.cancel)
	defer stop()

	if _, err := dc.Write(line); err != nil {
		return result, protocol.Wrap(err, protocol.ErrConnection, "sending request")
	}
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			return result, protocol.Wrap(err, protocol.ErrConnection, "sending request")
		}
	}

	reader := bufio.NewReader(dc)
	resp, err := protocol.ReadResponse(reader)
	if err != nil {
		return result, c.contextError(ctx, err)
	}

	switch resp.Kind {
	case protocol.NotFound:
		logger.Info.Printf("Server response: %s not found", fileName)
		return result, fmt.Errorf("%w: %s on %s", protocol.ErrFileNotFound, fileName, serverAddress)

	case protocol.ProtocolError:
		return result, fmt.Errorf("%w: server rejected %v request for %s", protocol.ErrProtocol, kind, fileName)

	case protocol.NoUpdate:
		if kind != protocol.UpdateCheck {
			return result, fmt.Errorf("%w: NO_UPDATE answer to a download of %s", protocol.ErrProtocol, fileName)
		}
		logger.Info.Println("No updates available from server")
		result.Outcome = UpToDate
		result.Size = localSize
	}

	if resp.HasPayload() {
		fill := func(w io.Writer) error {
			n, err := protocol.CopyPayload(w, reader, resp.Size)
			result.Received = n
			return err
		}
		if kind == protocol.Download {
			logger.Info.Printf("Receiving %s (%s)", fileName, humanize.IBytes(resp.Size))
			err = c.Store.CreateFrom(fileName, fill)
			result.Outcome = Downloaded
			result.Size = resp.Size
		} else {
			logger.Info.Printf("Receiving update for %s (%s)", fileName, humanize.IBytes(resp.Size))
			err = c.Store.AppendFrom(fileName, fill)
			result.Outcome = Updated
			result.Size = localSize + resp.Size
		}
		if err != nil {
			return Result{FileName: fileName}, c.contextError(ctx, err)
		}
	}

	if result.Digest, err = c.Store.Digest(fileName); err != nil {
		logger.Error.Printf("Hashing %s failed: %v", fileName, err)
	} else {
		logger.Debug.Printf("%s blake3 %s", fileName, result.Digest)
	}
	logger.Info.Printf("File %s %v (%s)", fileName, result.Outcome, humanize.IBytes(result.Size))
	return result, nil
}

func (c *Client) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// deadlineConn pushes the I/O deadline forward before every read and
// write, so the timeout bounds a stall rather than the whole transfer.
// Once cancelled the deadline stays in the past.
type deadlineConn struct {
	net.Conn
	timeout time.Duration

	mu        sync.Mutex
	cancelled bool
}

func (d *deadlineConn) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
	d.Conn.SetDeadline(time.Now())
}

func (d *deadlineConn) arm(set func(time.Time) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelled || d.timeout <= 0 {
		return
	}
	set(time.Now().Add(d.timeout))
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	d.arm(d.Conn.SetReadDeadline)
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	d.arm(d.Conn.SetWriteDeadline)
	return d.Conn.Write(p)
}
