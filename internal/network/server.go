package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"filesync/internal/logger"
	"filesync/internal/mailbox"
	"filesync/internal/protocol"
	"filesync/internal/store"
)

// lingerTimeout bounds how long a closing connection drains unread input
// so the peer sees our response instead of a reset.
const lingerTimeout = time.Second

// Server answers one request per accepted connection.
type Server struct {
	Engine       *Engine
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	wg sync.WaitGroup
}

func NewServer(files *store.Store, chunkSize int, readTimeout, writeTimeout time.Duration) *Server {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultChunkSize
	}
	return &Server{
		Engine:       &Engine{Store: files, ChunkSize: chunkSize},
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return protocol.Wrap(err, protocol.ErrConnection, "listen")
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and waits for in-flight connections to finish.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()
	defer s.wg.Wait()
	defer listener.Close()

	logger.Info.Println("Serving", s.Engine.Store.Root(), "on", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info.Println("Listener closed")
				return nil
			}
			logger.Error.Println("Accept failed:", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

type inbound struct {
	req protocol.Request
	err error
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()[:8]
	defer closeGracefully(conn)

	logger.Info.Printf("[%s] Accepted connection from %s", id, conn.RemoteAddr())

	// Shutdown stops a client that never finishes its request line.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	// The two halves share nothing but the mailbox.
	box := mailbox.New[inbound]()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer box.Close()
		s.receive(ctx, id, conn, box)
	}()

	go func() {
		defer wg.Done()
		s.send(ctx, id, conn, box)
	}()

	wg.Wait()
	logger.Debug.Printf("[%s] Connection finished", id)
}

func (s *Server) receive(ctx context.Context, id string, conn net.Conn, box *mailbox.Mailbox[inbound]) {
	if s.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}
	req, err := protocol.ReadRequest(conn)
	if err := box.Put(ctx, inbound{req: req, err: err}); err != nil {
		logger.Debug.Printf("[%s] Dropping request: %v", id, err)
	}
}

func (s *Server) send(ctx context.Context, id string, conn net.Conn, box *mailbox.Mailbox[inbound]) {
	in, err := box.Take(ctx)
	if err != nil {
		logger.Debug.Printf("[%s] No request to answer: %v", id, err)
		return
	}
	if in.err != nil {
		if !errors.Is(in.err, protocol.ErrProtocol) {
			logger.Error.Printf("[%s] Receiving request failed: %v", id, in.err)
			return
		}
		logger.Error.Printf("[%s] Rejecting request: %v", id, in.err)
		if err := protocol.WriteSentinel(conn, protocol.ProtocolErrorSentinel); err != nil {
			logger.Error.Printf("[%s] Sending protocol error failed: %v", id, err)
		}
		return
	}

	req := in.req
	logger.Info.Printf("[%s] Client requested %s of %s (client has %s)",
		id, req.Kind, req.FileName, humanize.IBytes(req.KnownSize))

	transfer, err := s.Engine.Resolve(req)
	defer transfer.Close()
	if err != nil {
		logger.Error.Printf("[%s] %v", id, err)
	}

	started := time.Now()
	err = s.Engine.Stream(conn, transfer, func() error {
		if s.WriteTimeout <= 0 {
			return nil
		}
		return conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	})
	if err != nil {
		logger.Error.Printf("[%s] Sending %v for %s failed: %v", id, transfer.Kind, req.FileName, err)
		return
	}

	switch transfer.Kind {
	case protocol.FullContent, protocol.Delta:
		logger.Info.Printf("[%s] Sent %v of %s: %s in %v", id, transfer.Kind, req.FileName,
			humanize.IBytes(transfer.Size), time.Since(started).Round(time.Millisecond))
	default:
		logger.Info.Printf("[%s] Answered %s with %v", id, req.FileName, transfer.Kind)
	}
}

// closeGracefully half-closes conn and drains what the peer still sends
// before closing, so unread request bytes do not turn into a reset that
// discards the response in flight.
func closeGracefully(conn net.Conn) {
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err == nil {
			conn.SetReadDeadline(time.Now().Add(lingerTimeout))
			io.Copy(io.Discard, io.LimitReader(conn, 64<<10))
		}
	}
	conn.Close()
}
