package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Dial connects to addr over TCP and wraps the connection in a Stream.
// The raw connection is returned too: closing it is how another goroutine
// interrupts a blocked read.
func Dial(ctx context.Context, addr string, options StreamOptions) (*Stream, net.Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, &ConnError{Op: "dial", Err: err}
	}

	if options.Log != nil {
		options.Log = options.Log.With(zap.String("remote", conn.RemoteAddr().String()))
	}

	return NewStream(conn, options), conn, nil
}

// Handler serves one connection accepted by a TCPServer. The connection is
// closed when it returns.
type Handler func(ctx context.Context, conn *ServerConn) error

// TCPServer accepts connections on one or more SO_REUSEPORT listeners and
// runs a Handler for each of them.
type TCPServer struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr    string
	options ServerOptions

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*ServerConn]struct{}

	log *zap.Logger
}

// NewTCPServer creates a server. Nothing is bound until Listen.
func NewTCPServer(options ServerOptions) *TCPServer {
	options.setDefaults()

	return &TCPServer{
		addr:    options.Addr,
		options: options,
		conns:   make(map[*ServerConn]struct{}),
		log:     options.Log,
	}
}

// Listen binds the listeners and starts accepting connections in the
// background.
func (s *TCPServer) Listen(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel

	s.log.Info("Starting tcp listeners", zap.Int("count", s.options.NumListeners))

	for i := 0; i < s.options.NumListeners; i++ {
		listener, err := reuseport.Listen("tcp", s.Addr())
		if err != nil {
			cancel()
			return multierr.Append(fmt.Errorf("listen on %s: %w", s.addr, err), s.closeListeners())
		}

		s.mu.Lock()
		// Later listeners share whatever port the first one was given
		s.addr = listener.Addr().String()
		s.listeners = append(s.listeners, listener)
		s.mu.Unlock()

		s.stopWaiter.Add(1)
		go func(i int) {
			defer s.stopWaiter.Done()

			log := s.log.Named("listener").With(zap.Int("listener", i))
			if err := s.accept(ctx, listener, log); err != nil {
				log.Error("Failed to accept", zap.Error(err))
			}
		}(i)
	}

	return nil
}

// Addr is the address the listeners are bound to.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

func (s *TCPServer) accept(ctx context.Context, listener net.Listener, log *zap.Logger) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				// The listener was closed while we were waiting for new connections
				return nil
			}

			return err
		}

		sc := &ServerConn{
			conn:   conn,
			Stream: NewStream(conn, s.options.Stream),
			log:    log.Named("conn").With(zap.String("remote", conn.RemoteAddr().String())),
		}

		if !s.addConn(sc) {
			sc.Close()
			return nil
		}

		s.stopWaiter.Add(1)
		go func() {
			defer s.stopWaiter.Done()
			defer s.removeConn(sc)

			if err := s.options.Handler(ctx, sc); err != nil && ctx.Err() == nil {
				sc.log.Warn("Connection handler failed", zap.Error(err))
			}
		}()
	}
}

// Broadcast writes p to every open connection.
func (s *TCPServer) Broadcast(p []byte) (err error) {
	for _, conn := range s.activeConns() {
		if _, werr := conn.Write(p); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	return err
}

// DropConnections closes every open connection and keeps listening.
func (s *TCPServer) DropConnections() (err error) {
	for _, conn := range s.activeConns() {
		err = multierr.Append(err, conn.closeConn())
	}

	return err
}

// Close stops the listeners, closes every connection and waits for the
// handlers to return.
func (s *TCPServer) Close() error {
	s.log.Info("Stopping TCP server")

	if s.cancel != nil {
		s.cancel()
	}

	err := s.closeListeners()

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for conn := range conns {
		err = multierr.Append(err, conn.closeConn())
	}

	s.stopWaiter.Wait()
	s.log.Info("TCP server stopped")

	return err
}

func (s *TCPServer) closeListeners() (err error) {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}

	return err
}

func (s *TCPServer) activeConns() []*ServerConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}

	return conns
}

func (s *TCPServer) addConn(conn *ServerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns == nil {
		return false
	}

	s.conns[conn] = struct{}{}
	return true
}

func (s *TCPServer) removeConn(conn *ServerConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		conn.log.Debug("Connection did not close cleanly", zap.Error(err))
	}
}

// ServerConn is one accepted connection. Its Stream is read only by the
// handler; writes from anywhere go through Write.
type ServerConn struct {
	*Stream

	conn net.Conn
	wmu  sync.Mutex
	log  *zap.Logger
}

// Write writes p whole, serialised with other writers.
func (c *ServerConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	return c.conn.Write(p)
}

// Log is the connection's logger.
func (c *ServerConn) Log() *zap.Logger {
	return c.log
}

func (c *ServerConn) closeConn() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
