// Package resptest runs a small in-process RESP server for tests.
package resptest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/resplink/protocol"
	"github.com/luma/resplink/transport"
)

var errQuit = errors.New("client quit")

// HandlerFunc answers one command. args[0] is the command name.
type HandlerFunc func(args [][]byte) protocol.Value

// Server answers PING, ECHO, HELLO, QUIT, GET, SET and DEL out of the box.
// Anything else gets an error reply unless a handler has been registered
// for it. Writes to the keyspace are pushed to every client as
// "invalidate" messages.
type Server struct {
	tcp   *transport.TCPServer
	store *Store
	done  chan struct{}

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	received []string

	log *zap.Logger
}

// NewServer starts a server on a free loopback port.
func NewServer(log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		store:    NewStore(),
		done:     make(chan struct{}),
		handlers: make(map[string]HandlerFunc),
		log:      log,
	}

	s.handleKeyspace()

	s.Handle("PING", func(args [][]byte) protocol.Value {
		if len(args) > 1 {
			return Bulk(string(args[1]))
		}
		return Simple("PONG")
	})

	s.Handle("ECHO", func(args [][]byte) protocol.Value {
		if len(args) != 2 {
			return Err("ERR wrong number of arguments for 'echo' command")
		}
		return Bulk(string(args[1]))
	})

	s.Handle("HELLO", func(args [][]byte) protocol.Value {
		proto := 2
		if len(args) > 1 {
			proto, _ = strconv.Atoi(string(args[1]))
		}

		return protocol.Value{Kind: protocol.Map, Elems: []protocol.Value{
			Bulk("server"), Bulk("resptest"),
			Bulk("proto"), {Kind: protocol.Integer, Int: int64(proto)},
		}}
	})

	s.Handle("QUIT", func(args [][]byte) protocol.Value {
		return Simple("OK")
	})

	s.tcp = transport.NewTCPServer(transport.ServerOptions{
		Addr:    "127.0.0.1:0",
		Handler: s.serve,
		Log:     log.Named("resptest"),
	})

	if err := s.tcp.Listen(context.Background()); err != nil {
		return nil, err
	}

	go s.pushUpdates(s.store.ListenToUpdates())

	return s, nil
}

// Store is the server's keyspace.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) handleKeyspace() {
	s.Handle("GET", func(args [][]byte) protocol.Value {
		if len(args) != 2 {
			return Err("ERR wrong number of arguments for 'get' command")
		}

		value, ok := s.store.Get(string(args[1]))
		if !ok {
			return protocol.Value{Kind: protocol.BulkString, Null: true}
		}
		return Bulk(value)
	})

	s.Handle("SET", func(args [][]byte) protocol.Value {
		if len(args) != 3 {
			return Err("ERR wrong number of arguments for 'set' command")
		}

		if err := s.store.Set(string(args[1]), string(args[2])); err != nil {
			return Err("ERR " + err.Error())
		}
		return Simple("OK")
	})

	s.Handle("DEL", func(args [][]byte) protocol.Value {
		var n int64
		for _, key := range args[1:] {
			deleted, err := s.store.Del(string(key))
			if err != nil {
				return Err("ERR " + err.Error())
			}
			if deleted {
				n++
			}
		}
		return Int(n)
	})
}

func (s *Server) pushUpdates(updates <-chan *Update) {
	defer close(s.done)

	for update := range updates {
		if err := s.Push("invalidate", update.Key); err != nil {
			s.log.Warn("Failed to push update", zap.String("key", update.Key), zap.Error(err))
		}
	}
}

// Addr is the address clients should dial.
func (s *Server) Addr() string {
	return s.tcp.Addr()
}

// Handle registers fn for the named command, replacing any earlier handler.
func (s *Server) Handle(name string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[strings.ToUpper(name)] = fn
}

// Received lists every command received so far, as text.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

// Push sends a RESP3 push to every connected client.
func (s *Server) Push(kind string, values ...string) error {
	push := protocol.Value{Kind: protocol.Push, Elems: []protocol.Value{Bulk(kind)}}
	for _, v := range values {
		push.Elems = append(push.Elems, Bulk(v))
	}

	return s.tcp.Broadcast(protocol.AppendValue(nil, push))
}

// DropConnections closes every client connection. The server keeps
// accepting new ones.
func (s *Server) DropConnections() error {
	return s.tcp.DropConnections()
}

func (s *Server) Close() error {
	err := multierr.Append(s.tcp.Close(), s.store.Close())
	<-s.done

	return err
}

func (s *Server) serve(ctx context.Context, conn *transport.ServerConn) error {
	peer := transport.NewConn(conn.Stream, transport.Options{
		Scanner: protocol.NewScanner(),
		Log:     conn.Log(),
	})

	err := peer.ReadFrames(ctx, func(f *transport.Frame) error {
		v, err := protocol.Decode(f)
		if err != nil {
			return err
		}

		args := make([][]byte, len(v.Elems))
		for i, e := range v.Elems {
			args[i] = e.Bytes
		}

		reply, name := s.dispatch(args)

		if _, err := conn.Write(protocol.AppendValue(nil, reply)); err != nil {
			return err
		}

		if name == "QUIT" {
			return errQuit
		}

		return nil
	})

	if errors.Is(err, errQuit) {
		return nil
	}

	return err
}

func (s *Server) dispatch(args [][]byte) (protocol.Value, string) {
	if len(args) == 0 {
		return Err("ERR empty command"), ""
	}

	name := strings.ToUpper(string(args[0]))

	s.mu.Lock()
	s.received = append(s.received, protocol.Command{Args: args}.String())
	fn, ok := s.handlers[name]
	s.mu.Unlock()

	if !ok {
		return Err("ERR unknown command '" + string(args[0]) + "'"), name
	}

	return fn(args), name
}

func Simple(s string) protocol.Value {
	return protocol.Value{Kind: protocol.SimpleString, Bytes: []byte(s)}
}

func Bulk(s string) protocol.Value {
	return protocol.Value{Kind: protocol.BulkString, Bytes: []byte(s)}
}

func Err(msg string) protocol.Value {
	return protocol.Value{Kind: protocol.Error, Bytes: []byte(msg)}
}

func Int(n int64) protocol.Value {
	return protocol.Value{Kind: protocol.Integer, Int: n}
}
