package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/resplink/buffer"
)

// StreamOptions configure a Stream.
type StreamOptions struct {
	// Allocator backs the read buffer. Read buffers live as long as the
	// frames that alias them, so they should not share slabs with short
	// lived write buffers.
	Allocator *buffer.Allocator

	// ReadSize is the smallest segment reads land in
	ReadSize int

	// MaxFrameSize caps how many bytes a single frame may buffer. Zero
	// means no limit.
	MaxFrameSize int

	// ReadTimeout bounds each read when the stream supports deadlines.
	// Zero means no timeout.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write when the stream supports deadlines.
	WriteTimeout time.Duration

	Log *zap.Logger
}

func (o *StreamOptions) setDefaults() {
	if o.Allocator == nil {
		o.Allocator = buffer.NewAllocator(buffer.DefaultSlabSize)
	}

	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Options configure a Conn.
type Options struct {
	// Scanner finds frames in the byte stream. Required.
	Scanner Scanner

	// Allocator leases the buffers requests are serialised into.
	Allocator *buffer.Allocator

	// OnOutOfBand receives unsolicited frames. The frame is released when
	// the callback returns; use Frame.Retain to keep it.
	OnOutOfBand func(*Frame)

	// ValidateWrites checks every serialised request with the Scanner's
	// Validator, if it has one, before writing it.
	ValidateWrites bool

	// Trace logs every request and frame at debug level. This is only
	// useful in local debugging
	Trace bool

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Allocator == nil {
		o.Allocator = buffer.NewAllocator(16 * 1024)
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// ServerOptions configure a TCPServer.
type ServerOptions struct {
	// Addr to listen on. Port 0 picks a free port shared by every listener.
	Addr string

	// NumListeners is the number of SO_REUSEPORT listeners accepting
	// connections. Defaults to 1.
	NumListeners int

	// Handler serves one accepted connection. Required.
	Handler Handler

	// Stream configures the read side of accepted connections.
	Stream StreamOptions

	Log *zap.Logger
}

func (o *ServerOptions) setDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:0"
	}

	if o.NumListeners < 1 {
		o.NumListeners = 1
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	if o.Stream.Log == nil {
		o.Stream.Log = o.Log
	}
}
