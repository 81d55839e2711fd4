package client

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/resplink/backlog"
	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/protocol"
)

const (
	DefaultAddr           = "127.0.0.1:6379"
	DefaultLockTimeout    = 5 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultIOTimeout      = 5 * time.Second
	DefaultReconnectMin   = 100 * time.Millisecond
	DefaultReconnectMax   = 5 * time.Second

	// UpdateBufferSize is how many updates UpdateChan holds before new ones
	// are dropped.
	UpdateBufferSize = 255
)

type Options struct {
	Addr string

	// Protocol is the RESP version. 3 sends HELLO 3 on every connect and
	// enables pushes.
	Protocol int

	// LockTimeout bounds how long a command waits for the connection.
	LockTimeout time.Duration

	// CommandTimeout is each command's budget, backlog time included.
	CommandTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFrameSize caps a single reply. Larger replies fail with
	// transport.ErrFrameTooLarge and drop the connection. Zero means no
	// limit.
	MaxFrameSize int

	// BacklogMax is how many failed commands wait for the connection to
	// come back before new failures are returned straight away.
	BacklogMax int

	// BacklogPolicy picks which failed commands are retried.
	BacklogPolicy backlog.Policy

	// RetryInterval is how often the backlog retries while disconnected.
	RetryInterval time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// ValidateWrites checks every request with the RESP scanner before it
	// is written.
	ValidateWrites bool

	// Dial opens the network connection. Defaults to TCP.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	// ReadAllocator backs read buffers, WriteAllocator request buffers.
	// Clients may share them.
	ReadAllocator  *buffer.Allocator
	WriteAllocator *buffer.Allocator

	// Trace logs every request and reply at debug level.
	Trace bool

	// OnUpdate is called with every push, on the goroutine that read it.
	OnUpdate func(*protocol.Update)

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}

	if o.Protocol == 0 {
		o.Protocol = 2
	}

	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}

	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultIOTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultIOTimeout
	}

	if o.BacklogPolicy == nil {
		o.BacklogPolicy = backlog.RetryIfNotSent
	}

	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}

	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = DefaultReconnectMax
		if o.ReconnectMax < o.ReconnectMin {
			o.ReconnectMax = o.ReconnectMin
		}
	}

	if o.Dial == nil {
		var d net.Dialer
		o.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	if o.ReadAllocator == nil {
		o.ReadAllocator = buffer.NewAllocator(buffer.DefaultSlabSize)
	}

	if o.WriteAllocator == nil {
		o.WriteAllocator = buffer.NewAllocator(16 * 1024)
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
