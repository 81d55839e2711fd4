package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/luma/resplink/buffer"
)

// WriteFunc serialises a request into w.
type WriteFunc func(w *buffer.Writer) error

// ReadFunc decodes the response frame. The frame is released once it
// returns.
type ReadFunc func(f *Frame) error

// Exchanger sends one request and reads exactly one response.
type Exchanger interface {
	Exchange(ctx context.Context, write WriteFunc, read ReadFunc) error
}

// AsyncExchanger can also run exchanges in the background.
type AsyncExchanger interface {
	Exchanger
	ExchangeAsync(ctx context.Context, write WriteFunc, read ReadFunc) *Call
}

// Conn pairs requests with responses over a ByteTransport.
//
// Conn does no locking of its own. RESP has no request IDs, so two
// concurrent exchanges on one Conn would read each other's responses; wrap
// it in a Monitor or Semaphore when it is shared.
type Conn struct {
	bt      ByteTransport
	frames  frameReader
	options Options
	log     *zap.Logger
}

// NewConn creates a request/response transport over bt.
func NewConn(bt ByteTransport, options Options) *Conn {
	options.setDefaults()

	c := &Conn{
		bt:      bt,
		options: options,
		log:     options.Log,
	}

	c.frames = frameReader{
		bt:        bt,
		scanner:   options.Scanner,
		outOfBand: c.dispatchOutOfBand,
	}

	return c
}

// Exchange writes one request and reads its response. Out-of-band frames
// that arrive first are dispatched to OnOutOfBand before Exchange returns.
//
// ctx is only checked before anything is written and bounds the write;
// once the request is on the wire the exchange always runs until its
// response has been read or the connection fails.
func (c *Conn) Exchange(ctx context.Context, write WriteFunc, read ReadFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.send(ctx, write); err != nil {
		return err
	}

	f, err := c.frames.next(context.WithoutCancel(ctx))
	if err != nil {
		return c.readError(err)
	}
	defer f.Release()

	if c.options.Trace {
		payload, _ := f.Payload()
		c.log.Debug("Read frame",
			zap.Int("consumed", f.Consumed),
			zap.String("payload", payload.String()))
	}

	return read(f)
}

// ExchangeAsync runs Exchange in the background.
func (c *Conn) ExchangeAsync(ctx context.Context, write WriteFunc, read ReadFunc) *Call {
	call := newCall()

	go func() {
		call.complete(c.Exchange(ctx, write, read))
	}()

	return call
}

// ReadFrames hands each frame to fn until the stream ends cleanly, fn
// returns an error or the connection fails. Out-of-band frames go to
// OnOutOfBand as they do during an Exchange. Frames are released when fn
// returns.
func (c *Conn) ReadFrames(ctx context.Context, fn func(*Frame) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := c.frames.next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		err = fn(f)
		f.Release()

		if err != nil {
			return err
		}
	}
}

// send serialises the request into a leased buffer and writes it.
func (c *Conn) send(ctx context.Context, write WriteFunc) error {
	w := buffer.NewWriter(c.options.Allocator, 0)
	defer w.Release()

	if err := write(w); err != nil {
		return err
	}

	if c.options.ValidateWrites {
		if v, ok := c.options.Scanner.(Validator); ok {
			if err := v.Validate(buffer.SequenceOf(w.Bytes())); err != nil {
				return fmt.Errorf("invalid request %q: %w", w.Bytes(), err)
			}
		}
	}

	if c.options.Trace {
		c.log.Debug("Write request", zap.ByteString("data", w.Bytes()))
	}

	return c.bt.Write(ctx, w.Bytes())
}

func (c *Conn) readError(err error) error {
	if errors.Is(err, io.EOF) {
		// The peer hung up before answering
		return &ConnError{Op: "read", Sent: true, Err: io.ErrUnexpectedEOF}
	}

	if errors.Is(err, ErrProtocol) {
		c.log.Warn("Protocol error reading response", zap.Error(err))
	}

	return err
}

func (c *Conn) dispatchOutOfBand(f *Frame) {
	if c.options.Trace {
		c.log.Debug("Out-of-band frame", zap.Int("consumed", f.Consumed))
	}

	if c.options.OnOutOfBand != nil {
		c.options.OnOutOfBand(f)
	}
}

var _ AsyncExchanger = (*Conn)(nil)
