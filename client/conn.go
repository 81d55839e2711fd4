package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/resplink/backlog"
	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/protocol"
	"github.com/luma/resplink/transport"
)

var (
	ErrNotConnected = errors.New("Not connected")
	ErrClosed       = errors.New("Connection is closed")

	errLinkGone = errors.New("link replaced")
)

var (
	reconnects     = metrics.NewCounter("resplink_reconnects_total")
	updatesDropped = metrics.NewCounter("resplink_updates_dropped_total")
)

// Conn is one logical connection to a RESP server. Commands are sent one
// at a time over a single physical connection; when it fails, commands
// the backlog policy allows are queued and resent once Conn has
// reconnected.
type Conn struct {
	options Options

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	link         *link
	reconnecting bool
	closed       bool
	reconnectWG  sync.WaitGroup
	idleWG       sync.WaitGroup

	sem     *transport.Semaphore
	backlog *backlog.Queue

	// Only touched by the reconnect goroutine
	backoff backoff

	updateChan chan *protocol.Update

	log *zap.Logger
}

// New creates a connection. Nothing is dialled until Connect.
func New(options Options) *Conn {
	options.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		options:    options,
		ctx:        ctx,
		cancel:     cancel,
		updateChan: make(chan *protocol.Update, UpdateBufferSize),
		backoff:    backoff{min: options.ReconnectMin, max: options.ReconnectMax},
		log:        options.Log.With(zap.String("addr", options.Addr)),
	}

	c.sem = transport.NewSemaphore(linked{c}, options.LockTimeout)
	c.backlog = backlog.NewQueue(backlog.Options{
		Sender:        c.sem,
		Policy:        options.BacklogPolicy,
		MaxLength:     options.BacklogMax,
		RetryInterval: options.RetryInterval,
		Log:           options.Log.Named("backlog"),
	})

	return c
}

// Connect dials the server and negotiates the protocol. Once connected,
// Conn reconnects by itself until Close.
func (c *Conn) Connect(ctx context.Context) error {
	l, err := c.dial(ctx)
	if err != nil {
		return err
	}

	return c.publish(l)
}

// UpdateChan receives pushes sent by the server. Pushes arriving while the
// channel is full are dropped.
func (c *Conn) UpdateChan() <-chan *protocol.Update {
	return c.updateChan
}

// Do sends a command and returns its reply. Error replies are returned as
// the value and as a *protocol.ServerError.
func (c *Conn) Do(ctx context.Context, name string, args ...interface{}) (protocol.Value, error) {
	return c.DoCommand(ctx, protocol.NewCommand(name, args...))
}

// DoCommand is Do for a prepared command.
func (c *Conn) DoCommand(ctx context.Context, cmd protocol.Command) (protocol.Value, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.CommandTimeout)
		defer cancel()
	}

	var value protocol.Value

	write := func(w *buffer.Writer) error {
		return protocol.WriteCommand(w, cmd)
	}
	read := func(f *transport.Frame) (err error) {
		value, err = protocol.Decode(f)
		return err
	}

	if err := c.send(ctx, cmd.Name(), write, read); err != nil {
		return protocol.Value{}, err
	}

	return value, value.ErrorOrNil()
}

// send runs one command. While the backlog holds commands, new ones queue
// behind them so they cannot overtake.
func (c *Conn) send(ctx context.Context, name string, write transport.WriteFunc, read transport.ReadFunc) error {
	written := time.Now()

	if c.backlog.Len() > 0 {
		err := c.enqueue(ctx, name, written, backlog.WaitingToBeSent, write, read)
		if !errors.Is(err, backlog.ErrRejected) {
			return err
		}
	}

	cause := c.sem.Exchange(ctx, write, read)
	if _, ok := transport.IsConnError(cause); !ok {
		return cause
	}

	err := c.enqueue(ctx, name, written, backlog.StatusOf(cause), write, read)
	switch {
	case errors.Is(err, backlog.ErrRejected):
		return cause
	case errors.Is(err, backlog.ErrBacklogFull), errors.Is(err, backlog.ErrClosed):
		return fmt.Errorf("%v: %w", cause, err)
	}

	return err
}

// enqueue hands a command to the backlog and waits for the outcome.
func (c *Conn) enqueue(ctx context.Context, name string, written time.Time, status backlog.Status, write transport.WriteFunc, read transport.ReadFunc) error {
	timeout := c.options.CommandTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = d.Sub(written)
	}

	cmd := backlog.NewCommand(name, written, timeout, write, read)

	if err := c.backlog.Enqueue(cmd, status); err != nil {
		return err
	}

	return cmd.Wait(ctx)
}

// Pending returns the number of commands in the backlog, including one
// being resent.
func (c *Conn) Pending() int {
	return c.backlog.Len()
}

// Exchange sends a custom request over the connection without going
// through the backlog.
func (c *Conn) Exchange(ctx context.Context, write transport.WriteFunc, read transport.ReadFunc) error {
	return c.sem.Exchange(ctx, write, read)
}

// ExchangeAsync is Exchange run in the background.
func (c *Conn) ExchangeAsync(ctx context.Context, write transport.WriteFunc, read transport.ReadFunc) *transport.Call {
	return c.sem.ExchangeAsync(ctx, write, read)
}

func (c *Conn) Ping(ctx context.Context) error {
	v, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}

	if s, _ := v.Text(); s != "PONG" {
		return fmt.Errorf("PING replied %q: %w", v.String(), protocol.ErrUnexpectedKind)
	}

	return nil
}

// Hello switches the connection to protocol version proto and returns the
// server's description of itself.
func (c *Conn) Hello(ctx context.Context, proto int) (protocol.Value, error) {
	return c.Do(ctx, "HELLO", proto)
}

// Quit asks the server to close the connection, then closes Conn.
func (c *Conn) Quit(ctx context.Context) error {
	_, err := c.Do(ctx, "QUIT")

	return multierr.Append(err, c.Close())
}

// Close abandons queued commands and closes the connection. Abandoned
// commands fail with backlog.ErrOutcomeUnknown.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	// Interrupt whatever is in flight so the backlog can stop
	if l != nil {
		l.kill()
	}

	c.cancel()
	c.reconnectWG.Wait()
	c.idleWG.Wait()

	err := c.backlog.Close()
	if err != nil {
		c.log.Warn("Abandoned queued commands", zap.Error(err))
	}

	c.log.Info("Connection closed")

	return err
}

// dial opens a physical connection and negotiates the protocol on it.
func (c *Conn) dial(ctx context.Context) (*link, error) {
	raw, err := c.options.Dial(ctx, c.options.Addr)
	if err != nil {
		return nil, &transport.ConnError{Op: "dial", Err: err}
	}

	log := c.log.With(zap.String("local", raw.LocalAddr().String()))

	stream := transport.NewStream(raw, transport.StreamOptions{
		Allocator:    c.options.ReadAllocator,
		MaxFrameSize: c.options.MaxFrameSize,
		ReadTimeout:  c.options.ReadTimeout,
		WriteTimeout: c.options.WriteTimeout,
		Log:          log,
	})

	l := &link{
		raw:    raw,
		stream: stream,
		conn: transport.NewConn(stream, transport.Options{
			Scanner:        protocol.NewScanner(),
			Allocator:      c.options.WriteAllocator,
			OnOutOfBand:    c.dispatchUpdate,
			ValidateWrites: c.options.ValidateWrites,
			Trace:          c.options.Trace,
			Log:            log,
		}),
	}

	if c.options.Protocol != 2 {
		if err := c.hello(ctx, l); err != nil {
			l.kill()
			return nil, err
		}
	}

	log.Info("Connected", zap.Int("protocol", c.options.Protocol))

	return l, nil
}

func (c *Conn) hello(ctx context.Context, l *link) error {
	v, err := transport.SendDecode(ctx, l.conn,
		protocol.NewCommand("HELLO", c.options.Protocol),
		func(w *buffer.Writer, cmd protocol.Command) error {
			return protocol.WriteCommand(w, cmd)
		},
		protocol.Decode)
	if err != nil {
		return err
	}

	if err := v.ErrorOrNil(); err != nil {
		return fmt.Errorf("HELLO %d: %w", c.options.Protocol, err)
	}

	return nil
}

// publish makes l the active link and wakes the backlog. With RESP3, l
// is read between commands so pushes are not held up.
func (c *Conn) publish(l *link) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.kill()
		return ErrClosed
	}

	old := c.link
	c.link = l

	if c.options.Protocol >= 3 {
		c.idleWG.Add(1)
		go c.readIdle(l)
	}
	c.mu.Unlock()

	if old != nil {
		old.kill()
	}

	c.backlog.Notify()
	return nil
}

func (c *Conn) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.link
}

// teardown drops a failed link and starts reconnecting.
func (c *Conn) teardown(l *link, cause error) {
	c.mu.Lock()
	if c.link != l {
		// Already replaced
		c.mu.Unlock()
		return
	}
	c.link = nil

	start := !c.closed && !c.reconnecting
	if start {
		c.reconnecting = true
		c.reconnectWG.Add(1)
	}
	c.mu.Unlock()

	c.log.Warn("Connection failed", zap.Error(cause))
	l.kill()

	if start {
		go c.reconnect()
	}
}

func (c *Conn) reconnect() {
	defer c.reconnectWG.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		delay := c.backoff.Next()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		l, err := c.dial(c.ctx)
		if err != nil {
			c.log.Warn("Reconnect failed",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			continue
		}

		if err := c.publish(l); err != nil {
			return
		}

		c.backoff.Reset()
		reconnects.Inc()
		c.log.Info("Reconnected", zap.Int("attempts", attempt))
		return
	}
}

// readIdle reads l whenever no command is using it. It gives the
// connection up as soon as a command asks for it, and stops once l is
// replaced or fails.
func (c *Conn) readIdle(l *link) {
	defer c.idleWG.Done()

	for c.ctx.Err() == nil {
		err := c.sem.Idle(c.ctx, func(ctx context.Context) error {
			if c.current() != l || !l.enter() {
				return errLinkGone
			}
			defer l.leave()

			return l.conn.ReadFrames(ctx, func(f *transport.Frame) error {
				return fmt.Errorf("reply with no command waiting: %w", transport.ErrProtocol)
			})
		})

		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, os.ErrDeadlineExceeded):
			// A command wants the connection, or nothing arrived in time
			continue

		case errors.Is(err, errLinkGone):
			return

		case err == nil:
			c.teardown(l, &transport.ConnError{Op: "read", Err: io.EOF})
			return

		default:
			c.teardown(l, err)
			return
		}
	}
}

func (c *Conn) dispatchUpdate(f *transport.Frame) {
	update, err := protocol.DecodeUpdate(f)
	if err != nil {
		c.log.Warn("Failed to decode push", zap.Error(err))
		return
	}

	if c.options.OnUpdate != nil {
		c.options.OnUpdate(update)
	}

	select {
	case c.updateChan <- update:
	default:
		updatesDropped.Inc()
		c.log.Warn("Update channel is full, dropping update", zap.String("kind", update.Kind))
	}
}

// linked runs exchanges on whatever link is current. It sits under the
// Semaphore, so only one exchange uses a link at a time.
type linked struct {
	c *Conn
}

func (x linked) Exchange(ctx context.Context, write transport.WriteFunc, read transport.ReadFunc) error {
	l := x.c.current()
	if l == nil || !l.enter() {
		return &transport.ConnError{Op: "write", Err: ErrNotConnected}
	}
	defer l.leave()

	err := l.conn.Exchange(ctx, write, read)
	if fatal(err) {
		x.c.teardown(l, err)
	}

	return err
}

// fatal reports whether err leaves the connection unusable.
func fatal(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := transport.IsConnError(err); ok {
		return true
	}

	return errors.Is(err, transport.ErrProtocol)
}

var _ transport.AsyncExchanger = (*Conn)(nil)
