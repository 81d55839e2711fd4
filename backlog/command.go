package backlog

import (
	"context"
	"sync"
	"time"

	"github.com/luma/resplink/transport"
)

// Status is how far a command got before its connection failed.
type Status int

const (
	// WaitingToBeSent commands never reached the wire.
	WaitingToBeSent Status = iota

	// Sent commands may have been written, so the server may have run them.
	Sent
)

func (s Status) String() string {
	switch s {
	case WaitingToBeSent:
		return "WaitingToBeSent"
	case Sent:
		return "Sent"
	default:
		return "Unknown"
	}
}

// StatusOf works out the status of a command from the error its last
// attempt failed with.
func StatusOf(err error) Status {
	if cerr, ok := transport.IsConnError(err); ok && cerr.Sent {
		return Sent
	}

	return WaitingToBeSent
}

// Policy decides whether a failed command is queued for another attempt.
type Policy func(Status) bool

// AlwaysRetry requeues every failed command, even ones the server may
// already have run.
func AlwaysRetry(Status) bool {
	return true
}

// RetryIfNotSent only requeues commands that never reached the wire.
func RetryIfNotSent(s Status) bool {
	return s == WaitingToBeSent
}

// Command is one request waiting in the backlog.
type Command struct {
	// Name is used in logs
	Name string

	// Written is when the command was first attempted. Its deadline is
	// Written + Timeout.
	Written time.Time

	// Timeout is the command's time budget. Zero means no deadline.
	Timeout time.Duration

	Write transport.WriteFunc
	Read  transport.ReadFunc

	done chan struct{}
	once sync.Once
	err  error
}

// NewCommand creates a command first attempted at written.
func NewCommand(name string, written time.Time, timeout time.Duration, write transport.WriteFunc, read transport.ReadFunc) *Command {
	return &Command{
		Name:    name,
		Written: written,
		Timeout: timeout,
		Write:   write,
		Read:    read,
		done:    make(chan struct{}),
	}
}

// Deadline returns when the command stops being worth sending, or the
// zero time if it never does.
func (c *Command) Deadline() time.Time {
	if c.Timeout <= 0 {
		return time.Time{}
	}

	return c.Written.Add(c.Timeout)
}

func (c *Command) expired(now time.Time) bool {
	d := c.Deadline()
	return !d.IsZero() && !now.Before(d)
}

func (c *Command) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the command has completed or failed.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome of a finished command.
func (c *Command) Err() error {
	<-c.done
	return c.err
}

// Wait blocks until the command finishes or ctx is done.
func (c *Command) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
