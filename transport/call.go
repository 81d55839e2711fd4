package transport

import (
	"context"
	"sync"
)

// Call is an exchange running in the background.
type Call struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

// completedCall returns a call that has already finished with err.
func completedCall(err error) *Call {
	c := newCall()
	c.complete(err)
	return c
}

func (c *Call) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the exchange has finished.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome of a finished exchange.
func (c *Call) Err() error {
	<-c.done
	return c.err
}

// Wait blocks until the exchange finishes or ctx is done. Giving up on ctx
// does not stop the exchange: the request may already be on the wire, and
// the connection stays busy until its response has been read.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
