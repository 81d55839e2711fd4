package backlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/resplink/transport"
)

var (
	ErrRejected       = errors.New("Command is not eligible for retry")
	ErrBacklogFull    = errors.New("Backlog is full")
	ErrTimeout        = errors.New("Command timed out in the backlog")
	ErrOutcomeUnknown = errors.New("Command was abandoned; it may or may not have run")
	ErrClosed         = errors.New("Backlog is closed")
)

var (
	commandsEnqueued  = metrics.NewCounter("resplink_backlog_enqueued_total")
	commandsResent    = metrics.NewCounter("resplink_backlog_resent_total")
	commandsTimedOut  = metrics.NewCounter("resplink_backlog_timed_out_total")
	commandsDropped   = metrics.NewCounter("resplink_backlog_dropped_total")
	commandsAbandoned = metrics.NewCounter("resplink_backlog_abandoned_total")
)

// Queue holds commands whose connection failed and resends them, in the
// order they were queued, once the Sender works again.
type Queue struct {
	sender  transport.Exchanger
	options Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []*Command
	sending  *Command
	draining bool
	closed   bool

	wake    chan struct{}
	drained sync.WaitGroup

	log *zap.Logger
}

func NewQueue(options Options) *Queue {
	options.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		sender:  options.Sender,
		options: options,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		log:     options.Log,
	}
}

// Enqueue queues a command that failed with the given status. Commands the
// Policy turns down get ErrRejected and are left for the caller to fail.
func (q *Queue) Enqueue(cmd *Command, status Status) error {
	if !q.options.Policy(status) {
		return fmt.Errorf("%s (%s): %w", cmd.Name, status, ErrRejected)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if len(q.items) >= q.options.MaxLength {
		commandsDropped.Inc()
		q.log.Warn("Backlog is full, dropping command",
			zap.String("command", cmd.Name),
			zap.Int("length", len(q.items)))

		return ErrBacklogFull
	}

	q.items = append(q.items, cmd)
	commandsEnqueued.Inc()

	q.log.Info("Command queued for retry",
		zap.String("command", cmd.Name),
		zap.Stringer("status", status),
		zap.Int("length", len(q.items)))

	if !q.draining {
		q.draining = true
		q.drained.Add(1)
		go q.drain()
	}

	return nil
}

// Len returns the number of queued commands, counting one that is being
// resent.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if q.sending != nil {
		n++
	}

	return n
}

// Notify wakes the drain loop, e.g. once the connection is back.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops draining and abandons every queued command. They complete
// with ErrOutcomeUnknown, which the returned error lists.
func (q *Queue) Close() (err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.drained.Wait()

	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, cmd := range items {
		commandsAbandoned.Inc()
		cmd.complete(ErrOutcomeUnknown)
		err = multierr.Append(err, fmt.Errorf("%s: %w", cmd.Name, ErrOutcomeUnknown))
	}

	return err
}

func (q *Queue) drain() {
	defer q.drained.Done()

	for {
		cmd := q.next()
		if cmd == nil {
			return
		}

		if q.resend(cmd) {
			continue
		}

		// The connection is still down, wait for it to come back
		select {
		case <-q.wake:
		case <-time.After(q.options.RetryInterval):
		case <-q.ctx.Done():
			return
		}
	}
}

// next fails any expired commands at the head of the queue and pops the
// first live one. It returns nil when draining should stop.
func (q *Queue) next() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.draining = false
		return nil
	}

	now := q.options.Now()
	for len(q.items) > 0 && q.items[0].expired(now) {
		cmd := q.items[0]
		q.items = q.items[1:]

		commandsTimedOut.Inc()
		q.log.Warn("Command timed out in the backlog", zap.String("command", cmd.Name))
		cmd.complete(ErrTimeout)
	}

	if len(q.items) == 0 {
		q.draining = false
		q.items = nil
		return nil
	}

	cmd := q.items[0]
	q.items = q.items[1:]
	q.sending = cmd

	return cmd
}

// resend sends cmd once. It returns false if the command went back to the
// front of the queue because the connection is still unavailable.
func (q *Queue) resend(cmd *Command) bool {
	ctx := q.ctx
	if d := cmd.Deadline(); !d.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, d)
		defer cancel()
	}

	err := q.sender.Exchange(ctx, cmd.Write, cmd.Read)

	switch {
	case err == nil:
		commandsResent.Inc()
		q.finish(cmd, nil)
		return true

	case errors.Is(err, context.DeadlineExceeded) && q.ctx.Err() == nil:
		commandsTimedOut.Inc()
		q.finish(cmd, fmt.Errorf("%v: %w", err, ErrTimeout))
		return true

	case q.ctx.Err() != nil:
		q.requeue(cmd)
		return false

	case retryable(err):
		status := StatusOf(err)
		if !q.options.Policy(status) {
			q.finish(cmd, err)
			return true
		}

		q.log.Info("Resend failed, command stays queued",
			zap.String("command", cmd.Name),
			zap.Stringer("status", status),
			zap.Error(err))

		q.requeue(cmd)
		return false

	default:
		q.finish(cmd, err)
		return true
	}
}

// finish completes the command being resent.
func (q *Queue) finish(cmd *Command, err error) {
	q.mu.Lock()
	q.sending = nil
	q.mu.Unlock()

	cmd.complete(err)
}

// requeue puts cmd back at the front of the queue. After Close it is
// abandoned with the rest once the drain loop has returned.
func (q *Queue) requeue(cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sending = nil
	q.items = append([]*Command{cmd}, q.items...)
}

func retryable(err error) bool {
	if _, ok := transport.IsConnError(err); ok {
		return true
	}

	return errors.Is(err, transport.ErrLockTimeout)
}
