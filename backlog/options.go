package backlog

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/resplink/transport"
)

const (
	DefaultMaxLength     = 1024
	DefaultRetryInterval = 100 * time.Millisecond
)

type Options struct {
	// Sender resends commands. Required.
	Sender transport.Exchanger

	// Policy decides which failed commands are queued. Defaults to
	// RetryIfNotSent.
	Policy Policy

	// MaxLength is how many commands the backlog holds before turning new
	// ones away.
	MaxLength int

	// RetryInterval is how long the drain loop waits after a failed resend
	// unless Notify wakes it first.
	RetryInterval time.Duration

	// Now is the clock deadlines are checked against.
	Now func() time.Time

	Log *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Policy == nil {
		o.Policy = RetryIfNotSent
	}

	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxLength
	}

	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}
