package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/luma/resplink/buffer"
)

var (
	framesRead     = metrics.NewCounter("resplink_frames_read_total")
	outOfBandRead  = metrics.NewCounter("resplink_out_of_band_frames_total")
	protocolErrors = metrics.NewCounter("resplink_protocol_errors_total")
)

// Frame is one protocol unit found by a Scanner. Its payload aliases the
// transport's read buffer and stays valid until Release.
type Frame struct {
	// Consumed is the number of stream bytes the frame occupied.
	Consumed int

	// OutOfBand is set for frames that answer no request.
	OutOfBand bool

	// Header is the protocol specific description returned by Trim.
	Header interface{}

	lease *buffer.Lease
}

// Payload returns the trimmed bytes of the frame, or buffer.ErrReleased
// after Release.
func (f *Frame) Payload() (buffer.Sequence, error) {
	return f.lease.Sequence()
}

// Retain returns a copy of the frame holding its own references, for
// callers that need the payload after the original is released.
func (f *Frame) Retain() (*Frame, error) {
	lease, err := f.lease.Retain()
	if err != nil {
		return nil, err
	}

	return &Frame{Consumed: f.Consumed, OutOfBand: f.OutOfBand, Header: f.Header, lease: lease}, nil
}

// Release drops the frame's references on the read buffer.
func (f *Frame) Release() {
	f.lease.Release()
}

// frameReader drives a Scanner over a ByteTransport.
type frameReader struct {
	bt        ByteTransport
	scanner   Scanner
	outOfBand func(*Frame)
}

// next returns the next frame that is not out-of-band. Out-of-band frames
// met on the way are handed to the callback and released afterwards.
//
// A clean end of stream, with nothing buffered, returns io.EOF.
func (r *frameReader) next(ctx context.Context) (*Frame, error) {
	for {
		f, err := r.scan(ctx)
		if err != nil {
			return nil, err
		}

		if !f.OutOfBand {
			return f, nil
		}

		outOfBandRead.Inc()
		if r.outOfBand != nil {
			r.outOfBand(f)
		}
		f.Release()
	}
}

// scan returns the next frame, whatever its kind.
func (r *frameReader) scan(ctx context.Context) (f *Frame, err error) {
	r.scanner.BeforeFrame()

	if lc, ok := r.scanner.(Lifecycle); ok {
		lc.OnInitialize()
		defer lc.OnComplete()
	}

	for {
		data := r.bt.Buffer()

		var res ScanResult
		if data.IsEmpty() {
			res = NeedMore(1)
		} else {
			res = r.scanner.TryRead(data)
		}

		switch res.Status {
		case NeedMoreData:
			r.bt.Advance(0)

			hint := res.Hint
			if hint < 1 {
				hint = 1
			}

			ok, err := r.bt.TryRead(ctx, hint)
			if err != nil {
				return nil, err
			}

			if !ok {
				if data.IsEmpty() {
					return nil, io.EOF
				}

				protocolErrors.Inc()
				return nil, fmt.Errorf("%d bytes buffered: %w", data.Len(), ErrTruncated)
			}

		case InvalidData:
			protocolErrors.Inc()
			return nil, ErrProtocol

		case Done:
			if res.Consumed <= 0 {
				protocolErrors.Inc()
				return nil, ErrNoProgress
			}

			if res.Consumed > data.Len() {
				protocolErrors.Inc()
				return nil, fmt.Errorf("scanner consumed %d of %d bytes: %w", res.Consumed, data.Len(), ErrProtocol)
			}

			payload, header := r.scanner.Trim(data.Slice(0, res.Consumed))

			f := &Frame{
				Consumed:  res.Consumed,
				OutOfBand: r.scanner.OutOfBand(),
				Header:    header,
				lease:     payload.Retain(),
			}
			r.bt.Advance(res.Consumed)
			framesRead.Inc()

			return f, nil

		default:
			return nil, fmt.Errorf("scan status %d: %w", res.Status, ErrProtocol)
		}
	}
}
