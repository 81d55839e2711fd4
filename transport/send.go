package transport

import (
	"context"

	"github.com/luma/resplink/buffer"
)

// Writer serialises a request of type Req.
type Writer[Req any] func(w *buffer.Writer, req Req) error

// Reader decodes a response frame with the request that produced it.
type Reader[Req, Resp any] func(req Req, f *Frame) (Resp, error)

// Decoder decodes a response frame that needs nothing from the request.
type Decoder[Resp any] func(f *Frame) (Resp, error)

// Send writes req with write and decodes its response with read.
func Send[Req, Resp any](ctx context.Context, x Exchanger, req Req, write Writer[Req], read Reader[Req, Resp]) (Resp, error) {
	var resp Resp

	err := x.Exchange(ctx,
		func(w *buffer.Writer) error {
			return write(w, req)
		},
		func(f *Frame) (err error) {
			resp, err = read(req, f)
			return err
		})

	return resp, err
}

// SendDecode is Send for readers that do not need the request.
func SendDecode[Req, Resp any](ctx context.Context, x Exchanger, req Req, write Writer[Req], decode Decoder[Resp]) (Resp, error) {
	return Send(ctx, x, req, write, func(_ Req, f *Frame) (Resp, error) {
		return decode(f)
	})
}

// Future is the pending result of SendAsync.
type Future[T any] struct {
	call  *Call
	value T
}

// Done is closed once the value is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.call.Done()
}

// Wait returns the decoded response, or gives up when ctx is done. See
// Call.Wait for what giving up means.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if err := f.call.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}

	return f.value, nil
}

// SendAsync is Send run in the background.
func SendAsync[Req, Resp any](ctx context.Context, x AsyncExchanger, req Req, write Writer[Req], read Reader[Req, Resp]) *Future[Resp] {
	f := &Future[Resp]{}

	f.call = x.ExchangeAsync(ctx,
		func(w *buffer.Writer) error {
			return write(w, req)
		},
		func(fr *Frame) (err error) {
			f.value, err = read(req, fr)
			return err
		})

	return f
}

// SendDecodeAsync is SendDecode run in the background.
func SendDecodeAsync[Req, Resp any](ctx context.Context, x AsyncExchanger, req Req, write Writer[Req], decode Decoder[Resp]) *Future[Resp] {
	return SendAsync(ctx, x, req, write, func(_ Req, f *Frame) (Resp, error) {
		return decode(f)
	})
}
