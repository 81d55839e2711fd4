package transport_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/protocol"
	"github.com/luma/resplink/transport"
)

// echoPeer answers every command with its first argument.
func echoPeer(conn net.Conn) {
	defer GinkgoRecover()

	peer := transport.NewConn(transport.NewStream(conn, transport.StreamOptions{}), transport.Options{
		Scanner: protocol.NewScanner(),
	})

	_ = peer.ReadFrames(context.Background(), func(f *transport.Frame) error {
		v, err := protocol.Decode(f)
		if err != nil {
			return err
		}

		return protocol.WriteBulk(conn, v.Elems[1].Bytes)
	})
}

// blocker holds the connection until released.
type blocker struct {
	entered chan struct{}
	release chan struct{}
}

func newBlocker() *blocker {
	return &blocker{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blocker) Exchange(ctx context.Context, write transport.WriteFunc, read transport.ReadFunc) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func noRead(*transport.Frame) error { return nil }

var _ = Describe("Synchronised transports", func() {
	decorators := map[string]func(transport.Exchanger, time.Duration) transport.Exchanger{
		"Monitor": func(x transport.Exchanger, timeout time.Duration) transport.Exchanger {
			return transport.NewMonitor(x, timeout)
		},
		"Semaphore": func(x transport.Exchanger, timeout time.Duration) transport.Exchanger {
			return transport.NewSemaphore(x, timeout)
		},
	}

	for name, decorate := range decorators {
		name, decorate := name, decorate

		Describe(name, func() {
			It("pairs concurrent callers with their own responses", func() {
				client, server := net.Pipe()
				defer client.Close()
				go echoPeer(server)

				conn := transport.NewConn(transport.NewStream(client, transport.StreamOptions{}), transport.Options{
					Scanner:        protocol.NewScanner(),
					ValidateWrites: true,
				})
				x := decorate(conn, 5*time.Second)

				const callers, calls = 16, 20

				var wg sync.WaitGroup
				errs := make(chan error, callers*calls)

				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()

						for j := 0; j < calls; j++ {
							id := fmt.Sprintf("caller-%d-%d", i, j)

							v, err := transport.SendDecode(context.Background(), x,
								protocol.NewCommand("ECHO", id), writeCommand, protocol.Decode)
							if err != nil {
								errs <- err
								return
							}

							if v.String() != id {
								errs <- fmt.Errorf("%s got %s", id, v.String())
								return
							}
						}
					}(i)
				}

				wg.Wait()
				close(errs)

				for err := range errs {
					Expect(err).To(Succeed())
				}
			})

			It("times out waiting for the connection without sending", func() {
				b := newBlocker()
				x := decorate(b, 20*time.Millisecond)

				go func() {
					_ = x.Exchange(context.Background(), nil, noRead)
				}()
				Eventually(b.entered).Should(Receive())

				wrote := false
				err := x.Exchange(context.Background(),
					func(w *buffer.Writer) error {
						wrote = true
						return nil
					}, noRead)

				Expect(err).To(MatchError(transport.ErrLockTimeout))
				Expect(wrote).To(BeFalse())
				Consistently(b.entered).ShouldNot(Receive())

				close(b.release)

				// The connection is usable again once released
				Expect(x.Exchange(context.Background(), nil, noRead)).To(Succeed())
				Expect(b.entered).To(Receive())
			})

			It("gives up waiting when the context is cancelled", func() {
				b := newBlocker()
				defer close(b.release)

				x := decorate(b, 0)

				go func() {
					_ = x.Exchange(context.Background(), nil, noRead)
				}()
				Eventually(b.entered).Should(Receive())

				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)

				err := x.Exchange(ctx, nil, noRead)
				Expect(err).To(MatchError(context.Canceled))
				Expect(b.entered).NotTo(Receive())
			})
		})
	}

	Describe("Semaphore", func() {
		It("serves asynchronous callers", func() {
			client, server := net.Pipe()
			defer client.Close()
			go echoPeer(server)

			conn := transport.NewConn(transport.NewStream(client, transport.StreamOptions{}), transport.Options{
				Scanner: protocol.NewScanner(),
			})
			sem := transport.NewSemaphore(conn, time.Second)

			futures := make([]*transport.Future[protocol.Value], 10)
			for i := range futures {
				futures[i] = transport.SendDecodeAsync(context.Background(), sem,
					protocol.NewCommand("ECHO", i), writeCommand, protocol.Decode)
			}

			for i, f := range futures {
				v, err := f.Wait(context.Background())
				Expect(err).To(Succeed())
				Expect(v.String()).To(Equal(fmt.Sprint(i)))
			}
		})

		It("reports a lock timeout through the call", func() {
			b := newBlocker()
			defer close(b.release)

			sem := transport.NewSemaphore(b, 20*time.Millisecond)
			sem.ExchangeAsync(context.Background(), nil, noRead)
			Eventually(b.entered).Should(Receive())

			call := sem.ExchangeAsync(context.Background(), nil, noRead)
			Expect(call.Err()).To(MatchError(transport.ErrLockTimeout))
		})

		It("hands the connection over from an idle reader", func() {
			client, server := net.Pipe()
			defer client.Close()
			go echoPeer(server)

			conn := transport.NewConn(transport.NewStream(client, transport.StreamOptions{}), transport.Options{
				Scanner: protocol.NewScanner(),
			})
			sem := transport.NewSemaphore(conn, time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			idled := make(chan error, 100)
			stopped := make(chan struct{})

			go func() {
				defer close(stopped)

				for ctx.Err() == nil {
					err := sem.Idle(ctx, func(ctx context.Context) error {
						return conn.ReadFrames(ctx, func(f *transport.Frame) error {
							return fmt.Errorf("unexpected frame")
						})
					})

					select {
					case idled <- err:
					default:
					}
				}
			}()

			for i := 0; i < 5; i++ {
				v, err := transport.SendDecode(context.Background(), sem,
					protocol.NewCommand("ECHO", i), writeCommand, protocol.Decode)
				Expect(err).To(Succeed())
				Expect(v.String()).To(Equal(fmt.Sprint(i)))
			}

			Eventually(idled).Should(Receive(MatchError(context.Canceled)))

			cancel()
			Eventually(stopped).Should(BeClosed())
		})

		It("cancels the idle work when an exchange wants the connection", func() {
			b := newBlocker()
			defer close(b.release)

			sem := transport.NewSemaphore(b, time.Second)

			idling := make(chan struct{})
			idle := make(chan error, 1)
			go func() {
				idle <- sem.Idle(context.Background(), func(ctx context.Context) error {
					close(idling)
					<-ctx.Done()
					return ctx.Err()
				})
			}()
			Eventually(idling).Should(BeClosed())

			sem.ExchangeAsync(context.Background(), nil, noRead)

			Eventually(idle).Should(Receive(MatchError(context.Canceled)))
			Eventually(b.entered).Should(Receive())
		})

		It("lets a caller stop waiting while the exchange carries on", func() {
			b := newBlocker()

			sem := transport.NewSemaphore(b, 0)
			call := sem.ExchangeAsync(context.Background(), nil, noRead)
			Eventually(b.entered).Should(Receive())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()

			Expect(call.Wait(ctx)).To(MatchError(context.DeadlineExceeded))
			Expect(call.Done()).NotTo(BeClosed())

			close(b.release)
			Expect(call.Wait(context.Background())).To(Succeed())
		})
	})
})
