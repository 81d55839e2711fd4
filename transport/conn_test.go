package transport_test

import (
	"context"
	"errors"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/protocol"
	"github.com/luma/resplink/transport"
)

func writeCommand(w *buffer.Writer, cmd protocol.Command) error {
	return protocol.WriteCommand(w, cmd)
}

func newConn(rw io.ReadWriter, options transport.Options) *transport.Conn {
	if options.Scanner == nil {
		options.Scanner = protocol.NewScanner()
	}

	stream := transport.NewStream(rw, transport.StreamOptions{ReadSize: 16})
	return transport.NewConn(stream, options)
}

func ping(x transport.Exchanger) (protocol.Value, error) {
	return transport.SendDecode(context.Background(), x,
		protocol.NewCommand("PING"),
		writeCommand,
		protocol.Decode)
}

// zeroScanner claims every frame is complete without consuming anything.
type zeroScanner struct{}

func (zeroScanner) BeforeFrame() {}

func (zeroScanner) TryRead(data buffer.Sequence) transport.ScanResult {
	return transport.Complete(0)
}

func (zeroScanner) Trim(frame buffer.Sequence) (buffer.Sequence, interface{}) {
	return frame, nil
}

func (zeroScanner) OutOfBand() bool { return false }

// lifecycleScanner counts the scan lifetime hooks around a RESP scanner.
type lifecycleScanner struct {
	*protocol.Scanner
	open, initialized, completed int
}

func (s *lifecycleScanner) OnInitialize() {
	s.initialized++
	s.open++
}

func (s *lifecycleScanner) OnComplete() {
	s.completed++
	s.open--
}

var _ transport.Lifecycle = (*lifecycleScanner)(nil)

var _ = Describe("Conn", func() {
	It("writes the request and decodes the response", func() {
		rw := newScript("+PONG\r\n")

		v, err := ping(newConn(rw, transport.Options{ValidateWrites: true}))
		Expect(err).To(Succeed())
		Expect(v.String()).To(Equal("PONG"))
		Expect(rw.Written()).To(Equal("*1\r\n$4\r\nPING\r\n"))
	})

	It("reassembles a response split across reads", func() {
		rw := newScript("+PON", "G\r\n")

		v, err := ping(newConn(rw, transport.Options{}))
		Expect(err).To(Succeed())
		Expect(v.Kind).To(Equal(protocol.SimpleString))
		Expect(v.String()).To(Equal("PONG"))
	})

	It("pairs consecutive requests with their responses", func() {
		rw := newScript("+PONG\r\n:42\r\n$5\r\nhello\r\n")
		conn := newConn(rw, transport.Options{})

		v, err := ping(conn)
		Expect(err).To(Succeed())
		Expect(v.String()).To(Equal("PONG"))

		v, err = ping(conn)
		Expect(err).To(Succeed())
		Expect(v.Int).To(Equal(int64(42)))

		v, err = ping(conn)
		Expect(err).To(Succeed())
		Expect(v.String()).To(Equal("hello"))
	})

	It("dispatches pushes out of band, in order, without completing the request", func() {
		rw := newScript(">2\r\n$7\r\nmessage\r\n$1\r\na\r\n" +
			"+OK\r\n" +
			">2\r\n$7\r\nmessage\r\n$1\r\nb\r\n")

		var pushes []string
		conn := newConn(rw, transport.Options{
			OnOutOfBand: func(f *transport.Frame) {
				Expect(f.OutOfBand).To(BeTrue())

				u, err := protocol.DecodeUpdate(f)
				Expect(err).To(Succeed())
				pushes = append(pushes, u.Kind+":"+u.Values[0].String())
			},
		})

		completions := 0
		err := conn.Exchange(context.Background(),
			func(w *buffer.Writer) error {
				return protocol.WriteCommand(w, protocol.NewCommand("PING"))
			},
			func(f *transport.Frame) error {
				completions++

				v, err := protocol.Decode(f)
				Expect(err).To(Succeed())
				Expect(v.String()).To(Equal("OK"))
				return nil
			})
		Expect(err).To(Succeed())
		Expect(pushes).To(Equal([]string{"message:a"}))

		// The trailing push is picked up by the next read
		Expect(conn.ReadFrames(context.Background(), func(f *transport.Frame) error {
			completions++
			return nil
		})).To(Succeed())

		Expect(pushes).To(Equal([]string{"message:a", "message:b"}))
		Expect(completions).To(Equal(1))
	})

	It("yields the same frames whatever the read size", func() {
		stream := "+OK\r\n" +
			":-7\r\n" +
			"$11\r\nhello world\r\n" +
			"$-1\r\n" +
			"*3\r\n$3\r\nfoo\r\n:1\r\n*1\r\n+nested\r\n" +
			"%1\r\n+key\r\n,3.5\r\n" +
			"|1\r\n+ttl\r\n:10\r\n#t\r\n" +
			"=15\r\ntxt:Some string\r\n"

		decodeAll := func(rw io.ReadWriter) []string {
			var out []string

			err := newConn(rw, transport.Options{}).ReadFrames(context.Background(), func(f *transport.Frame) error {
				v, err := protocol.Decode(f)
				if err != nil {
					return err
				}

				out = append(out, v.Kind.String()+" "+v.String())
				return nil
			})
			Expect(err).To(Succeed())

			return out
		}

		whole := decodeAll(newScript(stream))
		Expect(whole).To(HaveLen(8))
		Expect(whole[4]).To(ContainSubstring("[foo 1 [nested]]"))

		Expect(decodeAll(chunked(stream, 1))).To(Equal(whole))
		Expect(decodeAll(chunked(stream, 3))).To(Equal(whole))
	})

	It("reports a frame cut short by the end of the stream as truncated", func() {
		_, err := ping(newConn(newScript("$5\r\nhel"), transport.Options{}))

		Expect(errors.Is(err, transport.ErrTruncated)).To(BeTrue())
		Expect(errors.Is(err, transport.ErrProtocol)).To(BeTrue())
	})

	It("reports invalid data as a protocol error", func() {
		_, err := ping(newConn(newScript("?what\r\n"), transport.Options{}))

		Expect(errors.Is(err, transport.ErrProtocol)).To(BeTrue())
		Expect(errors.Is(err, transport.ErrTruncated)).To(BeFalse())
	})

	It("fails when the peer hangs up before answering", func() {
		_, err := ping(newConn(newScript(), transport.Options{}))

		cerr, ok := transport.IsConnError(err)
		Expect(ok).To(BeTrue())
		Expect(cerr.Sent).To(BeTrue())
		Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("ends a continuous read cleanly at the end of the stream", func() {
		frames := 0
		err := newConn(newScript("+a\r\n", "+b\r\n"), transport.Options{}).
			ReadFrames(context.Background(), func(f *transport.Frame) error {
				frames++
				return nil
			})

		Expect(err).To(Succeed())
		Expect(frames).To(Equal(2))
	})

	It("refuses a scanner that makes no progress", func() {
		_, err := ping(newConn(newScript("+OK\r\n"), transport.Options{Scanner: zeroScanner{}}))

		Expect(err).To(MatchError(transport.ErrNoProgress))
	})

	It("validates requests before writing them", func() {
		rw := newScript("+OK\r\n")
		conn := newConn(rw, transport.Options{ValidateWrites: true})

		err := conn.Exchange(context.Background(),
			func(w *buffer.Writer) error {
				_, err := w.WriteString("*2\r\n$4\r\nPING\r\n")
				return err
			},
			func(f *transport.Frame) error {
				Fail("no response should be read")
				return nil
			})

		Expect(errors.Is(err, protocol.ErrIncompleteFrame)).To(BeTrue())
		Expect(rw.Written()).To(BeEmpty())
	})

	It("sends nothing once the context is done", func() {
		rw := newScript("+PONG\r\n")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := transport.SendDecode(ctx, newConn(rw, transport.Options{}),
			protocol.NewCommand("PING"), writeCommand, protocol.Decode)

		Expect(err).To(MatchError(context.Canceled))
		Expect(rw.Written()).To(BeEmpty())
	})

	It("keeps a retained frame readable after the original is released", func() {
		conn := newConn(newScript("$5\r\nhello\r\n"), transport.Options{})

		var kept *transport.Frame
		err := conn.Exchange(context.Background(),
			func(w *buffer.Writer) error {
				return protocol.WriteCommand(w, protocol.NewCommand("GET", "k"))
			},
			func(f *transport.Frame) (err error) {
				kept, err = f.Retain()
				return err
			})
		Expect(err).To(Succeed())

		payload, err := kept.Payload()
		Expect(err).To(Succeed())
		Expect(payload.String()).To(Equal("hello"))

		kept.Release()
		_, err = kept.Payload()
		Expect(err).To(MatchError(buffer.ErrReleased))
	})

	It("runs exchanges in the background", func() {
		rw := newScript(":1\r\n")

		future := transport.SendDecodeAsync(context.Background(), newConn(rw, transport.Options{}),
			protocol.NewCommand("INCR", "n"), writeCommand, protocol.Decode)

		Eventually(future.Done()).Should(BeClosed())

		v, err := future.Wait(context.Background())
		Expect(err).To(Succeed())
		Expect(v.Int).To(Equal(int64(1)))
		Expect(rw.Written()).To(Equal("*2\r\n$4\r\nINCR\r\n$1\r\nn\r\n"))
	})

	It("logs requests and frames when tracing", func() {
		core, logs := observer.New(zap.DebugLevel)

		_, err := ping(newConn(newScript("+PONG\r\n"), transport.Options{Trace: true, Log: zap.New(core)}))
		Expect(err).To(Succeed())

		Expect(logs.FilterMessage("Write request").Len()).To(Equal(1))
		Expect(logs.FilterMessage("Read frame").Len()).To(Equal(1))
	})

	It("stays quiet unless tracing", func() {
		core, logs := observer.New(zap.DebugLevel)

		_, err := ping(newConn(newScript("+PONG\r\n"), transport.Options{Log: zap.New(core)}))
		Expect(err).To(Succeed())
		Expect(logs.FilterMessage("Write request").Len()).To(BeZero())
	})

	Describe("scanner lifetime hooks", func() {
		It("pairs them around every frame", func() {
			scanner := &lifecycleScanner{Scanner: protocol.NewScanner()}
			conn := newConn(newScript(">2\r\n$7\r\nmessage\r\n$1\r\na\r\n+PONG\r\n"), transport.Options{Scanner: scanner})

			v, err := ping(conn)
			Expect(err).To(Succeed())
			Expect(v.String()).To(Equal("PONG"))

			Expect(scanner.initialized).To(Equal(2))
			Expect(scanner.completed).To(Equal(2))
			Expect(scanner.open).To(BeZero())
		})

		It("completes the scan when the frame is invalid", func() {
			scanner := &lifecycleScanner{Scanner: protocol.NewScanner()}

			_, err := ping(newConn(newScript("?what\r\n"), transport.Options{Scanner: scanner}))
			Expect(errors.Is(err, transport.ErrProtocol)).To(BeTrue())

			Expect(scanner.initialized).To(Equal(1))
			Expect(scanner.completed).To(Equal(1))
			Expect(scanner.open).To(BeZero())
		})

		It("completes the scan when the stream is cut short", func() {
			scanner := &lifecycleScanner{Scanner: protocol.NewScanner()}

			_, err := ping(newConn(newScript("$5\r\nhel"), transport.Options{Scanner: scanner}))
			Expect(errors.Is(err, transport.ErrTruncated)).To(BeTrue())

			Expect(scanner.initialized).To(Equal(scanner.completed))
			Expect(scanner.open).To(BeZero())
		})
	})
})
