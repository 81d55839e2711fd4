package protocol

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/transport"
)

const (
	// MaxBulkLength bounds the declared size of a single blob.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxNesting bounds how deeply aggregates may nest.
	MaxNesting = 64
)

var (
	ErrUnknownKind     = errors.New("Frame starts with an unknown type marker")
	ErrMissingCR       = errors.New("Frame line is not terminated by CRLF")
	ErrBadLength       = errors.New("Frame has a malformed length prefix")
	ErrTooDeep         = errors.New("Frame nests aggregates too deeply")
	ErrTrailingBytes   = errors.New("Frame is followed by unexpected bytes")
	ErrIncompleteFrame = errors.New("Frame is incomplete")
)

// Header describes a frame found by the Scanner. It is handed to decoders
// as transport.Frame.Header.
type Header struct {
	Kind Kind

	// Count is the declared element count of an aggregate, or the declared
	// length of a blob.
	Count int64

	// Null is set for RESP2 null bulk strings / arrays and the RESP3 null.
	Null bool

	// Attributed is set when a RESP3 attribute preceded the frame. The
	// attribute is consumed with the frame and left out of the payload.
	Attributed bool
}

// errNeedMore carries the number of extra bytes a scan needs.
type errNeedMore int

func (e errNeedMore) Error() string {
	return fmt.Sprintf("need %d more bytes", int(e))
}

// Scanner finds RESP2 and RESP3 frames in a byte stream. A Scanner holds the
// state of the frame it is currently looking at, so each connection needs
// its own.
type Scanner struct {
	header  Header
	attrLen int
	prefix  int
	suffix  int
}

// NewScanner returns a scanner for a single connection.
func NewScanner() *Scanner {
	return &Scanner{}
}

func (s *Scanner) BeforeFrame() {
	*s = Scanner{}
}

// TryRead is handed the whole buffered region from the start of the frame
// each time. Headers are re-parsed on every call, but blob bodies are only
// ever length-checked, so large payloads cost nothing to rescan.
func (s *Scanner) TryRead(data buffer.Sequence) transport.ScanResult {
	r := buffer.NewReader(data)

	c, err := r.PeekByte()
	if err != nil {
		return transport.NeedMore(1)
	}

	s.attrLen = 0
	for Kind(c) == Attribute {
		if err := skipAttribute(r, 0); err != nil {
			return scanError(err)
		}
		s.attrLen = r.Consumed()

		if c, err = r.PeekByte(); err != nil {
			return transport.NeedMore(1)
		}
	}

	header, err := readHeader(r)
	if err != nil {
		return scanError(err)
	}
	header.Attributed = s.attrLen > 0

	s.header = header
	s.prefix = r.Consumed() - s.attrLen

	if err := skipBody(r, header, 0); err != nil {
		return scanError(err)
	}

	switch {
	case header.Null:
		s.prefix, s.suffix = r.Consumed()-s.attrLen, 0
	case header.Kind.IsLine():
		// The line payload sits between the marker and CRLF
		s.prefix, s.suffix = 1, 2
	case header.Kind.IsBlob():
		s.suffix = 2
	default:
		s.suffix = 0
	}

	return transport.Complete(r.Consumed())
}

// Trim strips the type marker, length prefix and terminators, leaving the
// payload. For aggregates the payload is the encoded elements.
func (s *Scanner) Trim(frame buffer.Sequence) (buffer.Sequence, interface{}) {
	start := s.attrLen + s.prefix
	length := frame.Len() - start - s.suffix

	return frame.Slice(start, length), s.header
}

// OutOfBand reports whether the frame just scanned is a RESP3 push.
func (s *Scanner) OutOfBand() bool {
	return s.header.Kind == Push
}

// Validate checks that data holds exactly one well formed frame.
func (s *Scanner) Validate(data buffer.Sequence) error {
	var v Scanner

	res := v.TryRead(data)
	switch res.Status {
	case transport.Done:
		if res.Consumed != data.Len() {
			return fmt.Errorf("%d of %d bytes: %w", res.Consumed, data.Len(), ErrTrailingBytes)
		}
		return nil
	case transport.NeedMoreData:
		return ErrIncompleteFrame
	default:
		return transport.ErrProtocol
	}
}

func scanError(err error) transport.ScanResult {
	var more errNeedMore
	if errors.As(err, &more) {
		return transport.NeedMore(int(more))
	}

	return transport.Invalid()
}

// readLine reads a CRLF terminated line, returning it without the CRLF.
func readLine(r *buffer.Reader) ([]byte, error) {
	line, ok := r.ReadLine()
	if !ok {
		return nil, errNeedMore(1)
	}

	if len(line) == 0 || line[len(line)-1] != '\r' {
		return nil, ErrMissingCR
	}

	return line[:len(line)-1], nil
}

func readHeader(r *buffer.Reader) (Header, error) {
	line, err := readLine(r)
	if err != nil {
		return Header{}, err
	}

	if len(line) == 0 {
		return Header{}, ErrUnknownKind
	}

	kind := Kind(line[0])
	if !isKind(line[0]) {
		return Header{}, fmt.Errorf("%q: %w", line[0], ErrUnknownKind)
	}

	header := Header{Kind: kind}

	switch {
	case kind == Null:
		header.Null = true

	case kind.IsBlob() || kind.IsAggregate():
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || n < -1 || n > MaxBulkLength {
			return Header{}, fmt.Errorf("%q: %w", line, ErrBadLength)
		}

		if n == -1 {
			if kind != BulkString && kind != Array {
				return Header{}, fmt.Errorf("%q: %w", line, ErrBadLength)
			}
			header.Null = true
		}

		header.Count = n
	}

	return header, nil
}

// skipBody consumes whatever follows the header line of a frame.
func skipBody(r *buffer.Reader, header Header, depth int) error {
	switch {
	case header.Null || header.Kind.IsLine():
		return nil

	case header.Kind.IsBlob():
		need := int(header.Count) + 2
		if r.Remaining() < need {
			return errNeedMore(need - r.Remaining())
		}

		if err := r.Skip(int(header.Count)); err != nil {
			return err
		}

		cr, _ := r.ReadByte()
		lf, _ := r.ReadByte()
		if cr != '\r' || lf != '\n' {
			return ErrMissingCR
		}
		return nil

	default:
		if depth >= MaxNesting {
			return ErrTooDeep
		}

		for i := int64(0); i < header.Kind.elements(header.Count); i++ {
			if err := skipValue(r, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
}

// skipValue consumes one element, including any attribute in front of it.
func skipValue(r *buffer.Reader, depth int) error {
	header, err := readHeader(r)
	if err != nil {
		return err
	}

	if err := skipBody(r, header, depth); err != nil {
		return err
	}

	if header.Kind == Attribute {
		return skipValue(r, depth)
	}

	return nil
}

func skipAttribute(r *buffer.Reader, depth int) error {
	header, err := readHeader(r)
	if err != nil {
		return err
	}

	return skipBody(r, header, depth)
}

var (
	_ transport.Scanner   = (*Scanner)(nil)
	_ transport.Validator = (*Scanner)(nil)
)
