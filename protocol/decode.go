package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/luma/resplink/buffer"
	"github.com/luma/resplink/transport"
)

var ErrNotRESPFrame = errors.New("Frame was not produced by the RESP scanner")

// Decode turns a scanned frame into a Value. Every byte is copied, so the
// value stays valid after the frame is released.
func Decode(f *transport.Frame) (Value, error) {
	header, ok := f.Header.(Header)
	if !ok {
		return Value{}, ErrNotRESPFrame
	}

	payload, err := f.Payload()
	if err != nil {
		return Value{}, err
	}

	if header.Null {
		return Value{Kind: header.Kind, Null: true}, nil
	}

	switch {
	case header.Kind.IsLine():
		return lineValue(header.Kind, payload.Bytes())

	case header.Kind.IsBlob():
		return blobValue(header.Kind, payload.Bytes())

	default:
		r := buffer.NewReader(payload)

		return aggregateValue(r, header.Kind, header.Count, 0)
	}
}

func lineValue(kind Kind, text []byte) (Value, error) {
	v := Value{Kind: kind}

	switch kind {
	case Integer:
		n, err := strconv.ParseInt(string(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("integer %q: %w", text, transport.ErrProtocol)
		}
		v.Int = n

	case Double:
		f, err := parseDouble(string(text))
		if err != nil {
			return Value{}, fmt.Errorf("double %q: %w", text, transport.ErrProtocol)
		}
		v.Double = f

	case Boolean:
		switch string(text) {
		case "t":
			v.Bool = true
		case "f":
		default:
			return Value{}, fmt.Errorf("boolean %q: %w", text, transport.ErrProtocol)
		}

	case Null:
		v.Null = true

	default:
		v.Bytes = append([]byte(nil), text...)
	}

	return v, nil
}

func parseDouble(s string) (float64, error) {
	switch s {
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}

	return strconv.ParseFloat(s, 64)
}

func blobValue(kind Kind, body []byte) (Value, error) {
	v := Value{Kind: kind, Bytes: append([]byte(nil), body...)}

	if kind == Verbatim {
		if len(body) < 4 || body[3] != ':' {
			return Value{}, fmt.Errorf("verbatim string %q: %w", body, transport.ErrProtocol)
		}

		v.Format = string(body[:3])
		v.Bytes = v.Bytes[4:]
	}

	return v, nil
}

func aggregateValue(r *buffer.Reader, kind Kind, count int64, depth int) (Value, error) {
	n := kind.elements(count)

	v := Value{Kind: kind, Elems: make([]Value, 0, n)}
	for i := int64(0); i < n; i++ {
		elem, err := readValue(r, depth+1)
		if err != nil {
			return Value{}, err
		}

		v.Elems = append(v.Elems, elem)
	}

	return v, nil
}

// readValue parses one complete encoded frame from r.
func readValue(r *buffer.Reader, depth int) (Value, error) {
	if depth > MaxNesting {
		return Value{}, ErrTooDeep
	}

	line, err := readLine(r)
	if err != nil {
		return Value{}, truncated(err)
	}

	if len(line) == 0 || !isKind(line[0]) {
		return Value{}, ErrUnknownKind
	}

	kind := Kind(line[0])
	switch {
	case kind.IsLine():
		return lineValue(kind, line[1:])

	case kind.IsBlob():
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || n < -1 || n > MaxBulkLength {
			return Value{}, ErrBadLength
		}

		if n == -1 {
			return Value{Kind: kind, Null: true}, nil
		}

		body := make([]byte, n+2)
		if _, err := io.ReadFull(r, body); err != nil {
			return Value{}, truncated(err)
		}

		return blobValue(kind, body[:n])

	default:
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil || n < -1 {
			return Value{}, ErrBadLength
		}

		if n == -1 {
			return Value{Kind: kind, Null: true}, nil
		}

		if kind == Attribute {
			// Attributes are metadata about the value that follows them
			if _, err := aggregateValue(r, kind, n, depth); err != nil {
				return Value{}, err
			}
			return readValue(r, depth)
		}

		return aggregateValue(r, kind, n, depth)
	}
}

func truncated(err error) error {
	return fmt.Errorf("%v: %w", err, ErrIncompleteFrame)
}
