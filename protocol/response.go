package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnexpectedKind = errors.New("Reply has an unexpected type")

// Value is a decoded RESP reply. Only the fields matching Kind are set.
type Value struct {
	Kind Kind
	Null bool

	// Bytes holds the text of simple strings, errors, blobs, verbatim
	// strings and big numbers.
	Bytes []byte

	Int    int64
	Double float64
	Bool   bool

	// Format is the three letter encoding of a verbatim string.
	Format string

	// Elems holds the elements of arrays, sets and pushes. Maps are
	// flattened to key, value, key, value...
	Elems []Value
}

// ServerError is an error reply sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Code returns the error prefix, e.g. "ERR" or "WRONGTYPE".
func (e *ServerError) Code() string {
	if i := strings.IndexByte(e.Message, ' '); i > 0 {
		return e.Message[:i]
	}

	return e.Message
}

// ErrorOrNil returns an error if the reply is an error reply. Otherwise it
// returns nil.
func (v Value) ErrorOrNil() error {
	if v.Kind == Error || v.Kind == BlobError {
		return &ServerError{Message: string(v.Bytes)}
	}

	return nil
}

// IsNull reports whether the reply is any flavour of null.
func (v Value) IsNull() bool {
	return v.Null
}

// String renders the reply as text. Aggregates are rendered as a bracketed
// list.
func (v Value) String() string {
	if v.Null {
		return "(nil)"
	}

	switch v.Kind {
	case Integer:
		return strconv.FormatInt(v.Int, 10)
	case Double:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case Boolean:
		return strconv.FormatBool(v.Bool)
	case Array, Set, Map, Push:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, e := range v.Elems {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(e.String())
		}
		b.WriteByte(']')
		return b.String()
	default:
		return string(v.Bytes)
	}
}

// Text returns the reply as a string if it is a string-like reply.
func (v Value) Text() (string, error) {
	if err := v.ErrorOrNil(); err != nil {
		return "", err
	}

	switch v.Kind {
	case SimpleString, BulkString, Verbatim, BigNumber:
		return string(v.Bytes), nil
	}

	return "", fmt.Errorf("%s: %w", v.Kind, ErrUnexpectedKind)
}

// Integer64 returns the reply as an integer, parsing string replies.
func (v Value) Integer64() (int64, error) {
	if err := v.ErrorOrNil(); err != nil {
		return 0, err
	}

	switch v.Kind {
	case Integer:
		return v.Int, nil
	case SimpleString, BulkString:
		return strconv.ParseInt(string(v.Bytes), 10, 64)
	}

	return 0, fmt.Errorf("%s: %w", v.Kind, ErrUnexpectedKind)
}

// Array returns the elements of an aggregate reply.
func (v Value) Array() ([]Value, error) {
	if err := v.ErrorOrNil(); err != nil {
		return nil, err
	}

	if !v.Kind.IsAggregate() {
		return nil, fmt.Errorf("%s: %w", v.Kind, ErrUnexpectedKind)
	}

	return v.Elems, nil
}
