package protocol

import (
	"io"
	"math"
	"strconv"
)

var (
	OkTerminal = []byte("+OK\r\n")
	Terminal   = []byte("\r\n")
)

// WriteCommand encodes cmd as an array of bulk strings.
func WriteCommand(w io.Writer, cmd Command) error {
	buf := make([]byte, 0, 64)
	buf = appendHeader(buf, Array, int64(len(cmd.Args)))

	for _, arg := range cmd.Args {
		buf = appendHeader(buf, BulkString, int64(len(arg)))

		// Flush large arguments instead of copying them twice
		if len(arg) > 1024 {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			if _, err := w.Write(arg); err != nil {
				return err
			}
			buf = append(buf[:0], Terminal...)
			continue
		}

		buf = append(buf, arg...)
		buf = append(buf, Terminal...)
	}

	_, err := w.Write(buf)
	return err
}

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteString(w io.Writer, s string) error {
	b := append([]byte{byte(SimpleString)}, s...)
	_, err := w.Write(append(b, Terminal...))
	return err
}

func WriteError(w io.Writer, errMsg string) error {
	b := append([]byte{byte(Error)}, errMsg...)
	_, err := w.Write(append(b, Terminal...))
	return err
}

func WriteBulk(w io.Writer, data []byte) error {
	b := appendHeader(nil, BulkString, int64(len(data)))
	b = append(b, data...)
	_, err := w.Write(append(b, Terminal...))
	return err
}

// WriteValue encodes any Value, the inverse of Decode.
func WriteValue(w io.Writer, v Value) error {
	_, err := w.Write(AppendValue(nil, v))
	return err
}

// AppendValue appends the encoding of v to b.
func AppendValue(b []byte, v Value) []byte {
	if v.Null {
		if v.Kind == BulkString || v.Kind == Array {
			return appendHeader(b, v.Kind, -1)
		}
		return append(b, '_', '\r', '\n')
	}

	switch v.Kind {
	case Integer:
		b = append(b, byte(Integer))
		b = strconv.AppendInt(b, v.Int, 10)

	case Double:
		b = append(b, byte(Double))
		switch {
		case math.IsInf(v.Double, 1):
			b = append(b, "inf"...)
		case math.IsInf(v.Double, -1):
			b = append(b, "-inf"...)
		case math.IsNaN(v.Double):
			b = append(b, "nan"...)
		default:
			b = strconv.AppendFloat(b, v.Double, 'g', -1, 64)
		}

	case Boolean:
		b = append(b, byte(Boolean))
		if v.Bool {
			b = append(b, 't')
		} else {
			b = append(b, 'f')
		}

	case BulkString, BlobError:
		b = appendHeader(b, v.Kind, int64(len(v.Bytes)))
		b = append(b, v.Bytes...)

	case Verbatim:
		b = appendHeader(b, v.Kind, int64(len(v.Bytes)+4))
		b = append(b, v.Format...)
		b = append(b, ':')
		b = append(b, v.Bytes...)

	case Array, Set, Push:
		b = appendHeader(b, v.Kind, int64(len(v.Elems)))
		for _, e := range v.Elems {
			b = AppendValue(b, e)
		}
		return b

	case Map, Attribute:
		b = appendHeader(b, v.Kind, int64(len(v.Elems)/2))
		for _, e := range v.Elems {
			b = AppendValue(b, e)
		}
		return b

	default:
		b = append(b, byte(v.Kind))
		b = append(b, v.Bytes...)
	}

	return append(b, Terminal...)
}

func appendHeader(b []byte, kind Kind, n int64) []byte {
	b = append(b, byte(kind))
	b = strconv.AppendInt(b, n, 10)
	return append(b, Terminal...)
}
