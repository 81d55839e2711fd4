package protocol

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MarshalJSON renders a reply as JSON. Maps become objects keyed by the
// text of their keys, other aggregates become arrays, and error replies
// become {"error": "..."}.
func MarshalJSON(v Value) ([]byte, error) {
	return setJSON([]byte("{}"), "v", v, true)
}

func setJSON(doc []byte, path string, v Value, root bool) ([]byte, error) {
	var (
		out []byte
		err error
	)

	switch {
	case v.Null:
		out, err = sjson.SetRawBytes(doc, path, []byte("null"))

	case v.Kind == Integer:
		out, err = sjson.SetBytes(doc, path, v.Int)

	case v.Kind == Double:
		if math.IsInf(v.Double, 0) || math.IsNaN(v.Double) {
			out, err = sjson.SetBytes(doc, path, strconv.FormatFloat(v.Double, 'g', -1, 64))
		} else {
			out, err = sjson.SetBytes(doc, path, v.Double)
		}

	case v.Kind == Boolean:
		out, err = sjson.SetBytes(doc, path, v.Bool)

	case v.Kind == Error || v.Kind == BlobError:
		out, err = sjson.SetBytes(doc, path+".error", string(v.Bytes))

	case v.Kind == Map || v.Kind == Attribute:
		out, err = sjson.SetRawBytes(doc, path, []byte("{}"))
		for i := 0; err == nil && i+1 < len(v.Elems); i += 2 {
			out, err = setJSON(out, path+"."+escapePath(v.Elems[i].String()), v.Elems[i+1], false)
		}

	case v.Kind.IsAggregate():
		out, err = sjson.SetRawBytes(doc, path, []byte("[]"))
		for i := 0; err == nil && i < len(v.Elems); i++ {
			out, err = setJSON(out, path+"."+strconv.Itoa(i), v.Elems[i], false)
		}

	default:
		out, err = sjson.SetBytes(doc, path, string(v.Bytes))
	}

	if err != nil || !root {
		return out, err
	}

	// Unwrap the holder object used to give the root a path
	return []byte(gjson.GetBytes(out, path).Raw), nil
}

// escapePath escapes the characters sjson treats as path syntax.
func escapePath(key string) string {
	var sb strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
