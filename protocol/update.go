package protocol

import (
	"fmt"

	"github.com/luma/resplink/transport"
)

// Update is an out-of-band message sent by the server without being asked,
// e.g. a pub/sub message or a client tracking invalidation.
type Update struct {
	// Kind is the first element of the update, e.g. "message" or "invalidate"
	Kind string

	// Values are the remaining elements
	Values []Value
}

// DecodeUpdate decodes an out-of-band frame into an Update.
func DecodeUpdate(f *transport.Frame) (*Update, error) {
	v, err := Decode(f)
	if err != nil {
		return nil, err
	}

	if v.Kind != Push || len(v.Elems) == 0 {
		return nil, fmt.Errorf("%s: %w", v.Kind, ErrUnexpectedKind)
	}

	return &Update{
		Kind:   string(v.Elems[0].Bytes),
		Values: v.Elems[1:],
	}, nil
}
