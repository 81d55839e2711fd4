package transport

import "github.com/luma/resplink/buffer"

// ScanStatus is the outcome of a Scanner looking at buffered bytes.
type ScanStatus int

const (
	// NeedMoreData means the frame is not complete yet.
	NeedMoreData ScanStatus = iota

	// Done means a complete frame of Consumed bytes was found.
	Done

	// InvalidData means the bytes can never form a valid frame.
	InvalidData
)

func (s ScanStatus) String() string {
	switch s {
	case NeedMoreData:
		return "need-more-data"
	case Done:
		return "done"
	case InvalidData:
		return "invalid-data"
	default:
		return "unknown"
	}
}

// ScanResult is returned by Scanner.TryRead.
type ScanResult struct {
	Status ScanStatus

	// Consumed is the frame length when Status is Done.
	Consumed int

	// Hint is how many more bytes are needed at least, when Status is
	// NeedMoreData.
	Hint int
}

// NeedMore reports an incomplete frame needing at least hint more bytes.
func NeedMore(hint int) ScanResult {
	return ScanResult{Status: NeedMoreData, Hint: hint}
}

// Complete reports a frame of n bytes.
func Complete(n int) ScanResult {
	return ScanResult{Status: Done, Consumed: n}
}

// Invalid reports data that is not a valid frame.
func Invalid() ScanResult {
	return ScanResult{Status: InvalidData}
}

// Scanner finds protocol frames in buffered bytes. A Scanner is stateful
// and belongs to a single connection.
type Scanner interface {
	// BeforeFrame resets the scan state before a new frame.
	BeforeFrame()

	// TryRead looks at everything buffered since the start of the current
	// frame. It is called again with more bytes after NeedMoreData.
	TryRead(data buffer.Sequence) ScanResult

	// Trim strips framing from a complete frame. It returns the payload and
	// a protocol specific header describing it.
	Trim(frame buffer.Sequence) (payload buffer.Sequence, header interface{})

	// OutOfBand reports whether the frame just completed was unsolicited.
	OutOfBand() bool
}

// Validator is implemented by scanners that can check locally produced
// frames before they are written.
type Validator interface {
	Validate(data buffer.Sequence) error
}

// Lifecycle is implemented by scanners whose per-frame state holds
// resources.
type Lifecycle interface {
	// OnInitialize is called when a frame scan starts.
	OnInitialize()

	// OnComplete is called when a frame scan ends, successfully or not.
	OnComplete()
}
