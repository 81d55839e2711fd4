package protocol

// Kind is the RESP type marker that starts every frame.
type Kind byte

const (
	SimpleString Kind = '+'
	Error        Kind = '-'
	Integer      Kind = ':'
	BulkString   Kind = '$'
	Array        Kind = '*'

	// RESP3 only
	Null      Kind = '_'
	Double    Kind = ','
	Boolean   Kind = '#'
	BlobError Kind = '!'
	Verbatim  Kind = '='
	BigNumber Kind = '('
	Map       Kind = '%'
	Set       Kind = '~'
	Attribute Kind = '|'
	Push      Kind = '>'
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "simple-string"
	case Error:
		return "error"
	case Integer:
		return "integer"
	case BulkString:
		return "bulk-string"
	case Array:
		return "array"
	case Null:
		return "null"
	case Double:
		return "double"
	case Boolean:
		return "boolean"
	case BlobError:
		return "blob-error"
	case Verbatim:
		return "verbatim-string"
	case BigNumber:
		return "big-number"
	case Map:
		return "map"
	case Set:
		return "set"
	case Attribute:
		return "attribute"
	case Push:
		return "push"
	default:
		return "unknown"
	}
}

// IsLine reports whether the kind is a single line frame.
func (k Kind) IsLine() bool {
	switch k {
	case SimpleString, Error, Integer, Null, Double, Boolean, BigNumber:
		return true
	}
	return false
}

// IsBlob reports whether the kind is a length prefixed blob.
func (k Kind) IsBlob() bool {
	switch k {
	case BulkString, BlobError, Verbatim:
		return true
	}
	return false
}

// IsAggregate reports whether the kind is a counted collection of frames.
func (k Kind) IsAggregate() bool {
	switch k {
	case Array, Map, Set, Attribute, Push:
		return true
	}
	return false
}

// elements is the number of nested frames an aggregate of count holds.
func (k Kind) elements(count int64) int64 {
	if k == Map || k == Attribute {
		return count * 2
	}
	return count
}

func isKind(c byte) bool {
	k := Kind(c)
	return k.IsLine() || k.IsBlob() || k.IsAggregate()
}
