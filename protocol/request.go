package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a request: a command name followed by its arguments, sent as
// an array of bulk strings.
type Command struct {
	Args [][]byte
}

// NewCommand builds a command from its name and arguments. Strings, byte
// slices, integers, floats and booleans are encoded directly; anything else
// is formatted with fmt.
func NewCommand(name string, args ...interface{}) Command {
	cmd := Command{Args: make([][]byte, 0, len(args)+1)}
	cmd.Args = append(cmd.Args, []byte(name))

	for _, arg := range args {
		cmd.Args = append(cmd.Args, argBytes(arg))
	}

	return cmd
}

func argBytes(arg interface{}) []byte {
	switch a := arg.(type) {
	case []byte:
		return a
	case string:
		return []byte(a)
	case int:
		return strconv.AppendInt(nil, int64(a), 10)
	case int64:
		return strconv.AppendInt(nil, a, 10)
	case uint64:
		return strconv.AppendUint(nil, a, 10)
	case float64:
		return strconv.AppendFloat(nil, a, 'f', -1, 64)
	case bool:
		if a {
			return []byte("1")
		}
		return []byte("0")
	default:
		return []byte(fmt.Sprint(a))
	}
}

// Name returns the upper-cased command name.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}

	return strings.ToUpper(string(c.Args[0]))
}

func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, arg := range c.Args {
		parts[i] = string(arg)
	}

	return strings.Join(parts, " ")
}
