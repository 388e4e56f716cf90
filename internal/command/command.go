package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand reports a command value that is neither a string nor a
// list of strings.
var ErrInvalidCommand = errors.New("invalid command type")

// Kind tells how a Command is executed.
type Kind int

const (
	// KindNone is the zero Command: nothing configured.
	KindNone Kind = iota
	// KindShell is a string handed to the system shell.
	KindShell
	// KindArgv is an argument vector executed directly, without a shell.
	KindArgv
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindShell:
		return "shell"
	case KindArgv:
		return "argv"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is either a shell string or an argument vector. The zero value
// means "no command".
type Command struct {
	kind  Kind
	shell string
	argv  []string
}

// Shell returns a command interpreted by /bin/sh. A blank string yields the
// zero Command.
func Shell(line string) Command {
	if strings.TrimSpace(line) == "" {
		return Command{}
	}
	return Command{kind: KindShell, shell: line}
}

// Argv returns a command executed without shell interpretation. An empty
// vector yields the zero Command.
func Argv(args ...string) Command {
	if len(args) == 0 {
		return Command{}
	}
	return Command{kind: KindArgv, argv: append([]string(nil), args...)}
}

// FromValue converts a decoded configuration value (nil, string, []string or
// []any holding strings) to a Command.
func FromValue(v any) (Command, error) {
	switch val := v.(type) {
	case nil:
		return Command{}, nil
	case Command:
		return val, nil
	case string:
		return Shell(val), nil
	case []string:
		return Argv(val...), nil
	case []any:
		args := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return Command{}, fmt.Errorf("%w: argument %d is %T, want string", ErrInvalidCommand, i, item)
			}
			args = append(args, s)
		}
		return Argv(args...), nil
	default:
		return Command{}, fmt.Errorf("%w: %T", ErrInvalidCommand, v)
	}
}

func (c Command) Kind() Kind {
	return c.kind
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	return c.kind == KindNone
}

// Args returns a copy of the argument vector of a KindArgv command.
func (c Command) Args() []string {
	return append([]string(nil), c.argv...)
}

// String renders the command for logs.
func (c Command) String() string {
	switch c.kind {
	case KindShell:
		return c.shell
	case KindArgv:
		return strings.Join(c.argv, " ")
	default:
		return ""
	}
}

// MarshalYAML keeps the configured shape when a configuration is written back.
func (c Command) MarshalYAML() (any, error) {
	switch c.kind {
	case KindShell:
		return c.shell, nil
	case KindArgv:
		return c.Args(), nil
	default:
		return nil, nil
	}
}
