// Package shell builds remote shell command lines from argument lists.
//
// Every argument added through Command is quoted; only redirections and
// explicitly raw fragments are passed through verbatim.
package shell

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Quote returns s quoted so that a POSIX shell reads it as a single word.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Join quotes each argument and joins them with spaces.
func Join(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Command is a single simple command: a program, its arguments and an
// optional raw suffix such as a redirection.
type Command struct {
	argv   []string
	suffix []string
}

// New starts a command.
func New(name string, args ...string) *Command {
	return &Command{argv: append([]string{name}, args...)}
}

// Arg appends quoted arguments.
func (c *Command) Arg(args ...string) *Command {
	c.argv = append(c.argv, args...)
	return c
}

// Raw appends an unquoted fragment, e.g. "2>/dev/null" or "| grep '^Package: '".
func (c *Command) Raw(fragment string) *Command {
	c.suffix = append(c.suffix, fragment)
	return c
}

// String renders the command line.
func (c *Command) String() string {
	s := Join(c.argv...)
	if len(c.suffix) > 0 {
		s += " " + strings.Join(c.suffix, " ")
	}
	return s
}

// And chains command lines with "&&".
func And(parts ...string) string {
	return strings.Join(parts, " && ")
}

// Seq chains command lines with ";".
func Seq(parts ...string) string {
	return strings.Join(parts, "; ")
}

// Tolerant makes a command line always exit zero.
func Tolerant(cmd string) string {
	return cmd + "; true"
}

// Exists renders a bash test for path existence.
func Exists(path string) string {
	return "[[ -e " + Quote(path) + " ]]"
}

// Missing renders a bash test for path absence.
func Missing(path string) string {
	return "[[ ! -e " + Quote(path) + " ]]"
}

// Bash wraps script in a bash invocation with pipefail enabled. The script
// is passed as one quoted argument.
func Bash(script string) string {
	return "/bin/bash -c " + Quote("set -o pipefail && "+script)
}
