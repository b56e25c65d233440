// Package argv turns a command specification into an argument vector.
//
// A command is given either as a pre-split list or as one string. Strings are
// tokenized with the simple rules of Tokenize, or with POSIX shell word
// splitting when ParserShell is selected.
package argv

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// ErrInvalidArgv is returned when a command cannot be turned into arguments.
var ErrInvalidArgv = errors.New("invalid argv")

// Parser selects how a command string is split.
type Parser int

const (
	// ParserSimple splits on spaces and honours leading double quotes.
	ParserSimple Parser = iota
	// ParserShell applies POSIX shell quoting rules. Parameter references
	// expand to the empty string.
	ParserShell
)

// String returns the configuration name of the parser.
func (p Parser) String() string {
	switch p {
	case ParserSimple:
		return "simple"
	case ParserShell:
		return "shell"
	default:
		return fmt.Sprintf("Parser(%d)", int(p))
	}
}

// ParseParser maps a configuration name to a Parser.
func ParseParser(s string) (Parser, error) {
	switch strings.ToLower(s) {
	case "", "simple":
		return ParserSimple, nil
	case "shell":
		return ParserShell, nil
	default:
		return ParserSimple, fmt.Errorf("unknown argv parser %q", s)
	}
}

// Command is a tokenized command line. Args[0] names the program as given.
type Command struct {
	Args []string
}

// FromList builds a Command from pre-split arguments.
func FromList(args []string) (*Command, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidArgv)
	}
	return &Command{Args: append([]string(nil), args...)}, nil
}

// FromString tokenizes s with the given parser.
func FromString(s string, p Parser) (*Command, error) {
	var (
		args []string
		err  error
	)
	switch p {
	case ParserShell:
		args, err = shell.Fields(s, func(string) string { return "" })
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgv, err)
		}
	default:
		args = Tokenize(s)
	}
	return FromList(args)
}

// Tokenize splits s on runs of spaces. A token beginning with a double quote
// extends verbatim to the next double quote, or to the end of s, and the
// quotes are dropped. There are no escape sequences.
func Tokenize(s string) []string {
	var tokens []string
	i := 0
	for i < len(s) {
		if s[i] == ' ' {
			i++
			continue
		}

		if s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				tokens = append(tokens, s[i+1:])
				break
			}
			tokens = append(tokens, s[i+1:i+1+end])
			i += end + 2
			continue
		}

		end := strings.IndexByte(s[i:], ' ')
		if end < 0 {
			tokens = append(tokens, s[i:])
			break
		}
		tokens = append(tokens, s[i:i+end])
		i += end
	}
	return tokens
}

// Program returns the program name as given.
func (c *Command) Program() string {
	return c.Args[0]
}

// String joins the arguments, quoting those that contain spaces.
func (c *Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == "" || strings.ContainsRune(a, ' ') {
			parts[i] = `"` + a + `"`
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

// Resolve returns the path of the executable. A program containing a path
// separator is used as a path, relative to dir when dir is set; the result
// is absolute so it survives the child's change into dir. Anything else is
// looked up in PATH.
func (c *Command) Resolve(dir string) (string, error) {
	prog := c.Program()
	if strings.ContainsRune(prog, '/') || strings.ContainsRune(prog, filepath.Separator) {
		path := prog
		if !filepath.IsAbs(path) && dir != "" {
			abs, err := filepath.Abs(filepath.Join(dir, path))
			if err != nil {
				return "", err
			}
			path = abs
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s: is a directory", path)
		}
		return path, nil
	}

	path, err := exec.LookPath(prog)
	if err != nil && !errors.Is(err, exec.ErrDot) {
		return "", err
	}
	return path, nil
}
