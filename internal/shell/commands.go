// Package shell implements the interactive command shell used on the serial
// console and the remote consoles.
//
// Commands are registered per context with the privilege flags they need.
// A Session owns one console: it edits the input line, runs commands,
// prompts for passwords and shows log messages at its own level. Sessions
// only run inside the event loop through Shell.Tick; transports hand them
// input with Send from their own goroutines.
package shell

import (
	"errors"
	"sort"
	"strings"
)

// Flags are the privileges a command needs or a session holds.
type Flags uint8

const (
	User  Flags = 0
	Admin Flags = 1 << 0
	Local Flags = 1 << 1
)

// Context is the command namespace a session is in.
type Context int

const (
	MainContext Context = iota
	SensorContext
)

var (
	ErrUnknownCommand     = errors.New("command not found")
	ErrMissingArgument    = errors.New("insufficient arguments")
	ErrTooManyArguments   = errors.New("too many arguments")
	ErrUnterminatedQuotes = errors.New("unterminated quotes")
)

// Handler runs a command with its arguments.
type Handler func(s *Session, args []string)

// Completer lists values for the next argument given those already typed.
type Completer func(s *Session, args []string) []string

// Command is one entry in the registry. Args names the arguments for
// help output; "<name>" is mandatory and "[name]" optional.
type Command struct {
	Context  Context
	Flags    Flags
	Path     []string
	Args     []string
	Run      Handler
	Complete Completer
}

func (c *Command) allowed(ctx Context, flags Flags) bool {
	return c.Context == ctx && flags&c.Flags == c.Flags
}

func (c *Command) minArgs() int {
	n := 0
	for _, a := range c.Args {
		if strings.HasPrefix(a, "<") {
			n++
		}
	}
	return n
}

// Usage renders the command path and argument names.
func (c *Command) Usage() string {
	words := append(append([]string{}, c.Path...), c.Args...)
	return strings.Join(words, " ")
}

// Commands is a command registry.
type Commands struct {
	cmds []*Command
}

// NewCommands creates an empty registry.
func NewCommands() *Commands {
	return &Commands{}
}

// Add registers cmd.
func (c *Commands) Add(cmd Command) {
	c.cmds = append(c.cmds, &cmd)
}

// Available lists the commands usable in ctx with flags, sorted by path.
func (c *Commands) Available(ctx Context, flags Flags) []*Command {
	var out []*Command
	for _, cmd := range c.cmds {
		if cmd.allowed(ctx, flags) {
			out = append(out, cmd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Usage() < out[j].Usage()
	})
	return out
}

// Find resolves words to the command with the longest matching path and
// returns the remaining words as its arguments.
func (c *Commands) Find(ctx Context, flags Flags, words []string) (*Command, []string, error) {
	var best *Command
	for _, cmd := range c.cmds {
		if !cmd.allowed(ctx, flags) || !hasPrefix(words, cmd.Path) {
			continue
		}
		if best == nil || len(cmd.Path) > len(best.Path) {
			best = cmd
		}
	}
	if best == nil {
		return nil, nil, ErrUnknownCommand
	}

	args := words[len(best.Path):]
	switch {
	case len(args) > len(best.Args) && len(best.Args) == 0:
		return nil, nil, ErrUnknownCommand
	case len(args) > len(best.Args):
		return best, args, ErrTooManyArguments
	case len(args) < best.minArgs():
		return best, args, ErrMissingArgument
	}
	return best, args, nil
}

// complete returns the candidates for the word being typed at the end of
// line and line extended by their common prefix.
func (c *Commands) complete(s *Session, ctx Context, flags Flags, line string) (string, []string) {
	words, err := splitWords(line)
	if err != nil {
		return line, nil
	}
	partial := ""
	if line != "" && !strings.HasSuffix(line, " ") && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	seen := make(map[string]bool)
	var candidates []string
	add := func(v string) {
		if strings.HasPrefix(v, partial) && !seen[v] {
			seen[v] = true
			candidates = append(candidates, v)
		}
	}
	for _, cmd := range c.cmds {
		if !cmd.allowed(ctx, flags) {
			continue
		}
		if len(words) < len(cmd.Path) {
			if hasPrefix(cmd.Path, words) {
				add(cmd.Path[len(words)])
			}
			continue
		}
		if cmd.Complete == nil || !hasPrefix(words, cmd.Path) {
			continue
		}
		args := words[len(cmd.Path):]
		if len(args) >= len(cmd.Args) {
			continue
		}
		for _, v := range cmd.Complete(s, args) {
			add(v)
		}
	}
	if len(candidates) == 0 {
		return line, nil
	}
	sort.Strings(candidates)

	prefix := candidates[0]
	for _, v := range candidates[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}

	completed := joinWords(words)
	if completed != "" {
		completed += " "
	}
	completed += quoteWord(prefix)
	if len(candidates) == 1 {
		return completed + " ", nil
	}
	return completed, candidates
}

func hasPrefix(words, prefix []string) bool {
	if len(prefix) > len(words) {
		return false
	}
	for i, p := range prefix {
		if words[i] != p {
			return false
		}
	}
	return true
}

// splitWords splits a command line on spaces. Single or double quotes
// group words and a backslash escapes the next character.
func splitWords(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuotes
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}

func joinWords(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = quoteWord(w)
	}
	return strings.Join(quoted, " ")
}

func quoteWord(w string) string {
	if !strings.ContainsAny(w, " \t\"'\\") {
		return w
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(w) + `"`
}
