// Package shell is the node's interactive command prompt.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

const prompt = "> "

// Command is one shell command. Handlers return an exit code.
type Command struct {
	Name    string
	Usage   string
	Handler func(w io.Writer, args []string) int
}

// Shell reads one command per line and runs it.
type Shell struct {
	in       io.Reader
	out      io.Writer
	commands map[string]Command
}

func New(in io.Reader, out io.Writer, commands ...Command) *Shell {
	s := &Shell{in: in, out: out, commands: make(map[string]Command)}
	for _, c := range commands {
		s.commands[c.Name] = c
	}
	s.commands["help"] = Command{Name: "help", Usage: "print this help", Handler: s.help}
	return s
}

// Run serves commands until the input ends or ctx is cancelled. A
// cancelled context is noticed at the next line.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		fmt.Fprint(s.out, prompt)
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			s.Exec(line)
		}
	}
}

// Exec runs a single command line and returns its exit code.
func (s *Shell) Exec(line string) int {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	cmd, ok := s.commands[fields[0]]
	if !ok {
		fmt.Fprintf(s.out, "shell: command not found: %s\n", fields[0])
		return 1
	}
	return cmd.Handler(s.out, fields[1:])
}

func (s *Shell) help(w io.Writer, _ []string) int {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%-20s %s\n", "Command", "Description")
	fmt.Fprintln(w, "---------------------------------------")
	for _, name := range names {
		fmt.Fprintf(w, "%-20s %s\n", name, s.commands[name].Usage)
	}
	return 0
}
