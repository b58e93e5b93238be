package fakerun

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Result is the canned outcome of one matched command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int32
	Err      error
}

type rule struct {
	prefix string
	result Result
	once   bool
}

// Runner is a tools.CommandRunner double that records every command and
// answers from prefix rules matched against the joined command line.
type Runner struct {
	mu       sync.Mutex
	rules    []rule
	commands [][]string
}

func New() *Runner {
	return &Runner{}
}

// On answers every command starting with prefix.
func (r *Runner) On(prefix string, res Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, result: res})
	return r
}

// Once answers the next command starting with prefix, then falls through.
func (r *Runner) Once(prefix string, res Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, result: res, once: true})
	return r
}

func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	res := r.match(name, args)
	return []byte(res.Stdout), []byte(res.Stderr), res.ExitCode, res.Err
}

func (r *Runner) Stream(_ context.Context, stdout io.Writer, stderr io.Writer, name string, args ...string) error {
	res := r.match(name, args)
	if stdout != nil && res.Stdout != "" {
		_, _ = io.WriteString(stdout, res.Stdout)
	}
	if stderr != nil && res.Stderr != "" {
		_, _ = io.WriteString(stderr, res.Stderr)
	}
	return res.Err
}

// Commands returns every recorded command joined with single spaces.
func (r *Runner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, strings.Join(cmd, " "))
	}
	return out
}

// Ran reports whether any recorded command starts with prefix.
func (r *Runner) Ran(prefix string) bool {
	for _, cmd := range r.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

// Count returns how many recorded commands start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, cmd := range r.Commands() {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (r *Runner) match(name string, args []string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := append([]string{name}, args...)
	r.commands = append(r.commands, cmd)
	line := strings.Join(cmd, " ")

	for i, candidate := range r.rules {
		if !strings.HasPrefix(line, candidate.prefix) {
			continue
		}
		if candidate.once {
			r.rules = append(r.rules[:i:i], r.rules[i+1:]...)
		}
		res := candidate.result
		if res.ExitCode != 0 && res.Err == nil {
			res.Err = fmt.Errorf("exit status %d", res.ExitCode)
		}
		return res
	}
	return Result{}
}
