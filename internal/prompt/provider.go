package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var (
	ErrNotInteractive     = errors.New("prompt: stdin is not a terminal")
	ErrInvalidInput       = errors.New("prompt: invalid input")
	ErrNoAnswer           = errors.New("prompt: no scripted answer")
	ErrInvalidCertificate = errors.New("prompt: invalid certificate")
)

// Answer keys understood by Scripted.
const (
	KeyPort            = "port"
	KeyXrayVersion     = "xray_version"
	KeyCertificate     = "certificate"
	KeyCertificateFile = "certificate_file"
	KeyConfirm         = "confirm"
	KeyVersionIndex    = "version_index"
)

// Question identifies a prompt both for display and for scripted lookup.
type Question struct {
	Key  string
	Text string
}

// Provider supplies operator input to the install flows.
type Provider interface {
	Ask(ctx context.Context, q Question) (string, error)
	ReadBlock(ctx context.Context, q Question, terminator string) (string, error)
	Say(format string, args ...any)
	Interactive() bool
}

// Terminal reads answers line by line from an input stream.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal wraps stdin/stdout. It refuses a non-TTY stdin unless force is set.
func NewTerminal(force bool) (*Terminal, error) {
	if !force && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil, ErrNotInteractive
	}
	return NewTerminalIO(os.Stdin, os.Stdout), nil
}

func NewTerminalIO(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Interactive() bool { return true }

func (t *Terminal) Say(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Terminal) Ask(ctx context.Context, q Question) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(t.out, q.Text)
	line, err := t.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", q.Key, err)
	}
	return strings.TrimSpace(line), nil
}

// ReadBlock collects lines until the terminator line, an empty line after
// content, or EOF. The terminator line is kept.
func (t *Terminal) ReadBlock(ctx context.Context, q Question, terminator string) (string, error) {
	fmt.Fprintln(t.out, q.Text)
	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := t.in.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			b.WriteString(trimmed)
			b.WriteByte('\n')
		}
		if terminator != "" && trimmed == terminator {
			break
		}
		if trimmed == "" && b.Len() > 0 {
			break
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", q.Key, err)
		}
	}
	return b.String(), nil
}

// Scripted answers prompts from a fixed map and never touches a terminal.
type Scripted struct {
	answers map[string]string
	out     io.Writer
}

func NewScripted(answers map[string]string, out io.Writer) *Scripted {
	copied := make(map[string]string, len(answers))
	for k, v := range answers {
		copied[k] = v
	}
	if out == nil {
		out = io.Discard
	}
	return &Scripted{answers: copied, out: out}
}

func (s *Scripted) Interactive() bool { return false }

func (s *Scripted) Say(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *Scripted) Ask(_ context.Context, q Question) (string, error) {
	v, ok := s.answers[q.Key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoAnswer, q.Key)
	}
	return strings.TrimSpace(v), nil
}

func (s *Scripted) ReadBlock(_ context.Context, q Question, _ string) (string, error) {
	if v, ok := s.answers[q.Key]; ok {
		return v, nil
	}
	if path := strings.TrimSpace(s.answers[q.Key+"_file"]); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", q.Key+"_file", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoAnswer, q.Key)
}
