package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrCommandFailed   = errors.New("tools: command failed")
	ErrCommandNotFound = errors.New("tools: command not found")
)

// CommandError describes a non-zero exit from an external tool.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int32
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf(
		"command failed cmd=%s args=%q exit=%d stdout=%q stderr=%q: %v",
		e.Name,
		strings.Join(e.Args, " "),
		e.ExitCode,
		e.Stdout,
		e.Stderr,
		e.Err,
	)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches ErrCommandFailed for every failure and ErrCommandNotFound for exit 127.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrCommandFailed:
		return true
	case ErrCommandNotFound:
		return e.ExitCode == 127
	}
	return false
}

// Check runs one command and returns trimmed stdout, wrapping failures in *CommandError.
func Check(ctx context.Context, runner CommandRunner, name string, args ...string) (string, error) {
	log.Debug().Str("cmd", name).Str("args", strings.Join(args, " ")).Msg("tools exec")
	stdout, stderr, code, err := runner.Run(ctx, name, args...)
	if err == nil {
		return strings.TrimSpace(string(stdout)), nil
	}
	if code == 0 {
		code = 1
	}
	return "", &CommandError{
		Name:     name,
		Args:     args,
		ExitCode: code,
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
}

// Available reports whether name resolves on the host PATH.
func Available(ctx context.Context, runner CommandRunner, name string) bool {
	_, _, _, err := runner.Run(ctx, "sh", "-c", "command -v "+ShellEscape(name))
	return err == nil
}

// ShellEscape single-quotes value for `sh -c`.
func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
