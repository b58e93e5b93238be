package compose

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

// Controller drives docker compose for one descriptor file.
type Controller struct {
	runner  tools.CommandRunner
	file    string
	service string
	base    []string
}

func NewController(runner tools.CommandRunner, file string, service string) *Controller {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Controller{runner: runner, file: file, service: service}
}

// Up starts the service detached.
func (c *Controller) Up(ctx context.Context) error {
	return c.exec(ctx, "up", "-d", "--remove-orphans")
}

// Down stops and removes the service containers.
func (c *Controller) Down(ctx context.Context) error {
	return c.exec(ctx, "down", "--remove-orphans")
}

// Pull fetches the configured image.
func (c *Controller) Pull(ctx context.Context) error {
	return c.exec(ctx, "pull")
}

// Running reports whether the service has a running container.
func (c *Controller) Running(ctx context.Context) (bool, error) {
	args := []string{"ps", "--services", "--status", "running"}
	if c.legacy(ctx) {
		args = []string{"ps", "--services", "--filter", "status=running"}
	}
	out, err := c.output(ctx, args...)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == c.service {
			return true, nil
		}
	}
	return false, nil
}

// Logs streams service logs into w until ctx ends or the stream closes.
func (c *Controller) Logs(ctx context.Context, w io.Writer, follow bool, tail int) error {
	args := []string{"logs"}
	if follow {
		args = append(args, "--follow")
	}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, c.service)
	name, full := c.command(ctx, args...)
	log.Debug().Str("cmd", name).Strs("args", full).Msg("compose logs")
	return c.runner.Stream(ctx, w, w, name, full...)
}

func (c *Controller) exec(ctx context.Context, args ...string) error {
	_, err := c.output(ctx, args...)
	return err
}

func (c *Controller) output(ctx context.Context, args ...string) (string, error) {
	name, full := c.command(ctx, args...)
	return tools.Check(ctx, c.runner, name, full...)
}

func (c *Controller) command(ctx context.Context, args ...string) (string, []string) {
	base := c.resolve(ctx)
	full := append(append([]string(nil), base[1:]...), "-f", c.file)
	full = append(full, args...)
	return base[0], full
}

// resolve prefers the compose plugin and falls back to standalone docker-compose.
func (c *Controller) resolve(ctx context.Context) []string {
	if c.base != nil {
		return c.base
	}
	if _, _, _, err := c.runner.Run(ctx, "docker", "compose", "version"); err == nil {
		c.base = []string{"docker", "compose"}
	} else {
		c.base = []string{"docker-compose"}
	}
	return c.base
}

func (c *Controller) legacy(ctx context.Context) bool {
	return c.resolve(ctx)[0] == "docker-compose"
}
