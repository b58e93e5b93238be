package deps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequiredMissing  = errors.New("deps: required dependency unavailable")
	ErrNoPackageManager = errors.New("deps: no supported package manager")
)

const (
	NameDocker        = "docker"
	NameDockerCompose = "docker-compose"

	DefaultDockerScriptURL = "https://get.docker.com"
)

// Dependency is one host tool the install flow relies on.
type Dependency struct {
	Name     string
	Command  string
	Package  string
	Required bool
}

type Status string

const (
	StatusInstalled Status = "installed"
	StatusMissing   Status = "missing"
	StatusFailed    Status = "failed"
)

// Entry is the outcome for one dependency.
type Entry struct {
	Dependency
	Status Status
	Err    error
}

// Report is the structured result of a dependency phase.
type Report struct {
	Entries []Entry
}

func (r Report) Installed() []string { return r.names(StatusInstalled) }
func (r Report) Missing() []string   { return r.names(StatusMissing) }
func (r Report) Failed() []string    { return r.names(StatusFailed) }

// Err fails when any required dependency is not installed.
func (r Report) Err() error {
	var bad []string
	for _, e := range r.Entries {
		if e.Required && e.Status != StatusInstalled {
			bad = append(bad, fmt.Sprintf("%s(%s)", e.Name, e.Status))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRequiredMissing, strings.Join(bad, ", "))
}

func (r Report) names(status Status) []string {
	var out []string
	for _, e := range r.Entries {
		if e.Status == status {
			out = append(out, e.Name)
		}
	}
	return out
}

// Checker probes and installs host dependencies through a CommandRunner.
type Checker struct {
	runner          tools.CommandRunner
	dockerScriptURL string
}

func NewChecker(runner tools.CommandRunner) *Checker {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Checker{runner: runner, dockerScriptURL: DefaultDockerScriptURL}
}

// WithDockerScript overrides the Docker convenience script location.
func (c *Checker) WithDockerScript(url string) *Checker {
	if v := strings.TrimSpace(url); v != "" {
		c.dockerScriptURL = v
	}
	return c
}

// Check reports availability without installing anything.
func (c *Checker) Check(ctx context.Context, deps []Dependency) Report {
	report := Report{Entries: make([]Entry, 0, len(deps))}
	for _, dep := range deps {
		status := StatusMissing
		if c.available(ctx, dep) {
			status = StatusInstalled
		}
		report.Entries = append(report.Entries, Entry{Dependency: dep, Status: status})
	}
	return report
}

// Ensure installs whatever Check finds missing and re-probes each attempt.
// Optional failures are logged and left in the report for the caller.
func (c *Checker) Ensure(ctx context.Context, deps []Dependency) Report {
	report := c.Check(ctx, deps)
	missing := report.Missing()
	if len(missing) == 0 {
		return report
	}
	log.Info().Strs("missing", missing).Msg("deps installing")

	var (
		pm        PackageManager
		pmErr     error
		pmChecked bool
	)
	manager := func() (PackageManager, error) {
		if !pmChecked {
			pmChecked = true
			pm, pmErr = c.DetectManager(ctx)
			if pmErr == nil {
				if err := pm.refresh(ctx, c.runner); err != nil {
					log.Warn().Err(err).Str("manager", pm.Name).Msg("deps package index refresh failed")
				}
			}
		}
		return pm, pmErr
	}

	for i := range report.Entries {
		entry := &report.Entries[i]
		if entry.Status != StatusMissing {
			continue
		}

		var err error
		if entry.Name == NameDocker {
			err = c.installDocker(ctx)
		} else {
			var m PackageManager
			if m, err = manager(); err == nil {
				err = m.install(ctx, c.runner, entry.Package)
			}
		}
		if err == nil && !c.available(ctx, entry.Dependency) {
			err = fmt.Errorf("%s still unavailable after install", entry.Name)
		}
		if err != nil {
			entry.Status = StatusFailed
			entry.Err = err
			event := log.Warn()
			if entry.Required {
				event = log.Error()
			}
			event.Err(err).Str("dependency", entry.Name).Bool("required", entry.Required).Msg("deps install failed")
			continue
		}
		entry.Status = StatusInstalled
		log.Info().Str("dependency", entry.Name).Msg("deps installed")
	}
	return report
}

func (c *Checker) available(ctx context.Context, dep Dependency) bool {
	if dep.Name == NameDockerCompose {
		if _, _, _, err := c.runner.Run(ctx, "docker", "compose", "version"); err == nil {
			return true
		}
	}
	command := dep.Command
	if command == "" {
		command = dep.Name
	}
	return tools.Available(ctx, c.runner, command)
}

func (c *Checker) installDocker(ctx context.Context) error {
	script := "curl -fsSL " + tools.ShellEscape(c.dockerScriptURL) + " | sh"
	_, err := tools.Check(ctx, c.runner, "sh", "-c", script)
	return err
}
