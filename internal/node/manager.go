package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/marznodectl/internal/arch"
	"github.com/danmuck/marznodectl/internal/compose"
	"github.com/danmuck/marznodectl/internal/config"
	"github.com/danmuck/marznodectl/internal/deps"
	"github.com/danmuck/marznodectl/internal/prompt"
	"github.com/danmuck/marznodectl/internal/release"
	"github.com/danmuck/marznodectl/internal/state"
	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyInstalled = errors.New("node: already installed")
	ErrNotInstalled     = state.ErrNotInstalled
)

const DefaultLogTail = 100

// ArchDetector resolves the host asset suffix.
type ArchDetector interface {
	Detect(ctx context.Context) (arch.Suffix, error)
}

// TagLister lists recent release tags, newest first.
type TagLister interface {
	ListTags(ctx context.Context, n int) ([]string, error)
}

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst string, perm os.FileMode) (int64, error)
}

// DependencyEnsurer runs the dependency phase.
type DependencyEnsurer interface {
	Ensure(ctx context.Context, specs []deps.Dependency) deps.Report
}

// Options wires a Manager. Nil collaborators fall back to live host implementations.
type Options struct {
	Config      config.Config
	Runner      tools.CommandRunner
	Prompt      prompt.Provider
	Arch        ArchDetector
	Releases    TagLister
	Downloader  Fetcher
	Deps        DependencyEnsurer
	PortFree    prompt.PortChecker
	Out         io.Writer
	ToolVersion string
	Now         func() time.Time
}

// Manager runs lifecycle verbs against one installation directory.
type Manager struct {
	cfg         config.Config
	runner      tools.CommandRunner
	prompt      prompt.Provider
	arch        ArchDetector
	releases    TagLister
	downloader  Fetcher
	deps        DependencyEnsurer
	portFree    prompt.PortChecker
	out         io.Writer
	toolVersion string
	now         func() time.Time
	store       state.Store
	compose     *compose.Controller
}

func NewManager(opts Options) *Manager {
	cfg := opts.Config
	runner := opts.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	m := &Manager{
		cfg:         cfg,
		runner:      runner,
		prompt:      opts.Prompt,
		arch:        opts.Arch,
		releases:    opts.Releases,
		downloader:  opts.Downloader,
		deps:        opts.Deps,
		portFree:    opts.PortFree,
		out:         opts.Out,
		toolVersion: opts.ToolVersion,
		now:         opts.Now,
		store:       state.NewStore(cfg.StatePath(), cfg.ComposePath()),
		compose:     compose.NewController(runner, cfg.ComposePath(), cfg.AppName),
	}
	if m.arch == nil {
		m.arch = arch.Prober{Runner: runner}
	}
	if m.releases == nil {
		m.releases = release.NewClient(cfg.ReleasesAPI, cfg.HTTPTimeout)
	}
	if m.downloader == nil {
		m.downloader = release.NewDownloader(cfg.HTTPTimeout)
	}
	if m.deps == nil {
		m.deps = deps.NewChecker(runner)
	}
	if m.portFree == nil {
		m.portFree = prompt.ListenCheck
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.toolVersion == "" {
		m.toolVersion = "dev"
	}
	return m
}

// Status is the observed installation and container state.
type Status struct {
	Installed bool
	Running   bool
	State     state.State
}

func (s Status) String() string {
	switch {
	case !s.Installed:
		return "not installed"
	case s.Running:
		return "running"
	default:
		return "stopped"
	}
}

// Status reads the state descriptor and asks compose whether the service runs.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st, err := m.store.Load()
	if errors.Is(err, state.ErrNotInstalled) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	running, err := m.compose.Running(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Installed: true, Running: running, State: st}, nil
}

// Start brings the service up. A running service is left untouched.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	status, err := m.requireInstalled(ctx)
	if err != nil {
		return status, err
	}
	if status.Running {
		m.say("%s is already running", m.cfg.AppName)
		return status, nil
	}
	if err := m.compose.Up(ctx); err != nil {
		return status, err
	}
	status.Running = true
	m.say("%s started", m.cfg.AppName)
	return status, nil
}

// Stop takes the service down. A stopped service is left untouched.
func (m *Manager) Stop(ctx context.Context) (Status, error) {
	status, err := m.requireInstalled(ctx)
	if err != nil {
		return status, err
	}
	if !status.Running {
		m.say("%s is not running", m.cfg.AppName)
		return status, nil
	}
	if err := m.compose.Down(ctx); err != nil {
		return status, err
	}
	status.Running = false
	m.say("%s stopped", m.cfg.AppName)
	return status, nil
}

// Restart recreates the service containers.
func (m *Manager) Restart(ctx context.Context) (Status, error) {
	status, err := m.requireInstalled(ctx)
	if err != nil {
		return status, err
	}
	if err := m.compose.Down(ctx); err != nil {
		return status, err
	}
	if err := m.compose.Up(ctx); err != nil {
		status.Running = false
		return status, err
	}
	status.Running = true
	m.say("%s restarted", m.cfg.AppName)
	return status, nil
}

// Logs streams service logs to the manager output.
func (m *Manager) Logs(ctx context.Context, follow bool) error {
	if _, err := m.store.Load(); err != nil {
		return err
	}
	return m.compose.Logs(ctx, m.out, follow, DefaultLogTail)
}

func (m *Manager) requireInstalled(ctx context.Context) (Status, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return status, err
	}
	if !status.Installed {
		return status, ErrNotInstalled
	}
	return status, nil
}

func (m *Manager) say(format string, args ...any) {
	fmt.Fprintf(m.out, format+"\n", args...)
	log.Debug().Msgf(format, args...)
}
