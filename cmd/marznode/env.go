package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/marznodectl/internal/config"
	"github.com/danmuck/marznodectl/internal/node"
	"github.com/danmuck/marznodectl/internal/prompt"
	"github.com/danmuck/marznodectl/internal/release"
	"github.com/danmuck/marznodectl/internal/selfinstall"
	"golang.org/x/sys/unix"
)

// lifecycle is the node surface the verbs drive.
type lifecycle interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
	Update(ctx context.Context) error
	Start(ctx context.Context) (node.Status, error)
	Stop(ctx context.Context) (node.Status, error)
	Restart(ctx context.Context) (node.Status, error)
	Status(ctx context.Context) (node.Status, error)
	Logs(ctx context.Context, follow bool) error
	Version(ctx context.Context) (node.VersionInfo, error)
}

type scripts interface {
	InstallScript() error
	UninstallScript() error
	UpdateScript(ctx context.Context) error
}

// env carries the process boundary so commands can run against fakes.
type env struct {
	stdout  io.Writer
	stderr  io.Writer
	geteuid func() int
	node    func(cfg config.Config, p func() (prompt.Provider, error), out io.Writer) lifecycle
	scripts func(cfg config.Config) scripts
}

func hostEnv() env {
	return env{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		geteuid: unix.Geteuid,
		node: func(cfg config.Config, p func() (prompt.Provider, error), out io.Writer) lifecycle {
			return &lazyNode{cfg: cfg, provider: p, out: out}
		},
		scripts: func(cfg config.Config) scripts {
			return selfinstall.Installer{
				BinPath:   cfg.BinPath,
				ScriptURL: cfg.ScriptURL,
				Fetcher:   release.NewDownloader(cfg.HTTPTimeout),
			}
		},
	}
}

// promptFor picks scripted answers or the controlling terminal.
func promptFor(cfg config.Config, out io.Writer) (prompt.Provider, error) {
	if cfg.NonInteractive {
		return prompt.NewScripted(answers(cfg.Answers), out), nil
	}
	term, err := prompt.NewTerminal(false)
	if err != nil {
		return nil, fmt.Errorf("%w (set non_interactive = true and provide [answers])", err)
	}
	return term, nil
}

func answers(a config.Answers) map[string]string {
	out := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set(prompt.KeyPort, a.Port)
	set(prompt.KeyXrayVersion, a.XrayVersion)
	set(prompt.KeyCertificateFile, a.CertificateFile)
	set(prompt.KeyConfirm, a.Confirm)
	return out
}

// lazyNode builds the manager per verb so verbs that never prompt do not
// need a terminal.
type lazyNode struct {
	cfg      config.Config
	provider func() (prompt.Provider, error)
	out      io.Writer
}

func (l *lazyNode) manager(interactive bool) (*node.Manager, error) {
	opts := node.Options{Config: l.cfg, Out: l.out, ToolVersion: version}
	if interactive {
		p, err := l.provider()
		if err != nil {
			return nil, err
		}
		opts.Prompt = p
	}
	return node.NewManager(opts), nil
}

func (l *lazyNode) Install(ctx context.Context) error {
	m, err := l.manager(true)
	if err != nil {
		return err
	}
	return m.Install(ctx)
}

func (l *lazyNode) Uninstall(ctx context.Context) error {
	m, err := l.manager(false)
	if err != nil {
		return err
	}
	return m.Uninstall(ctx)
}

func (l *lazyNode) Update(ctx context.Context) error {
	m, err := l.manager(true)
	if err != nil {
		return err
	}
	return m.Update(ctx)
}

func (l *lazyNode) Start(ctx context.Context) (node.Status, error) {
	m, err := l.manager(false)
	if err != nil {
		return node.Status{}, err
	}
	return m.Start(ctx)
}

func (l *lazyNode) Stop(ctx context.Context) (node.Status, error) {
	m, err := l.manager(false)
	if err != nil {
		return node.Status{}, err
	}
	return m.Stop(ctx)
}

func (l *lazyNode) Restart(ctx context.Context) (node.Status, error) {
	m, err := l.manager(false)
	if err != nil {
		return node.Status{}, err
	}
	return m.Restart(ctx)
}

func (l *lazyNode) Status(ctx context.Context) (node.Status, error) {
	m, err := l.manager(false)
	if err != nil {
		return node.Status{}, err
	}
	return m.Status(ctx)
}

func (l *lazyNode) Logs(ctx context.Context, follow bool) error {
	m, err := l.manager(false)
	if err != nil {
		return err
	}
	return m.Logs(ctx, follow)
}

func (l *lazyNode) Version(ctx context.Context) (node.VersionInfo, error) {
	m, err := l.manager(false)
	if err != nil {
		return node.VersionInfo{}, err
	}
	return m.Version(ctx)
}
