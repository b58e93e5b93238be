package deps

import (
	"context"

	"github.com/danmuck/marznodectl/internal/tools"
)

// PackageManager describes how to drive one distribution package tool.
type PackageManager struct {
	Name    string
	Refresh []string
	Install []string
}

// Managers are probed in order; the first one on PATH wins.
var Managers = []PackageManager{
	{Name: "apt-get", Refresh: []string{"update", "-y"}, Install: []string{"install", "-y"}},
	{Name: "dnf", Install: []string{"install", "-y"}},
	{Name: "yum", Install: []string{"install", "-y"}},
	{Name: "pacman", Refresh: []string{"-Sy", "--noconfirm"}, Install: []string{"-S", "--noconfirm", "--needed"}},
	{Name: "apk", Refresh: []string{"update"}, Install: []string{"add", "--no-cache"}},
	{Name: "zypper", Refresh: []string{"--non-interactive", "refresh"}, Install: []string{"--non-interactive", "install"}},
}

// DetectManager returns the first supported package manager on the host.
func (c *Checker) DetectManager(ctx context.Context) (PackageManager, error) {
	for _, pm := range Managers {
		if tools.Available(ctx, c.runner, pm.Name) {
			return pm, nil
		}
	}
	return PackageManager{}, ErrNoPackageManager
}

func (pm PackageManager) refresh(ctx context.Context, runner tools.CommandRunner) error {
	if len(pm.Refresh) == 0 {
		return nil
	}
	_, err := tools.Check(ctx, runner, pm.Name, pm.Refresh...)
	return err
}

func (pm PackageManager) install(ctx context.Context, runner tools.CommandRunner, pkg string) error {
	args := append(append([]string(nil), pm.Install...), pkg)
	_, err := tools.Check(ctx, runner, pm.Name, args...)
	return err
}
