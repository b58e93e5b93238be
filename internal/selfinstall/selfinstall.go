// Package selfinstall places, removes and refreshes the marznode binary on PATH.
package selfinstall

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

const ArchPlaceholder = "{arch}"

var ErrNoExecutable = errors.New("selfinstall: cannot locate running executable")

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst string, perm os.FileMode) (int64, error)
}

// Installer manages the copy of the tool at BinPath.
type Installer struct {
	BinPath    string
	ScriptURL  string
	Fetcher    Fetcher
	Executable func() (string, error)
	GOARCH     string
}

func (i Installer) executable() (string, error) {
	exe := i.Executable
	if exe == nil {
		exe = os.Executable
	}
	path, err := exe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoExecutable, err)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}

// InstallScript copies the running executable to BinPath. Running from
// BinPath already is a no-op.
func (i Installer) InstallScript() error {
	src, err := i.executable()
	if err != nil {
		return err
	}
	dst := i.BinPath
	if resolved, err := filepath.EvalSymlinks(dst); err == nil {
		dst = resolved
	}
	if src == dst {
		log.Info().Str("path", i.BinPath).Msg("selfinstall already in place")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(i.BinPath), 0o755); err != nil {
		return err
	}
	if err := tools.CopyFile(src, i.BinPath, 0o755); err != nil {
		return err
	}
	log.Info().Str("src", src).Str("dst", i.BinPath).Msg("selfinstall installed")
	return nil
}

// UninstallScript removes BinPath. A missing file is not an error.
func (i Installer) UninstallScript() error {
	err := os.Remove(i.BinPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", i.BinPath).Msg("selfinstall nothing to remove")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("path", i.BinPath).Msg("selfinstall removed")
	return nil
}

// UpdateScript downloads the release build for this architecture over BinPath.
func (i Installer) UpdateScript(ctx context.Context) error {
	url := i.URL()
	if _, err := i.Fetcher.Fetch(ctx, url, i.BinPath, 0o755); err != nil {
		return err
	}
	log.Info().Str("url", url).Str("dst", i.BinPath).Msg("selfinstall updated")
	return nil
}

// URL expands the architecture placeholder in ScriptURL.
func (i Installer) URL() string {
	goarch := i.GOARCH
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return strings.ReplaceAll(i.ScriptURL, ArchPlaceholder, goarch)
}
