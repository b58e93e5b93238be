package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrNotInstalled = errors.New("state: not installed")
	ErrCorrupt      = errors.New("state: corrupt state descriptor")
)

// State is the durable record of one installation.
type State struct {
	AppName     string    `toml:"app_name"`
	InstalledAt time.Time `toml:"installed_at"`
	UpdatedAt   time.Time `toml:"updated_at"`
	XrayVersion string    `toml:"xray_version"`
	AssetSuffix string    `toml:"asset_suffix"`
	ServicePort int       `toml:"service_port"`
	Image       string    `toml:"image"`
	ToolVersion string    `toml:"tool_version"`
}

// Store is the only reader of installation presence.
type Store struct {
	path        string
	composePath string
}

func NewStore(path string, composePath string) Store {
	return Store{path: path, composePath: composePath}
}

// Load returns the recorded state. An installation counts only when both the
// state descriptor and the compose descriptor exist.
func (s Store) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, ErrNotInstalled
	}
	if err != nil {
		return State{}, err
	}
	if _, err := os.Stat(s.composePath); errors.Is(err, fs.ErrNotExist) {
		return State{}, fmt.Errorf("%w: descriptor %s missing", ErrNotInstalled, s.composePath)
	} else if err != nil {
		return State{}, err
	}

	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return st, nil
}

// Installed reports whether Load would succeed.
func (s Store) Installed() bool {
	_, err := s.Load()
	return err == nil
}

// Save writes st atomically.
func (s Store) Save(st State) error {
	data, err := toml.Marshal(st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the state descriptor.
func (s Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
