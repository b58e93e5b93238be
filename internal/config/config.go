package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	EnvConfigPath     = "MARZNODE_CONFIG"
	DefaultConfigPath = "/etc/marznode/config.toml"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// Answers pre-seed the prompts of a non-interactive install.
type Answers struct {
	Port            string
	XrayVersion     string
	CertificateFile string
	Confirm         string
}

// DependencyConfig names one host dependency of the install flow.
type DependencyConfig struct {
	Name     string
	Command  string
	Package  string
	Required bool
}

// Config is the resolved tool configuration.
type Config struct {
	AppName         string
	InstallDir      string
	BinPath         string
	Image           string
	RepoURL         string
	ReleasesAPI     string
	DownloadBase    string
	ScriptURL       string
	ReleaseCount    int
	DefaultPort     int
	HTTPTimeout     time.Duration
	Firewall        bool
	MetricsTextfile string
	NonInteractive  bool
	Answers         Answers
	Dependencies    []DependencyConfig
}

type fileAnswers struct {
	Port            string `toml:"port"`
	XrayVersion     string `toml:"xray_version"`
	CertificateFile string `toml:"certificate_file"`
	Confirm         string `toml:"confirm"`
}

type fileDependency struct {
	Name     string `toml:"name"`
	Command  string `toml:"command"`
	Package  string `toml:"package"`
	Required bool   `toml:"required"`
}

type fileConfig struct {
	AppName         string           `toml:"app_name"`
	InstallDir      string           `toml:"install_dir"`
	BinPath         string           `toml:"bin_path"`
	Image           string           `toml:"image"`
	RepoURL         string           `toml:"repo_url"`
	ReleasesAPI     string           `toml:"releases_api"`
	DownloadBase    string           `toml:"download_base"`
	ScriptURL       string           `toml:"script_url"`
	ReleaseCount    int              `toml:"release_count"`
	DefaultPort     int              `toml:"default_port"`
	HTTPTimeout     string           `toml:"http_timeout"`
	Firewall        bool             `toml:"firewall"`
	MetricsTextfile string           `toml:"metrics_textfile"`
	NonInteractive  bool             `toml:"non_interactive"`
	Answers         fileAnswers      `toml:"answers"`
	Dependencies    []fileDependency `toml:"dependencies"`
}

// Default returns the built-in configuration used when no file exists.
func Default() Config {
	return Config{
		AppName:      "marznode",
		InstallDir:   "/var/lib/marznode",
		BinPath:      "/usr/local/bin/marznode",
		Image:        "dawsh/marznode:latest",
		RepoURL:      "https://github.com/marzneshin/marznode.git",
		ReleasesAPI:  "https://api.github.com/repos/XTLS/Xray-core/releases",
		DownloadBase: "https://github.com/XTLS/Xray-core/releases/download",
		ScriptURL:    "https://github.com/danmuck/marznodectl/releases/latest/download/marznode-linux-{arch}",
		ReleaseCount: 10,
		DefaultPort:  53042,
		HTTPTimeout:  60 * time.Second,
		Firewall:     true,
		Dependencies: DefaultDependencies(),
	}
}

// DefaultDependencies lists the host tools an install needs.
func DefaultDependencies() []DependencyConfig {
	return []DependencyConfig{
		{Name: "curl", Command: "curl", Package: "curl", Required: true},
		{Name: "git", Command: "git", Package: "git", Required: true},
		{Name: "docker", Command: "docker", Package: "docker", Required: true},
		{Name: "docker-compose", Command: "docker-compose", Package: "docker-compose-plugin", Required: true},
		{Name: "lscpu", Command: "lscpu", Package: "util-linux", Required: false},
	}
}

// ResolvePath picks the config path from the flag value, the environment or the default.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultConfigPath
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}

	overlayString(meta.IsDefined("app_name"), &cfg.AppName, raw.AppName)
	overlayString(meta.IsDefined("install_dir"), &cfg.InstallDir, raw.InstallDir)
	overlayString(meta.IsDefined("bin_path"), &cfg.BinPath, raw.BinPath)
	overlayString(meta.IsDefined("image"), &cfg.Image, raw.Image)
	overlayString(meta.IsDefined("repo_url"), &cfg.RepoURL, raw.RepoURL)
	overlayString(meta.IsDefined("releases_api"), &cfg.ReleasesAPI, raw.ReleasesAPI)
	overlayString(meta.IsDefined("download_base"), &cfg.DownloadBase, raw.DownloadBase)
	overlayString(meta.IsDefined("script_url"), &cfg.ScriptURL, raw.ScriptURL)
	overlayString(meta.IsDefined("metrics_textfile"), &cfg.MetricsTextfile, raw.MetricsTextfile)

	if meta.IsDefined("release_count") {
		cfg.ReleaseCount = raw.ReleaseCount
	}
	if meta.IsDefined("default_port") {
		cfg.DefaultPort = raw.DefaultPort
	}
	if meta.IsDefined("http_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HTTPTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if meta.IsDefined("firewall") {
		cfg.Firewall = raw.Firewall
	}
	if meta.IsDefined("non_interactive") {
		cfg.NonInteractive = raw.NonInteractive
	}

	overlayString(meta.IsDefined("answers", "port"), &cfg.Answers.Port, raw.Answers.Port)
	overlayString(meta.IsDefined("answers", "xray_version"), &cfg.Answers.XrayVersion, raw.Answers.XrayVersion)
	overlayString(meta.IsDefined("answers", "certificate_file"), &cfg.Answers.CertificateFile, raw.Answers.CertificateFile)
	overlayString(meta.IsDefined("answers", "confirm"), &cfg.Answers.Confirm, raw.Answers.Confirm)

	if meta.IsDefined("dependencies") {
		deps, err := parseDependencies(raw.Dependencies)
		if err != nil {
			return Config{}, err
		}
		cfg.Dependencies = deps
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the install flow cannot act on.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.AppName) == "" {
		return fmt.Errorf("%w: app_name is required", ErrInvalidConfig)
	}
	if !filepath.IsAbs(cfg.InstallDir) {
		return fmt.Errorf("%w: install_dir must be absolute: %q", ErrInvalidConfig, cfg.InstallDir)
	}
	if filepath.Clean(cfg.InstallDir) == "/" {
		return fmt.Errorf("%w: install_dir must not be the filesystem root", ErrInvalidConfig)
	}
	if !filepath.IsAbs(cfg.BinPath) {
		return fmt.Errorf("%w: bin_path must be absolute: %q", ErrInvalidConfig, cfg.BinPath)
	}
	if strings.TrimSpace(cfg.Image) == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidConfig)
	}
	if cfg.ReleaseCount <= 0 {
		return fmt.Errorf("%w: release_count must be positive", ErrInvalidConfig)
	}
	if cfg.DefaultPort < 1 || cfg.DefaultPort > 65535 {
		return fmt.Errorf("%w: default_port out of range: %d", ErrInvalidConfig, cfg.DefaultPort)
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: http_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.NonInteractive && strings.TrimSpace(cfg.Answers.CertificateFile) == "" {
		return fmt.Errorf("%w: non_interactive requires answers.certificate_file", ErrInvalidConfig)
	}
	return nil
}

func parseDependencies(in []fileDependency) ([]DependencyConfig, error) {
	out := make([]DependencyConfig, 0, len(in))
	for i, dep := range in {
		name := strings.TrimSpace(dep.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: dependencies[%d] missing name", ErrInvalidConfig, i)
		}
		command := strings.TrimSpace(dep.Command)
		if command == "" {
			command = name
		}
		pkg := strings.TrimSpace(dep.Package)
		if pkg == "" {
			pkg = name
		}
		out = append(out, DependencyConfig{
			Name:     name,
			Command:  command,
			Package:  pkg,
			Required: dep.Required,
		})
	}
	return out, nil
}

func overlayString(defined bool, dst *string, value string) {
	if !defined {
		return
	}
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}
