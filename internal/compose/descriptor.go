package compose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDescriptor = errors.New("compose: invalid descriptor")

// Environment keys read by the MarzNode container.
const (
	EnvServicePort        = "SERVICE_PORT"
	EnvXrayExecutablePath = "XRAY_EXECUTABLE_PATH"
	EnvXrayAssetsPath     = "XRAY_ASSETS_PATH"
	EnvXrayConfigPath     = "XRAY_CONFIG_PATH"
	EnvSSLClientCertFile  = "SSL_CLIENT_CERT_FILE"
	EnvSSLKeyFile         = "SSL_KEY_FILE"
	EnvSSLCertFile        = "SSL_CERT_FILE"
)

// File is the subset of the compose schema this tool writes.
type File struct {
	Services map[string]Service `yaml:"services"`
}

type Service struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart,omitempty"`
	NetworkMode string            `yaml:"network_mode,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
}

// Spec holds the values that vary between installations.
type Spec struct {
	Service        string
	Image          string
	Port           int
	InstallDir     string
	XrayPath       string
	AssetsPath     string
	XrayConfigPath string
	ClientCertPath string
}

func (s Spec) validate() error {
	switch {
	case strings.TrimSpace(s.Service) == "":
		return fmt.Errorf("%w: missing service name", ErrInvalidDescriptor)
	case strings.TrimSpace(s.Image) == "":
		return fmt.Errorf("%w: missing image", ErrInvalidDescriptor)
	case s.Port < 1 || s.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, s.Port)
	case !filepath.IsAbs(s.InstallDir):
		return fmt.Errorf("%w: install dir must be absolute: %q", ErrInvalidDescriptor, s.InstallDir)
	}
	return nil
}

// Build assembles the compose document for spec.
func Build(spec Spec) (File, error) {
	if err := spec.validate(); err != nil {
		return File{}, err
	}
	return File{
		Services: map[string]Service{
			spec.Service: {
				Image:       spec.Image,
				Restart:     "always",
				NetworkMode: "host",
				Environment: map[string]string{
					EnvServicePort:        strconv.Itoa(spec.Port),
					EnvXrayExecutablePath: spec.XrayPath,
					EnvXrayAssetsPath:     spec.AssetsPath,
					EnvXrayConfigPath:     spec.XrayConfigPath,
					EnvSSLClientCertFile:  spec.ClientCertPath,
					EnvSSLKeyFile:         "./server.key",
					EnvSSLCertFile:        "./server.cert",
				},
				Volumes: []string{spec.InstallDir + ":" + spec.InstallDir},
			},
		},
	}, nil
}

// Render encodes the descriptor as YAML.
func Render(spec Spec) ([]byte, error) {
	f, err := Build(spec)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(f)
}

// Write renders spec to path.
func Write(path string, spec Spec) error {
	data, err := Render(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read decodes an existing descriptor.
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, path, err)
	}
	if len(f.Services) == 0 {
		return File{}, fmt.Errorf("%w: %s has no services", ErrInvalidDescriptor, path)
	}
	return f, nil
}

// Port returns the SERVICE_PORT of service, or 0 when unset.
func (f File) Port(service string) int {
	svc, ok := f.Services[service]
	if !ok {
		return 0
	}
	port, err := strconv.Atoi(svc.Environment[EnvServicePort])
	if err != nil {
		return 0
	}
	return port
}
