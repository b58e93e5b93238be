package config

import "path/filepath"

// Installation directory entries.
const (
	LogFile        = "marznode.log"
	DataDir        = "data"
	XrayBinary     = "xray"
	XrayConfigFile = "xray_config.json"
	ClientCertFile = "client.pem"
	ComposeFile    = "docker-compose.yml"
	StateFile      = "state.toml"
)

func (c Config) LogPath() string        { return filepath.Join(c.InstallDir, LogFile) }
func (c Config) DataPath() string       { return filepath.Join(c.InstallDir, DataDir) }
func (c Config) XrayPath() string       { return filepath.Join(c.InstallDir, XrayBinary) }
func (c Config) XrayConfigPath() string { return filepath.Join(c.InstallDir, XrayConfigFile) }
func (c Config) ClientCertPath() string { return filepath.Join(c.InstallDir, ClientCertFile) }
func (c Config) ComposePath() string    { return filepath.Join(c.InstallDir, ComposeFile) }
func (c Config) StatePath() string      { return filepath.Join(c.InstallDir, StateFile) }
