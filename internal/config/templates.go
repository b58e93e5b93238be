package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template returns the annotated default config file.
func Template() string {
	return configTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `# marznode tool configuration
app_name = "marznode"
install_dir = "/var/lib/marznode"
bin_path = "/usr/local/bin/marznode"
image = "dawsh/marznode:latest"
repo_url = "https://github.com/marzneshin/marznode.git"
releases_api = "https://api.github.com/repos/XTLS/Xray-core/releases"
download_base = "https://github.com/XTLS/Xray-core/releases/download"
script_url = "https://github.com/danmuck/marznodectl/releases/latest/download/marznode-linux-{arch}"
release_count = 10
default_port = 53042
http_timeout = "60s"
firewall = true
metrics_textfile = ""

# set non_interactive = true to install from the answers below
non_interactive = false

[answers]
port = ""
xray_version = "latest"
certificate_file = ""
confirm = "y"

[[dependencies]]
name = "curl"
required = true

[[dependencies]]
name = "git"
required = true

[[dependencies]]
name = "docker"
required = true

[[dependencies]]
name = "docker-compose"
package = "docker-compose-plugin"
required = true

[[dependencies]]
name = "lscpu"
package = "util-linux"
`
