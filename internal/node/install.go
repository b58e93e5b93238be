package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danmuck/marznodectl/internal/arch"
	"github.com/danmuck/marznodectl/internal/compose"
	"github.com/danmuck/marznodectl/internal/config"
	"github.com/danmuck/marznodectl/internal/deps"
	"github.com/danmuck/marznodectl/internal/logging"
	"github.com/danmuck/marznodectl/internal/prompt"
	"github.com/danmuck/marznodectl/internal/release"
	"github.com/danmuck/marznodectl/internal/state"
	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
)

// Install performs a fresh installation and starts the service.
func (m *Manager) Install(ctx context.Context) (err error) {
	if m.store.Installed() {
		return fmt.Errorf("%w: %s", ErrAlreadyInstalled, m.cfg.InstallDir)
	}

	suffix, err := m.arch.Detect(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("suffix", string(suffix)).Msg("node install arch resolved")

	report := m.deps.Ensure(ctx, dependencies(m.cfg.Dependencies))
	m.reportDependencies(report)
	if err := report.Err(); err != nil {
		return err
	}

	created, err := ensureDir(m.cfg.InstallDir)
	if err != nil {
		return err
	}
	described := false
	defer func() {
		if err == nil {
			return
		}
		if described {
			if downErr := m.compose.Down(context.WithoutCancel(ctx)); downErr != nil {
				log.Warn().Err(downErr).Msg("node install rollback compose down failed")
			}
		}
		if created {
			if rmErr := os.RemoveAll(m.cfg.InstallDir); rmErr != nil {
				log.Warn().Err(rmErr).Str("dir", m.cfg.InstallDir).Msg("node install rollback failed")
			}
		}
	}()

	if closer, attachErr := logging.AttachFile(m.cfg.LogPath()); attachErr != nil {
		log.Warn().Err(attachErr).Msg("node install log file unavailable")
	} else {
		defer closer.Close()
	}
	if err = os.MkdirAll(m.cfg.DataPath(), 0o755); err != nil {
		return err
	}

	if err = m.fetchXrayConfig(ctx); err != nil {
		return err
	}

	tag, err := m.chooseVersion(ctx)
	if err != nil {
		return err
	}
	if err = m.installXray(ctx, suffix, tag); err != nil {
		return err
	}

	cert, err := prompt.Certificate(ctx, m.prompt)
	if err != nil {
		return err
	}
	if err = os.WriteFile(m.cfg.ClientCertPath(), cert, 0o600); err != nil {
		return err
	}

	port, err := prompt.Port(ctx, m.prompt, m.cfg.DefaultPort, m.portFree)
	if err != nil {
		return err
	}

	if err = compose.Write(m.cfg.ComposePath(), m.composeSpec(port)); err != nil {
		return err
	}
	described = true

	now := m.now().UTC()
	if err = m.store.Save(state.State{
		AppName:     m.cfg.AppName,
		InstalledAt: now,
		UpdatedAt:   now,
		XrayVersion: tag,
		AssetSuffix: string(suffix),
		ServicePort: port,
		Image:       m.cfg.Image,
		ToolVersion: m.toolVersion,
	}); err != nil {
		return err
	}

	m.openFirewall(ctx, port)

	if err = m.compose.Up(ctx); err != nil {
		return err
	}
	m.say("%s installed in %s (Xray-core %s, port %d)", m.cfg.AppName, m.cfg.InstallDir, tag, port)
	return nil
}

// Uninstall stops the service and removes the installation directory.
func (m *Manager) Uninstall(ctx context.Context) error {
	_, loadErr := m.store.Load()
	if loadErr != nil && !errors.Is(loadErr, state.ErrNotInstalled) && !errors.Is(loadErr, state.ErrCorrupt) {
		return loadErr
	}
	if errors.Is(loadErr, state.ErrNotInstalled) {
		if _, err := os.Stat(m.cfg.InstallDir); errors.Is(err, fs.ErrNotExist) {
			return ErrNotInstalled
		}
		log.Warn().Err(loadErr).Str("dir", m.cfg.InstallDir).Msg("node uninstall removing partial installation")
	}

	if descriptor, err := compose.Read(m.cfg.ComposePath()); err != nil {
		log.Warn().Err(err).Msg("node uninstall descriptor unreadable, skipping compose down")
	} else {
		if err := m.compose.Down(ctx); err != nil {
			log.Warn().Err(err).Msg("node uninstall compose down failed")
		}
		m.closeFirewall(ctx, descriptor.Port(m.cfg.AppName))
	}
	if err := m.store.Clear(); err != nil {
		return err
	}
	if err := os.RemoveAll(m.cfg.InstallDir); err != nil {
		return err
	}
	m.say("%s uninstalled", m.cfg.AppName)
	return nil
}

// Update optionally replaces the Xray-core engine, pulls the image and
// restarts the service if it was running.
func (m *Manager) Update(ctx context.Context) error {
	status, err := m.requireInstalled(ctx)
	if err != nil {
		return err
	}
	st := status.State

	replace, err := prompt.Confirm(ctx, m.prompt, "Update Xray-core as well?")
	if errors.Is(err, prompt.ErrNoAnswer) {
		replace, err = false, nil
	}
	if err != nil {
		return err
	}
	if replace {
		suffix, err := m.arch.Detect(ctx)
		if err != nil {
			return err
		}
		tag, err := m.chooseVersion(ctx)
		if err != nil {
			return err
		}
		if err := m.installXray(ctx, suffix, tag); err != nil {
			return err
		}
		st.XrayVersion = tag
		st.AssetSuffix = string(suffix)
		st.UpdatedAt = m.now().UTC()
		if err := m.store.Save(st); err != nil {
			return err
		}
	}

	if err := m.compose.Pull(ctx); err != nil {
		return err
	}
	if status.Running {
		if err := m.compose.Down(ctx); err != nil {
			return err
		}
		if err := m.compose.Up(ctx); err != nil {
			return err
		}
	}

	st.UpdatedAt = m.now().UTC()
	st.ToolVersion = m.toolVersion
	if err := m.store.Save(st); err != nil {
		return err
	}
	m.say("%s updated (Xray-core %s)", m.cfg.AppName, st.XrayVersion)
	return nil
}

func (m *Manager) chooseVersion(ctx context.Context) (string, error) {
	tags, err := m.releases.ListTags(ctx, m.cfg.ReleaseCount)
	if err != nil {
		return "", err
	}
	return release.Choose(ctx, m.prompt, tags)
}

// installXray downloads the release archive for suffix/tag and extracts it
// into the installation directory.
func (m *Manager) installXray(ctx context.Context, suffix arch.Suffix, tag string) error {
	tmp, err := os.MkdirTemp("", "marznode-xray-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	url := arch.AssetURL(m.cfg.DownloadBase, tag, suffix)
	archive := filepath.Join(tmp, arch.AssetName(suffix))
	m.say("Downloading %s", url)
	if _, err := m.downloader.Fetch(ctx, url, archive, 0o600); err != nil {
		return err
	}
	return release.ExtractXray(archive, m.cfg.InstallDir, m.cfg.DataPath())
}

// fetchXrayConfig clones the node repository and keeps its default engine config.
func (m *Manager) fetchXrayConfig(ctx context.Context) error {
	tmp, err := os.MkdirTemp("", "marznode-repo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	checkout := filepath.Join(tmp, "marznode")
	if _, err := tools.Check(ctx, m.runner, "git", "clone", "--depth", "1", m.cfg.RepoURL, checkout); err != nil {
		return err
	}
	return tools.CopyFile(filepath.Join(checkout, config.XrayConfigFile), m.cfg.XrayConfigPath(), 0o644)
}

func (m *Manager) composeSpec(port int) compose.Spec {
	return compose.Spec{
		Service:        m.cfg.AppName,
		Image:          m.cfg.Image,
		Port:           port,
		InstallDir:     m.cfg.InstallDir,
		XrayPath:       m.cfg.XrayPath(),
		AssetsPath:     m.cfg.DataPath(),
		XrayConfigPath: m.cfg.XrayConfigPath(),
		ClientCertPath: m.cfg.ClientCertPath(),
	}
}

// openFirewall is best-effort; hosts without ufw are skipped.
func (m *Manager) openFirewall(ctx context.Context, port int) {
	if !m.cfg.Firewall || !tools.Available(ctx, m.runner, "ufw") {
		return
	}
	if _, err := tools.Check(ctx, m.runner, "ufw", "allow", strconv.Itoa(port)+"/tcp"); err != nil {
		log.Warn().Err(err).Int("port", port).Msg("node firewall rule not applied")
	}
}

func (m *Manager) closeFirewall(ctx context.Context, port int) {
	if port == 0 || !m.cfg.Firewall || !tools.Available(ctx, m.runner, "ufw") {
		return
	}
	if _, err := tools.Check(ctx, m.runner, "ufw", "delete", "allow", strconv.Itoa(port)+"/tcp"); err != nil {
		log.Warn().Err(err).Int("port", port).Msg("node firewall rule not removed")
	}
}

func (m *Manager) reportDependencies(report deps.Report) {
	for _, e := range report.Entries {
		if e.Status == deps.StatusInstalled {
			continue
		}
		kind := "optional"
		if e.Required {
			kind = "required"
		}
		m.say("dependency %s (%s): %s", e.Name, kind, e.Status)
	}
}

func dependencies(in []config.DependencyConfig) []deps.Dependency {
	out := make([]deps.Dependency, 0, len(in))
	for _, d := range in {
		out = append(out, deps.Dependency{
			Name:     d.Name,
			Command:  d.Command,
			Package:  d.Package,
			Required: d.Required,
		})
	}
	return out
}

func ensureDir(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	return true, nil
}
