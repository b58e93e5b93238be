package node

import (
	"context"
	"errors"
	"strings"

	"github.com/danmuck/marznodectl/internal/state"
	"github.com/danmuck/marznodectl/internal/tools"
)

// VersionInfo describes the tool and the installed components.
type VersionInfo struct {
	Tool  string
	Xray  string
	Image string
}

// Version reports component versions. Xray-core is asked directly and falls
// back to the recorded release tag.
func (m *Manager) Version(ctx context.Context) (VersionInfo, error) {
	info := VersionInfo{Tool: m.toolVersion, Image: m.cfg.Image}
	st, err := m.store.Load()
	if errors.Is(err, state.ErrNotInstalled) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	info.Image = st.Image
	info.Xray = st.XrayVersion
	if out, err := tools.Check(ctx, m.runner, m.cfg.XrayPath(), "version"); err == nil {
		if line := firstLine(out); line != "" {
			info.Xray = line
		}
	}
	return info, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
