package node

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/marznodectl/internal/arch"
	"github.com/danmuck/marznodectl/internal/compose"
	"github.com/danmuck/marznodectl/internal/config"
	"github.com/danmuck/marznodectl/internal/deps"
	"github.com/danmuck/marznodectl/internal/prompt"
	"github.com/danmuck/marznodectl/internal/state"
	"github.com/danmuck/marznodectl/internal/testutil/fakerun"
	"github.com/danmuck/marznodectl/internal/testutil/testlog"
	"github.com/danmuck/marznodectl/internal/testutil/tlstest"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// cloneRunner materialises the repository checkout that git clone would produce.
type cloneRunner struct {
	*fakerun.Runner
}

func (r cloneRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	stdout, stderr, code, err := r.Runner.Run(ctx, name, args...)
	if err == nil && name == "git" && len(args) > 0 && args[0] == "clone" {
		dst := args[len(args)-1]
		if mkErr := os.MkdirAll(dst, 0o755); mkErr != nil {
			return stdout, stderr, 1, mkErr
		}
		if wErr := os.WriteFile(filepath.Join(dst, config.XrayConfigFile), []byte(`{"log":{}}`), 0o644); wErr != nil {
			return stdout, stderr, 1, wErr
		}
	}
	return stdout, stderr, code, err
}

type staticArch struct {
	suffix arch.Suffix
	err    error
	calls  int
}

func (a *staticArch) Detect(context.Context) (arch.Suffix, error) {
	a.calls++
	return a.suffix, a.err
}

type staticTags struct {
	tags  []string
	calls int
}

func (s *staticTags) ListTags(context.Context, int) ([]string, error) {
	s.calls++
	return s.tags, nil
}

type zipFetcher struct {
	archive []byte
	urls    []string
}

func (f *zipFetcher) Fetch(_ context.Context, url string, dst string, perm os.FileMode) (int64, error) {
	f.urls = append(f.urls, url)
	if err := os.WriteFile(dst, f.archive, perm); err != nil {
		return 0, err
	}
	return int64(len(f.archive)), nil
}

type staticDeps struct {
	report deps.Report
	calls  int
}

func (d *staticDeps) Ensure(context.Context, []deps.Dependency) deps.Report {
	d.calls++
	return d.report
}

type harness struct {
	cfg     config.Config
	runner  *fakerun.Runner
	arch    *staticArch
	tags    *staticTags
	fetcher *zipFetcher
	deps    *staticDeps
	out     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.InstallDir = filepath.Join(t.TempDir(), "marznode")
	return &harness{
		cfg:     cfg,
		runner:  fakerun.New(),
		arch:    &staticArch{suffix: arch.SuffixARM64V8A},
		tags:    &staticTags{tags: []string{"v1.8.24", "v1.8.23"}},
		fetcher: &zipFetcher{archive: xrayArchive(t)},
		deps:    &staticDeps{},
		out:     &bytes.Buffer{},
	}
}

func (h *harness) manager(answers map[string]string) *Manager {
	return NewManager(Options{
		Config:      h.cfg,
		Runner:      cloneRunner{h.runner},
		Prompt:      prompt.NewScripted(answers, io.Discard),
		Arch:        h.arch,
		Releases:    h.tags,
		Downloader:  h.fetcher,
		Deps:        h.deps,
		PortFree:    func(int) bool { return true },
		Out:         h.out,
		ToolVersion: "v0.3.0",
		Now:         func() time.Time { return fixedNow },
	})
}

func (h *harness) compose(args string) string {
	return "docker compose -f " + h.cfg.ComposePath() + " " + args
}

// seed writes an installation without going through Install.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	if err := os.MkdirAll(h.cfg.InstallDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	spec := compose.Spec{
		Service:        h.cfg.AppName,
		Image:          h.cfg.Image,
		Port:           h.cfg.DefaultPort,
		InstallDir:     h.cfg.InstallDir,
		XrayPath:       h.cfg.XrayPath(),
		AssetsPath:     h.cfg.DataPath(),
		XrayConfigPath: h.cfg.XrayConfigPath(),
		ClientCertPath: h.cfg.ClientCertPath(),
	}
	if err := compose.Write(h.cfg.ComposePath(), spec); err != nil {
		t.Fatalf("write compose: %v", err)
	}
	st := state.State{
		AppName:     h.cfg.AppName,
		InstalledAt: fixedNow.Add(-time.Hour),
		UpdatedAt:   fixedNow.Add(-time.Hour),
		XrayVersion: "v1.8.23",
		AssetSuffix: string(arch.SuffixARM64V8A),
		ServicePort: h.cfg.DefaultPort,
		Image:       h.cfg.Image,
		ToolVersion: "v0.2.0",
	}
	if err := state.NewStore(h.cfg.StatePath(), h.cfg.ComposePath()).Save(st); err != nil {
		t.Fatalf("save state: %v", err)
	}
}

func (h *harness) running() {
	h.runner.On(h.compose("ps"), fakerun.Result{Stdout: h.cfg.AppName + "\n"})
}

func xrayArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"xray":        "#!/bin/sh\necho xray\n",
		"geoip.dat":   "geoip",
		"geosite.dat": "geosite",
		"LICENSE":     "license",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestInstallThenUninstallLeavesNoResidue(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	m := h.manager(map[string]string{prompt.KeyCertificate: tlstest.ClientPEM(t)})

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	for _, path := range []string{
		h.cfg.XrayPath(),
		filepath.Join(h.cfg.DataPath(), "geoip.dat"),
		filepath.Join(h.cfg.DataPath(), "geosite.dat"),
		h.cfg.XrayConfigPath(),
		h.cfg.ClientCertPath(),
		h.cfg.ComposePath(),
		h.cfg.StatePath(),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}
	info, err := os.Stat(h.cfg.XrayPath())
	if err != nil || info.Mode().Perm() != 0o755 {
		t.Fatalf("unexpected xray mode: %v %v", info, err)
	}
	info, err = os.Stat(h.cfg.ClientCertPath())
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected certificate mode: %v %v", info, err)
	}

	st, err := state.NewStore(h.cfg.StatePath(), h.cfg.ComposePath()).Load()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	want := state.State{
		AppName:     "marznode",
		InstalledAt: fixedNow,
		UpdatedAt:   fixedNow,
		XrayVersion: "v1.8.24",
		AssetSuffix: "arm64-v8a",
		ServicePort: 53042,
		Image:       h.cfg.Image,
		ToolVersion: "v0.3.0",
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	wantURL := "https://github.com/XTLS/Xray-core/releases/download/v1.8.24/Xray-linux-arm64-v8a.zip"
	if diff := cmp.Diff([]string{wantURL}, h.fetcher.urls); diff != "" {
		t.Fatalf("download mismatch (-want +got):\n%s", diff)
	}
	if !h.runner.Ran("git clone --depth 1 " + h.cfg.RepoURL) {
		t.Fatalf("repository not cloned: %v", h.runner.Commands())
	}
	if !h.runner.Ran("ufw allow 53042/tcp") {
		t.Fatalf("firewall rule not applied: %v", h.runner.Commands())
	}
	if !h.runner.Ran(h.compose("up -d --remove-orphans")) {
		t.Fatalf("service not started: %v", h.runner.Commands())
	}

	if err := m.Uninstall(context.Background()); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if _, err := os.Stat(h.cfg.InstallDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("install dir still present: %v", err)
	}
	if !h.runner.Ran(h.compose("down --remove-orphans")) {
		t.Fatalf("service not taken down: %v", h.runner.Commands())
	}
	if !h.runner.Ran("ufw delete allow 53042/tcp") {
		t.Fatalf("firewall rule not removed: %v", h.runner.Commands())
	}
}

func TestUninstallSkipsComposeForUnreadableDescriptor(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	if err := os.WriteFile(h.cfg.ComposePath(), []byte("services: [\n"), 0o644); err != nil {
		t.Fatalf("corrupt descriptor: %v", err)
	}

	if err := h.manager(nil).Uninstall(context.Background()); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if h.runner.Ran("docker compose") || h.runner.Ran("ufw") {
		t.Fatalf("commands ran against unreadable descriptor: %v", h.runner.Commands())
	}
	if _, err := os.Stat(h.cfg.InstallDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("install dir still present: %v", err)
	}
}

func TestUpdateRecordsEngineBeforeImagePull(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.runner.On(h.compose("pull"), fakerun.Result{ExitCode: 1, Stderr: "registry unreachable"})

	err := h.manager(map[string]string{
		prompt.KeyConfirm:     "y",
		prompt.KeyXrayVersion: "v1.8.24",
	}).Update(context.Background())
	if err == nil {
		t.Fatalf("expected pull failure")
	}
	if _, statErr := os.Stat(h.cfg.XrayPath()); statErr != nil {
		t.Fatalf("engine not replaced: %v", statErr)
	}
	st, loadErr := state.NewStore(h.cfg.StatePath(), h.cfg.ComposePath()).Load()
	if loadErr != nil {
		t.Fatalf("load state: %v", loadErr)
	}
	if st.XrayVersion != "v1.8.24" || st.AssetSuffix != "arm64-v8a" || !st.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("state out of step with engine on disk: %+v", st)
	}
}

func TestInstallUnsupportedArchTouchesNothing(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.arch.err = arch.ErrUnsupportedArchitecture

	err := h.manager(map[string]string{prompt.KeyCertificate: tlstest.ClientPEM(t)}).Install(context.Background())
	if !errors.Is(err, arch.ErrUnsupportedArchitecture) {
		t.Fatalf("expected ErrUnsupportedArchitecture, got %v", err)
	}
	if _, err := os.Stat(h.cfg.InstallDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("install dir created: %v", err)
	}
	if h.deps.calls != 0 || h.tags.calls != 0 || len(h.fetcher.urls) != 0 {
		t.Fatalf("unexpected activity: deps=%d tags=%d downloads=%v", h.deps.calls, h.tags.calls, h.fetcher.urls)
	}
	if cmds := h.runner.Commands(); len(cmds) != 0 {
		t.Fatalf("unexpected commands: %v", cmds)
	}
}

func TestInstallAbortsOnMissingRequiredDependency(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.deps.report = deps.Report{Entries: []deps.Entry{{
		Dependency: deps.Dependency{Name: "docker", Command: "docker", Required: true},
		Status:     deps.StatusFailed,
	}}}

	err := h.manager(map[string]string{prompt.KeyCertificate: tlstest.ClientPEM(t)}).Install(context.Background())
	if !errors.Is(err, deps.ErrRequiredMissing) {
		t.Fatalf("expected ErrRequiredMissing, got %v", err)
	}
	if _, err := os.Stat(h.cfg.InstallDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("install dir created: %v", err)
	}
	if !strings.Contains(h.out.String(), "docker (required): failed") {
		t.Fatalf("dependency report not printed: %q", h.out.String())
	}
}

func TestInstallRollsBackWhenServiceFailsToStart(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.runner.On(h.compose("up"), fakerun.Result{ExitCode: 1, Stderr: "bind: address already in use"})

	err := h.manager(map[string]string{prompt.KeyCertificate: tlstest.ClientPEM(t)}).Install(context.Background())
	if err == nil {
		t.Fatalf("expected install failure")
	}
	if _, statErr := os.Stat(h.cfg.InstallDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("partial installation left behind: %v", statErr)
	}
	if !h.runner.Ran(h.compose("down --remove-orphans")) {
		t.Fatalf("rollback did not take the service down: %v", h.runner.Commands())
	}
}

func TestInstallRollsBackOnInvalidCertificate(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)

	err := h.manager(map[string]string{prompt.KeyCertificate: "not a certificate"}).Install(context.Background())
	if !errors.Is(err, prompt.ErrInvalidCertificate) {
		t.Fatalf("expected ErrInvalidCertificate, got %v", err)
	}
	if _, statErr := os.Stat(h.cfg.InstallDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("partial installation left behind: %v", statErr)
	}
	if h.runner.Ran("docker compose") {
		t.Fatalf("compose ran before the descriptor existed: %v", h.runner.Commands())
	}
}

func TestInstallRejectsExistingInstallation(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)

	err := h.manager(nil).Install(context.Background())
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("expected ErrAlreadyInstalled, got %v", err)
	}
	if h.arch.calls != 0 {
		t.Fatalf("arch probed for existing installation")
	}
}

func TestStatusWithoutInstallation(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)

	status, err := h.manager(nil).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Installed || status.String() != "not installed" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.running()

	status, err := h.manager(nil).Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !status.Running {
		t.Fatalf("expected running status")
	}
	if h.runner.Ran(h.compose("up")) {
		t.Fatalf("running service was started again: %v", h.runner.Commands())
	}
	if !strings.Contains(h.out.String(), "already running") {
		t.Fatalf("unexpected output: %q", h.out.String())
	}
}

func TestStartBringsStoppedServiceUp(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)

	status, err := h.manager(nil).Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !status.Running || h.runner.Count(h.compose("up -d")) != 1 {
		t.Fatalf("unexpected start: %+v %v", status, h.runner.Commands())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)

	status, err := h.manager(nil).Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if status.Running || h.runner.Ran(h.compose("down")) {
		t.Fatalf("stopped service was taken down again: %v", h.runner.Commands())
	}
}

func TestLifecycleVerbsRequireInstallation(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	m := h.manager(nil)
	ctx := context.Background()

	if _, err := m.Start(ctx); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("start: expected ErrNotInstalled, got %v", err)
	}
	if _, err := m.Stop(ctx); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("stop: expected ErrNotInstalled, got %v", err)
	}
	if _, err := m.Restart(ctx); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("restart: expected ErrNotInstalled, got %v", err)
	}
	if err := m.Update(ctx); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("update: expected ErrNotInstalled, got %v", err)
	}
	if err := m.Logs(ctx, false); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("logs: expected ErrNotInstalled, got %v", err)
	}
	if err := m.Uninstall(ctx); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("uninstall: expected ErrNotInstalled, got %v", err)
	}
}

func TestRestartCyclesService(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.running()

	if _, err := h.manager(nil).Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	cmds := h.runner.Commands()
	down, up := -1, -1
	for i, cmd := range cmds {
		switch {
		case strings.HasPrefix(cmd, h.compose("down")):
			down = i
		case strings.HasPrefix(cmd, h.compose("up")):
			up = i
		}
	}
	if down < 0 || up < down {
		t.Fatalf("expected down before up: %v", cmds)
	}
}

func TestLogsStreamsServiceOutput(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.runner.On(h.compose("logs"), fakerun.Result{Stdout: "marznode  | listening\n"})

	if err := h.manager(nil).Logs(context.Background(), false); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !h.runner.Ran(h.compose("logs --tail 100 marznode")) {
		t.Fatalf("unexpected logs command: %v", h.runner.Commands())
	}
	if !strings.Contains(h.out.String(), "listening") {
		t.Fatalf("logs not streamed: %q", h.out.String())
	}
}

func TestUpdateReplacesEngineAndRestartsRunningService(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.running()

	err := h.manager(map[string]string{
		prompt.KeyConfirm:     "y",
		prompt.KeyXrayVersion: "v1.8.24",
	}).Update(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(h.fetcher.urls) != 1 {
		t.Fatalf("expected one download, got %v", h.fetcher.urls)
	}
	for _, args := range []string{"pull", "down --remove-orphans", "up -d --remove-orphans"} {
		if !h.runner.Ran(h.compose(args)) {
			t.Fatalf("missing compose %s: %v", args, h.runner.Commands())
		}
	}

	st, err := state.NewStore(h.cfg.StatePath(), h.cfg.ComposePath()).Load()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.XrayVersion != "v1.8.24" || !st.UpdatedAt.Equal(fixedNow) || st.ToolVersion != "v0.3.0" {
		t.Fatalf("state not updated: %+v", st)
	}
	if !st.InstalledAt.Equal(fixedNow.Add(-time.Hour)) {
		t.Fatalf("installed_at changed: %v", st.InstalledAt)
	}
}

func TestUpdateWithoutConfirmationKeepsEngineAndStoppedService(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)

	if err := h.manager(nil).Update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(h.fetcher.urls) != 0 || h.arch.calls != 0 {
		t.Fatalf("engine replaced without confirmation")
	}
	if !h.runner.Ran(h.compose("pull")) {
		t.Fatalf("image not pulled: %v", h.runner.Commands())
	}
	if h.runner.Ran(h.compose("up")) {
		t.Fatalf("stopped service was started: %v", h.runner.Commands())
	}
}

func TestVersionPrefersEngineOutput(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.runner.On(h.cfg.XrayPath()+" version", fakerun.Result{Stdout: "Xray 1.8.23 (Xray, Penetrates Everything.)\nA unified platform\n"})

	info, err := h.manager(nil).Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	want := VersionInfo{Tool: "v0.3.0", Xray: "Xray 1.8.23 (Xray, Penetrates Everything.)", Image: h.cfg.Image}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}
}

func TestVersionFallsBackToRecordedTag(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.seed(t)
	h.runner.On(h.cfg.XrayPath(), fakerun.Result{ExitCode: 127})

	info, err := h.manager(nil).Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if info.Xray != "v1.8.23" {
		t.Fatalf("unexpected xray version: %q", info.Xray)
	}
}
