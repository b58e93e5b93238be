package release

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

var ErrArchiveIncomplete = errors.New("release: archive missing required entry")

// Archive entries copied out of an Xray-core release.
const (
	EntryXray    = "xray"
	EntryGeoIP   = "geoip.dat"
	EntryGeoSite = "geosite.dat"
)

// ExtractXray installs the engine binary into binDir and the geo files into dataDir.
// Entries are matched by base name; archive paths never choose the target.
func ExtractXray(archive string, binDir string, dataDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer r.Close()

	targets := map[string]struct {
		dst  string
		perm os.FileMode
	}{
		EntryXray:    {dst: filepath.Join(binDir, EntryXray), perm: 0o755},
		EntryGeoIP:   {dst: filepath.Join(dataDir, EntryGeoIP), perm: 0o644},
		EntryGeoSite: {dst: filepath.Join(dataDir, EntryGeoSite), perm: 0o644},
	}

	found := make(map[string]bool, len(targets))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(f.Name)
		target, ok := targets[name]
		if !ok || found[name] {
			continue
		}
		if err := extractFile(f, target.dst, target.perm); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		found[name] = true
	}

	if !found[EntryXray] {
		return fmt.Errorf("%w: %s", ErrArchiveIncomplete, EntryXray)
	}
	return nil
}

func extractFile(f *zip.File, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
