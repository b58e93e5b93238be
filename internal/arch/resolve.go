package arch

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedArchitecture = errors.New("arch: unsupported architecture")

// Suffix is the architecture token embedded in a release asset name.
type Suffix string

const (
	Suffix32       Suffix = "32"
	Suffix64       Suffix = "64"
	SuffixARM32V5  Suffix = "arm32-v5"
	SuffixARM32V6  Suffix = "arm32-v6"
	SuffixARM32V7A Suffix = "arm32-v7a"
	SuffixARM64V8A Suffix = "arm64-v8a"
	SuffixMIPS32   Suffix = "mips32"
	SuffixMIPS32LE Suffix = "mips32le"
	SuffixMIPS64   Suffix = "mips64"
	SuffixMIPS64LE Suffix = "mips64le"
	SuffixPPC64    Suffix = "ppc64"
	SuffixPPC64LE  Suffix = "ppc64le"
	SuffixRISCV64  Suffix = "riscv64"
	SuffixS390X    Suffix = "s390x"
)

// Facts are the auxiliary host properties consulted for ambiguous machines.
type Facts struct {
	HasFPU       bool
	LittleEndian bool
}

// Resolve maps a uname machine string to its asset suffix.
func Resolve(machine string, facts Facts) (Suffix, error) {
	switch machine {
	case "i386", "i686":
		return Suffix32, nil
	case "amd64", "x86_64":
		return Suffix64, nil
	case "armv5tel":
		return SuffixARM32V5, nil
	case "armv6l":
		if facts.HasFPU {
			return SuffixARM32V6, nil
		}
		return SuffixARM32V5, nil
	case "armv7", "armv7l":
		if facts.HasFPU {
			return SuffixARM32V7A, nil
		}
		return SuffixARM32V5, nil
	case "armv8", "aarch64":
		return SuffixARM64V8A, nil
	case "mips":
		return SuffixMIPS32, nil
	case "mipsle":
		return SuffixMIPS32LE, nil
	case "mips64":
		if facts.LittleEndian {
			return SuffixMIPS64LE, nil
		}
		return SuffixMIPS64, nil
	case "mips64le":
		return SuffixMIPS64LE, nil
	case "ppc64":
		return SuffixPPC64, nil
	case "ppc64le":
		return SuffixPPC64LE, nil
	case "riscv64":
		return SuffixRISCV64, nil
	case "s390x":
		return SuffixS390X, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, machine)
	}
}

// AssetName returns the release archive file name for suffix.
func AssetName(suffix Suffix) string {
	return "Xray-linux-" + string(suffix) + ".zip"
}

// AssetURL joins the download base, the release tag and the asset name.
func AssetURL(base string, version string, suffix Suffix) string {
	return strings.TrimRight(base, "/") + "/" + version + "/" + AssetName(suffix)
}
