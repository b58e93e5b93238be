package arch

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/danmuck/marznodectl/internal/tools"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const DefaultCPUInfoPath = "/proc/cpuinfo"

var fpuFlags = map[string]struct{}{
	"vfp":    {},
	"vfpv3":  {},
	"vfpv4":  {},
	"vfpd32": {},
	"neon":   {},
	"fpu":    {},
}

// Host is the probed view of the machine an install runs on.
type Host struct {
	Machine string
	Facts   Facts
}

// Prober collects host facts. Zero values fall back to the live host.
type Prober struct {
	Runner      tools.CommandRunner
	CPUInfoPath string
	Uname       func() (string, error)
}

// Probe reads the machine string, the FPU presence and the byte order.
func (p Prober) Probe(ctx context.Context) (Host, error) {
	uname := p.Uname
	if uname == nil {
		uname = unameMachine
	}
	machine, err := uname()
	if err != nil {
		return Host{}, err
	}

	cpuinfo := p.CPUInfoPath
	if cpuinfo == "" {
		cpuinfo = DefaultCPUInfoPath
	}
	host := Host{Machine: machine}
	host.Facts.HasFPU = hasFPU(cpuinfo)
	host.Facts.LittleEndian = p.littleEndian(ctx)
	log.Debug().
		Str("machine", host.Machine).
		Bool("fpu", host.Facts.HasFPU).
		Bool("little_endian", host.Facts.LittleEndian).
		Msg("arch probe")
	return host, nil
}

// Detect probes the host and resolves its asset suffix.
func (p Prober) Detect(ctx context.Context) (Suffix, error) {
	host, err := p.Probe(ctx)
	if err != nil {
		return "", err
	}
	return Resolve(host.Machine, host.Facts)
}

func (p Prober) littleEndian(ctx context.Context) bool {
	if p.Runner != nil {
		if out, err := tools.Check(ctx, p.Runner, "lscpu"); err == nil {
			if v, ok := parseByteOrder(out); ok {
				return v
			}
		}
	}
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}

func unameMachine() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Machine[:]), nil
}

func hasFPU(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return scanFPU(f)
}

func scanFPU(r io.Reader) bool {
	s := bufio.NewScanner(r)
	for s.Scan() {
		key, value, ok := strings.Cut(s.Text(), ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "features", "flags":
		default:
			continue
		}
		for _, flag := range strings.Fields(value) {
			if _, hit := fpuFlags[strings.ToLower(flag)]; hit {
				return true
			}
		}
	}
	return false
}

func parseByteOrder(lscpu string) (bool, bool) {
	for _, line := range strings.Split(lscpu, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "Byte Order" {
			continue
		}
		switch strings.TrimSpace(value) {
		case "Little Endian":
			return true, true
		case "Big Endian":
			return false, true
		}
	}
	return false, false
}
