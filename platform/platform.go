// Package platform detects host facts that qualify test tags and defaults.
package platform

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/ethereum-optimism/infra/op-testorch/tags"
	"github.com/ethereum-optimism/infra/op-testorch/types"
)

// OSReleasePath is where the distribution identity is read from
const OSReleasePath = "/etc/os-release"

// Info describes the host the tests run on
type Info struct {
	OS     string // runtime.GOOS
	Arch   string // runtime.GOARCH
	Distro string // os-release VERSION_CODENAME, falling back to ID; "unknown" when absent
	CPUs   int
}

// Detect reads the host facts
func Detect() Info {
	info := Info{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		Distro: "unknown",
		CPUs:   runtime.NumCPU(),
	}
	if f, err := os.Open(OSReleasePath); err == nil {
		defer f.Close()
		if distro := parseDistro(f); distro != "" {
			info.Distro = distro
		}
	}
	return info
}

// parseDistro extracts the distribution codename from os-release content
func parseDistro(r io.Reader) string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[key] = strings.Trim(value, `"'`)
	}
	if codename := values["VERSION_CODENAME"]; codename != "" {
		return strings.ToLower(codename)
	}
	return strings.ToLower(values["ID"])
}

// QualifyFilter injects the platform-dependent negative tags into f:
// memcheck runs exclude novalgrind and novalgrind-<distro>, unoptimized builds exclude nodebug.
// The caller validates the filter afterwards.
func (i Info) QualifyFilter(f tags.Filter, memcheck, optimized bool) {
	if memcheck {
		f.Exclude(types.TagNoValgrind)
		f.Exclude(types.TagNoValgrind + "-" + i.Distro)
	}
	if !optimized {
		f.Negative.Add(types.TagNoDebug)
	}
}
