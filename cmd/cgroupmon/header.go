//go:build linux

package main

import (
	"bufio"
	"os"
	"runtime"
	"strings"

	"github.com/ja7ad/cgroupmon/pkg/output"
)

// defaultHeaderProvider supplies the one-shot host metadata spec.md scopes
// out of the engine core: hostname, CPU model, and OS release, each read
// with a best-effort fallback rather than failing startup.
type defaultHeaderProvider struct{}

func (defaultHeaderProvider) CollectHeader(b *output.Builder) error {
	b.SectionStart("identity")
	b.String("hostname", hostnameOrUnknown())
	b.String("kernel_arch", runtime.GOARCH)
	b.SectionEnd()

	b.SectionStart("cpuinfo")
	b.String("model_name", cpuModelName())
	b.Long("num_logical_cpus", int64(runtime.NumCPU()))
	b.SectionEnd()

	b.SectionStart("os_release")
	for k, v := range osRelease() {
		b.String(k, v)
	}
	b.SectionEnd()

	return nil
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// cpuModelName reads the first "model name" line out of /proc/cpuinfo,
// the same file spec.md's header gathering is grounded on.
func cpuModelName() string {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "model name") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return "unknown"
}

// osRelease parses /etc/os-release's KEY=VALUE lines, stripping quotes.
func osRelease() map[string]string {
	out := map[string]string{}
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(k)] = strings.Trim(v, `"`)
	}
	return out
}
