//go:build linux

package textparse

import "github.com/ja7ad/cgroupmon/pkg/types"

// ParseRangeList parses a cpuset.cpus/mems-style range list ("0-3,7,10-11")
// into a CPUSet. Kept alongside the other fixed-layout parsers rather than
// under pkg/cgroup since it is a plain text format, not a cgroup concept.
func ParseRangeList(raw string) (types.CPUSet, error) {
	return types.ParseCPUSet(raw)
}
