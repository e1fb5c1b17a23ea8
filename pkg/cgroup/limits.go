//go:build linux

package cgroup

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ja7ad/cgroupmon/pkg/types"
)

// Limits is the set of static resource caps CgroupLimits exposes.
type Limits struct {
	AllowedCPUs types.CPUSet
	MemoryLimit types.Limit
	CPUQuotaUs  types.Limit
	CPUPeriodUs uint64
}

func readTrimmed(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func readUint(path string) (uint64, bool) {
	s, ok := readTrimmed(path)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// systemCPUCount counts the cpuN lines in /proc/stat, the fallback set used
// when a cgroup's cpuset.cpus file is missing or unreadable.
func systemCPUCount() types.CPUSet {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return types.NewCPUSet()
	}
	defer f.Close()

	var ids []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu") || strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		idStr := strings.TrimPrefix(fields[0], "cpu")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return types.NewCPUSet(ids...)
}

// ReadLimits reads the static resource limits for the cgroup s resolved,
// following spec step: v1 reads memory.limit_in_bytes/cpuset.cpus/
// cpu.cfs_period_us/cpu.cfs_quota_us; v2 reads memory.max/cpuset.cpus/cpu.max.
// Any missing file is non-fatal and substitutes a sentinel.
func ReadLimits(s *State) Limits {
	if s.Version == V2 {
		return readLimitsV2(s)
	}
	return readLimitsV1(s)
}

func readLimitsV1(s *State) Limits {
	var l Limits

	if v, ok := readUint(filepath.Join(s.MemoryPath, "memory.limit_in_bytes")); ok {
		l.MemoryLimit = types.NewLimit(v)
	} else {
		l.MemoryLimit = types.Limit(types.Unlimited)
	}

	if raw, ok := readTrimmed(filepath.Join(s.CpusetPath, "cpuset.cpus")); ok {
		if cs, err := types.ParseCPUSet(raw); err == nil {
			l.AllowedCPUs = cs
		} else {
			l.AllowedCPUs = systemCPUCount()
		}
	} else {
		l.AllowedCPUs = systemCPUCount()
	}

	if v, ok := readUint(filepath.Join(s.CpuacctPath, "cpu.cfs_period_us")); ok {
		l.CPUPeriodUs = v
	}

	if raw, ok := readTrimmed(filepath.Join(s.CpuacctPath, "cpu.cfs_quota_us")); ok {
		if q, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if q < 0 {
				l.CPUQuotaUs = types.Limit(types.Unlimited)
			} else {
				l.CPUQuotaUs = types.NewLimit(uint64(q))
			}
		} else {
			l.CPUQuotaUs = types.Limit(types.Unlimited)
		}
	} else {
		l.CPUQuotaUs = types.Limit(types.Unlimited)
	}

	return l
}

func readLimitsV2(s *State) Limits {
	var l Limits

	if raw, ok := readTrimmed(filepath.Join(s.MemoryPath, "memory.max")); ok {
		if raw == "max" {
			l.MemoryLimit = types.Limit(types.Unlimited)
		} else if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			l.MemoryLimit = types.NewLimit(v)
		} else {
			l.MemoryLimit = types.Limit(types.Unlimited)
		}
	} else {
		l.MemoryLimit = types.Limit(types.Unlimited)
	}

	if raw, ok := readTrimmed(filepath.Join(s.CpusetPath, "cpuset.cpus")); ok {
		if cs, err := types.ParseCPUSet(raw); err == nil && cs.Len() > 0 {
			l.AllowedCPUs = cs
		} else {
			l.AllowedCPUs = systemCPUCount()
		}
	} else {
		l.AllowedCPUs = systemCPUCount()
	}

	// cpu.max is either "max <period>" or "<quota> <period>".
	if raw, ok := readTrimmed(filepath.Join(s.CpuacctPath, "cpu.max")); ok {
		fields := strings.Fields(raw)
		if len(fields) == 2 {
			if period, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				l.CPUPeriodUs = period
			}
			if fields[0] == "max" {
				l.CPUQuotaUs = types.Limit(types.Unlimited)
			} else if q, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
				l.CPUQuotaUs = types.NewLimit(q)
			} else {
				l.CPUQuotaUs = types.Limit(types.Unlimited)
			}
		} else {
			l.CPUQuotaUs = types.Limit(types.Unlimited)
		}
	} else {
		l.CPUQuotaUs = types.Limit(types.Unlimited)
	}

	return l
}
