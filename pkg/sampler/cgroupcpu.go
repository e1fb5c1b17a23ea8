//go:build linux

package sampler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/textparse"
)

// ErrPerCPUMismatch marks a cpuacct.usage_percpu{_sys,_user} sample whose
// sys/user vectors carry a different CPU count — the whole sample is
// invalid per spec.md §4.5.
var ErrPerCPUMismatch = fmt.Errorf("sampler: cpuacct per-cpu sys/user length mismatch")

// CPUTotal is the aggregated user/sys percentage for the monitored cgroup.
type CPUTotal struct {
	UserPercent, SysPercent float64
}

// Throttling is cpu.stat's throttling subsection, common to v1 and v2.
type Throttling struct {
	NrPeriods      uint64
	NrThrottled    uint64
	ThrottledNanos uint64
}

// CgroupCpuSampler reads the monitored cgroup's CPU accounting files,
// following the v1 two-path algorithm (per-cpu sys/user, falling back to
// the user-only aggregate) and the v2 cpu.stat-only algorithm.
type CgroupCpuSampler struct {
	state *cgroup.State

	perCPUSysPrev  map[int]uint64
	perCPUUserPrev map[int]uint64
	aggPrev        map[int]uint64
	seeded         bool

	v2UserPrev DeltaState[uint64]
	v2SysPrev  DeltaState[uint64]
}

// NewCgroupCpuSampler builds a sampler bound to a resolved cgroup state.
func NewCgroupCpuSampler(state *cgroup.State) *CgroupCpuSampler {
	return &CgroupCpuSampler{
		state:          state,
		perCPUSysPrev:  make(map[int]uint64),
		perCPUUserPrev: make(map[int]uint64),
		aggPrev:        make(map[int]uint64),
	}
}

// Sample returns the aggregated user/sys totals, the per-CPU breakdown
// (v1 only; nil under v2), and the throttling subsection. The first sample
// only seeds state and reports a zeroed CPUTotal.
func (s *CgroupCpuSampler) Sample(elapsedSec float64) (CPUTotal, map[int]CPUTotal, Throttling, error) {
	if s.state.Version == cgroup.V2 {
		return s.sampleV2(elapsedSec)
	}
	return s.sampleV1(elapsedSec)
}

func (s *CgroupCpuSampler) sampleV1(elapsedSec float64) (CPUTotal, map[int]CPUTotal, Throttling, error) {
	sysPath := filepath.Join(s.state.CpuacctPath, "cpuacct.usage_percpu_sys")
	if _, err := os.Stat(sysPath); err == nil {
		return s.sampleV1PerCPU(elapsedSec)
	}
	return s.sampleV1Aggregate(elapsedSec)
}

func readUsageVector(path string) ([]uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(b))
	out := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *CgroupCpuSampler) sampleV1PerCPU(elapsedSec float64) (CPUTotal, map[int]CPUTotal, Throttling, error) {
	sysNs, err := readUsageVector(filepath.Join(s.state.CpuacctPath, "cpuacct.usage_percpu_sys"))
	if err != nil {
		return CPUTotal{}, nil, Throttling{}, err
	}
	userNs, err := readUsageVector(filepath.Join(s.state.CpuacctPath, "cpuacct.usage_percpu_user"))
	if err != nil {
		return CPUTotal{}, nil, Throttling{}, err
	}
	if len(sysNs) != len(userNs) {
		return CPUTotal{}, nil, Throttling{}, ErrPerCPUMismatch
	}

	perCPU := make(map[int]CPUTotal, len(sysNs))
	var totalUser, totalSys float64
	bootstrap := !s.seeded
	elapsedNs := elapsedSec * 1e9

	for i := range sysNs {
		prevSys, hadSys := s.perCPUSysPrev[i]
		prevUser, hadUser := s.perCPUUserPrev[i]
		s.perCPUSysPrev[i] = sysNs[i]
		s.perCPUUserPrev[i] = userNs[i]
		if bootstrap || !hadSys || !hadUser {
			continue
		}
		sysPct := clampPercent(100 * safeDiv(float64(deltaU64(sysNs[i], prevSys)), elapsedNs))
		userPct := clampPercent(100 * safeDiv(float64(deltaU64(userNs[i], prevUser)), elapsedNs))
		perCPU[i] = CPUTotal{UserPercent: userPct, SysPercent: sysPct}
		totalUser += userPct
		totalSys += sysPct
	}
	s.seeded = true

	throttling, _ := s.readThrottling(s.state.CpuacctPath)
	if bootstrap {
		return CPUTotal{}, nil, throttling, nil
	}
	return CPUTotal{UserPercent: totalUser, SysPercent: totalSys}, perCPU, throttling, nil
}

func (s *CgroupCpuSampler) sampleV1Aggregate(elapsedSec float64) (CPUTotal, map[int]CPUTotal, Throttling, error) {
	userNs, err := readUsageVector(filepath.Join(s.state.CpuacctPath, "cpuacct.usage_percpu"))
	if err != nil {
		return CPUTotal{}, nil, Throttling{}, err
	}

	bootstrap := !s.seeded
	elapsedNs := elapsedSec * 1e9
	var totalUser float64
	for i, v := range userNs {
		prev, had := s.aggPrev[i]
		s.aggPrev[i] = v
		if bootstrap || !had {
			continue
		}
		totalUser += clampPercent(100 * safeDiv(float64(deltaU64(v, prev)), elapsedNs))
	}
	s.seeded = true

	throttling, _ := s.readThrottling(s.state.CpuacctPath)
	if bootstrap {
		return CPUTotal{}, nil, throttling, nil
	}
	return CPUTotal{UserPercent: totalUser}, nil, throttling, nil
}

func (s *CgroupCpuSampler) sampleV2(elapsedSec float64) (CPUTotal, map[int]CPUTotal, Throttling, error) {
	f, err := os.Open(filepath.Join(s.state.CpuacctPath, "cpu.stat"))
	if err != nil {
		return CPUTotal{}, nil, Throttling{}, err
	}
	defer f.Close()

	var userUsec, sysUsec uint64
	var th Throttling
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, v, ok := textparse.FlatSigned(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "user_usec":
			userUsec = uint64(v)
		case "system_usec":
			sysUsec = uint64(v)
		case "nr_periods":
			th.NrPeriods = uint64(v)
		case "nr_throttled":
			th.NrThrottled = uint64(v)
		case "throttled_usec":
			th.ThrottledNanos = uint64(v) * 1000
		}
	}

	elapsedNs := elapsedSec * 1e9
	userDelta, userReady := s.v2UserPrev.Update(userUsec * 1000)
	sysDelta, sysReady := s.v2SysPrev.Update(sysUsec * 1000)
	if !userReady || !sysReady {
		return CPUTotal{}, nil, th, sc.Err()
	}

	total := CPUTotal{
		UserPercent: clampPercent(100 * safeDiv(float64(userDelta), elapsedNs)),
		SysPercent:  clampPercent(100 * safeDiv(float64(sysDelta), elapsedNs)),
	}
	return total, nil, th, sc.Err()
}

func (s *CgroupCpuSampler) readThrottling(dir string) (Throttling, error) {
	f, err := os.Open(filepath.Join(dir, "cpu.stat"))
	if err != nil {
		return Throttling{}, err
	}
	defer f.Close()

	var th Throttling
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, v, _, ok := textparse.Flat(sc.Text())
		if !ok {
			continue
		}
		switch key {
		case "nr_periods":
			th.NrPeriods = v
		case "nr_throttled":
			th.NrThrottled = v
		case "throttled_time":
			th.ThrottledNanos = v
		}
	}
	return th, sc.Err()
}
