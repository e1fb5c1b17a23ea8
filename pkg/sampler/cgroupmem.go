//go:build linux

package sampler

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/textparse"
)

// MemorySample is one tick's cgroup memory accounting: the filtered
// memory.stat entries ("stat." prefix in spec.md) and, where applicable,
// the delta-since-previous "events." entries.
type MemorySample struct {
	Current uint64 // v2 memory.current; zero under v1
	Stat    map[string]uint64
	Events  map[string]uint64
}

// CgroupMemorySampler reads memory.stat (both versions), memory.current
// (v2) and memory.failcnt/memory.events, applying an allowlist per version
// and the v1 total_-prefix-stripping key-alignment trick.
type CgroupMemorySampler struct {
	state       *cgroup.State
	v1Allowlist map[string]bool
	v2Allowlist map[string]bool

	failcntPrev DeltaState[uint64]
	eventsPrev  map[string]*DeltaState[uint64]
}

// NewCgroupMemorySampler builds a sampler bound to state, filtering
// memory.stat entries by the version-appropriate allowlist.
func NewCgroupMemorySampler(state *cgroup.State, v1Allowlist, v2Allowlist map[string]bool) *CgroupMemorySampler {
	return &CgroupMemorySampler{
		state:       state,
		v1Allowlist: v1Allowlist,
		v2Allowlist: v2Allowlist,
		eventsPrev:  make(map[string]*DeltaState[uint64]),
	}
}

// Sample reads the memory accounting files for one tick.
func (s *CgroupMemorySampler) Sample() (MemorySample, error) {
	if s.state.Version == cgroup.V2 {
		return s.sampleV2()
	}
	return s.sampleV1()
}

func (s *CgroupMemorySampler) sampleV1() (MemorySample, error) {
	lines, err := readLines(filepath.Join(s.state.MemoryPath, "memory.stat"))
	if err != nil {
		return MemorySample{}, err
	}
	stat := textparse.ParseFlatMap(lines, s.v1Allowlist, "total_")

	sample := MemorySample{Stat: stat}

	if v, ok := readUint(filepath.Join(s.state.MemoryPath, "memory.failcnt")); ok {
		if delta, ready := s.failcntPrev.Update(v); ready {
			sample.Events = map[string]uint64{"failcnt": delta}
		}
	}
	return sample, nil
}

func (s *CgroupMemorySampler) sampleV2() (MemorySample, error) {
	sample := MemorySample{Stat: make(map[string]uint64), Events: make(map[string]uint64)}

	if v, ok := readUint(filepath.Join(s.state.MemoryPath, "memory.current")); ok {
		sample.Current = v
	}

	lines, err := readLines(filepath.Join(s.state.MemoryPath, "memory.stat"))
	if err != nil {
		return MemorySample{}, err
	}
	sample.Stat = textparse.ParseFlatMap(lines, s.v2Allowlist, "")

	evLines, err := readLines(filepath.Join(s.state.MemoryPath, "memory.events"))
	if err != nil {
		return sample, nil // memory.events missing is non-fatal
	}
	for _, line := range evLines {
		key, v, _, ok := textparse.Flat(line)
		if !ok {
			continue
		}
		if len(s.v2Allowlist) > 0 && !s.v2Allowlist[key] {
			continue
		}
		d, exists := s.eventsPrev[key]
		if !exists {
			d = &DeltaState[uint64]{}
			s.eventsPrev[key] = d
		}
		if delta, ready := d.Update(v); ready {
			sample.Events[key] = delta
		}
	}
	return sample, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// readUint reads a file expected to hold a single trimmed unsigned integer
// (memory.current, memory.failcnt).
func readUint(path string) (uint64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
