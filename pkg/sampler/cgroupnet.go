//go:build linux

package sampler

import (
	"errors"
	"fmt"
)

// ErrNoProcesses means the cgroup's process list was empty, so no
// representative pid's netns could be sampled.
var ErrNoProcesses = errors.New("sampler: cgroup has no processes to pick a netns representative from")

// CgroupNetSampler reads a representative pid's /proc/<pid>/net/dev, under
// the assumption (documented in spec.md §4.7) that every pid in a Docker,
// LXC, or kubelet-managed cgroup shares one network namespace.
type CgroupNetSampler struct {
	net *NetCollector
}

// NewCgroupNetSampler builds a sampler with its own interface-delta state,
// independent of any system-wide NetCollector.
func NewCgroupNetSampler() *CgroupNetSampler {
	return &CgroupNetSampler{net: NewNetCollector()}
}

// Sample picks pids[0] as the representative and delta-samples its netns.
func (s *CgroupNetSampler) Sample(pids []int) ([]NetStat, error) {
	if len(pids) == 0 {
		return nil, ErrNoProcesses
	}
	path := fmt.Sprintf("/proc/%d/net/dev", pids[0])
	return s.net.Sample(path)
}
