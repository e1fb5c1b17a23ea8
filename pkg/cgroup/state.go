//go:build linux

// Package cgroup resolves the monitored cgroup's controller paths on v1, v2,
// or hybrid systems and reads its static resource limits. It is the Go
// generalization of the teacher's single-purpose mount-type detector into
// the full path-resolution chain a sampler needs.
package cgroup

import (
	"fmt"
	"os"
)

// Version identifies which cgroup hierarchy layout was detected.
type Version int

const (
	None Version = iota
	V1
	V2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	default:
		return "none"
	}
}

// DisabledError is returned by Detect when cgroup monitoring cannot proceed;
// callers degrade to baremetal-only collection rather than failing.
type DisabledError struct {
	Reason string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("cgroup: detection disabled: %s", e.Reason)
}

func disabled(format string, args ...any) error {
	return &DisabledError{Reason: fmt.Sprintf(format, args...)}
}

// State is the fully-resolved result of a detect pass: immutable for the
// life of the engine except for the liveness check.
type State struct {
	Version Version

	MemoryPath   string
	CpuacctPath  string
	CpuacctAlias string // "cpu,cpuacct" or "cpuacct,cpu"; empty under v2
	CpusetPath   string

	DisplayName     string
	ProcessListPath string
}

// Alive reports whether all three controller directories this State
// resolved still exist, per the "until-cgroup-alive" termination mode.
func (s *State) Alive() bool {
	for _, p := range []string{s.MemoryPath, s.CpuacctPath, s.CpusetPath} {
		if p == "" {
			return false
		}
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
