//go:build linux

package sampler

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScore(t *testing.T) {
	prev := TaskStat{UTime: 100, STime: 50}
	cur := TaskStat{UTime: 150, STime: 70}
	score := DefaultScore(cur, prev, 1.0, 100)
	assert.Equal(t, uint64((150-100)+(70-50))*100, score)
}

func TestDefaultScore_RegressionClampsZero(t *testing.T) {
	prev := TaskStat{UTime: 150, STime: 70}
	cur := TaskStat{UTime: 100, STime: 50}
	score := DefaultScore(cur, prev, 1.0, 100)
	assert.Equal(t, uint64(0), score)
}

func TestCgroupProcessSampler_PIDs(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup.procs")
	require.NoError(t, os.WriteFile(p, []byte("10\n20\n\n30\n"), 0o644))

	st := &cgroup.State{Version: cgroup.V2, ProcessListPath: p}
	s := NewCgroupProcessSampler(st, true, false, 0, 100)

	pids, err := s.PIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{10, 20, 30}, pids)
}

func TestCgroupProcessSampler_Sample_BootstrapThenDelta(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup.procs")
	pid := os.Getpid()
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(pid)+"\n"), 0o644))

	st := &cgroup.State{Version: cgroup.V2, ProcessListPath: p}
	s := NewCgroupProcessSampler(st, true, false, 0, 100)

	reports, err := s.Sample(1.0)
	require.NoError(t, err)
	assert.Empty(t, reports, "first sample has no previous snapshot to diff against")

	reports, err = s.Sample(1.0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, pid, reports[0].PID)
	assert.GreaterOrEqual(t, reports[0].CPUUserPct, 0.0)
}

func TestCgroupProcessSampler_ScoreThresholdFilters(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup.procs")
	pid := os.Getpid()
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(pid)+"\n"), 0o644))

	st := &cgroup.State{Version: cgroup.V2, ProcessListPath: p}
	s := NewCgroupProcessSampler(st, true, false, ^uint64(0), 100) // impossibly high threshold
	s.Sample(1.0)
	reports, err := s.Sample(1.0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestSortReportsAscendingByScore(t *testing.T) {
	reports := []TaskReport{
		{TaskStat: TaskStat{PID: 2}, Score: 50},
		{TaskStat: TaskStat{PID: 1}, Score: 10},
		{TaskStat: TaskStat{PID: 3}, Score: 30},
	}

	sortReportsAscendingByScore(reports)

	// spec.md §8: topper enumerates tasks in non-decreasing score order,
	// minimal score first, matching the original's lower_bound-to-end()
	// walk over an ascending std::map keyed by score.
	require.Len(t, reports, 3)
	assert.Equal(t, 1, reports[0].PID)
	assert.Equal(t, 3, reports[1].PID)
	assert.Equal(t, 2, reports[2].PID)
}

func TestCgroupProcessSampler_DetailAllGatesStatm(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup.procs")
	pid := os.Getpid()
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(pid)+"\n"), 0o644))

	st := &cgroup.State{Version: cgroup.V2, ProcessListPath: p}

	chartOnly := NewCgroupProcessSampler(st, true, false, 0, 100)
	chartOnly.Sample(1.0)
	reports, err := chartOnly.Sample(1.0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].StatmResident, "chart-only must not populate statm fields")

	all := NewCgroupProcessSampler(st, true, true, 0, 100)
	all.Sample(1.0)
	reports, err = all.Sample(1.0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.NotZero(t, reports[0].StatmResident, "deep-collect=all must populate statm fields")
}

func TestCgroupProcessSampler_VanishedPidIsSkippedNotError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup.procs")
	// a pid so large it cannot plausibly exist
	require.NoError(t, os.WriteFile(p, []byte("2000000000\n"), 0o644))

	st := &cgroup.State{Version: cgroup.V2, ProcessListPath: p}
	s := NewCgroupProcessSampler(st, true, false, 0, 100)

	reports, err := s.Sample(1.0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}
