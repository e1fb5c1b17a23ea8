//go:build linux

package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanMounts(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "mounts")
	content := "cgroup /sys/fs/cgroup/memory cgroup rw,memory 0 0\n" +
		"cgroup2 /sys/fs/cgroup/unified cgroup2 rw 0 0\n" +
		"tmpfs /tmp tmpfs rw 0 0\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	mounts, err := scanMounts(p)
	require.NoError(t, err)
	require.Len(t, mounts, 3)
	assert.Equal(t, "cgroup", mounts[0].Fstype)
	assert.Equal(t, "/sys/fs/cgroup/memory", mounts[0].Mountpoint)
	assert.Equal(t, "cgroup2", mounts[1].Fstype)
}

func TestFindV1ControllerMount(t *testing.T) {
	mounts := []mountEntry{
		{Fstype: "cgroup", Mountpoint: "/sys/fs/cgroup/memory", Opts: "rw,memory"},
		{Fstype: "cgroup", Mountpoint: "/sys/fs/cgroup/cpu,cpuacct", Opts: "rw,cpu,cpuacct"},
	}
	mp, ok := findV1ControllerMount(mounts, "memory")
	require.True(t, ok)
	assert.Equal(t, "/sys/fs/cgroup/memory", mp)

	mp, ok = findV1ControllerMount(mounts, "cpu,cpuacct")
	require.True(t, ok)
	assert.Equal(t, "/sys/fs/cgroup/cpu,cpuacct", mp)

	_, ok = findV1ControllerMount(mounts, "cpuset")
	assert.False(t, ok)
}

func TestReadSelfCgroup(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cgroup")
	content := "11:memory:/docker/abc123\n" +
		"5:cpu,cpuacct:/docker/abc123\n" +
		"3:cpuset:/docker/abc123\n" +
		"1:name=systemd:/docker/abc123\n" +
		"0::/docker/abc123-unified\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	sg, err := readSelfCgroup(p)
	require.NoError(t, err)
	assert.Equal(t, "/docker/abc123", sg.ByController["memory"])
	assert.Equal(t, "/docker/abc123", sg.ByController["cpu"])
	assert.Equal(t, "/docker/abc123", sg.ByController["cpuacct"])
	assert.Equal(t, "/docker/abc123", sg.ByController["cpuset"])
	assert.Equal(t, "/docker/abc123", sg.SystemdName)
	assert.Equal(t, "/docker/abc123-unified", sg.V2Path)
}

func TestPidInTaskFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tasks")
	require.NoError(t, os.WriteFile(p, []byte("100\n200\n300\n"), 0o644))

	assert.True(t, pidInTaskFile(p, 200))
	assert.False(t, pidInTaskFile(p, 999))
	assert.False(t, pidInTaskFile(filepath.Join(dir, "nope"), 100))
}

func TestResolveNamedV1(t *testing.T) {
	memBase, cpuacctBase, cpusetBase := t.TempDir(), t.TempDir(), t.TempDir()
	name := "my-workload"
	memDir := filepath.Join(memBase, name)
	require.NoError(t, os.MkdirAll(memDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "tasks"), []byte("1\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cpuacctBase, name), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cpusetBase, name), 0o755))

	st, err := resolveNamedV1(memBase, cpuacctBase, cpusetBase, "cpu,cpuacct", name)
	require.NoError(t, err)
	assert.Equal(t, V1, st.Version)
	assert.Equal(t, name, st.DisplayName)
	assert.Equal(t, filepath.Join(memDir, "tasks"), st.ProcessListPath)
}

func TestResolveNamedV1_MissingMemoryDir(t *testing.T) {
	memBase, cpuacctBase, cpusetBase := t.TempDir(), t.TempDir(), t.TempDir()
	_, err := resolveNamedV1(memBase, cpuacctBase, cpusetBase, "cpu,cpuacct", "ghost")
	assert.Error(t, err)
	assert.IsType(t, &DisabledError{}, err)
}

func TestDetectV2_NamedCgroup(t *testing.T) {
	root := t.TempDir()
	name := "workload.slice"
	require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))

	st, err := detectV2(root, Options{Name: name})
	require.NoError(t, err)
	assert.Equal(t, V2, st.Version)
	assert.Equal(t, name, st.DisplayName)
	assert.Equal(t, filepath.Join(root, name, "cgroup.procs"), st.ProcessListPath)
}

func TestDetectV2_IncludeThreads(t *testing.T) {
	root := t.TempDir()
	name := "workload.slice"
	require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))

	st, err := detectV2(root, Options{Name: name, IncludeThreads: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, name, "cgroup.threads"), st.ProcessListPath)
}

func TestDetectV2_MissingMountpoint(t *testing.T) {
	_, err := detectV2("", Options{})
	assert.Error(t, err)
}

func TestState_Alive(t *testing.T) {
	mem, cpuacct, cpuset := t.TempDir(), t.TempDir(), t.TempDir()
	s := &State{MemoryPath: mem, CpuacctPath: cpuacct, CpusetPath: cpuset}
	assert.True(t, s.Alive())

	require.NoError(t, os.RemoveAll(mem))
	assert.False(t, s.Alive())
}

func TestSystemCPUCount(t *testing.T) {
	// Smoke test: on any Linux host /proc/stat carries at least one "cpuN" line.
	cs := systemCPUCount()
	assert.GreaterOrEqual(t, cs.Len(), 0)
	if cs.Len() > 0 {
		assert.True(t, cs.Contains(0))
	}
}

func TestDisabledError_Message(t *testing.T) {
	err := disabled("pid %d missing", 42)
	assert.Equal(t, "cgroup: detection disabled: pid "+strconv.Itoa(42)+" missing", err.Error())
}
