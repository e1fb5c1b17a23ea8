//go:build linux

package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/output"
	"github.com/ja7ad/cgroupmon/pkg/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCPU struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCPU) SampleCPU(elapsedSec float64) (sampler.CPUStat, error) {
	f.calls.Add(1)
	if f.err != nil {
		return sampler.CPUStat{}, f.err
	}
	return sampler.CPUStat{
		PerCPU:       map[int]sampler.CPUPercent{0: {User: 10, Sys: 2, Idle: 88}},
		ProcsRunning: 2,
	}, nil
}

type fakeDisk struct{ calls atomic.Int32 }

func (f *fakeDisk) Sample(ctx context.Context, elapsedSec float64) ([]sampler.DiskStat, error) {
	f.calls.Add(1)
	return []sampler.DiskStat{{Device: "sda", ReadKB: 12}}, nil
}

type fakeNet struct{ calls atomic.Int32 }

func (f *fakeNet) Sample(path string) ([]sampler.NetStat, error) {
	f.calls.Add(1)
	return []sampler.NetStat{{Iface: "eth0", RxBytes: 100}}, nil
}

type fakeCgroupCPU struct{ calls atomic.Int32 }

func (f *fakeCgroupCPU) Sample(elapsedSec float64) (sampler.CPUTotal, map[int]sampler.CPUTotal, sampler.Throttling, error) {
	f.calls.Add(1)
	return sampler.CPUTotal{UserPercent: 33, SysPercent: 5}, nil, sampler.Throttling{}, nil
}

type fakeCgroupMem struct{ calls atomic.Int32 }

func (f *fakeCgroupMem) Sample() (sampler.MemorySample, error) {
	f.calls.Add(1)
	return sampler.MemorySample{Current: 1024, Stat: map[string]uint64{"rss": 512}}, nil
}

type fakeCgroupNet struct{ calls atomic.Int32 }

func (f *fakeCgroupNet) Sample(pids []int) ([]sampler.NetStat, error) {
	f.calls.Add(1)
	return []sampler.NetStat{{Iface: "eth0", RxBytes: 5}}, nil
}

type fakeCgroupProc struct {
	calls atomic.Int32
}

func (f *fakeCgroupProc) PIDs() ([]int, error) { return []int{1, 2}, nil }

func (f *fakeCgroupProc) Sample(elapsedSec float64) ([]sampler.TaskReport, error) {
	f.calls.Add(1)
	return []sampler.TaskReport{{
		TaskStat: sampler.TaskStat{PID: 42, Cmd: "worker", RSSBytes: 2048},
		Score:    99,
	}}, nil
}

func testConfig() Config {
	return Config{
		SamplingInterval: 5 * time.Millisecond,
		NumSamples:       3,
		Collect:          CollectAll,
	}
}

func newTestEngine(cfg Config, samplers Samplers, buf *bytes.Buffer) *Engine {
	deps := Dependencies{
		JSON:     output.NewJSONWriter(buf, false),
		Samplers: samplers,
	}
	return New(cfg, deps)
}

func TestEngine_RunsExactlyNumSamples(t *testing.T) {
	cpu := &fakeCPU{}
	disk := &fakeDisk{}
	net := &fakeNet{}
	cgCPU := &fakeCgroupCPU{}
	cgMem := &fakeCgroupMem{}
	cgNet := &fakeCgroupNet{}
	cgProc := &fakeCgroupProc{}

	buf := &bytes.Buffer{}
	e := newTestEngine(testConfig(), Samplers{
		CPU: cpu, Disk: disk, Net: net,
		CgroupCPU: cgCPU, CgroupMem: cgMem, CgroupNet: cgNet, CgroupProc: cgProc,
	}, buf)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, e.Run(ctx))

	// one bootstrap call plus NumSamples steady-state calls
	assert.Equal(t, int32(4), cpu.calls.Load())
	assert.Equal(t, int32(4), disk.calls.Load())
	assert.Equal(t, int32(4), net.calls.Load())
	assert.Equal(t, int32(4), cgCPU.calls.Load())
	assert.Equal(t, int32(4), cgMem.calls.Load())
	assert.Equal(t, int32(4), cgNet.calls.Load())
	assert.Equal(t, int32(4), cgProc.calls.Load())
	assert.Equal(t, 3, e.sampleIndex)
	assert.Contains(t, buf.String(), `"samples"`)
}

func TestEngine_ContextCancelStopsBeforeWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.SamplingInterval = time.Hour // warmup would otherwise block for an hour
	cfg.NumSamples = 0

	buf := &bytes.Buffer{}
	e := newTestEngine(cfg, Samplers{CPU: &fakeCPU{}}, buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}

func TestEngine_ImmediateFlushStopsLoop(t *testing.T) {
	cfg := testConfig()
	cfg.NumSamples = 0 // would otherwise run forever; ImmediateFlush must end it

	buf := &bytes.Buffer{}
	e := newTestEngine(cfg, Samplers{CPU: &fakeCPU{}}, buf)

	flush := make(chan struct{})
	e.ImmediateFlush = flush

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	close(flush)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after ImmediateFlush signal")
	}
}

func TestEngine_SamplerErrorIncrementsErrCountButContinues(t *testing.T) {
	cpu := &fakeCPU{err: assertErr{"boom"}}
	cfg := testConfig()

	buf := &bytes.Buffer{}
	e := newTestEngine(cfg, Samplers{CPU: cpu}, buf)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, e.Run(ctx))
	assert.Greater(t, e.ErrCount(), uint64(0))
}

func TestEngine_UntilCgroupAliveStopsWhenCgroupDisappears(t *testing.T) {
	dir := t.TempDir()
	memPath := filepath.Join(dir, "memory.limit_in_bytes")
	cpuPath := filepath.Join(dir, "cpu.stat")
	cpusetPath := filepath.Join(dir, "cpuset.cpus")
	for _, p := range []string{memPath, cpuPath, cpusetPath} {
		require.NoError(t, os.WriteFile(p, []byte("0\n"), 0o644))
	}

	state := &cgroup.State{
		Version:     cgroup.V2,
		MemoryPath:  memPath,
		CpuacctPath: cpuPath,
		CpusetPath:  cpusetPath,
	}

	cfg := testConfig()
	cfg.NumSamples = 0
	cfg.UntilCgroupAlive = true

	buf := &bytes.Buffer{}
	e := newTestEngine(cfg, Samplers{CPU: &fakeCPU{}}, buf)
	e.deps.State = state

	// remove the watched paths shortly after startup so Alive() goes false
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.Remove(memPath)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, e.Run(ctx))
	assert.False(t, state.Alive())
}

func TestEngine_BootstrapTickEmitsNoSample(t *testing.T) {
	cfg := testConfig()
	cfg.NumSamples = 0

	buf := &bytes.Buffer{}
	e := newTestEngine(cfg, Samplers{}, buf)

	// runTick with elapsedSec == 0 (the bootstrap call) must never touch JSON.
	require.NoError(t, e.runTick(context.Background(), 0))
	assert.Empty(t, buf.String())
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
