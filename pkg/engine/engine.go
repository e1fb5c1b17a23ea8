//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/energy"
	"github.com/ja7ad/cgroupmon/pkg/output"
	"github.com/ja7ad/cgroupmon/pkg/sampler"
	"go.uber.org/zap"
)

// pageSizeBytes converts statm's page counts to bytes for the detail=all
// mem_*_kb fields, matching the original collector's PAGESIZE_BYTES use.
var pageSizeBytes = uint64(os.Getpagesize())

// Narrow interfaces over the concrete pkg/sampler types the engine drives,
// so tests can supply fakes without touching real /proc or cgroup files.
type (
	cpuSampler interface {
		SampleCPU(elapsedSec float64) (sampler.CPUStat, error)
	}
	diskSampler interface {
		Sample(ctx context.Context, elapsedSec float64) ([]sampler.DiskStat, error)
	}
	netSampler interface {
		Sample(path string) ([]sampler.NetStat, error)
	}
	cgroupCPUSampler interface {
		Sample(elapsedSec float64) (sampler.CPUTotal, map[int]sampler.CPUTotal, sampler.Throttling, error)
	}
	cgroupMemSampler interface {
		Sample() (sampler.MemorySample, error)
	}
	cgroupNetSampler interface {
		Sample(pids []int) ([]sampler.NetStat, error)
	}
	cgroupProcSampler interface {
		PIDs() ([]int, error)
		Sample(elapsedSec float64) ([]sampler.TaskReport, error)
	}
)

// Samplers bundles every sub-sampler the engine may call each tick. A nil
// field means that family is unavailable (e.g. cgroup-* fields are nil when
// cgroup detection failed and the engine fell back to baremetal-only).
type Samplers struct {
	CPU       cpuSampler
	Disk      diskSampler
	Net       netSampler
	MemInfo   func() (map[string]uint64, error)
	LoadAvg   func() (load1, load5, load15 float64, err error)
	NetPath   string // path Net.Sample reads, normally "/proc/net/dev"

	CgroupCPU  cgroupCPUSampler
	CgroupMem  cgroupMemSampler
	CgroupNet  cgroupNetSampler
	CgroupProc cgroupProcSampler
}

// Dependencies are the collaborators spec.md scopes outside the core
// (sinks, logger, header metadata) that the engine is wired to at startup.
type Dependencies struct {
	State  *cgroup.State
	Limits cgroup.Limits

	HeaderProvider HeaderProvider

	JSON     *output.JSONWriter
	LineSink output.Sink
	LineTags string
	Prom     *output.PrometheusSink

	Logger *zap.Logger

	Samplers Samplers
}

// Engine runs the startup/steady-state/shutdown state machine described in
// spec.md §4.9, generalized from the teacher's cmd/consumption/main.go
// run() loop.
type Engine struct {
	cfg  Config
	deps Dependencies

	energyAcc *energy.Accumulator

	sampleIndex int
	errCount    uint64

	now       func() time.Time
	newTicker func(time.Duration) *time.Ticker

	// ImmediateFlush, when non-nil, models SIGUSR1/2: a receive on this
	// channel ends the loop right after the in-flight sample has been
	// flushed, without waiting for the next tick.
	ImmediateFlush <-chan struct{}
}

// New builds an Engine. now/newTicker default to time.Now/time.NewTicker;
// tests override them to avoid depending on wall-clock time.
func New(cfg Config, deps Dependencies) *Engine {
	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		newTicker: time.NewTicker,
	}
	if cfg.EstimatePower {
		e.energyAcc = energy.New(energy.DefaultConfig())
	}
	return e
}

// ErrCount returns the number of sampler errors observed so far, surfaced
// in the shutdown log per spec.md §7's propagation rule.
func (e *Engine) ErrCount() uint64 { return e.errCount }

// Run executes the full engine lifecycle until ctx is cancelled, a
// termination condition is reached, or a fatal sink error occurs.
func (e *Engine) Run(ctx context.Context) error {
	header, err := buildHeader(e.cfg, e.deps.State, e.deps.Limits, e.deps.HeaderProvider)
	if err != nil {
		return fmt.Errorf("engine: building header: %w", err)
	}
	if err := e.deps.JSON.WriteHeader(header); err != nil {
		return fmt.Errorf("engine: writing header: %w", err)
	}

	select {
	case <-time.After(e.cfg.WarmupDuration()):
	case <-ctx.Done():
		return e.shutdown()
	}

	e.runTick(ctx, 0) // bootstrap: seeds every sampler's delta state, no emission

	interval := e.cfg.SamplingInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := e.newTicker(interval)
	defer ticker.Stop()

	prev := e.now()
	for {
		select {
		case <-ctx.Done():
			return e.shutdown()

		case <-e.ImmediateFlush:
			return e.shutdown()

		case now := <-ticker.C:
			elapsed := now.Sub(prev).Seconds()
			prev = now
			e.sampleIndex++

			if err := e.runTick(ctx, elapsed); err != nil {
				return err
			}

			if e.done() {
				return e.shutdown()
			}
		}
	}
}

func (e *Engine) done() bool {
	if e.cfg.UntilCgroupAlive {
		return e.deps.State != nil && !e.deps.State.Alive()
	}
	if e.cfg.NumSamples > 0 {
		return e.sampleIndex >= e.cfg.NumSamples
	}
	return false
}

// runTick samples every enabled family, builds the Sample tree, and flushes
// it to every configured sink. elapsedSec == 0 marks the bootstrap tick:
// samplers are still invoked (to seed their delta state) but the resulting
// Sample is discarded rather than flushed.
func (e *Engine) runTick(ctx context.Context, elapsedSec float64) error {
	b := output.NewBuilder()
	s := e.deps.Samplers
	cfg := e.cfg

	if cfg.Collect.Has(CollectCPU) && s.CPU != nil {
		e.sampleBaremetalCPU(b, s.CPU, elapsedSec)
	}
	if cfg.Collect.Has(CollectDisk) && s.Disk != nil {
		e.sampleDisk(b, ctx, s.Disk, elapsedSec)
	}
	if cfg.Collect.Has(CollectNetwork) && s.Net != nil {
		path := s.NetPath
		if path == "" {
			path = "/proc/net/dev"
		}
		e.sampleNet(b, "network", s.Net, path)
	}
	if cfg.Collect.Has(CollectMemory) {
		e.sampleMemInfo(b, s.MemInfo)
		e.sampleLoadAvg(b, s.LoadAvg)
	}

	var cgroupUserPct float64
	if cfg.Collect.Has(CollectCgroupCPU) && s.CgroupCPU != nil {
		cgroupUserPct = e.sampleCgroupCPU(b, s.CgroupCPU, elapsedSec)
	}
	if cfg.Collect.Has(CollectCgroupMemory) && s.CgroupMem != nil {
		e.sampleCgroupMemory(b, s.CgroupMem)
	}
	if cfg.Collect.Has(CollectCgroupNetwork) && s.CgroupNet != nil && s.CgroupProc != nil {
		e.sampleCgroupNet(b, s.CgroupNet, s.CgroupProc)
	}
	if cfg.Collect.Has(CollectCgroupProcesses) && s.CgroupProc != nil {
		e.sampleProcesses(b, s.CgroupProc, elapsedSec, cfg.Collect.Has(CollectCgroupBlkio), cfg.DeepCollectAll)
	}

	if elapsedSec == 0 {
		return nil // bootstrap: state seeded, nothing to flush
	}

	if e.energyAcc != nil {
		e.sampleEnergy(b, cgroupUserPct, elapsedSec)
	}

	now := e.now()
	sample := b.BuildSample(output.Timestamp{
		Datetime:    now.Format(time.RFC3339),
		UTC:         now.UTC().Format(time.RFC3339),
		SampleIndex: e.sampleIndex,
	})

	if err := e.deps.JSON.WriteSample(sample); err != nil {
		return fmt.Errorf("engine: writing sample: %w", err)
	}

	if e.deps.LineSink != nil {
		for _, line := range output.LineProtocolLines(sample.Sections, e.deps.LineTags, now.UnixNano()) {
			if err := e.deps.LineSink.Write(ctx, []byte(line+"\n")); err != nil {
				e.logError("line protocol sink write failed", err)
			}
		}
	}

	if e.deps.Prom != nil {
		e.deps.Prom.Update(sample.Sections)
	}

	return nil
}

func (e *Engine) sampleBaremetalCPU(b *output.Builder, cs cpuSampler, elapsedSec float64) {
	stat, err := cs.SampleCPU(elapsedSec)
	if err != nil {
		e.logError("baremetal cpu sample failed", err)
		return
	}
	if elapsedSec == 0 {
		return
	}
	b.SectionStart("cpu")
	ids := make([]int, 0, len(stat.PerCPU))
	for id := range stat.PerCPU {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p := stat.PerCPU[id]
		b.SubsectionStart(fmt.Sprintf("cpu%d", id))
		b.Double("user", p.User)
		b.Double("nice", p.Nice)
		b.Double("sys", p.Sys)
		b.Double("idle", p.Idle)
		b.Double("iowait", p.IOWait)
		b.Double("irq", p.IRQ)
		b.Double("softirq", p.SoftIRQ)
		b.Double("steal", p.Steal)
		b.SubsectionEnd()
	}
	b.SectionEnd()

	b.SectionStart("stat")
	b.ULong("ctx_switch", stat.CtxSwitchDelta)
	b.ULong("forks", stat.ForksDelta)
	b.ULong("procs_running", stat.ProcsRunning)
	b.ULong("procs_blocked", stat.ProcsBlocked)
	b.SectionEnd()
}

func (e *Engine) sampleDisk(b *output.Builder, ctx context.Context, ds diskSampler, elapsedSec float64) {
	stats, err := ds.Sample(ctx, elapsedSec)
	if err != nil {
		e.logError("disk sample failed", err)
		return
	}
	if elapsedSec == 0 || len(stats) == 0 {
		return
	}
	b.SectionStart("disk")
	for _, d := range stats {
		b.SubsectionStart(d.Device)
		b.Double("read_kb", d.ReadKB)
		b.Double("write_kb", d.WriteKB)
		b.Double("xfers_per_sec", d.XfersPerSec)
		b.Double("block_size_bytes", d.BlockSizeBytes)
		b.Double("time_percent", d.TimePercent)
		b.SubsectionEnd()
	}
	b.SectionEnd()
}

func (e *Engine) sampleNet(b *output.Builder, sectionName string, ns netSampler, path string) {
	stats, err := ns.Sample(path)
	if err != nil {
		e.logError("network sample failed", err)
		return
	}
	if len(stats) == 0 {
		return
	}
	b.SectionStart(sectionName)
	for _, n := range stats {
		b.SubsectionStart(n.Iface)
		b.ULong("rx_bytes", n.RxBytes)
		b.ULong("rx_packets", n.RxPackets)
		b.ULong("rx_errs", n.RxErrs)
		b.ULong("rx_drop", n.RxDrop)
		b.ULong("tx_bytes", n.TxBytes)
		b.ULong("tx_packets", n.TxPackets)
		b.ULong("tx_errs", n.TxErrs)
		b.ULong("tx_drop", n.TxDrop)
		b.SubsectionEnd()
	}
	b.SectionEnd()
}

func (e *Engine) sampleMemInfo(b *output.Builder, fn func() (map[string]uint64, error)) {
	if fn == nil {
		return
	}
	vals, err := fn()
	if err != nil {
		e.logError("meminfo sample failed", err)
		return
	}
	if len(vals) == 0 {
		return
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.SectionStart("memory")
	for _, k := range keys {
		b.ULong(k, vals[k])
	}
	b.SectionEnd()
}

func (e *Engine) sampleLoadAvg(b *output.Builder, fn func() (float64, float64, float64, error)) {
	if fn == nil {
		return
	}
	l1, l5, l15, err := fn()
	if err != nil {
		e.logError("loadavg sample failed", err)
		return
	}
	b.SectionStart("load")
	b.Double("load1", l1)
	b.Double("load5", l5)
	b.Double("load15", l15)
	b.SectionEnd()
}

// sampleCgroupCPU returns the cgroup's aggregate user-percent, used by the
// energy estimator, and 0 on the bootstrap tick or on error.
func (e *Engine) sampleCgroupCPU(b *output.Builder, cs cgroupCPUSampler, elapsedSec float64) float64 {
	total, perCPU, throttling, err := cs.Sample(elapsedSec)
	if err != nil {
		e.logError("cgroup cpu sample failed", err)
		return 0
	}
	if elapsedSec == 0 {
		return 0
	}

	b.SectionStart("cgroup_cpu")
	b.Double("user_percent", total.UserPercent)
	b.Double("sys_percent", total.SysPercent)
	b.ULong("nr_periods", throttling.NrPeriods)
	b.ULong("nr_throttled", throttling.NrThrottled)
	b.ULong("throttled_nanos", throttling.ThrottledNanos)
	b.SectionEnd()

	if len(perCPU) > 0 {
		b.SectionStart("cgroup_cpu_percpu")
		ids := make([]int, 0, len(perCPU))
		for id := range perCPU {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			p := perCPU[id]
			b.SubsectionStart(fmt.Sprintf("cpu%d", id))
			b.Double("user_percent", p.UserPercent)
			b.Double("sys_percent", p.SysPercent)
			b.SubsectionEnd()
		}
		b.SectionEnd()
	}

	return total.UserPercent
}

func (e *Engine) sampleCgroupMemory(b *output.Builder, ms cgroupMemSampler) {
	sample, err := ms.Sample()
	if err != nil {
		e.logError("cgroup memory sample failed", err)
		return
	}

	b.SectionStart("cgroup_memory")
	if sample.Current > 0 {
		b.ULong("current", sample.Current)
	}

	statKeys := sortedKeys(sample.Stat)
	for _, k := range statKeys {
		b.ULong("stat_"+k, sample.Stat[k])
	}
	eventKeys := sortedKeys(sample.Events)
	for _, k := range eventKeys {
		b.ULong("event_"+k, sample.Events[k])
	}
	b.SectionEnd()
}

func (e *Engine) sampleCgroupNet(b *output.Builder, ns cgroupNetSampler, ps cgroupProcSampler) {
	pids, err := ps.PIDs()
	if err != nil {
		e.logError("cgroup net: reading process list failed", err)
		return
	}
	stats, err := ns.Sample(pids)
	if err != nil {
		e.logError("cgroup network sample failed", err)
		return
	}
	if len(stats) == 0 {
		return
	}
	b.SectionStart("cgroup_network")
	for _, n := range stats {
		b.SubsectionStart(n.Iface)
		b.ULong("rx_bytes", n.RxBytes)
		b.ULong("tx_bytes", n.TxBytes)
		b.SubsectionEnd()
	}
	b.SectionEnd()
}

func (e *Engine) sampleProcesses(b *output.Builder, ps cgroupProcSampler, elapsedSec float64, includeBlkio, detailAll bool) {
	reports, err := ps.Sample(elapsedSec)
	if err != nil {
		e.logError("process sample failed", err)
		return
	}
	if len(reports) == 0 {
		return
	}

	b.SectionStart("cgroup_processes")
	for _, r := range reports {
		b.SubsectionStart(fmt.Sprintf("pid%d", r.PID))
		b.Long("pid", int64(r.PID))
		b.String("cmd", r.Cmd)
		b.ULong("score", r.Score)

		// identity: always emitted per spec.md §4.8 step 5.
		b.Long("ppid", int64(r.PPID))
		b.Long("tgid", int64(r.Tgid))
		b.Long("priority", r.Priority)
		b.Long("nice", r.Nice)
		b.String("state", string(r.State))
		b.Long("uid", int64(r.UID))
		if r.Username != "" {
			b.String("username", r.Username)
		}

		// cpu: always emitted.
		b.Long("cpu_last", int64(r.LastCPU))
		b.Double("cpu_usr_percent", r.CPUUserPct)
		b.Double("cpu_sys_percent", r.CPUSysPct)
		b.Double("cpu_usr_total_secs", r.CPUUserTotalSecs)
		b.Double("cpu_sys_total_secs", r.CPUSysTotalSecs)

		// memory: always emitted.
		b.Double("mem_minor_fault", r.MemMinorFaultPerSec)
		b.Double("mem_major_fault", r.MemMajorFaultPerSec)
		b.ULong("mem_virtual_bytes", r.VSizeBytes)
		b.ULong("mem_rss_bytes", r.RSSBytes)

		if detailAll {
			b.Long("tty_nr", int64(r.TTYNr))
			b.Long("threads", r.NumThreads)
			b.Long("pgrp", int64(r.PGRP))
			b.Long("session", int64(r.Session))
			clkTck := e.cfg.ClockTicksPerSec
			if clkTck == 0 {
				clkTck = 100
			}
			b.Double("start_time_secs", float64(r.StartTimeSecs)/float64(clkTck))

			b.ULong("mem_size_kb", r.StatmSize*pageSizeBytes/1024)
			b.ULong("mem_resident_kb", r.StatmResident*pageSizeBytes/1024)
			b.ULong("mem_restext_kb", r.StatmText*pageSizeBytes/1024)
			b.ULong("mem_resdata_kb", r.StatmData*pageSizeBytes/1024)
			b.ULong("mem_share_kb", r.StatmShare*pageSizeBytes/1024)
			b.ULong("mem_rss_limit_bytes", r.RSSLimitBytes)
		}

		if includeBlkio {
			b.Double("io_delayacct_blkio_secs", r.IODelayacctBlkioSecs)
			b.Double("io_rchar_per_sec", r.IORCharPerSec)
			b.Double("io_wchar_per_sec", r.IOWCharPerSec)
			b.Double("io_read_bytes_per_sec", r.IOReadBytesPerSec)
			b.Double("io_write_bytes_per_sec", r.IOWriteBytesPerSec)
			b.ULong("io_total_read", r.IOTotalRead)
			b.ULong("io_total_write", r.IOTotalWrite)
		}
		b.SubsectionEnd()
	}
	b.SectionEnd()
}

func (e *Engine) sampleEnergy(b *output.Builder, cgroupUserPct float64, elapsedSec float64) {
	res := e.energyAcc.Apply(energy.Snapshot{
		ElapsedSec:        elapsedSec,
		VMUtilization:     1.0,
		CgroupUtilization: cgroupUserPct / 100,
	})
	b.SectionStart("power")
	b.Double("cpu_watts", res.PCPU)
	b.Double("disk_watts", res.PDisk)
	b.Double("ram_watts", res.PRAM)
	b.Double("total_watts", res.PTotal)
	b.Double("cumulative_joules", e.energyAcc.EnergyCumJ())
	b.SectionEnd()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) logError(msg string, err error) {
	e.errCount++
	if e.deps.Logger != nil {
		e.deps.Logger.Error(msg, zap.Error(err))
	}
}

func (e *Engine) shutdown() error {
	if e.deps.Logger != nil {
		e.deps.Logger.Info("engine shutdown", zap.Int("samples", e.sampleIndex), zap.Uint64("errors", e.errCount))
	}
	if err := e.deps.JSON.Close(); err != nil {
		return fmt.Errorf("engine: closing JSON output: %w", err)
	}
	if e.deps.LineSink != nil {
		_ = e.deps.LineSink.Close()
	}
	return nil
}
