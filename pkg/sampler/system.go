//go:build linux

package sampler

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ja7ad/cgroupmon/pkg/textparse"
	"github.com/ja7ad/cgroupmon/pkg/types"
)

// Mask bits name SystemCollector sub-samplers. NewSystemCollector stores
// the mask, but no Sample* method consults it; each method runs when called.
type Mask uint8

const (
	MaskCPU Mask = 1 << iota
	MaskDisk
	MaskNet
	MaskMem
)

// BlockDeviceLister enumerates eligible block devices. The default
// implementation shells out to lsblk, exactly as the teacher's queryGPU
// shells out to nvidia-smi; tests inject a fixed list instead.
type BlockDeviceLister interface {
	ListBlockDevices(ctx context.Context) ([]string, error)
}

// lsblkLister is the production BlockDeviceLister.
type lsblkLister struct{}

func (lsblkLister) ListBlockDevices(ctx context.Context) ([]string, error) {
	out, err := runCmd(ctx, 400*time.Millisecond, "lsblk", "--nodeps", "--output", "NAME,TYPE", "--raw")
	if err != nil {
		return nil, err
	}
	var devices []string
	sc := bufio.NewScanner(strings.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue // header line: "NAME TYPE"
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 1 {
			continue
		}
		devices = append(devices, fields[0])
	}
	return devices, nil
}

func runCmd(parent context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ctx.Err()
	}
	return string(out), err
}

// CPUStat is one tick's worth of system-wide CPU delta metrics.
type CPUStat struct {
	PerCPU          map[int]CPUPercent
	CtxSwitchDelta  uint64
	Btime           uint64
	ForksDelta      uint64
	ProcsRunning    uint64
	ProcsBlocked    uint64
}

// CPUPercent is a single logical CPU's utilization breakdown for one tick.
type CPUPercent struct {
	User, Nice, Sys, Idle, IOWait, IRQ, SoftIRQ, Steal, Guest, GuestNice float64
}

type cpuTicks struct {
	user, nice, sys, idle, iowait, irq, softirq, steal, guest, guestnice uint64
}

// SystemCollector reads the system-wide /proc files spec.md's sub-samplers
// describe. Which sub-samplers run is decided by the caller; the stored
// mask does not gate them.
type SystemCollector struct {
	mask    Mask
	lister  BlockDeviceLister
	allowed types.CPUSet

	prevCPU     map[int]cpuTicks
	ctxPrev     DeltaState[uint64]
	forksPrev   DeltaState[uint64]

	devicesInit bool
	devices     []string

	ifaceInit bool
	ifaces    map[string]bool
}

// NewSystemCollector builds a collector limited to allowed CPUs (the
// cgroup's cpuset, or the whole machine in baremetal mode).
func NewSystemCollector(mask Mask, allowed types.CPUSet, lister BlockDeviceLister) *SystemCollector {
	if lister == nil {
		lister = lsblkLister{}
	}
	return &SystemCollector{
		mask:    mask,
		lister:  lister,
		allowed: allowed,
		prevCPU: make(map[int]cpuTicks),
		ifaces:  make(map[string]bool),
	}
}

// SampleCPU parses /proc/stat, skipping the aggregate "cpu " line, and
// returns per-allowed-CPU percentages plus the scalar counters. The first
// sample for each CPU only seeds prevCPU and is omitted from PerCPU.
func (c *SystemCollector) SampleCPU(elapsedSec float64) (CPUStat, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return CPUStat{}, err
	}
	defer f.Close()

	stat := CPUStat{PerCPU: make(map[int]CPUPercent)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "cpu":
			continue // aggregate line skipped per spec
		case strings.HasPrefix(fields[0], "cpu"):
			id, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu"))
			if err != nil || (c.allowed.Len() > 0 && !c.allowed.Contains(id)) {
				continue
			}
			cur := parseCPUTicks(fields[1:])
			prev, had := c.prevCPU[id]
			c.prevCPU[id] = cur
			if had {
				stat.PerCPU[id] = ticksToPercent(cur, prev, elapsedSec)
			}
		case fields[0] == "ctxt":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			delta, ready := c.ctxPrev.Update(v)
			if ready {
				stat.CtxSwitchDelta = delta
			}
		case fields[0] == "btime":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			stat.Btime = v
		case fields[0] == "processes":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			delta, ready := c.forksPrev.Update(v)
			if ready {
				stat.ForksDelta = delta
			}
		case fields[0] == "procs_running":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			stat.ProcsRunning = v
		case fields[0] == "procs_blocked":
			v, _ := strconv.ParseUint(fields[1], 10, 64)
			stat.ProcsBlocked = v
		}
	}
	return stat, sc.Err()
}

func parseCPUTicks(f []string) cpuTicks {
	u := func(i int) uint64 {
		if i >= len(f) {
			return 0
		}
		v, _ := strconv.ParseUint(f[i], 10, 64)
		return v
	}
	return cpuTicks{
		user: u(0), nice: u(1), sys: u(2), idle: u(3), iowait: u(4),
		irq: u(5), softirq: u(6), steal: u(7), guest: u(8), guestnice: u(9),
	}
}

// ticksToPercent divides each field's tick delta by elapsed seconds. Since
// USER_HZ is 100 on Linux, ticks/sec is already a percentage.
func ticksToPercent(cur, prev cpuTicks, elapsedSec float64) CPUPercent {
	d := func(c, p uint64) float64 { return safeDiv(float64(deltaU64(c, p)), elapsedSec) }
	return CPUPercent{
		User:      clampPercent(d(cur.user, prev.user)),
		Nice:      clampPercent(d(cur.nice, prev.nice)),
		Sys:       clampPercent(d(cur.sys, prev.sys)),
		Idle:      clampPercent(d(cur.idle, prev.idle)),
		IOWait:    clampPercent(d(cur.iowait, prev.iowait)),
		IRQ:       clampPercent(d(cur.irq, prev.irq)),
		SoftIRQ:   clampPercent(d(cur.softirq, prev.softirq)),
		Steal:     clampPercent(d(cur.steal, prev.steal)),
		Guest:     clampPercent(d(cur.guest, prev.guest)),
		GuestNice: clampPercent(d(cur.guestnice, prev.guestnice)),
	}
}

func deltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	return 0
}

// MemInfo parses /proc/meminfo (or /proc/vmstat) into a key->bytes map. A
// "kB" suffix is converted by multiplying by 1000, exactly as the source
// collector does (not 1024 — preserved per spec.md's Open Questions).
func MemInfo(path string, whitelist map[string]bool) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, v, unit, ok := textparse.Flat(sc.Text())
		if !ok {
			continue
		}
		if len(whitelist) > 0 && !whitelist[key] {
			continue
		}
		if unit == "kB" {
			v *= 1000
		}
		out[key] = v
	}
	return out, sc.Err()
}

// LoadAvg parses /proc/loadavg's three floating-point averages.
func LoadAvg() (load1, load5, load15 float64, err error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return 0, 0, 0, nil
	}
	load1, _ = strconv.ParseFloat(fields[0], 64)
	load5, _ = strconv.ParseFloat(fields[1], 64)
	load15, _ = strconv.ParseFloat(fields[2], 64)
	return load1, load5, load15, nil
}

// DiskStat is one device's delta-derived disk metrics for one tick.
type DiskStat struct {
	Device                string
	ReadKB, WriteKB       float64
	XfersPerSec           float64
	BlockSizeBytes        float64
	TimePercent           float64
}

// diskPrev tracks the monotonic counters DiskCollector needs to diff.
type diskPrev struct {
	reads, writes, sectorsRead, sectorsWritten, msDoingIO uint64
}

// DiskCollector samples /proc/diskstats, enumerating eligible devices via
// BlockDeviceLister on the first call only (spec.md's "first-sample only"
// rule), then diffing the same device set every subsequent tick.
type DiskCollector struct {
	lister  BlockDeviceLister
	devices map[string]bool
	prev    map[string]diskPrev
	init    bool
}

// NewDiskCollector builds a DiskCollector. Pass a fixed lister in tests to
// avoid depending on a real lsblk binary.
func NewDiskCollector(lister BlockDeviceLister) *DiskCollector {
	if lister == nil {
		lister = lsblkLister{}
	}
	return &DiskCollector{lister: lister, devices: make(map[string]bool), prev: make(map[string]diskPrev)}
}

// Sample reads /proc/diskstats and returns per-device deltas for devices in
// the lsblk-enumerated allowlist, skipping any device name starting with
// "loop". On the very first call it populates the allowlist and returns no
// samples (bootstrap).
func (d *DiskCollector) Sample(ctx context.Context, elapsedSec float64) ([]DiskStat, error) {
	if !d.init {
		devs, err := d.lister.ListBlockDevices(ctx)
		if err == nil {
			for _, name := range devs {
				if !strings.HasPrefix(name, "loop") {
					d.devices[name] = true
				}
			}
		}
		d.init = true
	}
	return d.sampleFromPath("/proc/diskstats", elapsedSec)
}

// sampleFromPath is Sample's core, parameterized on the diskstats path so
// tests can supply a fixture instead of the real /proc/diskstats.
func (d *DiskCollector) sampleFromPath(path string, elapsedSec float64) ([]DiskStat, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	parsed := textparse.ParseDiskStats(lines)

	var out []DiskStat
	for _, line := range parsed {
		if strings.HasPrefix(line.Device, "loop") {
			continue
		}
		if len(d.devices) > 0 && !d.devices[line.Device] {
			continue
		}
		prev, had := d.prev[line.Device]
		cur := diskPrev{
			reads: line.ReadsCompleted, writes: line.WritesCompleted,
			sectorsRead: line.SectorsRead, sectorsWritten: line.SectorsWritten,
			msDoingIO: line.MsDoingIO,
		}
		d.prev[line.Device] = cur
		if !had {
			continue
		}

		reads := deltaU64(cur.reads, prev.reads)
		writes := deltaU64(cur.writes, prev.writes)
		rkb := float64(deltaU64(cur.sectorsRead, prev.sectorsRead)) / 2
		wkb := float64(deltaU64(cur.sectorsWritten, prev.sectorsWritten)) / 2
		xfers := reads + writes

		var bsize float64
		if xfers > 0 {
			bsize = ((rkb + wkb) / float64(xfers)) * 1024
		}

		out = append(out, DiskStat{
			Device:         line.Device,
			ReadKB:         rkb,
			WriteKB:        wkb,
			XfersPerSec:    safeDiv(float64(xfers), elapsedSec),
			BlockSizeBytes: bsize,
			TimePercent:    float64(deltaU64(cur.msDoingIO, prev.msDoingIO)) / 10,
		})
	}
	return out, nil
}

// NetStat is one interface's delta counters for one tick.
type NetStat struct {
	Iface                              string
	RxBytes, RxPackets, RxErrs, RxDrop uint64
	TxBytes, TxPackets, TxErrs, TxDrop uint64
}

type netPrev struct {
	rxBytes, rxPackets, rxErrs, rxDrop uint64
	txBytes, txPackets, txErrs, txDrop uint64
}

// NetCollector samples /proc/net/dev, discarding loopback and veth
// interfaces on first contact (the inventory spec.md's getifaddrs step
// would otherwise gather).
type NetCollector struct {
	ifaces map[string]netPrev
}

// NewNetCollector builds a NetCollector.
func NewNetCollector() *NetCollector {
	return &NetCollector{ifaces: make(map[string]netPrev)}
}

// Sample reads path (/proc/net/dev or /proc/<pid>/net/dev) and returns
// per-interface deltas.
func (n *NetCollector) Sample(path string) ([]NetStat, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	parsed := textparse.ParseNetDev(lines)

	var out []NetStat
	for _, nd := range parsed {
		if nd.Iface == "lo" || strings.HasPrefix(nd.Iface, "veth") {
			continue
		}
		prev, had := n.ifaces[nd.Iface]
		cur := netPrev{
			rxBytes: nd.RxBytes, rxPackets: nd.RxPackets, rxErrs: nd.RxErrs, rxDrop: nd.RxDrop,
			txBytes: nd.TxBytes, txPackets: nd.TxPackets, txErrs: nd.TxErrs, txDrop: nd.TxDrop,
		}
		n.ifaces[nd.Iface] = cur
		if !had {
			continue
		}
		out = append(out, NetStat{
			Iface:      nd.Iface,
			RxBytes:    deltaU64(cur.rxBytes, prev.rxBytes),
			RxPackets:  deltaU64(cur.rxPackets, prev.rxPackets),
			RxErrs:     deltaU64(cur.rxErrs, prev.rxErrs),
			RxDrop:     deltaU64(cur.rxDrop, prev.rxDrop),
			TxBytes:    deltaU64(cur.txBytes, prev.txBytes),
			TxPackets:  deltaU64(cur.txPackets, prev.txPackets),
			TxErrs:     deltaU64(cur.txErrs, prev.txErrs),
			TxDrop:     deltaU64(cur.txDrop, prev.txDrop),
		})
	}
	return out, nil
}
