// Package energy estimates a cgroup's instantaneous power draw and
// cumulative energy from the CPU/disk/memory deltas pkg/sampler produces
// each tick. It is an opt-in subsection of the output tree (spec.md's
// "estimate-power" flag), adapted from the teacher's per-pid power model
// to operate on whole-cgroup interval deltas instead.
package energy

import "math"

// Config holds the model's coefficients, same fields/units as the teacher's
// pkg/consumption.Config:
//   - PIdle/PMax: Watts
//   - Gamma: dimensionless (CPU nonlinearity exponent)
//   - ER/EW: Joules per byte (disk read/write)
//   - EMemRef/EMemRSS: Joules per byte (RAM proxies: page refaults, RSS churn)
//   - Alpha: fraction of idle power charged to the cgroup's share [0..1]
type Config struct {
	PIdle   float64
	PMax    float64
	Gamma   float64
	ER      float64
	EW      float64
	EMemRef float64
	EMemRSS float64
	Alpha   float64
}

// DefaultConfig returns reasonable default coefficients, identical to the
// teacher's _defaultConfig values.
func DefaultConfig() *Config {
	return &Config{
		PIdle:   5.0,
		PMax:    20.0,
		Gamma:   1.3,
		ER:      4.8e-8,
		EW:      9.5e-8,
		EMemRef: 7e-10,
		EMemRSS: 3e-10,
		Alpha:   0.0,
	}
}

// Result is the instantaneous power breakdown for one tick.
type Result struct {
	PCPU   float64 // W
	PDisk  float64 // W
	PRAM   float64 // W
	PTotal float64 // W
}

// Snapshot is one tick's cgroup-level deltas, as produced by pkg/sampler's
// cgroup CPU/disk/memory samplers: VM/cgroup CPU utilization fractions
// instead of a single pid's, and byte deltas for disk I/O and memory
// refault/churn accounting.
type Snapshot struct {
	ElapsedSec        float64
	VMUtilization     float64 // system-wide CPU utilization, [0,1]
	CgroupUtilization float64 // this cgroup's CPU utilization, [0,1]
	ReadBytes         uint64
	WriteBytes        uint64
	RefaultBytes      uint64
	RSSChurnBytes     uint64
}

// Accumulator keeps running energy and power averages across ticks.
type Accumulator struct {
	cfg        *Config
	energyCumJ float64
	count      int
	sumPCPU    float64
	sumPDisk   float64
	sumPRAM    float64
	sumPTotal  float64
}

// New creates an accumulator bound to cfg; a nil cfg falls back to
// DefaultConfig.
func New(cfg *Config) *Accumulator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Accumulator{cfg: cfg}
}

// Apply runs the model on one tick's Snapshot, returns the instantaneous
// power split, and folds it into the running cumulative energy/averages.
// Energy accumulates as E_cum += P_total * elapsed.
func (a *Accumulator) Apply(snap Snapshot) Result {
	uvm := clamp01(snap.VMUtilization)
	ucg := clamp01(snap.CgroupUtilization)

	pdyn := (a.cfg.PMax - a.cfg.PIdle) * math.Pow(uvm, a.cfg.Gamma)

	var pcpu float64
	if uvm > 1e-12 {
		pcpu = (ucg / uvm) * pdyn
	}

	dt := math.Max(snap.ElapsedSec, 1e-6)
	edisk := a.cfg.ER*float64(snap.ReadBytes) + a.cfg.EW*float64(snap.WriteBytes)
	pdisk := edisk / dt

	eram := a.cfg.EMemRef*float64(snap.RefaultBytes) + a.cfg.EMemRSS*float64(snap.RSSChurnBytes)
	pram := eram / dt

	var pidleShare float64
	if uvm > 1e-12 && a.cfg.Alpha > 0 {
		pidleShare = a.cfg.Alpha * a.cfg.PIdle * (ucg / uvm)
	}

	ptot := pcpu + pdisk + pram + pidleShare

	a.energyCumJ += ptot * dt
	a.count++
	a.sumPCPU += pcpu
	a.sumPDisk += pdisk
	a.sumPRAM += pram
	a.sumPTotal += ptot

	return Result{PCPU: pcpu, PDisk: pdisk, PRAM: pram, PTotal: ptot}
}

// EnergyCumJ returns cumulative energy in Joules across all applied ticks.
func (a *Accumulator) EnergyCumJ() float64 { return a.energyCumJ }

// Averages returns average power over all applied ticks.
func (a *Accumulator) Averages() Result {
	if a.count == 0 {
		return Result{}
	}
	n := float64(a.count)
	return Result{
		PCPU:   a.sumPCPU / n,
		PDisk:  a.sumPDisk / n,
		PRAM:   a.sumPRAM / n,
		PTotal: a.sumPTotal / n,
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
