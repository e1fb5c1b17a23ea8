//go:build linux

// Package sampler holds the per-tick collectors: system-wide /proc readers,
// cgroup CPU/memory/network accounting readers, and the per-process sampler.
// Every counter-backed sampler here follows the same bootstrap rule the
// teacher's v1Collector/v2Collector establish: the first sample seeds
// previous-value state and reports no rate; only the second and later
// samples compute a delta.
package sampler

// DeltaState tracks a monotonic counter of type T across samples and
// reports the delta since the previous call, gated so the very first
// observation never produces a rate (there is nothing to diff against yet).
// This generalizes the teacher's repeated "prevPrev uint64; ok bool" field
// pairs (vmActivePrev/emaOK in v1Collector, cpuPrev/rbytesPrev maps) into a
// single reusable type.
type DeltaState[T Numeric] struct {
	prev T
	ok   bool
}

// Numeric restricts DeltaState to the counter kinds /proc and cgroup files
// actually expose.
type Numeric interface {
	~uint64 | ~int64 | ~float64
}

// Update records cur as the new previous value and returns (delta, ready).
// ready is false on the first call for a given DeltaState (nothing to diff
// against) and whenever the counter appears to have wrapped or reset
// (cur < prev), matching the teacher's DeltaU64 wrap-guard.
func (d *DeltaState[T]) Update(cur T) (delta T, ready bool) {
	if !d.ok {
		d.prev = cur
		d.ok = true
		return 0, false
	}
	prev := d.prev
	d.prev = cur
	if cur < prev {
		return 0, false
	}
	return cur - prev, true
}

// Reset clears bootstrap state, forcing the next Update to reseed.
func (d *DeltaState[T]) Reset() {
	var zero T
	d.prev = zero
	d.ok = false
}

// Seeded reports whether Update has been called at least once.
func (d *DeltaState[T]) Seeded() bool { return d.ok }

// safeDiv mirrors the teacher's util.SafeDiv: division guarded against a
// near-zero denominator, returning 0 instead of Inf/NaN.
func safeDiv(n, d float64) float64 {
	const eps = 1e-12
	if d > eps || d < -eps {
		return n / d
	}
	return 0
}

// clampPercent mirrors the teacher's util.Clamp01, generalized to a
// 0-100 percent scale for rate metrics derived from tick deltas.
func clampPercent(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
