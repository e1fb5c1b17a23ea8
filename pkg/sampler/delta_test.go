//go:build linux

package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaState_BootstrapGating(t *testing.T) {
	var d DeltaState[uint64]
	assert.False(t, d.Seeded())

	delta, ready := d.Update(100)
	assert.False(t, ready)
	assert.Equal(t, uint64(0), delta)
	assert.True(t, d.Seeded())

	delta, ready = d.Update(150)
	assert.True(t, ready)
	assert.Equal(t, uint64(50), delta)
}

func TestDeltaState_WrapGuard(t *testing.T) {
	var d DeltaState[uint64]
	d.Update(1000)

	delta, ready := d.Update(10) // counter reset/wrapped
	assert.False(t, ready)
	assert.Equal(t, uint64(0), delta)
}

func TestDeltaState_Reset(t *testing.T) {
	var d DeltaState[int64]
	d.Update(5)
	assert.True(t, d.Seeded())

	d.Reset()
	assert.False(t, d.Seeded())

	_, ready := d.Update(5)
	assert.False(t, ready)
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 2.0, safeDiv(10, 5))
	assert.Equal(t, 0.0, safeDiv(10, 0))
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-5))
	assert.Equal(t, 100.0, clampPercent(150))
	assert.Equal(t, 42.0, clampPercent(42))
}
