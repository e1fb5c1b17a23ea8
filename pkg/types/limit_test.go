package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimit_Unlimited(t *testing.T) {
	t.Run("explicit_sentinel", func(t *testing.T) {
		l := NewLimit(Unlimited)
		_, ok := l.Value()
		assert.False(t, ok)
		assert.Equal(t, int64(-1), l.JSONSentinel())
	})
	t.Run("absurdly_large_v1_value", func(t *testing.T) {
		l := NewLimit(9223372036854771712) // a real-world "unlimited" memory.limit_in_bytes
		_, ok := l.Value()
		assert.False(t, ok)
	})
	t.Run("bounded", func(t *testing.T) {
		l := NewLimit(1024 * 1024 * 512)
		v, ok := l.Value()
		require.True(t, ok)
		assert.Equal(t, uint64(1024*1024*512), v)
		assert.Equal(t, int64(1024*1024*512), l.JSONSentinel())
	})
}

func TestParseCPUSet(t *testing.T) {
	t.Run("mixed_ranges_and_singles", func(t *testing.T) {
		s, err := ParseCPUSet("0-3,7,10-11")
		require.NoError(t, err)
		assert.Equal(t, 7, s.Len())
		for _, want := range []int{0, 1, 2, 3, 7, 10, 11} {
			assert.True(t, s.Contains(want), "expected %d in set", want)
		}
		assert.False(t, s.Contains(4))
		assert.False(t, s.Contains(8))
	})
	t.Run("single_value", func(t *testing.T) {
		s, err := ParseCPUSet("5")
		require.NoError(t, err)
		assert.Equal(t, []int{5}, s.Slice())
	})
	t.Run("empty", func(t *testing.T) {
		s, err := ParseCPUSet("")
		require.NoError(t, err)
		assert.Equal(t, 0, s.Len())
	})
	t.Run("inverted_range_rejected", func(t *testing.T) {
		_, err := ParseCPUSet("5-2")
		require.Error(t, err)
	})
	t.Run("garbage_rejected", func(t *testing.T) {
		_, err := ParseCPUSet("0-3,x,7")
		require.Error(t, err)
	})
	t.Run("round_trip_string", func(t *testing.T) {
		s, err := ParseCPUSet("0-3,7,10-11")
		require.NoError(t, err)
		assert.Equal(t, "0-3,7,10-11", s.String())
	})
}
