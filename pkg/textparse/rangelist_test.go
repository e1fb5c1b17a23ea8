//go:build linux

package textparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRangeList(t *testing.T) {
	cs, err := ParseRangeList("0-3,7,10-11")
	require.NoError(t, err)
	assert.Equal(t, 7, cs.Len())
	assert.True(t, cs.Contains(0))
	assert.True(t, cs.Contains(3))
	assert.True(t, cs.Contains(7))
	assert.False(t, cs.Contains(8))
	assert.Equal(t, "0-3,7,10-11", cs.String())
}

func TestParseRangeList_Invalid(t *testing.T) {
	_, err := ParseRangeList("3-0")
	assert.Error(t, err)
}
