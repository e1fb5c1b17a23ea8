//go:build linux

package textparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const netDevSample = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  123456     100    0    0    0     0          0         0    123456     100    0    0    0     0       0          0
  eth0: 9999999    5000    1    2    0     0          0         3   8888888    4000    0    0    0     0       0          1
`

func TestParseNetDevLine(t *testing.T) {
	nd, ok := ParseNetDevLine("  eth0: 9999999    5000    1    2    0     0          0         3   8888888    4000    0    0    0     0       0          1")
	require.True(t, ok)
	assert.Equal(t, "eth0", nd.Iface)
	assert.Equal(t, uint64(9999999), nd.RxBytes)
	assert.Equal(t, uint64(5000), nd.RxPackets)
	assert.Equal(t, uint64(1), nd.RxErrs)
	assert.Equal(t, uint64(8888888), nd.TxBytes)
	assert.Equal(t, uint64(1), nd.TxCompressed)
}

func TestParseNetDevLine_Malformed(t *testing.T) {
	_, ok := ParseNetDevLine("no colon here")
	assert.False(t, ok)

	_, ok = ParseNetDevLine("eth0: too few fields")
	assert.False(t, ok)
}

func TestParseNetDev_SkipsHeaders(t *testing.T) {
	lines := splitLines(netDevSample)
	out := ParseNetDev(lines)
	require.Len(t, out, 2)
	assert.Equal(t, "lo", out[0].Iface)
	assert.Equal(t, "eth0", out[1].Iface)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
