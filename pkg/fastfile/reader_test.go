//go:build linux

package fastfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestReader_OpenOrRewind_Lines(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "flat", "a 1\nb 2\n")

	r := New(p, false)
	require.NoError(t, r.OpenOrRewind())

	line, ok := r.NextLine()
	require.True(t, ok)
	assert.Equal(t, "a 1", line)

	line, ok = r.NextLine()
	require.True(t, ok)
	assert.Equal(t, "b 2", line)

	_, ok = r.NextLine()
	assert.False(t, ok)

	// Rewind should replay from the top without re-opening the fd.
	require.NoError(t, r.OpenOrRewind())
	line, ok = r.NextLine()
	require.True(t, ok)
	assert.Equal(t, "a 1", line)

	require.NoError(t, r.Close())
}

func TestReader_Gone(t *testing.T) {
	r := New("/nonexistent/path/should/not/exist", false)
	err := r.OpenOrRewind()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGone)
}

func TestReader_ReopenEachTime(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "swap", "v1 1\n")

	r := New(p, true)
	require.NoError(t, r.OpenOrRewind())
	line, _ := r.NextLine()
	assert.Equal(t, "v1 1", line)

	// Swap the underlying file's content; reopen-mode must see the new data.
	require.NoError(t, os.WriteFile(p, []byte("v2 2\n"), 0o644))
	require.NoError(t, r.OpenOrRewind())
	line, ok := r.NextLine()
	require.True(t, ok)
	assert.Equal(t, "v2 2", line)
}

func TestReader_ReadNumericStats_Whitelist(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "stat", "cache 100\nrss 200\ntotal_cache 300\n")

	r := New(p, false)
	out := make(map[string]uint64)
	stats, err := r.ReadNumericStats(map[string]bool{"cache": true, "rss": true}, out)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, 1, stats.Discarded)
	assert.Equal(t, uint64(100), out["cache"])
	assert.Equal(t, uint64(200), out["rss"])
	_, ok := out["total_cache"]
	assert.False(t, ok)
}

func TestReader_ReadNumericStats_NoWhitelistKeepsAll(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "stat", "a 1\nb 2\n")

	r := New(p, false)
	out := make(map[string]uint64)
	stats, err := r.ReadNumericStats(nil, out)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Kept)
	assert.Equal(t, 0, stats.Discarded)
}

func TestReader_SetFile(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTemp(t, dir, "f1", "one 1\n")
	p2 := writeTemp(t, dir, "f2", "two 2\n")

	r := New(p1, false)
	require.NoError(t, r.OpenOrRewind())
	line, _ := r.NextLine()
	assert.Equal(t, "one 1", line)

	r.SetFile(p2)
	require.NoError(t, r.OpenOrRewind())
	line, _ = r.NextLine()
	assert.Equal(t, "two 2", line)
}
