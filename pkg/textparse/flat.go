//go:build linux

// Package textparse holds the flat key/value and fixed-layout parsers the
// samplers run over /proc and cgroup pseudo-files: memory.stat/cpu.stat
// style key-value files, /proc/<pid>/stat, /proc/net/dev, /proc/diskstats,
// and cpuset-style range lists.
package textparse

import (
	"strconv"
	"strings"
)

// Flat parses a "key value[ unit]" line into its key and numeric value.
// Trailing units like "kB" are returned separately so callers can apply
// their own conversion (meminfo's kB suffix is the canonical example).
func Flat(line string) (key string, value uint64, unit string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", 0, "", false
	}
	key = strings.TrimSuffix(fields[0], ":")
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	if len(fields) >= 3 {
		unit = fields[2]
	}
	return key, v, unit, true
}

// FlatSigned is Flat for files that may carry a signed value (cpu.cfs_quota_us
// is -1 when unlimited under v1).
func FlatSigned(line string) (key string, value int64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", 0, false
	}
	key = strings.TrimSuffix(fields[0], ":")
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key, v, true
}

// ParseFlatMap parses every "key value" line of lines into a map, applying
// an optional whitelist and a key-prefix strip (used to align cgroup v1's
// "total_cache" keys with v2's "cache").
func ParseFlatMap(lines []string, whitelist map[string]bool, stripPrefix string) map[string]uint64 {
	out := make(map[string]uint64, len(lines))
	for _, line := range lines {
		key, v, _, ok := Flat(line)
		if !ok {
			continue
		}
		if stripPrefix != "" {
			if !strings.HasPrefix(key, stripPrefix) {
				continue
			}
			key = strings.TrimPrefix(key, stripPrefix)
		}
		if len(whitelist) > 0 && !whitelist[key] {
			continue
		}
		out[key] = v
	}
	return out
}
