//go:build linux

package textparse

import (
	"strconv"
	"strings"
)

// DiskStatsLine is one parsed row of /proc/diskstats. Partition rows (as
// opposed to whole-device rows) only carry 7 fields instead of 14; the
// remaining fields are left zero, matching what the original collector's
// system_disk.cpp does for the short form.
type DiskStatsLine struct {
	Major, Minor                         int
	Device                                string
	ReadsCompleted, ReadsMerged          uint64
	SectorsRead, MsReading               uint64
	WritesCompleted, WritesMerged        uint64
	SectorsWritten, MsWriting            uint64
	IOInProgress, MsDoingIO              uint64
	WeightedMsDoingIO                    uint64
	// Partition-only short form.
	Partition bool
}

// ParseDiskStatsLine parses a single /proc/diskstats line, handling both the
// 14-field whole-device form and the 7-field partition form documented by
// the kernel's Documentation/admin-guide/iostats.rst.
func ParseDiskStatsLine(line string) (DiskStatsLine, bool) {
	f := strings.Fields(line)
	if len(f) < 7 {
		return DiskStatsLine{}, false
	}
	major, err := strconv.Atoi(f[0])
	if err != nil {
		return DiskStatsLine{}, false
	}
	minor, err := strconv.Atoi(f[1])
	if err != nil {
		return DiskStatsLine{}, false
	}
	u := func(s string) uint64 { v, _ := strconv.ParseUint(s, 10, 64); return v }

	d := DiskStatsLine{Major: major, Minor: minor, Device: f[2]}
	switch {
	case len(f) >= 14:
		d.ReadsCompleted = u(f[3])
		d.ReadsMerged = u(f[4])
		d.SectorsRead = u(f[5])
		d.MsReading = u(f[6])
		d.WritesCompleted = u(f[7])
		d.WritesMerged = u(f[8])
		d.SectorsWritten = u(f[9])
		d.MsWriting = u(f[10])
		d.IOInProgress = u(f[11])
		d.MsDoingIO = u(f[12])
		d.WeightedMsDoingIO = u(f[13])
	case len(f) >= 7:
		// Partition short form: reads, sectors-read, writes, sectors-written;
		// no per-partition timing fields on this layout.
		d.Partition = true
		d.ReadsCompleted = u(f[3])
		d.SectorsRead = u(f[4])
		d.WritesCompleted = u(f[5])
		d.SectorsWritten = u(f[6])
	default:
		return DiskStatsLine{}, false
	}
	return d, true
}

// ParseDiskStats parses every line of /proc/diskstats content.
func ParseDiskStats(lines []string) []DiskStatsLine {
	out := make([]DiskStatsLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if d, ok := ParseDiskStatsLine(line); ok {
			out = append(out, d)
		}
	}
	return out
}
