//go:build linux

package textparse

import (
	"strconv"
	"strings"
)

// NetDevLine is one parsed row of /proc/net/dev (or /proc/<pid>/net/dev):
// 16 columns beyond the interface name, 8 for receive and 8 for transmit.
type NetDevLine struct {
	Iface                                     string
	RxBytes, RxPackets, RxErrs, RxDrop         uint64
	RxFIFO, RxFrame, RxCompressed, RxMulticast uint64
	TxBytes, TxPackets, TxErrs, TxDrop         uint64
	TxFIFO, TxColls, TxCarrier, TxCompressed   uint64
}

// ParseNetDevLine parses one data line of /proc/net/dev. Header lines (the
// two lines preceding the data) are the caller's responsibility to skip.
func ParseNetDevLine(line string) (NetDevLine, bool) {
	iface, rest, ok := strings.Cut(line, ":")
	if !ok {
		return NetDevLine{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) < 16 {
		return NetDevLine{}, false
	}
	nums := make([]uint64, 16)
	for i := 0; i < 16; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return NetDevLine{}, false
		}
		nums[i] = v
	}
	return NetDevLine{
		Iface:        strings.TrimSpace(iface),
		RxBytes:      nums[0],
		RxPackets:    nums[1],
		RxErrs:       nums[2],
		RxDrop:       nums[3],
		RxFIFO:       nums[4],
		RxFrame:      nums[5],
		RxCompressed: nums[6],
		RxMulticast:  nums[7],
		TxBytes:      nums[8],
		TxPackets:    nums[9],
		TxErrs:       nums[10],
		TxDrop:       nums[11],
		TxFIFO:       nums[12],
		TxColls:      nums[13],
		TxCarrier:    nums[14],
		TxCompressed: nums[15],
	}, true
}

// ParseNetDev parses every data line of /proc/net/dev content, skipping the
// two header lines.
func ParseNetDev(lines []string) []NetDevLine {
	var out []NetDevLine
	for _, line := range lines {
		if !strings.Contains(line, ":") {
			continue
		}
		if nd, ok := ParseNetDevLine(line); ok {
			out = append(out, nd)
		}
	}
	return out
}
