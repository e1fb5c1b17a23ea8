//go:build linux

package textparse

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformed indicates a /proc/<pid>/stat (or similar fixed-layout) line
// did not have the expected structure.
var ErrMalformed = errors.New("textparse: malformed stat line")

// ProcStat is the subset of /proc/<pid>/stat's 42 whitespace-separated
// fields spec.md §4.8 names. comm is the executable name cmonitor's
// original parser (and the teacher's ReadProcStat) locate by finding the
// *last* ") " in the line, since comm itself may contain "(" ")" or spaces.
type ProcStat struct {
	PID                  int
	Comm                 string
	State                byte
	PPID                 int
	PGRP                 int
	Session              int
	TTYNr                int
	Flags                uint64
	MinFlt               uint64
	MajFlt               uint64
	CMinFlt              uint64
	CMajFlt              uint64
	UTime                uint64
	STime                uint64
	CUTime               int64
	CSTime               int64
	Priority             int64
	Nice                 int64
	NumThreads           int64
	StartTime            uint64
	VSize                uint64
	RSS                  int64
	RSSLimit             uint64
	Signal               uint64
	Blocked              uint64
	SigIgnore            uint64
	SigCatch             uint64
	LastCPU              int
	Policy               uint64
	DelayacctBlkioTicks  uint64
}

// ParseProcStat parses the full /proc/<pid>/stat line. It finds the
// separator by locating the last occurrence of ") " in the buffer, exactly
// as spec.md §8 requires for comm values containing ") " themselves.
func ParseProcStat(line string) (ProcStat, error) {
	openParen := strings.IndexByte(line, '(')
	closeParen := strings.LastIndex(line, ") ")
	if openParen < 0 || closeParen < 0 || closeParen <= openParen {
		return ProcStat{}, ErrMalformed
	}

	var ps ProcStat
	pidStr := strings.TrimSpace(line[:openParen])
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return ProcStat{}, ErrMalformed
	}
	ps.PID = pid
	ps.Comm = line[openParen+1 : closeParen]

	rest := strings.Fields(line[closeParen+2:])
	// rest[0] is state, rest[1] is ppid, ... 40 fields remain after comm.
	if len(rest) < 20 {
		return ProcStat{}, ErrMalformed
	}

	get := func(i int) string {
		if i < len(rest) {
			return rest[i]
		}
		return "0"
	}
	u64 := func(i int) uint64 { v, _ := strconv.ParseUint(get(i), 10, 64); return v }
	i64 := func(i int) int64 { v, _ := strconv.ParseInt(get(i), 10, 64); return v }
	atoi := func(i int) int { v, _ := strconv.Atoi(get(i)); return v }

	ps.State = get(0)[0]
	ps.PPID = atoi(1)
	ps.PGRP = atoi(2)
	ps.Session = atoi(3)
	ps.TTYNr = atoi(4)
	ps.Flags = u64(6)
	ps.MinFlt = u64(7)
	ps.CMinFlt = u64(8)
	ps.MajFlt = u64(9)
	ps.CMajFlt = u64(10)
	ps.UTime = u64(11)
	ps.STime = u64(12)
	ps.CUTime = i64(13)
	ps.CSTime = i64(14)
	ps.Priority = i64(15)
	ps.Nice = i64(16)
	ps.NumThreads = i64(17)
	ps.StartTime = u64(19)
	ps.VSize = u64(20)
	ps.RSS = i64(21)
	ps.RSSLimit = u64(22)
	ps.Signal = u64(28)
	ps.Blocked = u64(29)
	ps.SigIgnore = u64(30)
	ps.SigCatch = u64(31)
	ps.Policy = u64(38)
	ps.DelayacctBlkioTicks = u64(39)
	ps.LastCPU = atoi(36)
	return ps, nil
}

// Statm is the 7-field /proc/<pid>/statm layout (pages).
type Statm struct {
	Size, Resident, Share, Text, Lib, Data, Dt uint64
}

// ParseStatm parses a statm line.
func ParseStatm(line string) (Statm, error) {
	f := strings.Fields(line)
	if len(f) < 7 {
		return Statm{}, ErrMalformed
	}
	var s Statm
	vals := [7]*uint64{&s.Size, &s.Resident, &s.Share, &s.Text, &s.Lib, &s.Data, &s.Dt}
	for i, ptr := range vals {
		v, err := strconv.ParseUint(f[i], 10, 64)
		if err != nil {
			return Statm{}, ErrMalformed
		}
		*ptr = v
	}
	return s, nil
}

// Tgid extracts the "Tgid:" field from a /proc/<pid>/status file's lines.
func Tgid(lines []string) (int, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, "Tgid:") {
			v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Tgid:")))
			return v, err == nil
		}
	}
	return 0, false
}

// ProcIO is the subset of /proc/<pid>/io spec.md §4.8 names.
type ProcIO struct {
	RChar, WChar, ReadBytes, WriteBytes uint64
}

// ParseProcIO parses /proc/<pid>/io's lines.
func ParseProcIO(lines []string) ProcIO {
	var io ProcIO
	for _, line := range lines {
		key, v, _, ok := Flat(line)
		if !ok {
			continue
		}
		switch key {
		case "rchar":
			io.RChar = v
		case "wchar":
			io.WChar = v
		case "read_bytes":
			io.ReadBytes = v
		case "write_bytes":
			io.WriteBytes = v
		}
	}
	return io
}
