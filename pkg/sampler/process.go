//go:build linux

package sampler

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/textparse"
)

// TaskStat is one pid (or, when include-threads is on, one tid)'s full
// snapshot for a tick, matching spec.md §4.8's per-task field list.
type TaskStat struct {
	PID, Tgid, PPID, PGRP, Session int
	Cmd                            string
	State                          byte
	UID                            int
	Username                       string
	Priority, Nice, NumThreads     int64
	TTYNr                          int
	StartTimeSecs                  uint64
	VSizeBytes                     uint64
	RSSBytes                       uint64
	RSSLimitBytes                  uint64
	MinFlt, MajFlt                 uint64
	UTime, STime                   uint64 // cumulative clock ticks
	LastCPU                        int

	StatmSize, StatmResident, StatmShare, StatmText, StatmLib, StatmData uint64

	RChar, WChar, ReadBytes, WriteBytes uint64 // cumulative
	DelayacctBlkioTicks                        uint64
}

// TaskReport is one pid's emitted per-tick rates/deltas, built from two
// consecutive TaskStat snapshots.
type TaskReport struct {
	TaskStat
	Score                         uint64
	CPUUserPct, CPUSysPct float64
	CPUUserTotalSecs, CPUSysTotalSecs      float64
	MemMinorFaultPerSec, MemMajorFaultPerSec float64
	IODelayacctBlkioSecs                   float64
	IORCharPerSec, IOWCharPerSec           float64
	IOReadBytesPerSec, IOWriteBytesPerSec  float64
	IOTotalRead, IOTotalWrite               uint64
}

// ScoreFunc ranks a task given its current and previous snapshot and the
// elapsed time between them. The default implementation scores purely on
// CPU time, matching the original collector's compute_proc_score.
type ScoreFunc func(cur, prev TaskStat, elapsedSec float64, ticksPerSec uint64) uint64

// DefaultScore scores cpu_ticks_delta * ticks_per_second, zero if either
// utime or stime went backwards (pid reuse, counter wrap).
func DefaultScore(cur, prev TaskStat, elapsedSec float64, ticksPerSec uint64) uint64 {
	if cur.UTime < prev.UTime || cur.STime < prev.STime {
		return 0
	}
	delta := (cur.UTime - prev.UTime) + (cur.STime - prev.STime)
	return delta * ticksPerSec
}

// CgroupProcessSampler implements the double-buffered process DB and
// score-ordered topper from spec.md §4.8.
type CgroupProcessSampler struct {
	state           *cgroup.State
	includeThreads  bool
	detailAll       bool
	scoreThreshold  uint64
	score           ScoreFunc
	clkTck          uint64

	current, previous map[int]TaskStat
	usernameCache     map[int]string
}

// NewCgroupProcessSampler builds a sampler bound to a resolved cgroup state.
func NewCgroupProcessSampler(state *cgroup.State, includeThreads, detailAll bool, scoreThreshold uint64, clkTck uint64) *CgroupProcessSampler {
	if clkTck == 0 {
		clkTck = 100
	}
	return &CgroupProcessSampler{
		state:          state,
		includeThreads: includeThreads,
		detailAll:      detailAll,
		scoreThreshold: scoreThreshold,
		score:          DefaultScore,
		clkTck:         clkTck,
		current:        make(map[int]TaskStat),
		previous:       make(map[int]TaskStat),
		usernameCache:  make(map[int]string),
	}
}

// SetScoreFunc overrides the default CPU-time-only scoring policy.
func (s *CgroupProcessSampler) SetScoreFunc(f ScoreFunc) { s.score = f }

// PIDs reads the cgroup's process-list file into a slice of pids/tids.
func (s *CgroupProcessSampler) PIDs() ([]int, error) {
	lines, err := readLines(s.state.ProcessListPath)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if v, err := strconv.Atoi(l); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// readTaskStat gathers one task's full snapshot from /proc/<pid>[/task/<tid>].
// statm is only read when detailAll is set, matching spec.md §4.8 step 2's
// "if detail=all, also read statm" rule.
func readTaskStat(pid int, includeThreads, detailAll bool) (TaskStat, bool) {
	procDir := fmt.Sprintf("/proc/%d", pid)
	statPath := procDir + "/stat"
	if includeThreads {
		statPath = fmt.Sprintf("/proc/%d/task/%d/stat", pid, pid)
	}

	fi, err := os.Stat(procDir)
	if err != nil {
		return TaskStat{}, false
	}

	b, err := os.ReadFile(statPath)
	if err != nil {
		return TaskStat{}, false
	}
	ps, err := textparse.ParseProcStat(strings.TrimRight(string(b), "\n"))
	if err != nil {
		return TaskStat{}, false
	}

	ts := TaskStat{
		PID:            ps.PID,
		PPID:           ps.PPID,
		PGRP:           ps.PGRP,
		Session:        ps.Session,
		Cmd:            ps.Comm,
		State:          ps.State,
		TTYNr:          ps.TTYNr,
		Priority:       ps.Priority,
		Nice:           ps.Nice,
		NumThreads:     ps.NumThreads,
		StartTimeSecs:  ps.StartTime,
		VSizeBytes:     ps.VSize,
		RSSBytes:       uint64(ps.RSS) * uint64(os.Getpagesize()),
		RSSLimitBytes:  ps.RSSLimit,
		MinFlt:         ps.MinFlt,
		MajFlt:         ps.MajFlt,
		UTime:          ps.UTime,
		STime:          ps.STime,
		LastCPU:        ps.LastCPU,
		DelayacctBlkioTicks: ps.DelayacctBlkioTicks,
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		ts.UID = int(st.Uid)
	}

	if statusLines, err := readLines(procDir + "/status"); err == nil {
		if tgid, ok := textparse.Tgid(statusLines); ok {
			ts.Tgid = tgid
		}
	}

	if detailAll {
		if statmB, err := os.ReadFile(procDir + "/statm"); err == nil {
			if sm, err := textparse.ParseStatm(strings.TrimSpace(string(statmB))); err == nil {
				ts.StatmSize = sm.Size
				ts.StatmResident = sm.Resident
				ts.StatmShare = sm.Share
				ts.StatmText = sm.Text
				ts.StatmLib = sm.Lib
				ts.StatmData = sm.Data
			}
		}
	}

	if ioLines, err := readLines(procDir + "/io"); err == nil {
		io := textparse.ParseProcIO(ioLines)
		ts.RChar, ts.WChar, ts.ReadBytes, ts.WriteBytes = io.RChar, io.WChar, io.ReadBytes, io.WriteBytes
	}

	return ts, true
}

func (s *CgroupProcessSampler) resolveUsername(uid int) string {
	if name, ok := s.usernameCache[uid]; ok {
		return name
	}
	name := ""
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		name = u.Username
	}
	s.usernameCache[uid] = name
	return name
}

// Sample clears the current half of the double buffer, reads every task in
// the process list, swaps buffers, and returns score-ordered reports for
// tasks whose score clears scoreThreshold. Tasks missing from the previous
// buffer (no delta available) are skipped per spec.md's edge-case rule.
func (s *CgroupProcessSampler) Sample(elapsedSec float64) ([]TaskReport, error) {
	pids, err := s.PIDs()
	if err != nil {
		return nil, err
	}

	next := make(map[int]TaskStat, len(pids))
	for _, pid := range pids {
		ts, ok := readTaskStat(pid, s.includeThreads, s.detailAll)
		if !ok {
			continue // pid vanished between enumeration and read
		}
		if !s.includeThreads && s.state.Version == cgroup.V1 && ts.Tgid != 0 && ts.Tgid != ts.PID {
			continue // secondary thread on v1 without include-threads
		}
		ts.Username = s.resolveUsername(ts.UID)
		next[ts.PID] = ts
	}

	s.previous = s.current
	s.current = next

	var reports []TaskReport
	for pid, cur := range s.current {
		prev, had := s.previous[pid]
		if !had {
			continue
		}
		score := s.score(cur, prev, elapsedSec, s.clkTck)
		if score < s.scoreThreshold {
			continue
		}
		reports = append(reports, buildReport(cur, prev, elapsedSec, s.clkTck, score))
	}

	sortReportsAscendingByScore(reports)
	return reports, nil
}

// sortReportsAscendingByScore orders the topper in non-decreasing score,
// mirroring the original's m_topper_procs.lower_bound(threshold) walk to
// end() over an ascending std::map keyed by score (spec.md §8).
func sortReportsAscendingByScore(reports []TaskReport) {
	sort.Slice(reports, func(i, j int) bool { return reports[i].Score < reports[j].Score })
}

func buildReport(cur, prev TaskStat, elapsedSec float64, clkTck uint64, score uint64) TaskReport {
	uDelta := deltaU64(cur.UTime, prev.UTime)
	sDelta := deltaU64(cur.STime, prev.STime)
	minFltDelta := deltaU64(cur.MinFlt, prev.MinFlt)
	majFltDelta := deltaU64(cur.MajFlt, prev.MajFlt)
	rCharDelta := deltaU64(cur.RChar, prev.RChar)
	wCharDelta := deltaU64(cur.WChar, prev.WChar)
	rBytesDelta := deltaU64(cur.ReadBytes, prev.ReadBytes)
	wBytesDelta := deltaU64(cur.WriteBytes, prev.WriteBytes)
	blkioDelta := deltaU64(cur.DelayacctBlkioTicks, prev.DelayacctBlkioTicks)

	return TaskReport{
		TaskStat:            cur,
		Score:                score,
		CPUUserPct:           clampPercent(100 * safeDiv(float64(uDelta), elapsedSec*float64(clkTck))),
		CPUSysPct:            clampPercent(100 * safeDiv(float64(sDelta), elapsedSec*float64(clkTck))),
		CPUUserTotalSecs:     float64(cur.UTime) / float64(clkTck),
		CPUSysTotalSecs:      float64(cur.STime) / float64(clkTck),
		MemMinorFaultPerSec:  safeDiv(float64(minFltDelta), elapsedSec),
		MemMajorFaultPerSec:  safeDiv(float64(majFltDelta), elapsedSec),
		IODelayacctBlkioSecs: float64(blkioDelta) / float64(clkTck),
		IORCharPerSec:        safeDiv(float64(rCharDelta), elapsedSec),
		IOWCharPerSec:        safeDiv(float64(wCharDelta), elapsedSec),
		IOReadBytesPerSec:    safeDiv(float64(rBytesDelta), elapsedSec),
		IOWriteBytesPerSec:   safeDiv(float64(wBytesDelta), elapsedSec),
		IOTotalRead:          cur.ReadBytes,
		IOTotalWrite:         cur.WriteBytes,
	}
}
