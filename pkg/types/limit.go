package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Unlimited is the sentinel a Limit holds when the underlying resource has
// no cap. cgroup v1 spells this as a very large byte count or -1 depending
// on the file; cgroup v2 spells it as the literal string "max". Both map
// here, and both render as the JSON -1 sentinel spec.md §8 requires.
const Unlimited uint64 = ^uint64(0)

// v1UnlimitedThreshold is the "absurdly large" cutoff cmonitor's cgroup
// config reader uses to recognize a v1 limit file that was never actually
// capped: 10^6 * 10^9.
const v1UnlimitedThreshold = uint64(1_000_000) * uint64(1_000_000_000)

// Limit is a resource cap that may be Unlimited.
type Limit uint64

// NewLimit builds a Limit, normalizing v1's "very large number" and "-1"
// conventions to Unlimited.
func NewLimit(raw uint64) Limit {
	if raw == Unlimited || raw >= v1UnlimitedThreshold {
		return Limit(Unlimited)
	}
	return Limit(raw)
}

// Value reports the numeric cap and whether it is actually bounded.
func (l Limit) Value() (uint64, bool) {
	if uint64(l) == Unlimited {
		return 0, false
	}
	return uint64(l), true
}

// JSONSentinel renders the limit the way spec.md §8 requires: -1 when
// unlimited, the numeric value otherwise.
func (l Limit) JSONSentinel() int64 {
	if v, ok := l.Value(); ok {
		return int64(v)
	}
	return -1
}

// CPUSet is an ordered set of logical CPU indices, as parsed from a
// cpuset.cpus-style range list.
type CPUSet struct {
	ids map[int]struct{}
}

// NewCPUSet builds a CPUSet from raw ids.
func NewCPUSet(ids ...int) CPUSet {
	s := CPUSet{ids: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// ParseCPUSet parses a range list like "0-3,7,10-11" into {0,1,2,3,7,10,11}.
// A malformed range rejects the whole file, per spec.md §8.
func ParseCPUSet(raw string) (CPUSet, error) {
	raw = strings.TrimSpace(raw)
	set := CPUSet{ids: make(map[int]struct{})}
	if raw == "" {
		return set, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loN, err := strconv.Atoi(lo)
			if err != nil {
				return CPUSet{}, fmt.Errorf("cpuset: bad range %q: %w", part, err)
			}
			hiN, err := strconv.Atoi(hi)
			if err != nil {
				return CPUSet{}, fmt.Errorf("cpuset: bad range %q: %w", part, err)
			}
			if hiN < loN {
				return CPUSet{}, fmt.Errorf("cpuset: inverted range %q", part)
			}
			for i := loN; i <= hiN; i++ {
				set.ids[i] = struct{}{}
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return CPUSet{}, fmt.Errorf("cpuset: bad id %q: %w", part, err)
			}
			set.ids[n] = struct{}{}
		}
	}
	return set, nil
}

// Contains reports whether cpu is a member of the set.
func (s CPUSet) Contains(cpu int) bool {
	_, ok := s.ids[cpu]
	return ok
}

// Len returns the number of CPUs in the set.
func (s CPUSet) Len() int { return len(s.ids) }

// Slice returns the set's members in ascending order.
func (s CPUSet) Slice() []int {
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// String renders the set back out as a range list, collapsing runs.
func (s CPUSet) String() string {
	ids := s.Slice()
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	start := ids[0]
	prev := ids[0]
	flush := func(end int) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == end {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, end)
		}
	}
	for _, id := range ids[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		flush(prev)
		start, prev = id, id
	}
	flush(prev)
	return b.String()
}
