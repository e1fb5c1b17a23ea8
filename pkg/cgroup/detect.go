//go:build linux

package cgroup

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Options configures a detect pass.
type Options struct {
	// Name is the cgroup to monitor. Empty or "self" auto-resolves the
	// detector's own cgroup.
	Name string
	// IncludeThreads selects cgroup.threads over cgroup.procs under v2.
	IncludeThreads bool
}

type mountEntry struct {
	Device     string
	Mountpoint string
	Fstype     string
	Opts       string
}

func scanMounts(path string) ([]mountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mountEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// fs_spec fs_file fs_vfstype fs_mntops fs_freq fs_passno
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		out = append(out, mountEntry{
			Device:     fields[0],
			Mountpoint: fields[1],
			Fstype:     fields[2],
			Opts:       fields[3],
		})
	}
	return out, sc.Err()
}

// findV1ControllerMount returns the mountpoint of the first cgroup-v1 mount
// whose mount options contain controller as a substring, mirroring the
// original collector's fs_mntops.find(cgroup_type) check.
func findV1ControllerMount(mounts []mountEntry, controller string) (string, bool) {
	for _, m := range mounts {
		if m.Fstype == "cgroup" && strings.Contains(m.Opts, controller) {
			return m.Mountpoint, true
		}
	}
	return "", false
}

// selfCgroup is the parsed content of /proc/self/cgroup.
type selfCgroup struct {
	ByController map[string]string // individual controller name -> relative path
	V2Path       string
	SystemdName  string
}

func readSelfCgroup(path string) (selfCgroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return selfCgroup{}, err
	}
	defer f.Close()

	sg := selfCgroup{ByController: make(map[string]string)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// <hierarchy-id>:<controller-list>:<path>
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		controllers, relPath := parts[1], parts[2]
		switch {
		case controllers == "":
			sg.V2Path = relPath
		case controllers == "name=systemd":
			sg.SystemdName = relPath
		default:
			for _, c := range strings.Split(controllers, ",") {
				sg.ByController[c] = relPath
			}
		}
	}
	return sg, sc.Err()
}

// pidInTaskFile reports whether pid appears in a tasks/cgroup.procs file.
func pidInTaskFile(path string, pid int) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	want := strconv.Itoa(pid)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == want {
			return true
		}
	}
	return false
}

// Detect resolves the monitored cgroup's controller paths following
// spec step 1-6: prefer v1 when both v1 and v2 mounts are present.
func Detect(opts Options) (*State, error) {
	mounts, err := scanMounts("/proc/self/mounts")
	if err != nil {
		return nil, disabled("unreadable /proc/self/mounts: %v", err)
	}

	var v1Count, v2Count int
	var v2Mount string
	for _, m := range mounts {
		switch m.Fstype {
		case "cgroup":
			v1Count++
		case "cgroup2":
			v2Count++
			if v2Mount == "" {
				v2Mount = m.Mountpoint
			}
		}
	}

	if v1Count == 0 && v2Count >= 1 {
		return detectV2(v2Mount, opts)
	}
	if v1Count > 0 {
		return detectV1(mounts, opts)
	}
	return nil, disabled("no cgroup mounts found")
}

func detectV1(mounts []mountEntry, opts Options) (*State, error) {
	memoryMount, ok := findV1ControllerMount(mounts, "memory")
	if !ok {
		return nil, disabled("no v1 'memory' controller mount found")
	}
	cpusetMount, ok := findV1ControllerMount(mounts, "cpuset")
	if !ok {
		return nil, disabled("no v1 'cpuset' controller mount found")
	}
	alias := "cpu,cpuacct"
	cpuacctMount, ok := findV1ControllerMount(mounts, alias)
	if !ok {
		alias = "cpuacct,cpu"
		cpuacctMount, ok = findV1ControllerMount(mounts, alias)
		if !ok {
			return nil, disabled("no v1 'cpuacct' controller mount found (tried both alias orders)")
		}
	}

	sg, err := readSelfCgroup("/proc/self/cgroup")
	if err != nil {
		return nil, disabled("unreadable /proc/self/cgroup: %v", err)
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" || name == "self" {
		return resolveSelfV1(memoryMount, cpuacctMount, cpusetMount, alias, sg)
	}
	return resolveNamedV1(memoryMount, cpuacctMount, cpusetMount, alias, name)
}

func resolveSelfV1(memoryMount, cpuacctMount, cpusetMount, alias string, sg selfCgroup) (*State, error) {
	pid := os.Getpid()

	// Docker/LXC case: our pid lives directly at the controller mount root.
	if pidInTaskFile(filepath.Join(memoryMount, "tasks"), pid) {
		return &State{
			Version:         V1,
			MemoryPath:      memoryMount,
			CpuacctPath:     cpuacctMount,
			CpuacctAlias:    alias,
			CpusetPath:      cpusetMount,
			DisplayName:     displayName(sg.SystemdName, "/"),
			ProcessListPath: filepath.Join(memoryMount, "tasks"),
		}, nil
	}

	memoryPath := filepath.Join(memoryMount, sg.ByController["memory"])
	cpuacctPath := filepath.Join(cpuacctMount, sg.ByController["cpuacct"])
	cpusetPath := filepath.Join(cpusetMount, sg.ByController["cpuset"])
	if pidInTaskFile(filepath.Join(memoryPath, "tasks"), pid) {
		return &State{
			Version:         V1,
			MemoryPath:      memoryPath,
			CpuacctPath:     cpuacctPath,
			CpuacctAlias:    alias,
			CpusetPath:      cpusetPath,
			DisplayName:     displayName(sg.SystemdName, sg.ByController["memory"]),
			ProcessListPath: filepath.Join(memoryPath, "tasks"),
		}, nil
	}
	return nil, disabled("own pid %d not found in any v1 candidate cgroup", pid)
}

func resolveNamedV1(memoryMount, cpuacctMount, cpusetMount, alias, name string) (*State, error) {
	memoryPath := filepath.Join(memoryMount, name)
	cpuacctPath := filepath.Join(cpuacctMount, name)
	cpusetPath := filepath.Join(cpusetMount, name)

	if _, err := os.Stat(memoryPath); err != nil {
		return nil, disabled("named cgroup %q has no memory directory: %v", name, err)
	}

	var procList string
	for _, dir := range []string{memoryPath, cpuacctPath, cpusetPath} {
		candidate := filepath.Join(dir, "tasks")
		if _, err := os.Stat(candidate); err == nil {
			procList = candidate
			break
		}
	}
	if procList == "" {
		return nil, disabled("named cgroup %q has no tasks file under memory/cpuacct/cpuset", name)
	}

	return &State{
		Version:         V1,
		MemoryPath:      memoryPath,
		CpuacctPath:     cpuacctPath,
		CpuacctAlias:    alias,
		CpusetPath:      cpusetPath,
		DisplayName:     name,
		ProcessListPath: procList,
	}, nil
}

func detectV2(mountpoint string, opts Options) (*State, error) {
	if mountpoint == "" {
		return nil, disabled("no cgroup2 mountpoint found")
	}

	procFile := "cgroup.procs"
	if opts.IncludeThreads {
		procFile = "cgroup.threads"
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" || name == "self" {
		sg, err := readSelfCgroup("/proc/self/cgroup")
		if err != nil {
			return nil, disabled("unreadable /proc/self/cgroup: %v", err)
		}
		pid := os.Getpid()

		if pidInTaskFile(filepath.Join(mountpoint, procFile), pid) {
			return v2State(mountpoint, "/", procFile), nil
		}
		path := filepath.Join(mountpoint, sg.V2Path)
		if pidInTaskFile(filepath.Join(path, procFile), pid) {
			return v2State(path, sg.V2Path, procFile), nil
		}
		return nil, disabled("own pid %d not found in any v2 candidate cgroup", pid)
	}

	path := filepath.Join(mountpoint, name)
	if _, err := os.Stat(path); err != nil {
		return nil, disabled("named cgroup %q not found under %s: %v", name, mountpoint, err)
	}
	return v2State(path, name, procFile), nil
}

func v2State(path, displayName, procFile string) *State {
	return &State{
		Version:         V2,
		MemoryPath:      path,
		CpuacctPath:     path,
		CpusetPath:      path,
		DisplayName:     displayNameOrRoot(displayName),
		ProcessListPath: filepath.Join(path, procFile),
	}
}

func displayName(systemdName, fallback string) string {
	if systemdName != "" {
		return systemdName
	}
	return fallback
}

func displayNameOrRoot(name string) string {
	if name == "" {
		return "/"
	}
	return name
}
