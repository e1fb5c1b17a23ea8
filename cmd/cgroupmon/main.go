//go:build linux

// Command cgroupmon samples baremetal and cgroup-scoped CPU, memory, disk,
// network and per-process resource usage at a fixed interval and streams
// the results as JSON, InfluxDB line protocol, and/or a Prometheus scrape
// endpoint. Grounded on the teacher's cmd/consumption/main.go cobra+flag
// layout, generalized from a single fixed-shape monitor into the
// configurable engine in pkg/engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/engine"
	"github.com/ja7ad/cgroupmon/pkg/output"
	"github.com/ja7ad/cgroupmon/pkg/sampler"
	"github.com/ja7ad/cgroupmon/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type opts struct {
	cgroupName     string
	includeThreads bool

	samplingInterval time.Duration
	numSamples       int
	untilCgroupAlive bool

	collect        []string
	deepCollectAll bool

	scoreThreshold uint64
	customMetadata map[string]string

	allowMultipleInstances bool
	foreground             bool
	debug                  bool

	outputDirectory string
	outputFilename  string
	outputPretty    bool

	estimatePower bool

	remoteIP     string
	remotePort   int
	remoteSecret string
	remoteDBName string

	metricsAddr string

	configPath string
	pidFile    string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "cgroupmon",
		Short: "Samples Linux cgroup and baremetal resource usage",
		Long: `cgroupmon samples a Linux cgroup's (and, optionally, the whole machine's)
CPU, memory, disk, network and per-process resource usage at a fixed
interval and streams the results as JSON, InfluxDB line protocol, and/or a
Prometheus scrape endpoint.

Examples:
  cgroupmon --sampling-interval 1 --num-samples 60 --output-filename /tmp/out.json
  cgroupmon --cgroup-name myservice --collect cgroup_cpu,cgroup_memory --output-pretty
  cgroupmon --until-cgroup-alive --remote-ip 127.0.0.1 --remote-port 8086 --remote-dbname cgroupmon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &o)
		},
	}

	flags := root.Flags()
	flags.StringVar(&o.cgroupName, "cgroup-name", "self", `cgroup to monitor ("self" auto-resolves the caller's own cgroup)`)
	flags.BoolVar(&o.includeThreads, "include-threads", false, "report secondary threads under cgroup v1, or read cgroup.threads instead of cgroup.procs under v2")

	flags.DurationVar(&o.samplingInterval, "sampling-interval", time.Second, "sampling interval, rounded to whole seconds")
	flags.IntVar(&o.numSamples, "num-samples", 0, "number of samples to collect (0 = run until interrupted)")
	flags.BoolVar(&o.untilCgroupAlive, "until-cgroup-alive", false, "run until the monitored cgroup disappears, ignoring --num-samples")

	flags.StringSliceVar(&o.collect, "collect", []string{"all"}, "comma-separated stat families: cpu,disk,memory,network,cgroup_cpu,cgroup_memory,cgroup_blkio,cgroup_network,cgroup_processes,all,all_baremetal,all_cgroup")
	flags.BoolVar(&o.deepCollectAll, "deep-collect", false, "emit the full detail level instead of chart-only")

	flags.Uint64Var(&o.scoreThreshold, "score-threshold", 0, "minimum per-process score required for a process to appear in output")
	flags.StringToStringVar(&o.customMetadata, "custom-metadata", nil, "key=value pairs embedded verbatim in the header's custom_metadata section")

	flags.BoolVar(&o.allowMultipleInstances, "allow-multiple-instances", false, "skip the single-instance pid-file lock")
	flags.BoolVar(&o.foreground, "foreground", false, "log errors to stderr instead of a <prefix>.err file (output filename without extension, or cgroupmon)")
	flags.BoolVar(&o.debug, "debug", false, "mirror debug-level logs to stdout")

	flags.StringVar(&o.outputDirectory, "output-directory", ".", "directory holding the JSON/error output files")
	flags.StringVar(&o.outputFilename, "output-filename", "stdout", `JSON output file, or "stdout", or "none" to suppress it`)
	flags.BoolVar(&o.outputPretty, "output-pretty", false, "pretty-print the JSON stream")

	flags.BoolVar(&o.estimatePower, "estimate-power", false, "add a \"power\" section estimating Watts/Joules from CPU utilization")

	flags.StringVar(&o.remoteIP, "remote-ip", "", "InfluxDB-compatible host to POST line-protocol samples to")
	flags.IntVar(&o.remotePort, "remote-port", 8086, "remote host's write port")
	flags.StringVar(&o.remoteSecret, "remote-secret", "", "bearer token sent as Authorization: Token <secret>")
	flags.StringVar(&o.remoteDBName, "remote-dbname", "cgroupmon", "database name in the remote write URL")

	flags.StringVar(&o.metricsAddr, "metrics-addr", "", `address to serve a Prometheus scrape endpoint on (e.g. ":9100"); empty disables it`)

	flags.StringVar(&o.configPath, "config", "", "YAML file overlaying these flag defaults")
	flags.StringVar(&o.pidFile, "pid-file", "/var/run/cgroupmon.pid", "single-instance lock file path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o *opts) error {
	if o.configPath != "" {
		fc, err := loadFileConfig(o.configPath)
		if err != nil {
			return err
		}
		applyFileConfig(o, fc)
	}

	var lock *pidLock
	if !o.allowMultipleInstances {
		l, err := acquirePIDLock(o.pidFile)
		if err != nil {
			return err
		}
		lock = l
		defer lock.Release()
	}

	collect, err := parseCollect(o.collect)
	if err != nil {
		return err
	}

	state, limits, err := detectCgroup(o.cgroupName, o.includeThreads)
	if err != nil {
		// cgroup detection failing is not fatal: fall back to baremetal-only,
		// per spec.md's Environment-error classification.
		state = nil
		collect &= engine.CollectAllBaremetal
	}

	logWriter, closeLog, err := openErrorLog(o)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := engine.NewLogger(logWriter, o.debug)
	defer logger.Sync()

	jsonSink, closeJSON, err := openJSONSink(o)
	if err != nil {
		return err
	}
	defer closeJSON()
	jsonWriter := output.NewJSONWriter(jsonSink, o.outputPretty)

	var lineSink output.Sink
	if o.remoteIP != "" {
		lineSink = output.NewDBSink(o.remoteIP, o.remotePort, o.remoteDBName, o.remoteSecret, 10*time.Second)
	}

	var promSink *output.PrometheusSink
	if o.metricsAddr != "" {
		cgroupLabel := o.cgroupName
		if state != nil {
			cgroupLabel = state.DisplayName
		}
		promSink = output.NewPrometheusSink(cgroupLabel)
		srv := &http.Server{Addr: o.metricsAddr, Handler: promSink.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	cfg := engine.Config{
		CgroupName:       o.cgroupName,
		IncludeThreads:   o.includeThreads,
		SamplingInterval: roundToSeconds(o.samplingInterval),
		NumSamples:       o.numSamples,
		UntilCgroupAlive: o.untilCgroupAlive,
		Collect:          collect,
		DeepCollectAll:   o.deepCollectAll,
		ScoreThreshold:   o.scoreThreshold,
		CustomMetadata:   o.customMetadata,
		OutputPretty:     o.outputPretty,
		EstimatePower:    o.estimatePower,
		ClockTicksPerSec: 100,
	}

	deps := engine.Dependencies{
		State:          state,
		Limits:         limits,
		HeaderProvider: defaultHeaderProvider{},
		JSON:           jsonWriter,
		LineSink:       lineSink,
		LineTags:       fmt.Sprintf("cgroup=%s", strings.ReplaceAll(o.cgroupName, " ", "_")),
		Prom:           promSink,
		Logger:         logger,
		Samplers:       buildSamplers(cfg, state),
	}

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	e := engine.New(cfg, deps)

	flush := make(chan struct{}, 1)
	e.ImmediateFlush = flush
	usr := make(chan os.Signal, 1)
	signal.Notify(usr, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for range usr {
			select {
			case flush <- struct{}{}:
			default:
			}
		}
	}()
	defer signal.Stop(usr)

	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("cgroupmon: %w", err)
	}
	return nil
}

func detectCgroup(name string, includeThreads bool) (*cgroup.State, cgroup.Limits, error) {
	state, err := cgroup.Detect(cgroup.Options{Name: name, IncludeThreads: includeThreads})
	if err != nil {
		return nil, cgroup.Limits{}, err
	}
	return state, cgroup.ReadLimits(state), nil
}

func buildSamplers(cfg engine.Config, state *cgroup.State) engine.Samplers {
	s := engine.Samplers{
		CPU:     sampler.NewSystemCollector(sampler.MaskCPU|sampler.MaskMem, types.CPUSet{}, nil),
		Disk:    sampler.NewDiskCollector(nil),
		Net:     sampler.NewNetCollector(),
		NetPath: "/proc/net/dev",
		MemInfo: func() (map[string]uint64, error) { return sampler.MemInfo("/proc/meminfo", nil) },
		LoadAvg: sampler.LoadAvg,
	}

	if state != nil {
		s.CgroupCPU = sampler.NewCgroupCpuSampler(state)
		s.CgroupMem = sampler.NewCgroupMemorySampler(state, nil, nil)
		s.CgroupNet = sampler.NewCgroupNetSampler()
		s.CgroupProc = sampler.NewCgroupProcessSampler(state, cfg.IncludeThreads, cfg.DeepCollectAll, cfg.ScoreThreshold, cfg.ClockTicksPerSec)
	}

	return s
}

func roundToSeconds(d time.Duration) time.Duration {
	r := d.Round(time.Second)
	if r < time.Second {
		return time.Second
	}
	return r
}

var collectBits = map[string]engine.Collect{
	"cpu":               engine.CollectCPU,
	"disk":              engine.CollectDisk,
	"memory":            engine.CollectMemory,
	"network":           engine.CollectNetwork,
	"cgroup_cpu":        engine.CollectCgroupCPU,
	"cgroup_memory":     engine.CollectCgroupMemory,
	"cgroup_blkio":      engine.CollectCgroupBlkio,
	"cgroup_network":    engine.CollectCgroupNetwork,
	"cgroup_processes":  engine.CollectCgroupProcesses,
	"all":               engine.CollectAll,
	"all_baremetal":     engine.CollectAllBaremetal,
	"all_cgroup":        engine.CollectAllCgroup,
}

func parseCollect(names []string) (engine.Collect, error) {
	var c engine.Collect
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		bit, ok := collectBits[n]
		if !ok {
			return 0, fmt.Errorf("unknown --collect family %q", n)
		}
		c |= bit
	}
	return c, nil
}
