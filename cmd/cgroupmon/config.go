//go:build linux

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the flag surface for the optional --config YAML
// overlay; zero values mean "leave the flag default untouched".
type fileConfig struct {
	CgroupName             string            `yaml:"cgroup-name"`
	IncludeThreads         *bool             `yaml:"include-threads"`
	SamplingIntervalSecs   int               `yaml:"sampling-interval"`
	NumSamples             *int              `yaml:"num-samples"`
	UntilCgroupAlive       *bool             `yaml:"until-cgroup-alive"`
	Collect                []string          `yaml:"collect"`
	DeepCollectAll         *bool             `yaml:"deep-collect"`
	ScoreThreshold         *uint64           `yaml:"score-threshold"`
	CustomMetadata         map[string]string `yaml:"custom-metadata"`
	AllowMultipleInstances *bool             `yaml:"allow-multiple-instances"`
	Foreground             *bool             `yaml:"foreground"`
	Debug                  *bool             `yaml:"debug"`
	OutputDirectory        string            `yaml:"output-directory"`
	OutputFilename         string            `yaml:"output-filename"`
	OutputPretty           *bool             `yaml:"output-pretty"`
	EstimatePower          *bool             `yaml:"estimate-power"`
	RemoteIP               string            `yaml:"remote-ip"`
	RemotePort             int               `yaml:"remote-port"`
	RemoteSecret           string            `yaml:"remote-secret"`
	RemoteDBName           string            `yaml:"remote-dbname"`
	MetricsAddr            string            `yaml:"metrics-addr"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

// applyFileConfig overlays non-zero fileConfig values onto o, letting
// command-line flags that were never set fall back to the file and letting
// flags the user did pass win by being applied to o before this call.
func applyFileConfig(o *opts, fc fileConfig) {
	if fc.CgroupName != "" {
		o.cgroupName = fc.CgroupName
	}
	if fc.IncludeThreads != nil {
		o.includeThreads = *fc.IncludeThreads
	}
	if fc.SamplingIntervalSecs > 0 {
		o.samplingInterval = secondsToDuration(fc.SamplingIntervalSecs)
	}
	if fc.NumSamples != nil {
		o.numSamples = *fc.NumSamples
	}
	if fc.UntilCgroupAlive != nil {
		o.untilCgroupAlive = *fc.UntilCgroupAlive
	}
	if len(fc.Collect) > 0 {
		o.collect = fc.Collect
	}
	if fc.DeepCollectAll != nil {
		o.deepCollectAll = *fc.DeepCollectAll
	}
	if fc.ScoreThreshold != nil {
		o.scoreThreshold = *fc.ScoreThreshold
	}
	if len(fc.CustomMetadata) > 0 {
		o.customMetadata = fc.CustomMetadata
	}
	if fc.AllowMultipleInstances != nil {
		o.allowMultipleInstances = *fc.AllowMultipleInstances
	}
	if fc.Foreground != nil {
		o.foreground = *fc.Foreground
	}
	if fc.Debug != nil {
		o.debug = *fc.Debug
	}
	if fc.OutputDirectory != "" {
		o.outputDirectory = fc.OutputDirectory
	}
	if fc.OutputFilename != "" {
		o.outputFilename = fc.OutputFilename
	}
	if fc.OutputPretty != nil {
		o.outputPretty = *fc.OutputPretty
	}
	if fc.EstimatePower != nil {
		o.estimatePower = *fc.EstimatePower
	}
	if fc.RemoteIP != "" {
		o.remoteIP = fc.RemoteIP
	}
	if fc.RemotePort != 0 {
		o.remotePort = fc.RemotePort
	}
	if fc.RemoteSecret != "" {
		o.remoteSecret = fc.RemoteSecret
	}
	if fc.RemoteDBName != "" {
		o.remoteDBName = fc.RemoteDBName
	}
	if fc.MetricsAddr != "" {
		o.metricsAddr = fc.MetricsAddr
	}
}

// pidLock is the single-instance-lock collaborator spec.md scopes out of
// the core: a non-blocking flock on a well-known pid file, released on
// process exit.
type pidLock struct {
	f *os.File
}

// acquirePIDLock opens path and takes an exclusive, non-blocking flock on
// it, returning an error if another instance already holds it.
func acquirePIDLock(path string) (*pidLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another instance is already running (%s is locked): %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, err
	}
	return &pidLock{f: f}, nil
}

func (p *pidLock) Release() error {
	if p == nil || p.f == nil {
		return nil
	}
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	return p.f.Close()
}
