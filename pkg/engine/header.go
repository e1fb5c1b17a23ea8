//go:build linux

package engine

import (
	"sort"

	"github.com/ja7ad/cgroupmon/pkg/cgroup"
	"github.com/ja7ad/cgroupmon/pkg/output"
)

// HeaderProvider supplies the header sections spec.md scopes out of the
// core as an external collaborator: identity, cpuinfo, os-release, and any
// other one-shot host metadata gathered via lshw/lscpu-equivalent reads.
// pkg/engine only assembles the "config", "cgroup_config", and
// "custom_metadata" sections itself, since those come from state it already
// holds; cmd/cgroupmon supplies the concrete HeaderProvider implementation.
type HeaderProvider interface {
	CollectHeader(b *output.Builder) error
}

// buildHeader assembles the full header object: the engine's own
// config/cgroup_config/custom_metadata sections, followed by whatever the
// injected HeaderProvider contributes.
func buildHeader(cfg Config, state *cgroup.State, limits cgroup.Limits, provider HeaderProvider) (output.Header, error) {
	b := output.NewBuilder()

	b.SectionStart("config")
	b.String("cgroup_name", cfg.CgroupName)
	b.Long("sampling_interval_sec", int64(cfg.SamplingInterval.Seconds()))
	b.Long("num_samples", int64(cfg.NumSamples))
	b.String("detail_level", detailLevel(cfg.DeepCollectAll))
	b.ULong("score_threshold", cfg.ScoreThreshold)
	b.Long("include_threads", boolToLong(cfg.IncludeThreads))
	b.Long("estimate_power", boolToLong(cfg.EstimatePower))
	b.SectionEnd()

	if state != nil {
		b.SectionStart("cgroup_config")
		b.String("version", state.Version.String())
		b.String("display_name", state.DisplayName)
		b.String("allowed_cpus", limits.AllowedCPUs.String())
		b.Long("memory_limit_bytes", limits.MemoryLimit.JSONSentinel())
		b.Long("cpu_quota_us", limits.CPUQuotaUs.JSONSentinel())
		b.ULong("cpu_period_us", limits.CPUPeriodUs)
		b.SectionEnd()
	}

	if len(cfg.CustomMetadata) > 0 {
		keys := make([]string, 0, len(cfg.CustomMetadata))
		for k := range cfg.CustomMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.SectionStart("custom_metadata")
		for _, k := range keys {
			b.String(k, cfg.CustomMetadata[k])
		}
		b.SectionEnd()
	}

	if provider != nil {
		if err := provider.CollectHeader(b); err != nil {
			return output.Header{}, err
		}
	}

	return b.BuildHeader(), nil
}

func detailLevel(deepAll bool) string {
	if deepAll {
		return "all"
	}
	return "chart-only"
}

func boolToLong(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
