package output

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink exposes the most recent sample's numeric measurements as a
// scrapeable Prometheus gauge set. Grounded on the mahendrapaipuri-ceems
// cgroupCollector's Describe/Collect split (prometheus.NewDesc built ahead
// of time, prometheus.MustNewConstMetric emitted per metric on Collect) and
// on grafana-tempo's promhttp.Handler() wiring; generalized here from a
// fixed field list to the dynamic Section/Subsection/Measurement tree, so
// Describe deliberately reports nothing and this is registered as an
// "unchecked" collector.
type PrometheusSink struct {
	mu        sync.Mutex
	values    map[string]float64
	cgroup    string // resolved cgroup display name, attached as a "cgroup" label
}

// NewPrometheusSink returns an empty sink; call Update once per tick before
// it is scraped. cgroupName is attached to every emitted metric as a
// "cgroup" label, per the metrics-scrape sink's naming convention
// (cgroupmon_<section>_<subsection>_<measurement>{cgroup="..."}).
func NewPrometheusSink(cgroupName string) *PrometheusSink {
	return &PrometheusSink{values: make(map[string]float64), cgroup: cgroupName}
}

// Describe intentionally emits nothing: metric names are only known once a
// sample has been collected, so this registers as an unchecked collector.
func (p *PrometheusSink) Describe(_ chan<- *prometheus.Desc) {}

// Collect emits one gauge per numeric measurement from the last Update.
func (p *PrometheusSink) Collect(ch chan<- prometheus.Metric) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, v := range p.values {
		desc := prometheus.NewDesc(name, "cgroupmon sampled metric "+name, nil, prometheus.Labels{"cgroup": p.cgroup})
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
}

// Update replaces the exposed gauge set with the numeric measurements found
// in sections, flattening "<section>_<subsection>_<measurement>" names the
// same way the line-protocol renderer flattens subsections.
func (p *PrometheusSink) Update(sections []Section) {
	next := make(map[string]float64)
	for _, sec := range sections {
		if len(sec.Measurements) == 0 && len(sec.Subsections) > 0 {
			for _, sub := range sec.Subsections {
				addNumericMeasurements(next, sec.Name+"_"+sub.Name, sub.Measurements)
			}
			continue
		}
		addNumericMeasurements(next, sec.Name, sec.Measurements)
	}

	p.mu.Lock()
	p.values = next
	p.mu.Unlock()
}

func addNumericMeasurements(dst map[string]float64, prefix string, ms []Measurement) {
	for _, m := range ms {
		if !m.Numeric {
			continue
		}
		v, err := strconv.ParseFloat(m.Value, 64)
		if err != nil {
			continue
		}
		dst[sanitizeMetricName("cgroupmon_"+prefix+"_"+m.Name)] = v
	}
}

// sanitizeMetricName replaces characters Prometheus metric names disallow
// (anything but [a-zA-Z0-9_:]) with underscores.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Handler builds an HTTP handler serving this sink on its own registry, so
// it never collides with process/Go-runtime metrics on the default registry.
func (p *PrometheusSink) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
