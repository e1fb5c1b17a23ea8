package output

import (
	"fmt"
	"strings"
)

// Tag is one InfluxDB line-protocol tag (indexed key/value pair), rendered
// by TagSet.
type Tag struct {
	Key   string
	Value string
}

// TagSet renders tags in line-protocol form: comma-separated key=value
// pairs, each value escaped per escapeTagValue. Order is preserved as given.
func TagSet(tags []Tag) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.Key+"="+escapeTagValue(t.Value))
	}
	return strings.Join(parts, ",")
}

// escapeTagValue backslash-escapes commas, equal signs, and spaces, per the
// InfluxDB line protocol tutorial's tag-value escaping rule.
func escapeTagValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch r {
		case ',', '=', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeFieldValue backslash-escapes double quotes inside a string field
// value, per the same rule.
func escapeFieldValue(v string) string {
	return strings.ReplaceAll(v, `"`, `\"`)
}

// LineProtocolLines renders one InfluxDB line per Section (or per
// Section+Subsection pair, joined as "<section>_<subsection>"), sharing one
// tagset and nanosecond timestamp across the whole sample — matching
// original_source/collector/src/output_frontend.cpp's generate_influxdb_line.
func LineProtocolLines(sections []Section, tagset string, tsNanos int64) []string {
	var lines []string
	for _, sec := range sections {
		if len(sec.Measurements) == 0 && len(sec.Subsections) > 0 {
			for _, sub := range sec.Subsections {
				lines = append(lines, lineProtocolLine(sec.Name+"_"+sub.Name, sub.Measurements, tagset, tsNanos))
			}
			continue
		}
		lines = append(lines, lineProtocolLine(sec.Name, sec.Measurements, tagset, tsNanos))
	}
	return lines
}

func lineProtocolLine(measurementName string, ms []Measurement, tagset string, tsNanos int64) string {
	var b strings.Builder
	b.WriteString(measurementName)
	if tagset != "" {
		b.WriteString(",")
		b.WriteString(tagset)
	}
	b.WriteString(" ")

	for i, m := range ms {
		b.WriteString(m.Name)
		b.WriteString("=")
		if m.Numeric {
			b.WriteString(m.Value)
		} else {
			b.WriteString(`"`)
			b.WriteString(escapeFieldValue(m.Value))
			b.WriteString(`"`)
		}
		if i < len(ms)-1 {
			b.WriteString(",")
		}
	}

	b.WriteString(" ")
	fmt.Fprintf(&b, "%d", tsNanos)
	return b.String()
}
