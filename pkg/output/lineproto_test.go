package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeTagValue(t *testing.T) {
	assert.Equal(t, `a\,b\=c\ d`, escapeTagValue("a,b=c d"))
}

func TestEscapeFieldValue(t *testing.T) {
	assert.Equal(t, `say \"hi\"`, escapeFieldValue(`say "hi"`))
}

func TestTagSet(t *testing.T) {
	tags := []Tag{{Key: "host", Value: "box 1"}, {Key: "cgroup", Value: "a,b"}}
	assert.Equal(t, `host=box\ 1,cgroup=a\,b`, TagSet(tags))
}

func TestLineProtocolLines_FlatSection(t *testing.T) {
	sections := []Section{
		{Name: "stat", Measurements: []Measurement{
			{Name: "user", Value: "10", Numeric: true},
			{Name: "label", Value: "ok", Numeric: false},
		}},
	}
	lines := LineProtocolLines(sections, "host=box1", 1000)
	require.Len(t, lines, 1)
	assert.Equal(t, `stat,host=box1 user=10,label="ok" 1000`, lines[0])
}

func TestLineProtocolLines_SubsectionsFlattenedWithUnderscore(t *testing.T) {
	sections := []Section{
		{Name: "cpu", Subsections: []Subsection{
			{Name: "cpu0", Measurements: []Measurement{{Name: "user", Value: "1.500", Numeric: true}}},
			{Name: "cpu1", Measurements: []Measurement{{Name: "user", Value: "2.000", Numeric: true}}},
		}},
	}
	lines := LineProtocolLines(sections, "", 5)
	require.Len(t, lines, 2)
	assert.Equal(t, "cpu_cpu0 user=1.500 5", lines[0])
	assert.Equal(t, "cpu_cpu1 user=2.000 5", lines[1])
}

func TestLineProtocolLines_NoTagsOmitsLeadingComma(t *testing.T) {
	sections := []Section{{Name: "m", Measurements: []Measurement{{Name: "v", Value: "1", Numeric: true}}}}
	lines := LineProtocolLines(sections, "", 1)
	assert.Equal(t, "m v=1 1", lines[0])
}
