// Package output builds the in-memory sample tree for one tick and renders
// it to the configured sink formats (JSON stream, InfluxDB line protocol,
// Prometheus scrape).
package output

import "fmt"

// Measurement is a single named value inside a Section or Subsection. Value
// is always pre-formatted text; Numeric controls whether a renderer treats
// it as a bare token (JSON number, line-protocol unquoted field) or a quoted
// string.
type Measurement struct {
	Name    string
	Value   string
	Numeric bool
}

// Subsection holds one resource instance's measurements (e.g. one cpu core,
// one block device, one network interface) under a parent Section.
type Subsection struct {
	Name         string
	Measurements []Measurement
}

// Section is a top-level named group of either Measurements or Subsections
// — never both populated at once.
type Section struct {
	Name         string
	Measurements []Measurement
	Subsections  []Subsection
}

// Timestamp identifies a sample's position in the run.
type Timestamp struct {
	Datetime    string
	UTC         string
	SampleIndex int
}

// Sample is the full tree built up during one tick.
type Sample struct {
	Timestamp Timestamp
	Sections  []Section
}

// Header is the run-level, once-per-process section tree (hostname, cpuinfo,
// cgroup identity, custom metadata, ...), structurally identical to a Sample
// but carrying no timestamp.
type Header struct {
	Sections []Section
}

// Builder accumulates Sections/Subsections/Measurements for one Sample or
// Header, mirroring the psection_start/psubsection_start/plong/pdouble/
// pstring call sequence a sampler issues once per tick.
type Builder struct {
	sections   []Section
	curSection *Section
	curSub     *Subsection
}

// NewBuilder returns an empty Builder ready for a SectionStart call.
func NewBuilder() *Builder {
	return &Builder{}
}

// SectionStart opens a new top-level section. Panics if a section is already
// open, since sections never nest — this is a programmer error in the
// sampler calling it, not a runtime condition.
func (b *Builder) SectionStart(name string) {
	if b.curSection != nil {
		panic("output: SectionStart called while a section is already open: " + b.curSection.Name)
	}
	b.sections = append(b.sections, Section{Name: name})
	b.curSection = &b.sections[len(b.sections)-1]
}

// SectionEnd closes the currently open section.
func (b *Builder) SectionEnd() {
	b.curSection = nil
}

// SubsectionStart opens a named subsection within the current section.
func (b *Builder) SubsectionStart(name string) {
	if b.curSection == nil {
		panic("output: SubsectionStart called with no open section")
	}
	b.curSection.Subsections = append(b.curSection.Subsections, Subsection{Name: name})
	b.curSub = &b.curSection.Subsections[len(b.curSection.Subsections)-1]
}

// SubsectionEnd closes the currently open subsection.
func (b *Builder) SubsectionEnd() {
	b.curSub = nil
}

func (b *Builder) append(m Measurement) {
	if b.curSub != nil {
		b.curSub.Measurements = append(b.curSub.Measurements, m)
		return
	}
	if b.curSection != nil {
		b.curSection.Measurements = append(b.curSection.Measurements, m)
		return
	}
	panic("output: measurement emitted with no open section: " + m.Name)
}

// Long records an integer-valued measurement.
func (b *Builder) Long(name string, value int64) {
	b.append(Measurement{Name: name, Value: fmt.Sprintf("%d", value), Numeric: true})
}

// ULong records an unsigned-integer-valued measurement.
func (b *Builder) ULong(name string, value uint64) {
	b.append(Measurement{Name: name, Value: fmt.Sprintf("%d", value), Numeric: true})
}

// Double records a floating-point measurement, formatted to three decimal
// places to match the reference renderer's precision.
func (b *Builder) Double(name string, value float64) {
	b.append(Measurement{Name: name, Value: fmt.Sprintf("%.3f", value), Numeric: true})
}

// String records a string-valued measurement.
func (b *Builder) String(name, value string) {
	b.append(Measurement{Name: name, Value: value, Numeric: false})
}

// Sections returns the accumulated section tree. Any open section/subsection
// is implicitly closed.
func (b *Builder) Sections() []Section {
	b.curSection, b.curSub = nil, nil
	return b.sections
}

// BuildSample finalizes the Builder into a timestamped Sample.
func (b *Builder) BuildSample(ts Timestamp) Sample {
	return Sample{Timestamp: ts, Sections: b.Sections()}
}

// BuildHeader finalizes the Builder into a Header.
func (b *Builder) BuildHeader() Header {
	return Header{Sections: b.Sections()}
}
