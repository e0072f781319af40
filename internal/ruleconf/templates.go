package ruleconf

import "strings"

// Templates holds the append-accumulated report templates named in §4.5:
// report, unsafe_report, terse_report, spamtrap.
type Templates struct {
	data map[string]*strings.Builder
}

// NewTemplates returns an empty template set.
func NewTemplates() *Templates {
	return &Templates{data: map[string]*strings.Builder{}}
}

// Append adds one more line to the named template.
func (t *Templates) Append(name, line string) {
	b, ok := t.data[name]
	if !ok {
		b = &strings.Builder{}
		t.data[name] = b
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(line)
}

// Clear resets the named template to empty (clear_report_template).
func (t *Templates) Clear(name string) {
	delete(t.data, name)
}

// Get returns the accumulated template text, or "" if never set.
func (t *Templates) Get(name string) string {
	if b, ok := t.data[name]; ok {
		return b.String()
	}
	return ""
}
