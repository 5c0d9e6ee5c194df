package xpd

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// StubFormat formats the completion time into the leading part of a file name.
	// Minutes are separated with a dash so names stay valid on SMB archive shares.
	StubFormat = "2006-01-02_15-04"

	// ShortIDLen is how many characters of a record id appear in file names.
	ShortIDLen = 5

	// MaxFieldLen bounds each feature value within a name.
	MaxFieldLen = 12

	// DefaultFeatureKeys are the metadata fields used to describe a run in its file name.
	DefaultFeatureKeys = []string{"sample_name", "experimenters"}
)

// NameFor returns the output file name for a record.
//
// The name is built as <stub>_<shortid>[_<feature>][_<suffix>]<ext>, where feature joins
// the values of keys present on the record. Absent keys are skipped. The result depends
// only on its arguments.
func NameFor(r *ExposureRecord, keys []string, suffix string, ext string) string {
	parts := []string{r.AcquiredAt.Format(StubFormat), shortID(r.ID)}
	if f := feature(r.Meta, keys); f != "" {
		parts = append(parts, f)
	}
	if s := sanitize(suffix); s != "" {
		parts = append(parts, s)
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.Join(parts, "_") + ext
}

// FrameSuffix returns the per-frame suffix for frame i.
func FrameSuffix(i int) string {
	return fmt.Sprintf("%03d", i)
}

// MotorSuffix returns a suffix describing a motor position, such as "300K".
func MotorSuffix(v float64, unit string) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + unit
}

// ShortID returns the first ShortIDLen characters of id.
func ShortID(id string) string {
	return prefix(id, ShortIDLen)
}

func shortID(id string) string {
	return ShortID(sanitize(id))
}

func feature(m RunMetadata, keys []string) string {
	var vs []string
	for _, k := range keys {
		if k == "experimenters" {
			// each name is bounded separately so a long first name does not hide the rest
			for _, e := range m.Experimenters {
				if s := truncate(sanitize(e)); s != "" {
					vs = append(vs, s)
				}
			}
			continue
		}
		v, ok := m.Field(k)
		if !ok {
			continue
		}
		if s := truncate(sanitize(v)); s != "" {
			vs = append(vs, s)
		}
	}
	return strings.Join(vs, "_")
}

func truncate(s string) string {
	return prefix(s, MaxFieldLen)
}

// prefix cuts s to at most n runes.
func prefix(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n])
	}
	return s
}

// sanitize drops whitespace and anything that is not safe in a file name.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '.', r == '+':
			b.WriteRune(r)
		case r == '_':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}
