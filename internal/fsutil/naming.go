package fsutil

import (
	"fmt"
	"strings"
)

// Output kinds.
const (
	KindInverse = "inv"
)

var (
	fifExtensions = []string{".fif.gz", ".fif"}
	typeSuffixes  = []string{"-raw", "-epo", "-ave"}
)

// OutputStem derives the default output stem from an input path by dropping
// the .fif or .fif.gz extension and a trailing -raw, -epo or -ave.
func OutputStem(input string) string {
	stem := input
	for _, ext := range fifExtensions {
		if s, ok := strings.CutSuffix(stem, ext); ok {
			stem = s
			break
		}
	}
	for _, suf := range typeSuffixes {
		if s, ok := strings.CutSuffix(stem, suf); ok && s != "" {
			return s
		}
	}
	return stem
}

// OutputPath joins a stem and an output kind as "<stem>.<kind>", adding
// ".gz" when compress is set.
func OutputPath(stem, kind string, compress bool) string {
	p := stem + "." + kind
	if compress {
		p += ".gz"
	}
	return p
}

// EpochStem names the estimate of one epoch: "<stem>.<kind>-NNN".
func EpochStem(stem, kind string, index int) string {
	return fmt.Sprintf("%s.%s-%03d", stem, kind, index)
}
