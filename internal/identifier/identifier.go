// Package identifier formats and parses project identifiers of the form PROY-<year>-<NNN>.
package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const prefix = "PROY"

var reGenerated = regexp.MustCompile(`^PROY-(\d{4})-(\d{3,})$`)

// Normalize trims s and upper-cases it; identifiers compare case-insensitively.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Equal reports whether a and b name the same identifier.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Format renders the generated identifier for year and sequence number seq.
func Format(year, seq int) string {
	return fmt.Sprintf("%s-%d-%03d", prefix, year, seq)
}

// Parse extracts year and sequence from a generated identifier.
// ok is false for identifiers chosen by hand.
func Parse(s string) (year, seq int, ok bool) {
	m := reGenerated.FindStringSubmatch(Normalize(s))
	if m == nil {
		return 0, 0, false
	}
	year, _ = strconv.Atoi(m[1])
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return year, seq, true
}

// Next returns the identifier following the highest generated one for year among existing.
func Next(year int, existing []string) string {
	last := 0
	for _, id := range existing {
		y, n, ok := Parse(id)
		if ok && y == year && n > last {
			last = n
		}
	}
	return Format(year, last+1)
}
