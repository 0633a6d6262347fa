package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)
)

// DefaultTemplate yields numbers such as INV-2026-0001.
const DefaultTemplate = "{PREFIX}-{YYYY}-{SEQ4}"

// FormatNumber renders a document number from a template, year and sequence.
//
// This function is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
func FormatNumber(template, prefix string, year int, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("document number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid document sequence: %d", seq)
	}
	if year <= 0 {
		return "", fmt.Errorf("invalid document year: %d", year)
	}

	out := template
	out = strings.ReplaceAll(out, "{PREFIX}", prefix)
	out = strings.ReplaceAll(out, "{YYYY}", fmt.Sprintf("%04d", year))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in document number format: %s", out)
	}

	return out, nil
}

// YearPrefix is the common prefix of every number issued for kind in year.
func YearPrefix(kind Kind, year int) string {
	return fmt.Sprintf("%s-%04d-", kind.Prefix, year)
}

// Format renders the canonical number for kind, e.g. REC-2026-0002.
func Format(kind Kind, year int, seq int64) (string, error) {
	return FormatNumber(DefaultTemplate, kind.Prefix, year, seq)
}

// ParseSequence extracts the numeric suffix of number when it was issued for
// kind in year.
func ParseSequence(kind Kind, year int, number string) (int64, bool) {
	prefix := YearPrefix(kind, year)
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	suffix := strings.TrimPrefix(number, prefix)
	if suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}
