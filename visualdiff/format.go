package visualdiff

import (
	"fmt"
	"strings"
)

// NoDifferencesSentence is returned by FormatDifferencesForPrompt for an
// empty directive list.
const NoDifferencesSentence = "No significant visual differences detected."

// FormatDifferencesForPrompt renders directives as a 1-indexed, newline-joined
// block suitable for inclusion in a correction prompt.
func FormatDifferencesForPrompt(directives []string) string {
	if len(directives) == 0 {
		return NoDifferencesSentence
	}
	var b strings.Builder
	for i, d := range directives {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, d)
	}
	return b.String()
}
