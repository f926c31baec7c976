package visualdiff

import (
	"math"
	"strconv"
	"strings"
)

// colorDistance returns the Euclidean RGB distance between two hex colors.
// Colors must be exactly 6 hex digits (a leading '#' is allowed); anything
// else reports ok=false and the comparison is skipped by callers. Channels
// are compared as raw bytes, no normalization.
func colorDistance(a, b string) (float64, bool) {
	ra, ga, ba, ok := parseHexColor(a)
	if !ok {
		return 0, false
	}
	rb, gb, bb, ok := parseHexColor(b)
	if !ok {
		return 0, false
	}
	dr := float64(ra) - float64(rb)
	dg := float64(ga) - float64(gb)
	db := float64(ba) - float64(bb)
	return math.Sqrt(dr*dr + dg*dg + db*db), true
}

func parseHexColor(s string) (r, g, b uint8, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	rv, err := strconv.ParseUint(s[0:2], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	gv, err := strconv.ParseUint(s[2:4], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	bv, err := strconv.ParseUint(s[4:6], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(rv), uint8(gv), uint8(bv), true
}
