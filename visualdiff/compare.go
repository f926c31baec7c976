// Package visualdiff compares two extracted visual descriptions of an email
// footer and produces ordered, human-readable deviation directives for the
// correction step. Pure and deterministic: no I/O, tolerant of missing or
// empty sub-collections.
package visualdiff

import (
	"fmt"
	"strings"

	"footergen/domain"
)

// ComputeDifferences compares a rendered candidate against the reference
// description. Directives come out in a fixed order: overall height, logo,
// text blocks (reference order), background color, text color, structural
// edge. At most one directive is emitted per entity and dimension.
func ComputeDifferences(reference, candidate *domain.VisualDescription) []string {
	if reference == nil {
		reference = &domain.VisualDescription{}
	}
	if candidate == nil {
		candidate = &domain.VisualDescription{}
	}

	out := make([]string, 0, 8)
	out = append(out, compareHeight(reference, candidate)...)
	out = append(out, compareLogo(reference, candidate)...)
	out = append(out, compareTextBlocks(reference, candidate)...)
	out = append(out, comparePalette(reference, candidate)...)
	out = append(out, compareStructuralEdge(reference, candidate)...)
	return out
}

func compareHeight(ref, cand *domain.VisualDescription) []string {
	delta := cand.Dimensions.Height - ref.Dimensions.Height
	if abs(delta) <= thresholds.Height {
		return nil
	}
	if delta > 0 {
		return []string{fmt.Sprintf(
			"Rendered footer is %dpx taller than the reference (reference %dpx, rendered %dpx); reduce vertical padding or margins",
			delta, ref.Dimensions.Height, cand.Dimensions.Height)}
	}
	return []string{fmt.Sprintf(
		"Rendered footer is %dpx shorter than the reference (reference %dpx, rendered %dpx); increase vertical padding or margins",
		-delta, ref.Dimensions.Height, cand.Dimensions.Height)}
}

// compareLogo looks at the first reference logo against the first candidate
// logo only. Secondary logos are ignored (see DESIGN.md).
func compareLogo(ref, cand *domain.VisualDescription) []string {
	if len(ref.Logos) == 0 {
		return nil
	}
	rl := ref.Logos[0]
	if len(cand.Logos) == 0 {
		return []string{fmt.Sprintf(
			"Logo not detected in the rendered output; reference shows a %dx%dpx logo",
			rl.Width, rl.Height)}
	}
	cl := cand.Logos[0]

	var out []string
	if dw := cl.Width - rl.Width; abs(dw) > thresholds.LogoSize {
		if dw < 0 {
			out = append(out, fmt.Sprintf(
				"Logo is %dpx narrower than the reference (reference %dpx, rendered %dpx); increase the logo width",
				-dw, rl.Width, cl.Width))
		} else {
			out = append(out, fmt.Sprintf(
				"Logo is %dpx wider than the reference (reference %dpx, rendered %dpx); decrease the logo width",
				dw, rl.Width, cl.Width))
		}
	}
	if dh := cl.Height - rl.Height; abs(dh) > thresholds.LogoSize {
		if dh < 0 {
			out = append(out, fmt.Sprintf(
				"Logo is %dpx shorter than the reference (reference %dpx, rendered %dpx); increase the logo height",
				-dh, rl.Height, cl.Height))
		} else {
			out = append(out, fmt.Sprintf(
				"Logo is %dpx taller than the reference (reference %dpx, rendered %dpx); decrease the logo height",
				dh, rl.Height, cl.Height))
		}
	}
	if dy := cl.Bounds.YTop - rl.Bounds.YTop; abs(dy) > thresholds.LogoPos {
		if dy > 0 {
			out = append(out, fmt.Sprintf(
				"Logo sits %dpx too low (reference y %d, rendered y %d); move the logo up",
				dy, rl.Bounds.YTop, cl.Bounds.YTop))
		} else {
			out = append(out, fmt.Sprintf(
				"Logo sits %dpx too high (reference y %d, rendered y %d); move the logo down",
				-dy, rl.Bounds.YTop, cl.Bounds.YTop))
		}
	}
	return out
}

func compareTextBlocks(ref, cand *domain.VisualDescription) []string {
	var out []string
	checked := 0
	for _, rb := range ref.TextBlocks {
		if rb.EstimatedFontSize < minTextFontSize || runeLen(rb.Text) < minTextLen {
			continue
		}
		if checked >= maxTextBlocks {
			break
		}
		checked++

		cb, found := findMatchingBlock(rb.Text, cand.TextBlocks)
		if !found {
			if runeLen(strings.TrimSpace(rb.Text)) > minReportableTextLen {
				out = append(out, fmt.Sprintf(
					"Text %q not found at expected position (y %d) in the rendered output",
					preview(rb.Text, previewLong), rb.Bounds.YTop))
			}
			continue
		}

		if df := cb.EstimatedFontSize - rb.EstimatedFontSize; abs(df) > thresholds.FontSize {
			if df < 0 {
				out = append(out, fmt.Sprintf(
					"Font size for %q is %dpx smaller than the reference (reference %dpx, rendered %dpx); increase the font size",
					preview(rb.Text, previewShort), -df, rb.EstimatedFontSize, cb.EstimatedFontSize))
			} else {
				out = append(out, fmt.Sprintf(
					"Font size for %q is %dpx larger than the reference (reference %dpx, rendered %dpx); decrease the font size",
					preview(rb.Text, previewShort), df, rb.EstimatedFontSize, cb.EstimatedFontSize))
			}
		}
		if dy := cb.Bounds.YTop - rb.Bounds.YTop; abs(dy) > thresholds.TextY {
			if dy > 0 {
				out = append(out, fmt.Sprintf(
					"Text %q sits %dpx too low (reference y %d, rendered y %d); move it up",
					preview(rb.Text, previewShort), dy, rb.Bounds.YTop, cb.Bounds.YTop))
			} else {
				out = append(out, fmt.Sprintf(
					"Text %q sits %dpx too high (reference y %d, rendered y %d); move it down",
					preview(rb.Text, previewShort), -dy, rb.Bounds.YTop, cb.Bounds.YTop))
			}
		}
	}
	return out
}

// findMatchingBlock matches by exact case-insensitive equality first, then by
// a 15-character lowercase prefix appearing as a substring in either
// direction. First match wins; duplicate text entities are not disambiguated.
func findMatchingBlock(refText string, blocks []domain.TextBlock) (domain.TextBlock, bool) {
	refLower := strings.ToLower(refText)
	for _, b := range blocks {
		if strings.ToLower(b.Text) == refLower {
			return b, true
		}
	}
	refKey := prefixRunes(refLower, matchPrefixLen)
	for _, b := range blocks {
		candLower := strings.ToLower(b.Text)
		if runeLen(refKey) >= minMatchPrefixLen && strings.Contains(candLower, refKey) {
			return b, true
		}
		candKey := prefixRunes(candLower, matchPrefixLen)
		if runeLen(candKey) >= minMatchPrefixLen && strings.Contains(refLower, candKey) {
			return b, true
		}
	}
	return domain.TextBlock{}, false
}

func comparePalette(ref, cand *domain.VisualDescription) []string {
	var out []string
	if d, ok := colorDistance(ref.ColorPalette.Background, cand.ColorPalette.Background); ok && d > float64(thresholds.ColorDist) {
		out = append(out, fmt.Sprintf(
			"Background color mismatch: reference %s vs rendered %s",
			ref.ColorPalette.Background, cand.ColorPalette.Background))
	}
	if d, ok := colorDistance(ref.ColorPalette.Text, cand.ColorPalette.Text); ok && d > float64(thresholds.ColorDist) {
		out = append(out, fmt.Sprintf(
			"Text color mismatch: reference %s vs rendered %s",
			ref.ColorPalette.Text, cand.ColorPalette.Text))
	}
	return out
}

// compareStructuralEdge compares only the first detected horizontal edge of
// each description, assumed to be the most prominent section boundary.
func compareStructuralEdge(ref, cand *domain.VisualDescription) []string {
	if len(ref.HorizontalEdges) == 0 || len(cand.HorizontalEdges) == 0 {
		return nil
	}
	ry := ref.HorizontalEdges[0].Y
	cy := cand.HorizontalEdges[0].Y
	if abs(cy-ry) <= thresholds.SectionY {
		return nil
	}
	return []string{fmt.Sprintf(
		"Main section boundary is off by %dpx (reference y %d, rendered y %d)",
		abs(cy-ry), ry, cy)}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func runeLen(s string) int { return len([]rune(s)) }

func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func preview(s string, n int) string { return prefixRunes(s, n) }
