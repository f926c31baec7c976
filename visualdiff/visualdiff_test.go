package visualdiff

import (
	"strings"
	"testing"

	"footergen/domain"
)

func baseDescription() *domain.VisualDescription {
	return &domain.VisualDescription{
		Dimensions: domain.Dimensions{Width: 600, Height: 800},
		TextBlocks: []domain.TextBlock{
			{
				Text:              "Unsubscribe here",
				Bounds:            domain.Bounds{XLeft: 40, XRight: 240, YTop: 700, YBottom: 720},
				Width:             200,
				Height:            20,
				EstimatedFontSize: 12,
			},
		},
		Logos: []domain.Logo{
			{Name: "acme", Bounds: domain.Bounds{XLeft: 20, XRight: 140, YTop: 24, YBottom: 64}, Width: 120, Height: 40},
		},
		HorizontalEdges: []domain.Edge{
			{Y: 410, ColorAbove: "#ffffff", ColorBelow: "#f4f4f4"},
		},
		ColorPalette: domain.ColorPalette{Background: "#ffffff", Text: "#333333", Accent: "#0055ff"},
	}
}

func TestIdenticalDescriptionsProduceNoDirectives(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	got := ComputeDifferences(ref, cand)
	if len(got) != 0 {
		t.Fatalf("expected no directives, got %v", got)
	}
}

func TestNilAndEmptyInputsDoNotPanic(t *testing.T) {
	if got := ComputeDifferences(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
	// Empty candidate against a real reference still works; height within
	// threshold here so only the logo directive fires.
	ref := baseDescription()
	ref.Dimensions.Height = 5
	ref.TextBlocks = nil
	ref.HorizontalEdges = nil
	ref.ColorPalette = domain.ColorPalette{}
	got := ComputeDifferences(ref, &domain.VisualDescription{})
	if len(got) != 1 || !strings.Contains(got[0], "Logo not detected") {
		t.Fatalf("unexpected directives: %v", got)
	}
}

func TestHeightThresholdBoundary(t *testing.T) {
	ref := baseDescription()

	cand := baseDescription()
	cand.Dimensions.Height = ref.Dimensions.Height + 10
	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("delta of exactly 10px must be ignored, got %v", got)
	}

	cand.Dimensions.Height = ref.Dimensions.Height + 11
	got := ComputeDifferences(ref, cand)
	if len(got) != 1 {
		t.Fatalf("expected exactly one directive, got %v", got)
	}
	if !strings.Contains(got[0], "11px taller") || !strings.Contains(got[0], "800") || !strings.Contains(got[0], "811") {
		t.Fatalf("unexpected height directive: %q", got[0])
	}

	cand.Dimensions.Height = ref.Dimensions.Height - 20
	got = ComputeDifferences(ref, cand)
	if len(got) != 1 || !strings.Contains(got[0], "20px shorter") {
		t.Fatalf("unexpected height directive: %v", got)
	}
}

func TestLogoNotDetected(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.Logos = nil

	got := ComputeDifferences(ref, cand)
	if len(got) != 1 {
		t.Fatalf("expected exactly one directive, got %v", got)
	}
	if !strings.Contains(got[0], "Logo not detected") || !strings.Contains(got[0], "120x40px") {
		t.Fatalf("unexpected logo directive: %q", got[0])
	}
}

func TestLogoSizeAndPositionDirectives(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.Logos[0].Width = 100      // 20px narrower
	cand.Logos[0].Height = 45      // within 8px threshold
	cand.Logos[0].Bounds.YTop = 60 // 36px lower

	got := ComputeDifferences(ref, cand)
	if len(got) != 2 {
		t.Fatalf("expected width + position directives, got %v", got)
	}
	if !strings.Contains(got[0], "20px narrower") || !strings.Contains(got[0], "increase the logo width") {
		t.Fatalf("unexpected width directive: %q", got[0])
	}
	if !strings.Contains(got[1], "36px too low") || !strings.Contains(got[1], "move the logo up") {
		t.Fatalf("unexpected position directive: %q", got[1])
	}
}

func TestTextMatchIsCaseInsensitive(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.TextBlocks[0].Text = "unsubscribe here"

	got := ComputeDifferences(ref, cand)
	for _, d := range got {
		if strings.Contains(d, "not found") {
			t.Fatalf("case-insensitive equal text must match, got %q", d)
		}
	}
	if len(got) != 0 {
		t.Fatalf("expected no directives, got %v", got)
	}
}

func TestMatchedTextStillReportsSizeAndPosition(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.TextBlocks[0].Text = "UNSUBSCRIBE HERE"
	cand.TextBlocks[0].EstimatedFontSize = 17 // 5px larger
	cand.TextBlocks[0].Bounds.YTop = 680      // 20px higher

	got := ComputeDifferences(ref, cand)
	if len(got) != 2 {
		t.Fatalf("expected font-size + position directives, got %v", got)
	}
	if !strings.Contains(got[0], "5px larger") || !strings.Contains(got[0], "decrease the font size") {
		t.Fatalf("unexpected font directive: %q", got[0])
	}
	if !strings.Contains(got[1], "20px too high") || !strings.Contains(got[1], "move it down") {
		t.Fatalf("unexpected position directive: %q", got[1])
	}
}

func TestTextPrefixMatching(t *testing.T) {
	ref := baseDescription()
	ref.TextBlocks[0].Text = "Unsubscribe from this mailing list"
	cand := baseDescription()
	// Candidate holds the 15-char lowercase prefix of the reference text.
	cand.TextBlocks[0].Text = "You can unsubscribe fro us anytime"

	got := ComputeDifferences(ref, cand)
	for _, d := range got {
		if strings.Contains(d, "not found") {
			t.Fatalf("prefix substring must match, got %q", d)
		}
	}
}

func TestUnmatchedTextDirective(t *testing.T) {
	ref := baseDescription()
	ref.TextBlocks[0].Text = "Contact our support team at support@example.com"
	cand := baseDescription()
	cand.TextBlocks[0].Text = "Completely different content"

	got := ComputeDifferences(ref, cand)
	if len(got) != 1 {
		t.Fatalf("expected one not-found directive, got %v", got)
	}
	d := got[0]
	if !strings.Contains(d, "not found at expected position") || !strings.Contains(d, "y 700") {
		t.Fatalf("unexpected directive: %q", d)
	}
	// 25-character preview, not the whole string.
	if strings.Contains(d, "support@example.com") {
		t.Fatalf("preview should truncate at 25 chars: %q", d)
	}
	if !strings.Contains(d, "Contact our support team ") {
		t.Fatalf("expected truncated preview in %q", d)
	}
}

func TestShortUnmatchedTextIsIgnored(t *testing.T) {
	ref := baseDescription()
	ref.TextBlocks[0].Text = "Hello" // trimmed length 5, not > 5
	cand := baseDescription()
	cand.TextBlocks[0].Text = "Completely different content"

	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("short unmatched text must not be reported, got %v", got)
	}
}

func TestTextBlockSelectionFilters(t *testing.T) {
	ref := baseDescription()
	ref.TextBlocks = []domain.TextBlock{
		{Text: "tiny decorative glyphs!!", EstimatedFontSize: 6, Bounds: domain.Bounds{YTop: 10}},
		{Text: "ab", EstimatedFontSize: 14, Bounds: domain.Bounds{YTop: 20}},
	}
	cand := baseDescription()
	cand.TextBlocks = nil

	// Both reference blocks fail the selection filter, so nothing is compared.
	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("filtered blocks must not produce directives, got %v", got)
	}
}

func TestAtMostEightTextBlocksChecked(t *testing.T) {
	ref := baseDescription()
	ref.TextBlocks = nil
	for i := 0; i < 12; i++ {
		ref.TextBlocks = append(ref.TextBlocks, domain.TextBlock{
			Text:              "Reference paragraph number " + strings.Repeat("x", i+1),
			EstimatedFontSize: 12,
			Bounds:            domain.Bounds{YTop: 100 + i*30},
		})
	}
	cand := baseDescription()
	cand.TextBlocks = []domain.TextBlock{{Text: "nothing in common at all", EstimatedFontSize: 12}}

	got := ComputeDifferences(ref, cand)
	notFound := 0
	for _, d := range got {
		if strings.Contains(d, "not found") {
			notFound++
		}
	}
	if notFound != 8 {
		t.Fatalf("expected 8 not-found directives (cap), got %d: %v", notFound, got)
	}
}

func TestColorDistanceThreshold(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()

	ref.ColorPalette.Background = "#000000"
	cand.ColorPalette.Background = "#ffffff" // distance ~441.7
	got := ComputeDifferences(ref, cand)
	if len(got) != 1 || !strings.Contains(got[0], "Background color mismatch") {
		t.Fatalf("expected background mismatch, got %v", got)
	}
	if !strings.Contains(got[0], "#000000") || !strings.Contains(got[0], "#ffffff") {
		t.Fatalf("directive must cite both hex values: %q", got[0])
	}

	cand.ColorPalette.Background = "#010101" // distance ~1.7
	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("near-identical colors must be ignored, got %v", got)
	}
}

func TestMalformedColorsAreSkipped(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	ref.ColorPalette.Background = "#fff"     // shorthand, not 6 digits
	cand.ColorPalette.Background = "#000000"
	ref.ColorPalette.Text = "rgb(0,0,0)"
	cand.ColorPalette.Text = "#ffffff"

	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("malformed colors must never produce directives, got %v", got)
	}
}

func TestStructuralEdgeOffset(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.HorizontalEdges[0].Y = 432 // 22px off

	got := ComputeDifferences(ref, cand)
	if len(got) != 1 {
		t.Fatalf("expected one edge directive, got %v", got)
	}
	if !strings.Contains(got[0], "off by 22px") || !strings.Contains(got[0], "y 410") || !strings.Contains(got[0], "y 432") {
		t.Fatalf("unexpected edge directive: %q", got[0])
	}

	cand.HorizontalEdges[0].Y = 420 // within 15px
	if got := ComputeDifferences(ref, cand); len(got) != 0 {
		t.Fatalf("within-threshold edge must be ignored, got %v", got)
	}
}

func TestDirectiveOrderFollowsCheckSequence(t *testing.T) {
	ref := baseDescription()
	cand := baseDescription()
	cand.Dimensions.Height = 900
	cand.Logos = nil
	cand.TextBlocks = []domain.TextBlock{{Text: "unrelated words entirely", EstimatedFontSize: 12}}
	cand.ColorPalette.Background = "#000000"
	cand.HorizontalEdges[0].Y = 500

	got := ComputeDifferences(ref, cand)
	if len(got) != 5 {
		t.Fatalf("expected 5 directives, got %d: %v", len(got), got)
	}
	checks := []string{"taller", "Logo not detected", "not found", "Background color mismatch", "section boundary"}
	for i, want := range checks {
		if !strings.Contains(got[i], want) {
			t.Fatalf("directive %d should contain %q, got %q", i, want, got[i])
		}
	}
}

func TestFormatDifferencesForPrompt(t *testing.T) {
	if got := FormatDifferencesForPrompt(nil); got != NoDifferencesSentence {
		t.Fatalf("empty list: got %q", got)
	}
	if got := FormatDifferencesForPrompt([]string{}); got != NoDifferencesSentence {
		t.Fatalf("empty slice: got %q", got)
	}
	if got := FormatDifferencesForPrompt([]string{"a", "b"}); got != "1. a\n2. b" {
		t.Fatalf("numbered block: got %q", got)
	}
}
