package transcribe

import (
	"strings"
	"testing"
)

func TestSegmentsFromWords_PunctuationPreserved(t *testing.T) {
	// Word tokens lack punctuation, but fullText has it.
	words := []Word{
		{Word: "naan", Start: 0.0, End: 0.3},
		{Word: "varen", Start: 0.3, End: 0.6},
		{Word: "nee", Start: 0.7, End: 0.9},
		{Word: "vaa", Start: 0.9, End: 1.2},
	}
	fullText := "Naan varen, nee vaa!"

	segments := SegmentsFromWords(words, fullText)

	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "Naan varen, nee vaa!" {
		t.Errorf("expected %q, got %q", "Naan varen, nee vaa!", segments[0].Text)
	}
	if segments[0].Start != 0.0 || segments[0].End != 1.2 {
		t.Errorf("range = %v-%v, want 0-1.2", segments[0].Start, segments[0].End)
	}
}

func TestSegmentsFromWords_SplitOnSentence(t *testing.T) {
	words := []Word{
		{Word: "responding", Start: 0.1, End: 0.5},
		{Word: "to", Start: 0.5, End: 0.7},
		{Word: "scene.", Start: 0.7, End: 0.9},
		{Word: "copy", Start: 1.1, End: 1.4},
		{Word: "that.", Start: 1.4, End: 1.7},
	}
	fullText := "Responding to scene. Copy that."

	segments := SegmentsFromWords(words, fullText)

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "Responding to scene." {
		t.Errorf("segment 0: expected %q, got %q", "Responding to scene.", segments[0].Text)
	}
	if segments[1].Text != "Copy that." {
		t.Errorf("segment 1: expected %q, got %q", "Copy that.", segments[1].Text)
	}
	if segments[1].Start != 1.1 || segments[1].End != 1.7 {
		t.Errorf("segment 1 range = %v-%v, want 1.1-1.7", segments[1].Start, segments[1].End)
	}
}

func TestSegmentsFromWords_SplitOnPause(t *testing.T) {
	words := []Word{
		{Word: "vanakkam", Start: 0.0, End: 0.8},
		{Word: "eppadi", Start: 2.5, End: 3.0},
		{Word: "irukkai", Start: 3.0, End: 3.6},
	}

	segments := SegmentsFromWords(words, "")

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "vanakkam" {
		t.Errorf("segment 0: expected %q, got %q", "vanakkam", segments[0].Text)
	}
	if segments[1].Text != "eppadi irukkai" {
		t.Errorf("segment 1: expected %q, got %q", "eppadi irukkai", segments[1].Text)
	}
}

func TestSegmentsFromWords_SplitOnLength(t *testing.T) {
	var words []Word
	for i := 0; i < maxSegmentWords+3; i++ {
		words = append(words, Word{Word: "sol", Start: float64(i) * 0.2, End: float64(i)*0.2 + 0.15})
	}

	segments := SegmentsFromWords(words, "")

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].Start < segments[i-1].End {
			t.Errorf("segment %d starts before segment %d ends", i, i-1)
		}
	}
}

func TestSegmentsFromWords_RepeatedWordsMatchSequentially(t *testing.T) {
	words := []Word{
		{Word: "go.", Start: 0.0, End: 0.3},
		{Word: "go.", Start: 0.3, End: 0.6},
		{Word: "go!", Start: 0.6, End: 0.9},
	}
	fullText := "Go. go. go!"

	segments := SegmentsFromWords(words, fullText)

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	want := []string{"Go.", "go.", "go!"}
	for i, w := range want {
		if segments[i].Text != w {
			t.Errorf("segment %d: expected %q, got %q", i, w, segments[i].Text)
		}
	}
}

func TestSegmentsFromWords_Empty(t *testing.T) {
	segments := SegmentsFromWords(nil, "some text")
	if len(segments) != 0 {
		t.Errorf("expected 0 segments, got %d", len(segments))
	}
}

func TestMapWordPositions_CaseInsensitive(t *testing.T) {
	words := []Word{
		{Word: "HELLO"},
		{Word: "World"},
	}
	fullText := "Hello, World!"

	positions := mapWordPositions(words, fullText)

	if positions[0] != 0 {
		t.Errorf("expected position 0 for HELLO, got %d", positions[0])
	}
	if positions[1] != 7 {
		t.Errorf("expected position 7 for World, got %d", positions[1])
	}
}

func TestSegmentsFromWords_CaseFoldingChangesByteWidth(t *testing.T) {
	// Ⱥ is two bytes but lowercases to the three-byte ⱥ.
	prefix := strings.Repeat("Ⱥ", 12)
	words := []Word{
		{Word: "ⱥⱥⱥⱥⱥⱥⱥⱥⱥⱥⱥⱥ", Start: 0, End: 0.5},
		{Word: "vanakkam.", Start: 0.5, End: 1.0},
		{Word: "VAA", Start: 1.2, End: 1.5},
	}
	fullText := prefix + " Vanakkam. vaa"

	segments := SegmentsFromWords(words, fullText)

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segments), segments)
	}
	if want := prefix + " Vanakkam."; segments[0].Text != want {
		t.Errorf("segment 0 = %q, want %q", segments[0].Text, want)
	}
	if segments[1].Text != "vaa" {
		t.Errorf("segment 1 = %q, want %q", segments[1].Text, "vaa")
	}
}

func TestMapWordPositions_OffsetsIndexOriginalText(t *testing.T) {
	fullText := strings.Repeat("Ⱥ", 6) + " vanakkam"
	pos := mapWordPositions([]Word{{Word: "vanakkam"}}, fullText)
	if got := fullText[pos[0]:]; got != "vanakkam" {
		t.Errorf("offset %d points at %q", pos[0], got)
	}
}
