package transcribe

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/snarg/tamil-captioner/internal/caption"
)

// Grouping limits for providers that only return word timings. They keep a
// caption short enough to read while it is on screen.
const (
	maxSegmentGap   = 1.0 // seconds of silence that always ends a segment
	maxSegmentSpan  = 7.0 // seconds
	maxSegmentWords = 14
)

// SegmentsFromWords groups consecutive words into caption segments. A segment
// ends at sentence punctuation, at a pause longer than maxSegmentGap, or when
// it grows past maxSegmentSpan / maxSegmentWords.
//
// When fullText is provided, segment text is sliced from it to preserve
// punctuation that may be absent from individual word tokens. Falls back to
// joining word tokens when fullText is empty.
func SegmentsFromWords(words []Word, fullText string) []caption.Segment {
	if len(words) == 0 {
		return []caption.Segment{}
	}

	type group struct {
		start, end        float64
		firstIdx, lastIdx int
	}

	var groups []group
	g := group{start: words[0].Start, end: words[0].End}
	for i := 1; i < len(words); i++ {
		prev, w := words[i-1], words[i]
		split := w.Start-prev.End > maxSegmentGap ||
			endsSentence(prev.Word) ||
			w.End-g.start > maxSegmentSpan ||
			i-g.firstIdx >= maxSegmentWords
		if split {
			groups = append(groups, g)
			g = group{start: w.Start, end: w.End, firstIdx: i, lastIdx: i}
			continue
		}
		g.end = w.End
		g.lastIdx = i
	}
	groups = append(groups, g)

	segments := make([]caption.Segment, len(groups))
	if strings.TrimSpace(fullText) == "" {
		for i, grp := range groups {
			toks := make([]string, 0, grp.lastIdx-grp.firstIdx+1)
			for _, w := range words[grp.firstIdx : grp.lastIdx+1] {
				toks = append(toks, strings.TrimSpace(w.Word))
			}
			segments[i] = caption.Segment{Start: grp.start, End: grp.end, Text: strings.Join(toks, " ")}
		}
		return segments
	}

	positions := mapWordPositions(words, fullText)
	for i, grp := range groups {
		textStart := positions[grp.firstIdx]
		textEnd := len(fullText)
		if i+1 < len(groups) {
			textEnd = positions[groups[i+1].firstIdx]
		}
		if textEnd < textStart {
			textEnd = textStart
		}
		segments[i] = caption.Segment{
			Start: grp.start,
			End:   grp.end,
			Text:  strings.TrimSpace(fullText[textStart:textEnd]),
		}
	}
	return segments
}

// mapWordPositions maps each word token to its byte offset in fullText using
// sequential case-insensitive forward scanning. Each word is matched only once,
// advancing past previous matches to handle repeated words correctly. Offsets
// always index fullText itself, whatever case folding does to byte lengths.
func mapWordPositions(words []Word, fullText string) []int {
	positions := make([]int, len(words))
	searchFrom := 0

	for i, w := range words {
		tok := strings.TrimSpace(w.Word)
		idx, n := indexFold(fullText[searchFrom:], tok)
		if idx >= 0 && tok != "" {
			positions[i] = searchFrom + idx
			searchFrom += idx + n
		} else {
			// Word not found; use current search position as best guess
			positions[i] = searchFrom
		}
	}
	return positions
}

// indexFold returns the byte offset and byte length of the first
// case-insensitive match of sub in s, or -1.
func indexFold(s, sub string) (int, int) {
	if sub == "" {
		return -1, 0
	}
	for start := range s {
		if n := prefixFold(s[start:], sub); n > 0 {
			return start, n
		}
	}
	return -1, 0
}

// prefixFold reports how many bytes of s match sub under simple case
// folding, or 0 when s does not start with sub.
func prefixFold(s, sub string) int {
	i := 0
	for _, want := range sub {
		if i >= len(s) {
			return 0
		}
		got, size := utf8.DecodeRuneInString(s[i:])
		if !foldEqual(got, want) {
			return 0
		}
		i += size
	}
	return i
}

func foldEqual(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}

func endsSentence(word string) bool {
	word = strings.TrimSpace(word)
	return strings.HasSuffix(word, ".") ||
		strings.HasSuffix(word, "?") ||
		strings.HasSuffix(word, "!") ||
		strings.HasSuffix(word, "।")
}
