// Package caption converts timed transcription segments into SubRip (.srt)
// caption documents and parses them back.
package caption

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Filename is the default download name for a composed document.
const Filename = "captions.srt"

// ContentType is the MIME type the document is offered with.
const ContentType = "text/plain"

// Segment is one timed span of transcribed speech. Offsets are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Entry is one numbered caption block.
type Entry struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// FormatError reports a segment that cannot be written as a caption entry.
type FormatError struct {
	Index  int // 1-based position of the offending segment
	Start  float64
	End    float64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("caption %d: %s (start=%.3fs end=%.3fs)", e.Index, e.Reason, e.Start, e.End)
}

// Compose renders segments as an SRT document. Entries keep input order and are
// numbered from 1. An empty input yields an empty document. If any segment ends
// before it starts, nothing is rendered and a *FormatError is returned.
func Compose(segments []Segment) (string, error) {
	entries, err := Entries(segments)
	if err != nil {
		return "", err
	}
	return Encode(entries), nil
}

// Entries maps segments one-to-one onto caption entries.
func Entries(segments []Segment) ([]Entry, error) {
	entries := make([]Entry, 0, len(segments))
	for i, seg := range segments {
		n := i + 1
		if !finite(seg.Start) || !finite(seg.End) {
			return nil, &FormatError{Index: n, Start: seg.Start, End: seg.End, Reason: "non-finite offset"}
		}
		if seg.Start < 0 {
			return nil, &FormatError{Index: n, Start: seg.Start, End: seg.End, Reason: "negative start offset"}
		}
		if seg.Start > maxOffset || seg.End > maxOffset {
			return nil, &FormatError{Index: n, Start: seg.Start, End: seg.End, Reason: "offset out of range"}
		}
		if seg.End < seg.Start {
			return nil, &FormatError{Index: n, Start: seg.Start, End: seg.End, Reason: "end precedes start"}
		}
		entries = append(entries, Entry{
			Index: n,
			Start: Seconds(seg.Start),
			End:   Seconds(seg.End),
			Text:  seg.Text,
		})
	}
	return entries, nil
}

// Encode serializes entries without validating them.
func Encode(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			e.Index, FormatTimestamp(e.Start), FormatTimestamp(e.End), legalText(e.Text))
	}
	return b.String()
}

// maxOffset is the largest offset in seconds a time.Duration can hold.
const maxOffset = float64(math.MaxInt64 / int64(time.Second))

// Seconds converts a seconds offset to a duration rounded to the microsecond.
// Rounding first keeps values like 2.34 from truncating to 2.339 when
// formatted at millisecond precision.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s*1e6)) * time.Microsecond
}

// FormatTimestamp renders d as HH:MM:SS,mmm, truncating below the millisecond.
func FormatTimestamp(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// legalText removes blank lines, which would otherwise terminate the block
// early. Everything else is written as given.
func legalText(text string) string {
	if !strings.Contains(text, "\n\n") && !strings.HasPrefix(text, "\n") && !strings.HasSuffix(text, "\n") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
