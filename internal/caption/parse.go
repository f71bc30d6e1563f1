package caption

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse reads an SRT document back into entries. Text lines are returned
// exactly as written; only the line terminators are consumed.
func Parse(doc string) ([]Entry, error) {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	lines := strings.Split(doc, "\n")

	var entries []Entry
	i := 0
	for {
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) {
			return entries, nil
		}

		idx, err := strconv.Atoi(strings.TrimSpace(lines[i]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid index %q", i+1, lines[i])
		}
		i++
		if i >= len(lines) {
			return nil, fmt.Errorf("entry %d: missing time range", idx)
		}
		start, end, err := parseRange(lines[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", idx, err)
		}
		i++

		var text []string
		for i < len(lines) && lines[i] != "" {
			text = append(text, lines[i])
			i++
		}
		entries = append(entries, Entry{
			Index: idx,
			Start: start,
			End:   end,
			Text:  strings.Join(text, "\n"),
		})
	}
}

func parseRange(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time range %q", line)
	}
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseTimestamp parses HH:MM:SS,mmm. A period is accepted in place of the comma.
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	if hours < 0 || minutes < 0 || seconds < 0 || millis < 0 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}
