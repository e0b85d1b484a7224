package dispatcher

import "strings"

// SplitSegments breaks a reply into delivery segments on blank lines, so a
// long answer arrives as a few paced messages instead of one wall of text.
// Whitespace-only segments are dropped. A reply with no blank lines is a
// single segment.
func SplitSegments(text string) []string {
	var segments []string
	for _, part := range strings.Split(text, "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
