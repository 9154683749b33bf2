package whisper

import (
	"regexp"
	"strings"
)

// annotations whisper emits for non-speech audio, e.g. [BLANK_AUDIO], [MUSIC], (silence).
var annotation = regexp.MustCompile(`\[[A-Z_ ]+\]|\((?i:silence|music|noise|inaudible)\)`)

func cleanSegment(text string) string {
	text = annotation.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func joinSegments(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = cleanSegment(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
