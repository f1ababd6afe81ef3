package annotate

import (
	"fmt"
	"io"
	"strings"
)

// NoTextPlaceholder is written in place of a missing text.
const NoTextPlaceholder = "No text available"

// Style controls how highlighted runs are wrapped when rendering.
type Style struct {
	Open  string
	Close string
	// Notes appends a numbered list of the highlighted annotations.
	Notes bool
}

var (
	PlainStyle = Style{Open: "[", Close: "]", Notes: true}
	ANSIStyle  = Style{Open: "\x1b[4;31m", Close: "\x1b[0m", Notes: true}
)

// Label formats an error type for display: the first underscore becomes a
// space and the result is upper-cased ("verb_tense" -> "VERB TENSE").
func Label(errorType string) string {
	return strings.ToUpper(strings.Replace(errorType, "_", " ", 1))
}

// Render writes text with its highlighted segments wrapped in style markers.
func Render(w io.Writer, text *string, segments []Segment, style Style) error {
	if text == nil || (len(segments) == 1 && segments[0].Missing) {
		_, err := io.WriteString(w, NoTextPlaceholder+"\n")
		return err
	}
	body := *text
	var b strings.Builder
	for _, s := range segments {
		if s.Highlighted() {
			b.WriteString(style.Open)
			b.WriteString(s.Text(body))
			b.WriteString(style.Close)
			continue
		}
		b.WriteString(s.Text(body))
	}
	b.WriteString("\n")
	if style.Notes {
		n := 0
		for _, s := range segments {
			if !s.Highlighted() {
				continue
			}
			n++
			fmt.Fprintf(&b, "  %d. %s: %q -> %q", n, Label(s.Annotation.ErrorType), s.Annotation.Original, s.Annotation.Correction)
			if s.Annotation.Explanation != "" {
				fmt.Fprintf(&b, " (%s)", s.Annotation.Explanation)
			}
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
