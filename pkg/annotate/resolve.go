// Package annotate turns a writing's original text and its grammar error
// annotations into an ordered, non-overlapping rendering plan.
package annotate

import (
	"sort"
	"strings"

	"writecheck/pkg/domain"
)

// Segment is one contiguous run of the text. Annotation is nil for plain
// runs. Missing marks the single sentinel segment returned when there is no
// text at all.
type Segment struct {
	Start      int
	End        int
	Annotation *domain.ErrorAnnotation
	Missing    bool
}

// Highlighted reports whether the segment carries an annotation.
func (s Segment) Highlighted() bool {
	return s.Annotation != nil
}

// Text returns the slice of text covered by the segment.
func (s Segment) Text(text string) string {
	if s.Missing || s.Start < 0 || s.End > len(text) || s.Start > s.End {
		return ""
	}
	return text[s.Start:s.End]
}

type claim struct {
	start, end int
	ann        *domain.ErrorAnnotation
}

// Resolve computes the rendering plan for text and annotations.
//
// Annotations are processed in slice order, so earlier ones claim text first.
// Each annotation claims at most the first occurrence of its Original that
// does not intersect an already claimed range; annotations with no such
// occurrence are dropped. Matching is exact and case-sensitive, offsets are
// byte offsets. The returned segments tile [0, len(text)) in order.
func Resolve(text *string, annotations []domain.ErrorAnnotation) []Segment {
	if text == nil {
		return []Segment{{Missing: true}}
	}
	body := *text
	whole := []Segment{{Start: 0, End: len(body)}}
	if body == "" || len(annotations) == 0 {
		return whole
	}

	claims := make([]claim, 0, len(annotations))
	for i := range annotations {
		needle := annotations[i].Original
		if needle == "" {
			continue
		}
		from := 0
		for from <= len(body)-len(needle) {
			idx := strings.Index(body[from:], needle)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(needle)
			if overlapsAny(claims, start, end) {
				from = start + 1
				continue
			}
			ann := annotations[i]
			claims = append(claims, claim{start: start, end: end, ann: &ann})
			break
		}
	}
	if len(claims) == 0 {
		return whole
	}

	sort.Slice(claims, func(i, j int) bool { return claims[i].start < claims[j].start })

	segments := make([]Segment, 0, 2*len(claims)+1)
	last := 0
	for _, c := range claims {
		if c.start > last {
			segments = append(segments, Segment{Start: last, End: c.start})
		}
		segments = append(segments, Segment{Start: c.start, End: c.end, Annotation: c.ann})
		last = c.end
	}
	if last < len(body) {
		segments = append(segments, Segment{Start: last, End: len(body)})
	}
	return segments
}

func overlapsAny(claims []claim, start, end int) bool {
	for _, c := range claims {
		if start < c.end && end > c.start {
			return true
		}
	}
	return false
}

// Join concatenates the text of every segment in order. For any output of
// Resolve on a non-nil text it returns the text unchanged.
func Join(text string, segments []Segment) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, s := range segments {
		b.WriteString(s.Text(text))
	}
	return b.String()
}

// Highlighted returns only the annotated segments.
func Highlighted(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Highlighted() {
			out = append(out, s)
		}
	}
	return out
}
