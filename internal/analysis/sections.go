package analysis

import "strings"

// headingMarker starts a section line. Only second-level headings count;
// "### " lines are body text.
const headingMarker = "## "

// SectionParser splits a model reply into named sections. Keys are
// normalized headings (see [NormalizeKey]).
type SectionParser interface {
	Parse(text string) map[string]string
}

// MarkdownParser is the line-based [SectionParser] for "## " headings.
type MarkdownParser struct{}

var _ SectionParser = MarkdownParser{}

// Parse implements [SectionParser] via [ParseSections].
func (MarkdownParser) Parse(text string) map[string]string { return ParseSections(text) }

// NormalizeKey lower-cases heading and joins its whitespace-separated words
// with single underscores: "Next  Question" → "next_question".
func NormalizeKey(heading string) string {
	return strings.Join(strings.Fields(strings.ToLower(heading)), "_")
}

// ParseSections scans text line by line. A line beginning with "## " opens a
// section named by the rest of the line; every following line up to the next
// heading is kept verbatim, blank lines included, and the collected body is
// trimmed only at both ends. Lines before the first heading are dropped. A
// heading immediately followed by another heading (or the end of input) has
// no body and is not recorded. When a key repeats, the later body wins.
//
// Text without any heading yields an empty, non-nil map.
func ParseSections(text string) map[string]string {
	sections := make(map[string]string)

	var (
		key   string
		open  bool
		lines []string
	)
	flush := func() {
		if open && len(lines) > 0 {
			sections[key] = strings.TrimSpace(strings.Join(lines, "\n"))
		}
		lines = lines[:0]
	}

	for line := range strings.SplitSeq(text, "\n") {
		if strings.HasPrefix(line, headingMarker) {
			flush()
			key = NormalizeKey(strings.TrimSpace(line[len(headingMarker):]))
			open = true
			continue
		}
		if open {
			lines = append(lines, line)
		}
	}
	flush()

	return sections
}
