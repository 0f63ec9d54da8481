package analysis

import (
	"fmt"
	"strings"
)

// PlaceholderBody is the single bullet line appended under a heading the
// model left out, e.g. "- No next question provided".
func PlaceholderBody(heading string) string {
	return fmt.Sprintf("- No %s provided", strings.ToLower(heading))
}

// EnsureSections checks that every heading in required appears in text as a
// whole "## <heading>" line (surrounding whitespace ignored, exact case). For
// each one that does not, a "\n\n## <heading>\n<placeholder>" block is
// appended in the order of required. The original text is always a prefix of
// the result, and already-present sections are never touched.
//
// The returned slice lists the headings that were added; it is nil when text
// already satisfied the contract.
func EnsureSections(text string, required []string) (string, []string) {
	present := make(map[string]struct{})
	for line := range strings.SplitSeq(text, "\n") {
		present[strings.TrimSpace(line)] = struct{}{}
	}

	var (
		b       strings.Builder
		missing []string
	)
	b.WriteString(text)
	for _, h := range required {
		if _, ok := present[headingMarker+h]; ok {
			continue
		}
		missing = append(missing, h)
		b.WriteString("\n\n")
		b.WriteString(headingMarker)
		b.WriteString(h)
		b.WriteString("\n")
		b.WriteString(PlaceholderBody(h))
	}
	if missing == nil {
		return text, nil
	}
	return b.String(), missing
}
