package htmlreport

import (
	"regexp"
	"strings"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// StripBlocks removes html code fences from analysis text so the raw document
// is not shown in the user-visible markdown; the extracted artifact travels to
// the render task instead.
func StripBlocks(markdown string) string {
	cleaned := fenceRe.ReplaceAllString(markdown, "")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
