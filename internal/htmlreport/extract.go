package htmlreport

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Verdict classifies an extracted HTML document.
type Verdict string

const (
	VerdictComplete  Verdict = "complete"
	VerdictTruncated Verdict = "truncated"
	VerdictAbsent    Verdict = "absent"
)

// Artifact is the result of pulling an HTML document out of an analysis text.
// It is derived per extraction, never persisted.
type Artifact struct {
	Raw     string
	Verdict Verdict
	Notes   []string
}

// fenceRe matches a closed ```html code block; openFenceRe catches a block the
// generation limit cut off before the closing fence.
var (
	fenceRe     = regexp.MustCompile("(?is)```html[ \t]*\r?\n(.*?)\r?\n```")
	openFenceRe = regexp.MustCompile("(?is)```html[ \t]*\r?\n(.*)$")
)

// structuralTags is the whitelist the balance scanner tracks. This is a
// completeness heuristic, not a DOM parse: a missed truncation costs more
// than an over-flagged one, so ties resolve to truncated.
var structuralTags = map[atom.Atom]bool{
	atom.Html:   true,
	atom.Head:   true,
	atom.Body:   true,
	atom.Script: true,
	atom.Style:  true,
	atom.Div:    true,
}

// Extract locates an HTML document inside markdown analysis text and
// classifies it as complete, truncated or absent.
func Extract(markdown string) Artifact {
	raw, found := locate(markdown)
	if !found {
		return Artifact{Verdict: VerdictAbsent, Notes: []string{"no html document found in analysis text"}}
	}

	art := Artifact{Raw: raw}
	art.Notes, art.Verdict = validate(raw)
	return art
}

// MarkTruncatedByLimit downgrades an artifact when the upstream generation
// was cut off by a length limit. Tag balance can pass by accident on a
// semantically incomplete document, so the metadata signal wins.
func MarkTruncatedByLimit(art Artifact) Artifact {
	if art.Verdict == VerdictAbsent {
		return art
	}
	art.Verdict = VerdictTruncated
	art.Notes = append(art.Notes, "upstream generation stopped at its length limit")
	return art
}

// locate finds the first html code fence that holds a document, or a bare
// document span, in the text. Fences holding only a fragment do not count as
// a document.
func locate(markdown string) (string, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(markdown, -1) {
		if body := strings.TrimSpace(m[1]); startsWithDocRoot(body) {
			return body, true
		}
	}
	if m := openFenceRe.FindStringSubmatch(markdown); m != nil {
		if body := strings.TrimSpace(m[1]); startsWithDocRoot(body) {
			// Fence never closed: keep everything after it, the validator
			// will flag whatever is missing.
			return body, true
		}
	}

	lower := strings.ToLower(markdown)
	start := strings.Index(lower, "<!doctype html")
	if start < 0 {
		start = strings.Index(lower, "<html")
	}
	if start < 0 {
		return "", false
	}
	// Only a closer after the opener bounds the span; a </html> mentioned in
	// earlier prose would invert it.
	end := strings.LastIndex(lower[start:], "</html>")
	if end < 0 {
		return strings.TrimSpace(markdown[start:]), true
	}
	end += start
	return strings.TrimSpace(markdown[start : end+len("</html>")]), true
}

// startsWithDocRoot reports whether a candidate begins with a document root
// opener rather than a markup fragment.
func startsWithDocRoot(body string) bool {
	lower := strings.ToLower(body)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

// validate runs the structural completeness checks over a candidate document.
func validate(raw string) ([]string, Verdict) {
	var notes []string
	lower := strings.ToLower(raw)

	hasRoot := strings.Contains(lower, "<!doctype html") || strings.Contains(lower, "<html")
	if !hasRoot {
		notes = append(notes, "missing document root opener")
	}
	if !strings.Contains(lower, "<head") {
		notes = append(notes, "missing <head>")
	}
	if !strings.Contains(lower, "<body") {
		notes = append(notes, "missing <body>")
	}
	if !strings.Contains(lower, "</html>") {
		notes = append(notes, "missing closing </html>")
	}

	// Text ending inside an open angle bracket means the generation stopped
	// mid-tag or mid-attribute.
	if strings.LastIndex(raw, "<") > strings.LastIndex(raw, ">") {
		notes = append(notes, fmt.Sprintf("text ends inside a tag at offset %d", len(raw)))
	}

	if unmatched, ok := scanBalance(raw); !ok {
		notes = append(notes, fmt.Sprintf("unmatched <%s> at end of document (offset %d)", unmatched, len(raw)))
	}

	if len(notes) > 0 {
		return notes, VerdictTruncated
	}
	return nil, VerdictComplete
}

// scanBalance walks the token stream keeping a stack of open structural tags.
// It returns the deepest unmatched tag when the document ends with opens
// outstanding or closes out of order.
func scanBalance(raw string) (string, bool) {
	z := html.NewTokenizer(strings.NewReader(raw))
	var stack []atom.Atom
	mismatch := ""

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				if len(stack) > 0 {
					return stack[len(stack)-1].String(), false
				}
				return "html", false
			}
			if mismatch != "" {
				return mismatch, false
			}
			if len(stack) > 0 {
				return stack[len(stack)-1].String(), false
			}
			return "", true
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if structuralTags[a] {
				stack = append(stack, a)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if !structuralTags[a] {
				continue
			}
			if len(stack) > 0 && stack[len(stack)-1] == a {
				stack = stack[:len(stack)-1]
				continue
			}
			// Close that skips over open structural tags: record the tag it
			// abandoned and keep scanning from the matching open, if any.
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == a {
					idx = i
					break
				}
			}
			if idx >= 0 {
				if mismatch == "" {
					mismatch = stack[len(stack)-1].String()
				}
				stack = stack[:idx]
			} else if mismatch == "" {
				mismatch = a.String()
			}
		}
	}
}
