package htmlreport

import (
	"strings"
	"testing"
)

const completeDoc = `<!DOCTYPE html>
<html>
<head>
<title>Revenue</title>
<style>body { margin: 0; }</style>
</head>
<body>
<div id="chart"></div>
<script>const data = [1, 2, 3];</script>
</body>
</html>`

func TestExtractCompleteFencedDocument(t *testing.T) {
	markdown := "Here is the analysis.\n\n```html\n" + completeDoc + "\n```\n\nAll done."
	art := Extract(markdown)
	if art.Verdict != VerdictComplete {
		t.Fatalf("verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
	if art.Raw != completeDoc {
		t.Fatalf("raw document mangled:\n%s", art.Raw)
	}
}

func TestExtractBareDocumentWithoutFence(t *testing.T) {
	markdown := "Intro text\n" + completeDoc + "\ntrailing remark"
	art := Extract(markdown)
	if art.Verdict != VerdictComplete {
		t.Fatalf("verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
	if strings.Contains(art.Raw, "trailing remark") {
		t.Fatalf("extraction must stop at </html>: %q", art.Raw)
	}
}

func TestExtractFragmentFenceIsAbsent(t *testing.T) {
	art := Extract("Here is a widget:\n\n```html\n<div>just a fragment</div>\n```\n")
	if art.Verdict != VerdictAbsent {
		t.Fatalf("fragment fence is not a document: verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
	if art.Raw != "" {
		t.Fatalf("absent artifact must carry no document: %q", art.Raw)
	}
}

func TestExtractSkipsFragmentFenceForLaterDocument(t *testing.T) {
	markdown := "```html\n<div>fragment</div>\n```\n\n```html\n" + completeDoc + "\n```"
	art := Extract(markdown)
	if art.Verdict != VerdictComplete {
		t.Fatalf("verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
	if art.Raw != completeDoc {
		t.Fatalf("wrong fence extracted:\n%s", art.Raw)
	}
}

func TestExtractBareDocumentIgnoresEarlierCloser(t *testing.T) {
	markdown := "note: every document ends with </html> eventually.\n" +
		"Here it comes: <html><head></head><body>partial"
	art := Extract(markdown)
	if art.Verdict != VerdictTruncated {
		t.Fatalf("verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
	if !strings.HasPrefix(art.Raw, "<html>") || strings.Contains(art.Raw, "note:") {
		t.Fatalf("span must start at the opener: %q", art.Raw)
	}
}

func TestExtractAbsent(t *testing.T) {
	art := Extract("plain analysis with no markup at all")
	if art.Verdict != VerdictAbsent {
		t.Fatalf("verdict = %s", art.Verdict)
	}
	if art.Raw != "" {
		t.Fatalf("absent artifact must carry no document")
	}
}

func TestExtractTruncatedMissingBodyClose(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html>\n<head><title>x</title></head>\n<body>\n<div>partial"
	art := Extract("```html\n" + doc + "\n```")
	if art.Verdict != VerdictTruncated {
		t.Fatalf("verdict = %s", art.Verdict)
	}
	joined := strings.Join(art.Notes, "; ")
	if !strings.Contains(joined, "missing closing </html>") {
		t.Fatalf("notes should name the missing close: %v", art.Notes)
	}
	if !strings.Contains(joined, "div") {
		t.Fatalf("notes should name the deepest unmatched tag: %v", art.Notes)
	}
}

func TestExtractTruncatedUnclosedFence(t *testing.T) {
	markdown := "analysis\n\n```html\n<!DOCTYPE html>\n<html>\n<head></head>\n<body>"
	art := Extract(markdown)
	if art.Verdict != VerdictTruncated {
		t.Fatalf("verdict = %s, notes = %v", art.Verdict, art.Notes)
	}
}

func TestExtractTruncatedMidAttribute(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html>\n<head></head>\n<body>\n<div class=\"kpi"
	art := Extract("```html\n" + doc + "\n```")
	if art.Verdict != VerdictTruncated {
		t.Fatalf("verdict = %s", art.Verdict)
	}
	joined := strings.Join(art.Notes, "; ")
	if !strings.Contains(joined, "ends inside a tag") {
		t.Fatalf("notes should flag the mid-tag ending: %v", art.Notes)
	}
}

func TestExtractScriptContentDoesNotConfuseScanner(t *testing.T) {
	doc := `<!DOCTYPE html>
<html>
<head></head>
<body>
<script>if (a < b) { document.write("<div>"); }</script>
</body>
</html>`
	art := Extract("```html\n" + doc + "\n```")
	if art.Verdict != VerdictComplete {
		t.Fatalf("script text misread as markup: %s %v", art.Verdict, art.Notes)
	}
}

func TestMarkTruncatedByLimitOverridesBalance(t *testing.T) {
	art := Extract("```html\n" + completeDoc + "\n```")
	if art.Verdict != VerdictComplete {
		t.Fatalf("precondition failed: %s", art.Verdict)
	}
	marked := MarkTruncatedByLimit(art)
	if marked.Verdict != VerdictTruncated {
		t.Fatalf("length-limit metadata must win: %s", marked.Verdict)
	}
}

func TestMarkTruncatedByLimitKeepsAbsent(t *testing.T) {
	art := MarkTruncatedByLimit(Artifact{Verdict: VerdictAbsent})
	if art.Verdict != VerdictAbsent {
		t.Fatalf("absent must stay absent: %s", art.Verdict)
	}
}

func TestStripBlocksRemovesFences(t *testing.T) {
	markdown := "Before.\n\n```html\n<html></html>\n```\n\nAfter."
	out := StripBlocks(markdown)
	if strings.Contains(out, "<html>") || strings.Contains(out, "```") {
		t.Fatalf("fence not removed: %q", out)
	}
	if !strings.Contains(out, "Before.") || !strings.Contains(out, "After.") {
		t.Fatalf("surrounding text lost: %q", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("blank runs not collapsed: %q", out)
	}
}
