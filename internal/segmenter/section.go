package segmenter

import (
	"regexp"
	"strings"
)

// Label names the section a chunk belongs to.
type Label string

// Section labels. Body covers text before the first recognized heading.
const (
	Body            Label = "body"
	Abstract        Label = "abstract"
	Introduction    Label = "introduction"
	RelatedWork     Label = "related_work"
	Methods         Label = "methods"
	Results         Label = "results"
	Discussion      Label = "discussion"
	Conclusion      Label = "conclusion"
	Acknowledgments Label = "acknowledgments"
	References      Label = "references"
	Appendix        Label = "appendix"
)

const (
	minHeadingLen      = 3
	maxHeadingLen      = 100
	maxSentenceHeading = 50
)

type headingRule struct {
	label Label
	re    *regexp.Regexp
}

// numbering matches "1.", "2.1", "3 " and roman "IV." prefixes.
const numbering = `(?:(?:\d+(?:\.\d+)*\.?|[ivx]+\.)\s*)?`

func rule(label Label, body string) headingRule {
	return headingRule{label: label, re: regexp.MustCompile(`(?i)^` + numbering + `(?:` + body + `)\s*[:.]?$`)}
}

// Order matters: "results and discussion" is a results heading.
var headingRules = []headingRule{
	rule(Abstract, `abstract`),
	rule(Introduction, `introduction`),
	rule(RelatedWork, `related\s+works?|background|literature\s+review`),
	rule(Methods, `methods?|materials?\s*(?:and|&)\s*methods?|methodology|experimental\s+(?:setup|procedures?|methods?)`),
	rule(Results, `results?(?:\s*(?:and|&)\s*discussion)?|experiments?`),
	rule(Discussion, `discussion(?:\s*(?:and|&)\s*conclusions?)?`),
	rule(Conclusion, `conclusions?|summary\s*(?:and|&)?\s*conclusions?|concluding\s+remarks`),
	rule(Acknowledgments, `acknowledge?ments?`),
	rule(References, `references?|bibliography|literature\s+cited|works\s+cited`),
	rule(Appendix, `appendix(?:\s+[a-z0-9]+)?|supplementary(?:\s+\w+)*|supporting\s+information`),
}

// Classify reports whether line is a section heading and which label it opens.
func Classify(line string) (Label, bool) {
	clean := strings.TrimSpace(line)
	if len(clean) < minHeadingLen || len(clean) > maxHeadingLen {
		return "", false
	}
	if strings.HasSuffix(clean, ".") && !strings.HasSuffix(clean, "..") && len(clean) > maxSentenceHeading {
		return "", false
	}
	for _, r := range headingRules {
		if r.re.MatchString(clean) {
			return r.label, true
		}
	}
	return "", false
}

// span is a byte range of the normalized document text.
type span struct {
	label      Label
	start, end int
	heading    int // end offset of the heading line, or start when there is none
}

// sections scans lines in order and splits text into labeled spans.
// Consecutive headings with the same label continue the current span.
func sections(text string) []span {
	var out []span
	cur := span{label: Body, start: 0, heading: 0}
	offset := 0
	for offset < len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		next := len(text)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
		}
		if label, ok := Classify(text[offset:next]); ok && label != cur.label {
			if offset > cur.start {
				cur.end = offset
				out = append(out, cur)
			}
			cur = span{label: label, start: offset, heading: next}
		} else if ok && offset == cur.start {
			cur.heading = next
		}
		offset = next
	}
	cur.end = len(text)
	if cur.end > cur.start {
		out = append(out, cur)
	}
	return out
}
